// Package validation enforces the Trellis invariants. Object-level
// checks aggregate into a Collector instead of failing on the first
// problem; lifecycle preconditions use composable validator chains.
package validation

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trellisplan/trellis/internal/trelliserr"
)

// Severity orders collected problems. Higher sorts first.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySemantic
	SeverityStructural
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityStructural:
		return "structural"
	case SeveritySemantic:
		return "semantic"
	}
	return "info"
}

// Issue is one collected problem.
type Issue struct {
	Severity Severity
	Code     trelliserr.Code
	Field    string
	Message  string
}

// Collector accumulates issues across a validation pass. The zero
// value is ready to use. Not safe for concurrent writers; bulk
// validation hands each goroutine its own collector and merges.
type Collector struct {
	issues []Issue
}

// Add records an issue.
func (c *Collector) Add(sev Severity, code trelliserr.Code, field, format string, args ...any) {
	c.issues = append(c.issues, Issue{
		Severity: sev,
		Code:     code,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

// AddError records a coded error, mapping its code onto a severity.
func (c *Collector) AddError(err error) {
	te := trelliserr.AsError(err)
	field := te.Context["field"]
	c.issues = append(c.issues, Issue{
		Severity: severityForCode(te.Code),
		Code:     te.Code,
		Field:    field,
		Message:  te.Message,
	})
}

// AddFileError implements the scanner's error sink: a file that failed
// to load during a validating scan.
func (c *Collector) AddFileError(path string, err error) {
	te := trelliserr.AsError(err)
	c.issues = append(c.issues, Issue{
		Severity: SeverityStructural,
		Code:     te.Code,
		Field:    filepath.Base(path),
		Message:  te.Message,
	})
}

// Merge appends another collector's issues.
func (c *Collector) Merge(other *Collector) {
	c.issues = append(c.issues, other.issues...)
}

// Empty reports whether nothing was collected.
func (c *Collector) Empty() bool { return len(c.issues) == 0 }

// Issues returns the collected problems sorted by severity descending,
// then field, then message, for deterministic output.
func (c *Collector) Issues() []Issue {
	out := make([]Issue, len(c.issues))
	copy(out, c.issues)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Err aggregates the collected issues into a single coded error, or
// returns nil when only informational issues (or none) were collected.
// A lone issue keeps its own code; multiple issues roll up under
// ValidationFailed with the sorted list in context.
func (c *Collector) Err() error {
	actionable := 0
	for _, issue := range c.issues {
		if issue.Severity > SeverityInfo {
			actionable++
		}
	}
	if actionable == 0 {
		return nil
	}

	sorted := c.Issues()
	if actionable == 1 && len(c.issues) == 1 {
		only := sorted[0]
		e := trelliserr.New(only.Code, "%s", only.Message)
		if only.Field != "" {
			e.With("field", only.Field)
		}
		return e
	}

	var lines []string
	e := trelliserr.New(trelliserr.CodeValidationFailed,
		"%d validation errors", actionable)
	for i, issue := range sorted {
		if issue.Severity == SeverityInfo {
			continue
		}
		label := string(issue.Code)
		if issue.Field != "" {
			label += "/" + issue.Field
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", issue.Severity, label, issue.Message))
		e.With(fmt.Sprintf("error_%02d", i), lines[len(lines)-1])
	}
	e.Message = fmt.Sprintf("%d validation errors: %s", actionable, strings.Join(lines, "; "))
	return e
}

func severityForCode(code trelliserr.Code) Severity {
	switch code {
	case trelliserr.CodeSecurityViolation:
		return SeverityCritical
	case trelliserr.CodeInvalidField, trelliserr.CodeMissingRequiredField,
		trelliserr.CodeInvalidIDFormat, trelliserr.CodeInvalidScope:
		return SeverityStructural
	case trelliserr.CodeParentNotFound, trelliserr.CodeCycleDetected,
		trelliserr.CodeCrossSystemReferenceConflict,
		trelliserr.CodeCrossSystemPrerequisiteInvalid,
		trelliserr.CodeAmbiguousObject:
		return SeveritySemantic
	}
	return SeverityInfo
}
