// Package types defines the core Trellis object model shared by every
// other package: the four planning kinds, status lifecycles, priorities,
// and the on-disk object record.
package types

import (
	"regexp"
	"strings"
	"time"
)

// Kind identifies one of the four planning object kinds.
type Kind string

const (
	KindProject Kind = "project"
	KindEpic    Kind = "epic"
	KindFeature Kind = "feature"
	KindTask    Kind = "task"
)

// Prefix returns the ID prefix for the kind ("P-", "E-", "F-", "T-").
func (k Kind) Prefix() string {
	switch k {
	case KindProject:
		return "P-"
	case KindEpic:
		return "E-"
	case KindFeature:
		return "F-"
	case KindTask:
		return "T-"
	}
	return ""
}

// FileName returns the canonical file name for non-task kinds
// (project.md, epic.md, feature.md). Tasks are named by ID and status,
// so FileName returns "" for KindTask.
func (k Kind) FileName() string {
	switch k {
	case KindProject:
		return "project.md"
	case KindEpic:
		return "epic.md"
	case KindFeature:
		return "feature.md"
	}
	return ""
}

// DirName returns the container directory name that holds objects of
// this kind under a parent ("projects", "epics", "features"). Tasks live
// in tasks-open/ or tasks-done/ depending on status.
func (k Kind) DirName() string {
	switch k {
	case KindProject:
		return "projects"
	case KindEpic:
		return "epics"
	case KindFeature:
		return "features"
	}
	return ""
}

// ParentKind returns the kind a parent of this kind must have, or ""
// when the kind takes no parent (projects always, tasks optionally).
func (k Kind) ParentKind() Kind {
	switch k {
	case KindEpic:
		return KindProject
	case KindFeature:
		return KindEpic
	case KindTask:
		return KindFeature
	}
	return ""
}

// Valid reports whether k is one of the four recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProject, KindEpic, KindFeature, KindTask:
		return true
	}
	return false
}

// AllKinds lists the four kinds in containment order.
func AllKinds() []Kind {
	return []Kind{KindProject, KindEpic, KindFeature, KindTask}
}

// KindForID infers the kind from an ID prefix. The standalone alias
// "task-<slug>" maps to KindTask. Returns false for unrecognized
// prefixes.
func KindForID(id string) (Kind, bool) {
	switch {
	case strings.HasPrefix(id, "P-"):
		return KindProject, true
	case strings.HasPrefix(id, "E-"):
		return KindEpic, true
	case strings.HasPrefix(id, "F-"):
		return KindFeature, true
	case strings.HasPrefix(id, "T-"), strings.HasPrefix(id, "task-"):
		return KindTask, true
	}
	return "", false
}

// CanonicalTaskID maps the accepted input alias "task-<slug>" to the
// canonical "T-<slug>" form. Other IDs pass through unchanged.
func CanonicalTaskID(id string) string {
	if rest, ok := strings.CutPrefix(id, "task-"); ok {
		return "T-" + rest
	}
	return id
}

// slugPattern matches the slug part of an ID after the kind prefix.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidID reports whether id is a well-formed identifier for the kind:
// the kind's prefix followed by a lowercase slug.
func ValidID(kind Kind, id string) bool {
	rest, ok := strings.CutPrefix(id, kind.Prefix())
	if !ok {
		return false
	}
	return slugPattern.MatchString(rest)
}

// Status is a lifecycle state. Tasks use open/in-progress/review/done;
// projects, epics and features use draft/in-progress/done.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusDraft      Status = "draft"
)

// AllowedStatuses returns the status set valid for the kind.
func (k Kind) AllowedStatuses() []Status {
	if k == KindTask {
		return []Status{StatusOpen, StatusInProgress, StatusReview, StatusDone}
	}
	return []Status{StatusDraft, StatusInProgress, StatusDone}
}

// StatusAllowed reports whether s is in the kind's status set.
func StatusAllowed(k Kind, s Status) bool {
	for _, allowed := range k.AllowedStatuses() {
		if s == allowed {
			return true
		}
	}
	return false
}

// taskTransitions enumerates the legal task status moves, including the
// open→done and in-progress→done shortcuts. There is no abandon state.
var taskTransitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusDone},
	StatusInProgress: {StatusReview, StatusDone},
	StatusReview:     {StatusDone},
}

// containerTransitions enumerates legal moves for projects, epics and
// features.
var containerTransitions = map[Status][]Status{
	StatusDraft:      {StatusInProgress, StatusDone},
	StatusInProgress: {StatusDone},
}

// ValidTransition reports whether moving from→to is a legal lifecycle
// step for the kind. A no-op transition (from == to) is always legal.
func ValidTransition(k Kind, from, to Status) bool {
	if from == to {
		return true
	}
	table := containerTransitions
	if k == KindTask {
		table = taskTransitions
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders claimable work. Lower rank wins.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority canonicalizes a priority string. "medium" is accepted
// as an input alias for "normal" and is never serialized back. The
// empty string defaults to normal. Returns false for anything else.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, true
	case "normal", "medium", "":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	}
	return "", false
}

// Rank maps priorities onto integers for sorting; lower wins.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Schema versions understood by the reader. Legacy 1.0 files are
// accepted read-only and upgraded to the current version on any write.
const (
	SchemaVersionCurrent = "1.1"
	SchemaVersionLegacy  = "1.0"
)

// KnownSchemaVersion reports whether v is a version the reader accepts.
func KnownSchemaVersion(v string) bool {
	return v == SchemaVersionCurrent || v == SchemaVersionLegacy
}

// Object is the in-memory form of one planning file: the YAML
// front-matter fields plus the free-form markdown body.
type Object struct {
	Kind          Kind      `yaml:"kind"`
	ID            string    `yaml:"id"`
	Parent        string    `yaml:"parent,omitempty"`
	Status        Status    `yaml:"status"`
	Title         string    `yaml:"title"`
	Priority      Priority  `yaml:"priority"`
	Worktree      string    `yaml:"worktree,omitempty"`
	Created       time.Time `yaml:"created"`
	Updated       time.Time `yaml:"updated"`
	SchemaVersion string    `yaml:"schema_version"`
	Prerequisites []string  `yaml:"prerequisites,omitempty"`

	// Body is the markdown below the front-matter, preserved
	// byte-for-byte across round-trips except for Log appends.
	Body string `yaml:"-"`

	// FilePath records where the object was loaded from. Never
	// serialized and never exposed in errors.
	FilePath string `yaml:"-"`
}

// IsStandalone reports whether the object is a task outside the
// project hierarchy.
func (o *Object) IsStandalone() bool {
	return o.Kind == KindTask && o.Parent == ""
}

// SystemLabel names which task system the object belongs to, for
// contextual error messages.
func (o *Object) SystemLabel() string {
	if o.Kind != KindTask {
		return string(o.Kind)
	}
	if o.IsStandalone() {
		return "standalone task"
	}
	return "hierarchical task"
}

// Child is the immediate-children record returned by getObject.
type Child struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   Status    `json:"status"`
	Kind     Kind      `json:"kind"`
	Created  time.Time `json:"created"`
	FilePath string    `json:"file_path"`
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Scope    string
	Status   []Status
	Priority []Priority
}

// Matches reports whether the task passes the status and priority
// filters. Scope filtering happens in the scanner.
func (f TaskFilter) Matches(o *Object) bool {
	if len(f.Status) > 0 {
		ok := false
		for _, s := range f.Status {
			if o.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Priority) > 0 {
		ok := false
		for _, p := range f.Priority {
			if o.Priority == p {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ClaimLess is the deterministic claim ordering: priority rank, then
// created ascending, then ID.
func ClaimLess(a, b *Object) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return a.ID < b.ID
}

// DoneStampLayout is the compact UTC timestamp prefixed to completed
// task filenames.
const DoneStampLayout = "20060102_150405"
