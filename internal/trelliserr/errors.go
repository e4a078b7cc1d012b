// Package trelliserr defines the coded error taxonomy that crosses the
// RPC boundary, plus the sanitizer applied before any error leaves the
// process.
package trelliserr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies an error category on the wire.
type Code string

const (
	CodeInvalidField                   Code = "InvalidField"
	CodeMissingRequiredField           Code = "MissingRequiredField"
	CodeObjectNotFound                 Code = "ObjectNotFound"
	CodeInvalidScope                   Code = "InvalidScope"
	CodeMutualExclusivityViolation     Code = "MutualExclusivityViolation"
	CodeCycleDetected                  Code = "CycleDetected"
	CodeParentNotFound                 Code = "ParentNotFound"
	CodeCrossSystemReferenceConflict   Code = "CrossSystemReferenceConflict"
	CodeCrossSystemPrerequisiteInvalid Code = "CrossSystemPrerequisiteInvalid"
	CodeNoAvailableTask                Code = "NoAvailableTask"
	CodeInvalidStatusForCompletion     Code = "InvalidStatusForCompletion"
	CodePrerequisitesNotComplete       Code = "PrerequisitesNotComplete"
	CodeTaskAlreadyClaimed             Code = "TaskAlreadyClaimed"
	CodeInvalidIDFormat                Code = "InvalidIDFormat"
	CodeSecurityViolation              Code = "SecurityViolation"
	CodeAmbiguousObject                Code = "AmbiguousObject"
	CodeValidationFailed               Code = "ValidationFailed"
	CodeIOFailure                      Code = "IOFailure"
)

// Error is a coded error with a sanitized context map. Message text
// should suggest remediation where one exists.
type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Context[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, " "))
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause is
// available via errors.Unwrap but is never serialized.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// With adds a context entry and returns the error for chaining. Values
// pass through the sanitizer at serialization time, but callers should
// still prefer IDs and basenames over paths.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// AsError converts any error into a coded *Error, defaulting to
// IOFailure for uncoded errors so raw OS error text never reaches the
// wire unsanitized.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Wrap(CodeIOFailure, err, "%s", Sanitize(err.Error()))
}
