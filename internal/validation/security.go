package validation

import (
	"strings"

	"github.com/trellisplan/trellis/internal/trelliserr"
)

// maxIDLength bounds incoming identifiers. Real IDs are short; anything
// longer is either corrupt or hostile.
const maxIDLength = 128

// literalNulls are string spellings of null-ish values that upstream
// layers sometimes pass through instead of omitting the field.
var literalNulls = map[string]bool{
	"null": true, "none": true, "nil": true, "undefined": true,
}

// forbiddenFieldNames are field names an update payload may never
// target. They either bypass the lifecycle engines or suggest privilege
// escalation.
var forbiddenFieldNames = map[string]bool{
	"file_path": true, "filepath": true, "path": true,
	"root": true, "project_root": true, "projectroot": true,
	"__proto__": true, "constructor": true, "prototype": true,
}

// traversalTokens are substrings that mark an ID as path-traversal
// shaped, including the URL-encoded spellings.
var traversalTokens = []string{
	"..", "/", "\\", "~", "%2e", "%2E", "%2f", "%2F", "%5c", "%5C", "\x00",
}

// ScreenID rejects an incoming ID-bearing value before any filesystem
// access: control characters, traversal tokens, null literals,
// whitespace-only values and oversized input all fail with
// SecurityViolation. The raw value is never echoed back.
func ScreenID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return trelliserr.New(trelliserr.CodeSecurityViolation,
			"%s must not be empty or whitespace", field).With("field", field)
	}
	if len(value) > maxIDLength {
		return trelliserr.New(trelliserr.CodeSecurityViolation,
			"%s exceeds the maximum identifier length", field).With("field", field)
	}
	if literalNulls[strings.ToLower(strings.TrimSpace(value))] {
		return trelliserr.New(trelliserr.CodeSecurityViolation,
			"%s carries a literal null value; omit the field instead", field).With("field", field)
	}
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return trelliserr.New(trelliserr.CodeSecurityViolation,
				"%s contains control characters", field).With("field", field)
		}
	}
	for _, tok := range traversalTokens {
		if strings.Contains(value, tok) {
			return trelliserr.New(trelliserr.CodeSecurityViolation,
				"%s contains path traversal characters", field).With("field", field)
		}
	}
	return nil
}

// ScreenFieldName rejects update-payload field names that target
// internals instead of front-matter.
func ScreenFieldName(name string) error {
	if forbiddenFieldNames[strings.ToLower(name)] {
		return trelliserr.New(trelliserr.CodeSecurityViolation,
			"field %s cannot be set through this operation", name)
	}
	return nil
}
