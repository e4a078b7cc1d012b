package trelliserr

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Sanitizer patterns. Each replacement keeps enough shape for a human
// to understand the message without leaking host details.
var (
	absPathPattern  = regexp.MustCompile(`(^|[\s"'=(\[])(/[A-Za-z0-9._-]+(?:/[A-Za-z0-9._-]+)+)`)
	envVarPattern   = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)
	uuidPattern     = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	ipPattern       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	connStrPattern  = regexp.MustCompile(`\b[a-z][a-z0-9+]*://[^\s"']+`)
	stackFramePat   = regexp.MustCompile(`(?m)^\s*(?:at\s+\S+|goroutine \d+.*|\S+\.go:\d+.*)$`)
	inputValuePat   = regexp.MustCompile(`(?i)"?input_value"?\s*[:=]\s*"[^"]*"`)
	homeDirPattern  = regexp.MustCompile(`~/[A-Za-z0-9._/-]*`)
)

// Sanitize strips absolute paths (keeping the basename), environment
// variable references, UUIDs, IP addresses, connection strings, stack
// frames and upstream input_value fields from a message. Task IDs pass
// through untouched.
func Sanitize(msg string) string {
	msg = stackFramePat.ReplaceAllString(msg, "")
	msg = inputValuePat.ReplaceAllString(msg, `input_value="[redacted]"`)
	msg = connStrPattern.ReplaceAllString(msg, "[connection]")
	msg = absPathPattern.ReplaceAllStringFunc(msg, func(m string) string {
		idx := strings.IndexByte(m, '/')
		prefix, path := m[:idx], m[idx:]
		return prefix + filepath.Base(path)
	})
	msg = homeDirPattern.ReplaceAllStringFunc(msg, func(m string) string {
		return filepath.Base(m)
	})
	msg = envVarPattern.ReplaceAllString(msg, "[env]")
	msg = uuidPattern.ReplaceAllString(msg, "[uuid]")
	msg = ipPattern.ReplaceAllString(msg, "[addr]")
	return strings.TrimSpace(msg)
}

// SanitizeError returns a copy of the coded error with its message and
// every context value passed through Sanitize. The cause is dropped.
func SanitizeError(e *Error) *Error {
	out := &Error{Code: e.Code, Message: Sanitize(e.Message)}
	if len(e.Context) > 0 {
		out.Context = make(map[string]string, len(e.Context))
		for k, v := range e.Context {
			out.Context[k] = Sanitize(v)
		}
	}
	return out
}
