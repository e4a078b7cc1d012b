package schema

import (
	"strings"
	"time"
)

// LogHeading is the only semantically recognized element of a planning
// file body. Entries under it are append-only.
const LogHeading = "### Log"

// LogEntry is one appended record: a timestamped note, optionally with
// the files changed by the work it describes.
type LogEntry struct {
	Timestamp    time.Time
	Note         string
	FilesChanged []string
}

func (e LogEntry) render() string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	if e.Note != "" {
		b.WriteString(": ")
		b.WriteString(e.Note)
	}
	b.WriteByte('\n')
	if len(e.FilesChanged) > 0 {
		b.WriteString("  filesChanged: [")
		b.WriteString(strings.Join(e.FilesChanged, ", "))
		b.WriteString("]\n")
	}
	return b.String()
}

// AppendLogEntry returns the body with the entry appended under the
// ### Log heading. The heading is created at the end of the body when
// absent. Everything above the insertion point is preserved verbatim.
func AppendLogEntry(body string, e LogEntry) string {
	idx := findLogHeading(body)
	if idx < 0 {
		var b strings.Builder
		b.WriteString(body)
		if body != "" && !strings.HasSuffix(body, "\n") {
			b.WriteByte('\n')
		}
		if body != "" {
			b.WriteByte('\n')
		}
		b.WriteString(LogHeading)
		b.WriteByte('\n')
		b.WriteString(e.render())
		return b.String()
	}

	// Insert at the end of the Log section: just before the next
	// heading, or at the end of the body.
	sectionEnd := len(body)
	rest := body[idx:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		afterHeading := idx + nl + 1
		if next := findNextHeading(body, afterHeading); next >= 0 {
			sectionEnd = next
		}
	}

	head := body[:sectionEnd]
	tail := body[sectionEnd:]
	var b strings.Builder
	b.WriteString(head)
	if !strings.HasSuffix(head, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(e.render())
	b.WriteString(tail)
	return b.String()
}

// findLogHeading returns the byte offset of the ### Log heading line,
// or -1.
func findLogHeading(body string) int {
	offset := 0
	for _, line := range strings.SplitAfter(body, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == LogHeading {
			return offset
		}
		offset += len(line)
	}
	return -1
}

// findNextHeading returns the offset of the first markdown heading at
// or after from, or -1.
func findNextHeading(body string, from int) int {
	offset := from
	for _, line := range strings.SplitAfter(body[from:], "\n") {
		if strings.HasPrefix(line, "#") {
			return offset
		}
		offset += len(line)
	}
	return -1
}
