// Package audit keeps the append-only audit trail for privileged
// operations. Force-claims must be recorded before the mutation they
// authorize; a failed audit write aborts the claim.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// FileName is the audit log stored under <root>/.trellis/.
	FileName = "audit.jsonl"
	dirName  = ".trellis"
	idPrefix = "aud-"
)

// Entry is one audit event, a single JSON line. Append-only: callers
// must never rewrite existing lines.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Actor  string `json:"actor,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	// Force-claim fields
	OriginalStatus string `json:"original_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	Worktree       string `json:"worktree,omitempty"`

	Reason string         `json:"reason,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// KindForceClaim marks a claim that bypassed status and prerequisite
// checks.
const KindForceClaim = "force_claim"

// Path returns the audit log location for a project root.
func Path(root string) string {
	return filepath.Join(root, dirName, FileName)
}

// Append writes an event as one JSON line, creating the .trellis
// directory and file on first use. The entry ID and timestamp are
// filled when absent.
func Append(root string, e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil audit entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("audit kind is required")
	}

	p := Path(root)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("creating audit directory: %w", err)
	}

	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("writing audit entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("flushing audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing audit log: %w", err)
	}
	return e.ID, nil
}

// Read returns all entries in the log, oldest first. Used by tests and
// the doctor surface; the hot path never reads the log.
func Read(root string) ([]*Entry, error) {
	f, err := os.Open(Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []*Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip torn lines; append is crash-tolerant
		}
		entries = append(entries, &e)
	}
	return entries, sc.Err()
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating audit id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
