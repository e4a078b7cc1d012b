package infer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func taskFile(id string) string {
	return `---
kind: task
id: ` + id + `
status: open
title: ` + id + `
priority: normal
created: 2025-01-01T00:00:00Z
updated: 2025-01-01T00:00:00Z
schema_version: "1.1"
---
`
}

func TestInferPrefixes(t *testing.T) {
	e, err := NewEngine(0)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		id       string
		want     types.Kind
		wantCode trelliserr.Code
	}{
		{id: "P-alpha", want: types.KindProject},
		{id: "E-beta", want: types.KindEpic},
		{id: "F-gamma", want: types.KindFeature},
		{id: "T-delta", want: types.KindTask},
		{id: "task-delta", want: types.KindTask},
		{id: "X-epsilon", wantCode: trelliserr.CodeInvalidIDFormat},
		{id: "T-UPPER", wantCode: trelliserr.CodeInvalidIDFormat},
		{id: "T-..", wantCode: trelliserr.CodeSecurityViolation},
		{id: "T-a/../b", wantCode: trelliserr.CodeSecurityViolation},
		{id: "~root", wantCode: trelliserr.CodeSecurityViolation},
		{id: "T-%2e%2e", wantCode: trelliserr.CodeSecurityViolation},
		{id: "   ", wantCode: trelliserr.CodeSecurityViolation},
		{id: "null", wantCode: trelliserr.CodeSecurityViolation},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			kind, err := e.Infer(tt.id)
			if tt.wantCode != "" {
				if trelliserr.CodeOf(err) != tt.wantCode {
					t.Errorf("Infer(%q) code = %v, want %s", tt.id, err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Infer(%q): %v", tt.id, err)
			}
			if kind != tt.want {
				t.Errorf("Infer(%q) = %s, want %s", tt.id, kind, tt.want)
			}
		})
	}
}

func TestInferWithValidation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "planning", "tasks-open", "T-solo.md"), taskFile("T-solo"))

	e, err := NewEngine(8)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := e.InferWithValidation(ctx, "task-solo", root)
	if err != nil {
		t.Fatalf("InferWithValidation: %v", err)
	}
	if res.InferredKind != types.KindTask || res.ID != "T-solo" || !res.Validated {
		t.Errorf("result = %+v", res)
	}

	// Second lookup is a cache hit.
	if _, err := e.InferWithValidation(ctx, "T-solo", root); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	hits, misses, _ := e.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", hits, misses)
	}

	// Missing objects never validate.
	if _, err := e.InferWithValidation(ctx, "T-ghost", root); !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
		t.Errorf("missing task: %v", err)
	}
}

func TestCacheInvalidatedByMtimeChange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "planning", "tasks-open", "T-edit.md")
	writeFile(t, path, taskFile("T-edit"))

	e, err := NewEngine(8)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := e.InferWithValidation(ctx, "T-edit", root); err != nil {
		t.Fatal(err)
	}

	// Edit the file with a clearly different mtime.
	future := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	res, err := e.InferWithValidation(ctx, "T-edit", root)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FileMtime.Equal(future.Truncate(time.Second)) && !res.FileMtime.Equal(future) {
		t.Errorf("mtime not recaptured: %v", res.FileMtime)
	}
	_, misses, _ := e.Stats()
	if misses != 2 {
		t.Errorf("misses = %d, want 2 (entry must be recomputed)", misses)
	}
}

func TestCacheInvalidatedByMove(t *testing.T) {
	root := t.TempDir()
	openPath := filepath.Join(root, "planning", "tasks-open", "T-move.md")
	writeFile(t, openPath, taskFile("T-move"))

	e, err := NewEngine(8)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := e.InferWithValidation(ctx, "T-move", root); err != nil {
		t.Fatal(err)
	}

	donePath := filepath.Join(root, "planning", "tasks-done", "20250304_120000-T-move.md")
	if err := os.MkdirAll(filepath.Dir(donePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(openPath, donePath); err != nil {
		t.Fatal(err)
	}

	res, err := e.InferWithValidation(ctx, "T-move", root)
	if err != nil {
		t.Fatalf("lookup after move: %v", err)
	}
	if res.FilePath != donePath {
		t.Errorf("path = %s, want the done-side file", res.FilePath)
	}
}

func TestUnvalidatedResultNeverCached(t *testing.T) {
	root := t.TempDir()
	e, err := NewEngine(8)
	if err != nil {
		t.Fatal(err)
	}

	// Prefix-only inference succeeds for an object that does not exist.
	if _, err := e.Infer("T-phantom"); err != nil {
		t.Fatal(err)
	}

	// The validated path must still fail: nothing was cached above.
	_, err = e.InferWithValidation(context.Background(), "T-phantom", root)
	if !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
		t.Errorf("validated lookup after unvalidated call: %v", err)
	}
}
