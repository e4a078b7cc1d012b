package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

type sinkEntry struct {
	path string
	err  error
}

type testSink struct {
	entries []sinkEntry
}

func (s *testSink) AddFileError(path string, err error) {
	s.entries = append(s.entries, sinkEntry{path, err})
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func objectFile(kind types.Kind, id, parent, status string) string {
	s := `---
kind: ` + string(kind) + `
id: ` + id + "\n"
	if parent != "" {
		s += "parent: " + parent + "\n"
	}
	s += `status: ` + status + `
title: ` + id + `
priority: normal
created: 2025-01-01T00:00:00Z
updated: 2025-01-01T00:00:00Z
schema_version: "1.1"
---
`
	return s
}

// buildTree creates one project hierarchy plus standalone tasks:
//
//	P-x/E-y/F-z: T-q (open), T-r (done)
//	standalone:  T-s (open)
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	planning := filepath.Join(root, "planning")
	featDir := filepath.Join(planning, "projects", "P-x", "epics", "E-y", "features", "F-z")

	write(t, filepath.Join(planning, "projects", "P-x", "project.md"),
		objectFile(types.KindProject, "P-x", "", "in-progress"))
	write(t, filepath.Join(planning, "projects", "P-x", "epics", "E-y", "epic.md"),
		objectFile(types.KindEpic, "E-y", "P-x", "in-progress"))
	write(t, filepath.Join(featDir, "feature.md"),
		objectFile(types.KindFeature, "F-z", "E-y", "in-progress"))
	write(t, filepath.Join(featDir, "tasks-open", "T-q.md"),
		objectFile(types.KindTask, "T-q", "F-z", "open"))
	write(t, filepath.Join(featDir, "tasks-done", "20250102_080000-T-r.md"),
		objectFile(types.KindTask, "T-r", "F-z", "done"))
	write(t, filepath.Join(planning, "tasks-open", "T-s.md"),
		objectFile(types.KindTask, "T-s", "", "open"))
	return root
}

func ids(objs []*types.Object) map[string]bool {
	m := make(map[string]bool, len(objs))
	for _, o := range objs {
		m[o.ID] = true
	}
	return m
}

func TestScanAll(t *testing.T) {
	root := buildTree(t)
	var got []*types.Object
	s := &Scanner{}
	err := s.ScanAll(context.Background(), root, func(o *types.Object) error {
		got = append(got, o)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("found %d objects, want 6", len(got))
	}
	seen := ids(got)
	for _, id := range []string{"P-x", "E-y", "F-z", "T-q", "T-r", "T-s"} {
		if !seen[id] {
			t.Errorf("missing %s", id)
		}
	}
}

func TestScanTasksOnly(t *testing.T) {
	root := buildTree(t)
	s := &Scanner{}
	tasks, err := s.CollectTasks(context.Background(), root, "")
	if err != nil {
		t.Fatalf("CollectTasks: %v", err)
	}
	seen := ids(tasks)
	if len(tasks) != 3 || !seen["T-q"] || !seen["T-r"] || !seen["T-s"] {
		t.Errorf("tasks = %v", seen)
	}
}

func TestFilterByScope(t *testing.T) {
	root := buildTree(t)
	s := &Scanner{}
	tests := []struct {
		scope string
		want  []string
	}{
		// Project scope takes the hierarchy plus standalone tasks.
		{scope: "P-x", want: []string{"T-q", "T-r", "T-s"}},
		// Epic and feature scopes exclude standalone tasks.
		{scope: "E-y", want: []string{"T-q", "T-r"}},
		{scope: "F-z", want: []string{"T-q", "T-r"}},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			tasks, err := s.CollectTasks(context.Background(), root, tt.scope)
			if err != nil {
				t.Fatalf("scope %s: %v", tt.scope, err)
			}
			if len(tasks) != len(tt.want) {
				t.Fatalf("scope %s: got %d tasks, want %d", tt.scope, len(tasks), len(tt.want))
			}
			seen := ids(tasks)
			for _, id := range tt.want {
				if !seen[id] {
					t.Errorf("scope %s missing %s", tt.scope, id)
				}
			}
		})
	}
}

func TestFilterByScopeInvalid(t *testing.T) {
	root := buildTree(t)
	s := &Scanner{}
	for _, scope := range []string{"T-q", "x", "P x", "Q-x", ""} {
		_, err := s.CollectTasks(context.Background(), root, scope)
		if scope == "" {
			if err != nil {
				t.Errorf("empty scope should scan everything: %v", err)
			}
			continue
		}
		if !trelliserr.HasCode(err, trelliserr.CodeInvalidScope) {
			t.Errorf("scope %q: err = %v, want InvalidScope", scope, err)
		}
	}
}

func TestFilterByScopeMissingObject(t *testing.T) {
	root := buildTree(t)
	s := &Scanner{}
	_, err := s.CollectTasks(context.Background(), root, "E-ghost")
	if !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
		t.Errorf("err = %v, want ObjectNotFound", err)
	}
}

func TestMalformedFileSkippedAndReported(t *testing.T) {
	root := buildTree(t)
	write(t, filepath.Join(root, "planning", "tasks-open", "T-broken.md"), "not a planning file")

	sink := &testSink{}
	s := &Scanner{Errors: sink}
	tasks, err := s.CollectTasks(context.Background(), root, "")
	if err != nil {
		t.Fatalf("scan must not fail on a malformed file: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("got %d tasks, want the 3 healthy ones", len(tasks))
	}
	if len(sink.entries) != 1 {
		t.Fatalf("sink entries = %d, want 1", len(sink.entries))
	}
	if filepath.Base(sink.entries[0].path) != "T-broken.md" {
		t.Errorf("reported path = %s", sink.entries[0].path)
	}
}

func TestScanHonorsCancellation(t *testing.T) {
	root := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Scanner{}
	err := s.ScanAll(ctx, root, func(*types.Object) error { return nil })
	if err == nil {
		t.Error("cancelled scan returned nil")
	}
}

func TestRootIsPlanningDir(t *testing.T) {
	// CLI callers may pass the planning directory itself.
	root := buildTree(t)
	planning := filepath.Join(root, "planning")
	s := &Scanner{}
	tasks, err := s.CollectTasks(context.Background(), planning, "")
	if err != nil {
		t.Fatalf("CollectTasks on planning dir: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("got %d tasks, want 3", len(tasks))
	}
}
