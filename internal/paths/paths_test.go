package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

func mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	mkdirs(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte("---\n---\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPlanningDir(t *testing.T) {
	root := t.TempDir()
	if got := PlanningDir(root); got != filepath.Join(root, PlanningDirName) {
		t.Errorf("bare root: got %s", got)
	}

	// A root that already holds planning markers is its own planning
	// directory.
	direct := t.TempDir()
	mkdirs(t, filepath.Join(direct, TasksOpenDir))
	if got := PlanningDir(direct); got != direct {
		t.Errorf("marker root: got %s", got)
	}
}

func TestParseTaskFileName(t *testing.T) {
	tests := []struct {
		name     string
		wantID   string
		wantDone bool
		wantOK   bool
	}{
		{"T-fix-lexer.md", "T-fix-lexer", false, true},
		{"20250304_120000-T-fix-lexer.md", "T-fix-lexer", true, true},
		{"feature.md", "", false, false},
		{"T-Upper.md", "", false, false},
		{"T-fix-lexer.txt", "", false, false},
		{"2025030_120000-T-x.md", "", false, false},
	}
	for _, tt := range tests {
		id, done, _, ok := ParseTaskFileName(tt.name)
		if ok != tt.wantOK || id != tt.wantID || done != tt.wantDone {
			t.Errorf("ParseTaskFileName(%q) = (%q, %v, _, %v), want (%q, %v, _, %v)",
				tt.name, id, done, ok, tt.wantID, tt.wantDone, tt.wantOK)
		}
	}
}

func TestDoneFileNameRoundTrip(t *testing.T) {
	stamp := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	name := DoneFileName("T-fix", stamp)
	if name != "20250304_120000-T-fix.md" {
		t.Fatalf("name = %s", name)
	}
	id, done, raw, ok := ParseTaskFileName(name)
	if !ok || !done || id != "T-fix" || raw != "20250304_120000" {
		t.Errorf("round trip = (%s, %v, %s, %v)", id, done, raw, ok)
	}
}

func TestIDToPathAcrossLocations(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, PlanningDirName)
	featDir := filepath.Join(planning, "projects", "P-app", "epics", "E-core", "features", "F-parse")
	touch(t, filepath.Join(planning, "projects", "P-app", "project.md"))
	touch(t, filepath.Join(planning, "projects", "P-app", "epics", "E-core", "epic.md"))
	touch(t, filepath.Join(featDir, "feature.md"))
	touch(t, filepath.Join(featDir, TasksOpenDir, "T-lexer.md"))
	touch(t, filepath.Join(planning, TasksOpenDir, "T-solo.md"))
	touch(t, filepath.Join(planning, TasksDoneDir, "20250304_120000-T-old.md"))

	tests := []struct {
		kind types.Kind
		id   string
		want string
	}{
		{types.KindProject, "P-app", filepath.Join(planning, "projects", "P-app", "project.md")},
		{types.KindEpic, "E-core", filepath.Join(planning, "projects", "P-app", "epics", "E-core", "epic.md")},
		{types.KindFeature, "F-parse", filepath.Join(featDir, "feature.md")},
		{types.KindTask, "T-lexer", filepath.Join(featDir, TasksOpenDir, "T-lexer.md")},
		{types.KindTask, "T-solo", filepath.Join(planning, TasksOpenDir, "T-solo.md")},
		{types.KindTask, "T-old", filepath.Join(planning, TasksDoneDir, "20250304_120000-T-old.md")},
	}
	for _, tt := range tests {
		got, err := IDToPath(tt.kind, tt.id, root)
		if err != nil {
			t.Errorf("IDToPath(%s, %s): %v", tt.kind, tt.id, err)
			continue
		}
		if got != tt.want {
			t.Errorf("IDToPath(%s, %s) = %s, want %s", tt.kind, tt.id, got, tt.want)
		}
	}
}

func TestIDToPathErrors(t *testing.T) {
	root := t.TempDir()

	if _, err := IDToPath(types.KindTask, "T-nope", root); !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
		t.Errorf("missing task: %v", err)
	}
	if _, err := IDToPath(types.KindTask, "T-Bad_Case", root); !trelliserr.HasCode(err, trelliserr.CodeInvalidIDFormat) {
		t.Errorf("malformed id: %v", err)
	}

	// The same ID in two subtrees cannot be resolved.
	planning := filepath.Join(root, PlanningDirName)
	touch(t, filepath.Join(planning, TasksOpenDir, "T-dup.md"))
	featDir := filepath.Join(planning, "projects", "P-a", "epics", "E-b", "features", "F-c")
	touch(t, filepath.Join(featDir, TasksOpenDir, "T-dup.md"))
	if _, err := IDToPath(types.KindTask, "T-dup", root); !trelliserr.HasCode(err, trelliserr.CodeAmbiguousObject) {
		t.Errorf("duplicate id: %v", err)
	}
}

func TestResolveNew(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, PlanningDirName)

	projPath, err := ResolveNew(types.KindProject, "P-app", "", types.StatusDraft, root)
	if err != nil {
		t.Fatal(err)
	}
	if projPath != filepath.Join(planning, "projects", "P-app", "project.md") {
		t.Errorf("project path = %s", projPath)
	}
	touch(t, projPath)

	if _, err := ResolveNew(types.KindEpic, "E-core", "P-ghost", types.StatusDraft, root); !trelliserr.HasCode(err, trelliserr.CodeParentNotFound) {
		t.Errorf("missing parent: %v", err)
	}
	if _, err := ResolveNew(types.KindEpic, "E-core", "", types.StatusDraft, root); !trelliserr.HasCode(err, trelliserr.CodeMissingRequiredField) {
		t.Errorf("empty parent: %v", err)
	}
	if _, err := ResolveNew(types.KindFeature, "F-parse", "", types.StatusDraft, root); !trelliserr.HasCode(err, trelliserr.CodeMissingRequiredField) {
		t.Errorf("empty feature parent: %v", err)
	}

	epicPath, err := ResolveNew(types.KindEpic, "E-core", "P-app", types.StatusDraft, root)
	if err != nil {
		t.Fatal(err)
	}
	touch(t, epicPath)
	featPath, err := ResolveNew(types.KindFeature, "F-parse", "E-core", types.StatusDraft, root)
	if err != nil {
		t.Fatal(err)
	}
	touch(t, featPath)

	taskPath, err := ResolveNew(types.KindTask, "T-lexer", "F-parse", types.StatusOpen, root)
	if err != nil {
		t.Fatal(err)
	}
	if taskPath != filepath.Join(filepath.Dir(featPath), TasksOpenDir, "T-lexer.md") {
		t.Errorf("task path = %s", taskPath)
	}

	soloPath, err := ResolveNew(types.KindTask, "T-solo", "", types.StatusOpen, root)
	if err != nil {
		t.Fatal(err)
	}
	if soloPath != filepath.Join(planning, TasksOpenDir, "T-solo.md") {
		t.Errorf("standalone path = %s", soloPath)
	}

	donePath, err := ResolveNew(types.KindTask, "T-past", "", types.StatusDone, root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(donePath), time.Now().UTC().Format("20060102")) {
		t.Errorf("done path lacks a date stamp: %s", donePath)
	}
}

func TestPathToID(t *testing.T) {
	tests := []struct {
		path     string
		wantKind types.Kind
		wantID   string
		wantErr  bool
	}{
		{"planning/projects/P-app/project.md", types.KindProject, "P-app", false},
		{"planning/projects/P-app/epics/E-core/epic.md", types.KindEpic, "E-core", false},
		{"planning/projects/P-app/epics/E-core/features/F-x/feature.md", types.KindFeature, "F-x", false},
		{"planning/tasks-open/T-solo.md", types.KindTask, "T-solo", false},
		{"planning/tasks-done/20250304_120000-T-old.md", types.KindTask, "T-old", false},
		{"planning/somewhere/T-stray.md", "", "", true},
		{"planning/readme.md", "", "", true},
	}
	for _, tt := range tests {
		kind, id, err := PathToID(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("PathToID(%s) err = %v", tt.path, err)
			continue
		}
		if kind != tt.wantKind || id != tt.wantID {
			t.Errorf("PathToID(%s) = (%s, %s), want (%s, %s)", tt.path, kind, id, tt.wantKind, tt.wantID)
		}
	}
}

func TestWithinRoot(t *testing.T) {
	root := "/srv/plan"
	if err := WithinRoot(root, "/srv/plan/planning/tasks-open/T-a.md"); err != nil {
		t.Errorf("inside: %v", err)
	}
	if err := WithinRoot(root, "/srv/other/T-a.md"); !trelliserr.HasCode(err, trelliserr.CodeSecurityViolation) {
		t.Errorf("outside: %v", err)
	}
	if err := WithinRoot(root, "/srv/plan/../other/T-a.md"); !trelliserr.HasCode(err, trelliserr.CodeSecurityViolation) {
		t.Errorf("traversal: %v", err)
	}
}
