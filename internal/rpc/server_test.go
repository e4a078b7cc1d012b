package rpc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

func startServer(t *testing.T, root string) *Client {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "trellis.sock")
	srv, err := NewServer(socket, root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()
	select {
	case <-srv.Ready():
	case err := <-errChan:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	t.Cleanup(srv.Stop)

	client, err := Connect(socket)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPingAndHealth(t *testing.T) {
	client := startServer(t, t.TempDir())
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	health, err := client.Health()
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "healthy" || !health.Compatible {
		t.Errorf("health = %+v", health)
	}
}

func TestCreateHierarchyAndGetChildren(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	for _, args := range []*CreateObjectArgs{
		{ID: "P-app", Title: "The app"},
		{ID: "E-core", Parent: "P-app", Title: "Core work"},
		{ID: "F-parse", Parent: "E-core", Title: "Parsing"},
		{ID: "T-lexer", Parent: "F-parse", Title: "Write the lexer"},
	} {
		args.ProjectRoot = root
		if _, err := client.CreateObject(args); err != nil {
			t.Fatalf("CreateObject(%s): %v", args.ID, err)
		}
	}

	got, err := client.GetObject(&GetObjectArgs{ProjectRoot: root, ID: "E-core"})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if got.Kind != types.KindEpic || got.Status != types.StatusDraft {
		t.Errorf("epic = %s/%s", got.Kind, got.Status)
	}
	if len(got.Children) != 1 || got.Children[0].ID != "F-parse" {
		t.Errorf("children = %+v", got.Children)
	}

	feat, err := client.GetObject(&GetObjectArgs{ProjectRoot: root, ID: "F-parse"})
	if err != nil {
		t.Fatalf("GetObject(F-parse): %v", err)
	}
	if len(feat.Children) != 1 || feat.Children[0].ID != "T-lexer" {
		t.Errorf("feature children = %+v", feat.Children)
	}
}

func TestCreateObjectDuplicateRejected(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-one", Title: "one"}); err != nil {
		t.Fatal(err)
	}
	_, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-one", Title: "again"})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate create: %v", err)
	}
}

func TestCreateObjectParentMissing(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	_, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "E-orphan", Parent: "P-ghost", Title: "orphan"})
	if !trelliserr.HasCode(err, trelliserr.CodeParentNotFound) {
		t.Errorf("err = %v, want ParentNotFound", err)
	}
}

func TestUpdateObjectCycleRejected(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-b", Title: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.CreateObject(&CreateObjectArgs{
		ProjectRoot: root, ID: "T-a", Title: "a", Prerequisites: []string{"T-b"},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := client.UpdateObject(&UpdateObjectArgs{
		ProjectRoot: root, ID: "T-b",
		Fields: map[string]any{"prerequisites": []any{"T-a"}},
	})
	if !trelliserr.HasCode(err, trelliserr.CodeCycleDetected) {
		t.Fatalf("err = %v, want CycleDetected", err)
	}

	// Both files must be unchanged.
	unchanged, err := client.GetObject(&GetObjectArgs{ProjectRoot: root, ID: "T-b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(unchanged.Prerequisites) != 0 {
		t.Errorf("rejected update mutated the file: %v", unchanged.Prerequisites)
	}
}

func TestUpdateObjectStatusTransition(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "P-app", Title: "app"}); err != nil {
		t.Fatal(err)
	}
	got, err := client.UpdateObject(&UpdateObjectArgs{
		ProjectRoot: root, ID: "P-app",
		Fields: map[string]any{"status": "in-progress"},
	})
	if err != nil {
		t.Fatalf("UpdateObject: %v", err)
	}
	if got.Status != types.StatusInProgress {
		t.Errorf("status = %s", got.Status)
	}

	// Tasks finish via completeTask, not a bare status update.
	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-x", Title: "x"}); err != nil {
		t.Fatal(err)
	}
	_, err = client.UpdateObject(&UpdateObjectArgs{
		ProjectRoot: root, ID: "T-x",
		Fields: map[string]any{"status": "done"},
	})
	if err == nil || !strings.Contains(err.Error(), "completeTask") {
		t.Errorf("task done via update: %v", err)
	}
}

func TestUpdateObjectForbiddenField(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)
	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-x", Title: "x"}); err != nil {
		t.Fatal(err)
	}
	_, err := client.UpdateObject(&UpdateObjectArgs{
		ProjectRoot: root, ID: "T-x",
		Fields: map[string]any{"file_path": "/etc/passwd"},
	})
	if !trelliserr.HasCode(err, trelliserr.CodeSecurityViolation) {
		t.Errorf("err = %v, want SecurityViolation", err)
	}
}

func TestDeleteObjectCascade(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	for _, args := range []*CreateObjectArgs{
		{ID: "P-app", Title: "app"},
		{ID: "E-core", Parent: "P-app", Title: "core"},
		{ID: "F-parse", Parent: "E-core", Title: "parse"},
		{ID: "T-lexer", Parent: "F-parse", Title: "lexer"},
	} {
		args.ProjectRoot = root
		if _, err := client.CreateObject(args); err != nil {
			t.Fatal(err)
		}
	}

	res, err := client.DeleteObject(&DeleteObjectArgs{ProjectRoot: root, ID: "E-core"})
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if !res.Cascade {
		t.Error("container delete must cascade")
	}
	if _, err := client.GetObject(&GetObjectArgs{ProjectRoot: root, ID: "T-lexer"}); !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
		t.Errorf("descendant survived the cascade: %v", err)
	}
}

func TestClaimAndCompleteOverRPC(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-work", Title: "work"}); err != nil {
		t.Fatal(err)
	}

	claimed, err := client.ClaimNextTask(&ClaimNextTaskArgs{ProjectRoot: root, Worktree: "wt-9"})
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if claimed.Task.ID != "T-work" || claimed.Task.Status != types.StatusInProgress {
		t.Errorf("claimed = %s/%s", claimed.Task.ID, claimed.Task.Status)
	}

	completed, err := client.CompleteTask(&CompleteTaskArgs{
		ProjectRoot: root, TaskID: "T-work", FilesChanged: []string{"x.go"},
	})
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if completed.Task.Status != types.StatusDone {
		t.Errorf("status = %s", completed.Task.Status)
	}
	if filepath.Base(filepath.Dir(completed.FilePath)) != paths.TasksDoneDir {
		t.Errorf("completed path = %s", completed.FilePath)
	}
	if _, err := os.Stat(completed.FilePath); err != nil {
		t.Errorf("completed file missing: %v", err)
	}
}

func TestClaimMutualExclusion(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	_, err := client.ClaimNextTask(&ClaimNextTaskArgs{ProjectRoot: root, Scope: "P-x", TaskID: "T-a"})
	if !trelliserr.HasCode(err, trelliserr.CodeMutualExclusivityViolation) {
		t.Errorf("err = %v, want MutualExclusivityViolation", err)
	}
	if err != nil && !strings.Contains(err.Error(), "not both") {
		t.Errorf("message should suggest remediation: %v", err)
	}
}

func TestListBacklogOrderingAndFilters(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-low", Title: "low", Priority: "low"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-high", Title: "high", Priority: "high"}); err != nil {
		t.Fatal(err)
	}

	res, err := client.ListBacklog(&ListBacklogArgs{ProjectRoot: root})
	if err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(res.Tasks) != 2 || res.Tasks[0].ID != "T-high" {
		t.Errorf("ordering = %+v", res.Tasks)
	}

	res, err = client.ListBacklog(&ListBacklogArgs{ProjectRoot: root, Priority: []string{"low"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].ID != "T-low" {
		t.Errorf("priority filter = %+v", res.Tasks)
	}
}

func TestGetNextReviewableTask(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	_, err := client.GetNextReviewableTask(&GetNextReviewableTaskArgs{ProjectRoot: root})
	if !trelliserr.HasCode(err, trelliserr.CodeNoAvailableTask) {
		t.Fatalf("empty root: %v", err)
	}

	if _, err := client.CreateObject(&CreateObjectArgs{ProjectRoot: root, ID: "T-r", Title: "r"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ClaimNextTask(&ClaimNextTaskArgs{ProjectRoot: root, TaskID: "T-r"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.UpdateObject(&UpdateObjectArgs{
		ProjectRoot: root, ID: "T-r", Fields: map[string]any{"status": "review"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := client.GetNextReviewableTask(&GetNextReviewableTaskArgs{ProjectRoot: root})
	if err != nil {
		t.Fatalf("GetNextReviewableTask: %v", err)
	}
	if got.ID != "T-r" {
		t.Errorf("reviewable = %s", got.ID)
	}
}

func TestGetCompletedObjects(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	for _, args := range []*CreateObjectArgs{
		{ID: "P-app", Title: "app"},
		{ID: "E-core", Parent: "P-app", Title: "core"},
		{ID: "F-parse", Parent: "E-core", Title: "parse"},
		{ID: "T-first", Parent: "F-parse", Title: "first"},
		{ID: "T-second", Parent: "F-parse", Title: "second"},
	} {
		args.ProjectRoot = root
		if _, err := client.CreateObject(args); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []string{"T-first", "T-second"} {
		if _, err := client.CompleteTask(&CompleteTaskArgs{ProjectRoot: root, TaskID: id}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := client.GetCompletedObjects(&GetCompletedObjectsArgs{ProjectRoot: root, ID: "P-app"})
	if err != nil {
		t.Fatalf("GetCompletedObjects: %v", err)
	}
	if len(res.Objects) != 2 {
		t.Fatalf("done descendants = %d, want 2", len(res.Objects))
	}
	for _, o := range res.Objects {
		if o.Object.Status != types.StatusDone {
			t.Errorf("non-done object in result: %+v", o.Object)
		}
	}
}

func TestErrorsAreSanitized(t *testing.T) {
	root := t.TempDir()
	client := startServer(t, root)

	_, err := client.GetObject(&GetObjectArgs{ProjectRoot: root, ID: "T-missing"})
	if !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
		t.Fatalf("err = %v, want ObjectNotFound", err)
	}
	if strings.Contains(err.Error(), root) {
		t.Errorf("error leaks the absolute root: %v", err)
	}
}

func TestUnknownOperation(t *testing.T) {
	client := startServer(t, t.TempDir())
	resp, err := client.Execute("frobnicate", struct{}{})
	if err == nil {
		t.Fatal("unknown operation must fail")
	}
	if resp == nil || resp.Error == nil || !strings.Contains(resp.Error.Message, "unknown operation") {
		t.Errorf("resp = %+v", resp)
	}
}
