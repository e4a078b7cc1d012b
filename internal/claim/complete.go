package claim

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/trellisplan/trellis/internal/fsutil"
	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/schema"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/validation"
)

// CompleteRequest carries one completion invocation.
type CompleteRequest struct {
	Root         string
	TaskID       string
	FilesChanged []string
	Summary      string
}

// CompleteResult reports where the completed file landed.
type CompleteResult struct {
	Task *types.Object
	Path string

	// AlreadyDone marks the idempotent case: the task was completed
	// earlier and nothing was written.
	AlreadyDone bool
}

// Complete moves a task to its sibling tasks-done directory with a
// completion stamp, flips status to done, and appends a log entry. The
// body above the log section is preserved byte for byte. Completing an
// already-done task is a no-op returning the existing path.
func (e *Engine) Complete(req *CompleteRequest) (*CompleteResult, error) {
	if req.TaskID == "" {
		return nil, trelliserr.New(trelliserr.CodeMissingRequiredField, "taskId is required")
	}
	if err := validation.ScreenID("taskId", req.TaskID); err != nil {
		return nil, err
	}
	if !taskIDPattern.MatchString(req.TaskID) {
		return nil, trelliserr.New(trelliserr.CodeInvalidIDFormat,
			"taskId must be T-<slug> or task-<slug>").With("field", "taskId")
	}

	id := types.CanonicalTaskID(req.TaskID)
	path, err := paths.IDToPath(types.KindTask, id, req.Root)
	if err != nil {
		return nil, err
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot lock task file")
	}
	if !locked {
		return nil, alreadyClaimed(id)
	}
	defer func() { _ = lock.Unlock() }()

	obj, err := schema.Load(path)
	if err != nil {
		return nil, err
	}
	if obj.Status == types.StatusDone {
		return &CompleteResult{Task: obj, Path: path, AlreadyDone: true}, nil
	}
	if err := validation.ForComplete()(req.TaskID, obj); err != nil {
		return nil, err
	}

	now := e.Now().UTC()
	dest, err := e.doneDestination(path, id, now, req.Root)
	if err != nil {
		return nil, err
	}

	obj.Status = types.StatusDone
	obj.Updated = now
	obj.Body = schema.AppendLogEntry(obj.Body, schema.LogEntry{
		Timestamp:    now,
		Note:         completionNote(req.Summary),
		FilesChanged: req.FilesChanged,
	})

	data, err := schema.Serialize(obj)
	if err != nil {
		return nil, err
	}
	// New file first, then unlink the old one. After a crash at most a
	// duplicate exists; readers prefer the done-path copy.
	if err := fsutil.WriteFileAtomic(dest, data, 0o644); err != nil {
		return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot write completed task file")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot remove open task file")
	}
	obj.FilePath = dest
	return &CompleteResult{Task: obj, Path: dest}, nil
}

// doneDestination places the completed file in the tasks-done sibling
// of the task's current directory, at the same hierarchical or
// standalone level.
func (e *Engine) doneDestination(openPath, id string, now time.Time, root string) (string, error) {
	base := filepath.Dir(filepath.Dir(openPath))
	dir := filepath.Join(base, paths.TasksDoneDir)
	dest := filepath.Join(dir, paths.DoneFileName(id, now))
	if err := paths.WithinRoot(root, dest); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot create tasks-done directory")
	}
	return dest, nil
}

func completionNote(summary string) string {
	if summary != "" {
		return "completed: " + summary
	}
	return "completed"
}
