// Package claim transitions exactly one task at a time: claiming an
// open task into in-progress, and completing a task into tasks-done.
// Claims are atomic against concurrent claimers via a per-file advisory
// lock bracketing a status reread before the write.
package claim

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/trellisplan/trellis/internal/audit"
	"github.com/trellisplan/trellis/internal/deps"
	"github.com/trellisplan/trellis/internal/fsutil"
	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/scanner"
	"github.com/trellisplan/trellis/internal/schema"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/validation"
)

// scopePattern mirrors the accepted scope shape at the parameter
// boundary; the scanner revalidates against the actual tree.
var scopePattern = regexp.MustCompile(`^[PEF]-[A-Za-z0-9_-]+$`)

// taskIDPattern accepts both the canonical and the standalone-alias
// spelling of a task ID.
var taskIDPattern = regexp.MustCompile(`^(T|task)-[a-z0-9][a-z0-9-]*$`)

// Request carries one claim invocation. Exactly one of Scope and
// TaskID may be set; Force requires TaskID.
type Request struct {
	Root     string
	Scope    string
	TaskID   string
	Force    bool
	Worktree string
	Actor    string
}

// Validate enforces the parameter contract before any filesystem
// access.
func (r *Request) Validate() error {
	if r.Scope != "" && r.TaskID != "" {
		return trelliserr.New(trelliserr.CodeMutualExclusivityViolation,
			"use either scope OR taskId, not both")
	}
	if r.Force && r.TaskID == "" {
		return trelliserr.New(trelliserr.CodeMutualExclusivityViolation,
			"force_claim requires taskId; it cannot be combined with scope or priority selection")
	}
	if r.Scope != "" {
		if err := validation.ScreenID("scope", r.Scope); err != nil {
			return err
		}
		if !scopePattern.MatchString(r.Scope) {
			return trelliserr.New(trelliserr.CodeInvalidScope,
				"scope must be a project, epic or feature id").With("field", "scope")
		}
	}
	if r.TaskID != "" {
		if err := validation.ScreenID("taskId", r.TaskID); err != nil {
			return err
		}
		if !taskIDPattern.MatchString(r.TaskID) {
			return trelliserr.New(trelliserr.CodeInvalidIDFormat,
				"taskId must be T-<slug> or task-<slug>").With("field", "taskId")
		}
	}
	return nil
}

// Result reports the claimed task after the write committed.
type Result struct {
	Task   *types.Object
	Forced bool
}

// Engine performs claims and completions. Stateless between calls; the
// clock is injectable for deterministic tests.
type Engine struct {
	Scanner *scanner.Scanner
	Now     func() time.Time
}

// NewEngine returns an engine over the given scanner, using wall-clock
// UTC time.
func NewEngine(s *scanner.Scanner) *Engine {
	return &Engine{Scanner: s, Now: func() time.Time { return time.Now().UTC() }}
}

// Claim runs one claim request to completion.
func (e *Engine) Claim(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TaskID != "" {
		return e.claimDirect(ctx, req)
	}
	return e.claimNext(ctx, req)
}

// claimDirect claims one named task. Without force the task must be
// open and unblocked; with force both checks are bypassed and the
// override is audited before the mutation.
func (e *Engine) claimDirect(ctx context.Context, req *Request) (*Result, error) {
	id := types.CanonicalTaskID(req.TaskID)
	path, err := paths.IDToPath(types.KindTask, id, req.Root)
	if err != nil {
		return nil, err
	}
	obj, err := schema.Load(path)
	if err != nil {
		return nil, err
	}

	if !req.Force {
		if err := validation.ForClaim()(req.TaskID, obj); err != nil {
			return nil, err
		}
		g, err := e.buildGraph(ctx, req.Root)
		if err != nil {
			return nil, err
		}
		if err := g.CheckUnblocked(obj); err != nil {
			return nil, err
		}
	}

	claimed, err := e.commit(obj, req)
	if err != nil {
		return nil, err
	}
	return &Result{Task: claimed, Forced: req.Force}, nil
}

// claimNext picks the best open unblocked candidate in scope and
// claims it. A candidate lost to a concurrent claimer is skipped and
// the next one is tried.
func (e *Engine) claimNext(ctx context.Context, req *Request) (*Result, error) {
	all, err := e.Scanner.CollectTasks(ctx, req.Root, "")
	if err != nil {
		return nil, err
	}
	g := deps.Build(all)

	candidates := all
	if req.Scope != "" {
		candidates, err = e.Scanner.CollectTasks(ctx, req.Root, req.Scope)
		if err != nil {
			return nil, err
		}
	}

	open := candidates[:0:0]
	for _, t := range candidates {
		if t.Status == types.StatusOpen && g.Unblocked(t) {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return nil, noAvailable(req.Scope)
	}
	sort.Slice(open, func(i, j int) bool { return types.ClaimLess(open[i], open[j]) })

	for _, t := range open {
		if err := ctx.Err(); err != nil {
			return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err, "claim cancelled")
		}
		claimed, err := e.commit(t, req)
		if err != nil {
			if trelliserr.HasCode(err, trelliserr.CodeTaskAlreadyClaimed) {
				continue
			}
			return nil, err
		}
		return &Result{Task: claimed}, nil
	}
	return nil, noAvailable(req.Scope)
}

func noAvailable(scope string) error {
	if scope != "" {
		return trelliserr.New(trelliserr.CodeNoAvailableTask,
			"no open unblocked task in scope %s; widen the scope or complete a prerequisite", scope).
			With("scope", scope)
	}
	return trelliserr.New(trelliserr.CodeNoAvailableTask,
		"no open unblocked task available; create one or complete a prerequisite")
}

// commit performs the guarded status swap: take the per-file advisory
// lock, reread the file, recheck the claim precondition, then write.
// A force-claim is audited before the file is touched.
func (e *Engine) commit(candidate *types.Object, req *Request) (*types.Object, error) {
	lock := flock.New(candidate.FilePath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot lock task file")
	}
	if !locked {
		return nil, alreadyClaimed(candidate.ID)
	}
	defer func() { _ = lock.Unlock() }()

	// Reread under the lock: the candidate was selected from an
	// unlocked snapshot.
	obj, err := schema.Load(candidate.FilePath)
	if err != nil {
		if trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
			return nil, alreadyClaimed(candidate.ID)
		}
		return nil, err
	}
	if !req.Force && obj.Status != types.StatusOpen {
		return nil, alreadyClaimed(obj.ID)
	}

	now := e.Now().UTC()
	original := obj.Status

	if req.Force {
		// The audit record is the authorization trail; its write must
		// precede the mutation and its failure aborts the claim.
		entry := &audit.Entry{
			Kind:           audit.KindForceClaim,
			CreatedAt:      now,
			Actor:          req.Actor,
			TaskID:         obj.ID,
			OriginalStatus: string(original),
			NewStatus:      string(types.StatusInProgress),
			Worktree:       req.Worktree,
		}
		if _, err := audit.Append(req.Root, entry); err != nil {
			return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err,
				"force-claim audit write failed; claim aborted")
		}

		// A done task sits under tasks-done with a stamped filename.
		// Reviving it must pull the file back to the sibling tasks-open
		// so status and directory stay consistent.
		if _, doneName, _, ok := paths.ParseTaskFileName(filepath.Base(obj.FilePath)); ok && doneName {
			dest := filepath.Join(filepath.Dir(filepath.Dir(obj.FilePath)),
				paths.TasksOpenDir, paths.TaskFileName(obj.ID))
			if err := paths.WithinRoot(req.Root, dest); err != nil {
				return nil, err
			}
			if err := fsutil.MoveFileAtomic(obj.FilePath, dest); err != nil {
				return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err,
					"cannot relocate force-claimed task to tasks-open")
			}
			obj.FilePath = dest
		}
	}

	obj.Status = types.StatusInProgress
	obj.Updated = now
	if req.Worktree != "" {
		obj.Worktree = req.Worktree
	}
	if err := schema.Write(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func alreadyClaimed(id string) error {
	return trelliserr.New(trelliserr.CodeTaskAlreadyClaimed,
		"task %s was claimed by another caller; retry without taskId to take the next candidate", id).
		With("id", id)
}

// buildGraph indexes every task under root for prerequisite checks.
func (e *Engine) buildGraph(ctx context.Context, root string) (*deps.Graph, error) {
	all, err := e.Scanner.CollectTasks(ctx, root, "")
	if err != nil {
		return nil, err
	}
	return deps.Build(all), nil
}
