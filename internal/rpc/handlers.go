package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/trellisplan/trellis/internal/claim"
	"github.com/trellisplan/trellis/internal/deps"
	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/schema"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/utils"
	"github.com/trellisplan/trellis/internal/validation"
)

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return trelliserr.New(trelliserr.CodeMissingRequiredField, "operation arguments are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return trelliserr.New(trelliserr.CodeInvalidField, "malformed operation arguments")
	}
	return nil
}

// rootFor prefers the per-request projectRoot over the server's
// startup root.
func (s *Server) rootFor(argRoot string) string {
	if argRoot != "" {
		return argRoot
	}
	return s.root
}

func objectResult(o *types.Object) ObjectResult {
	return ObjectResult{
		Kind:          o.Kind,
		ID:            o.ID,
		Parent:        o.Parent,
		Status:        o.Status,
		Title:         o.Title,
		Priority:      o.Priority,
		Worktree:      o.Worktree,
		Created:       o.Created,
		Updated:       o.Updated,
		SchemaVersion: o.SchemaVersion,
		Prerequisites: o.Prerequisites,
		Body:          o.Body,
		FilePath:      o.FilePath,
	}
}

func (s *Server) handleCreateObject(req *Request) Response {
	var args CreateObjectArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	kind, err := s.kinds.Infer(args.ID)
	if err != nil {
		return errorResponse(err)
	}
	id := types.CanonicalTaskID(args.ID)

	if args.Title == "" {
		return errorResponse(trelliserr.New(trelliserr.CodeMissingRequiredField,
			"title is required").With("field", "title"))
	}
	status := types.Status(args.Status)
	if args.Status == "" {
		status = types.StatusDraft
		if kind == types.KindTask {
			status = types.StatusOpen
		}
	}
	if !types.StatusAllowed(kind, status) {
		return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
			"status %q is not valid for a %s", args.Status, kind).With("field", "status"))
	}
	priority, ok := types.ParsePriority(args.Priority)
	if !ok {
		return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
			"priority must be high, normal or low").With("field", "priority"))
	}
	if args.Parent != "" {
		if err := validation.ScreenID("parent", args.Parent); err != nil {
			return errorResponse(err)
		}
	}
	prereqs := make([]string, 0, len(args.Prerequisites))
	for _, p := range args.Prerequisites {
		if err := validation.ScreenID("prerequisites", p); err != nil {
			return errorResponse(err)
		}
		prereqs = append(prereqs, types.CanonicalTaskID(p))
	}
	if len(prereqs) > 0 && kind != types.KindTask {
		return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
			"only tasks carry prerequisites").With("field", "prerequisites"))
	}

	// Refuse duplicates before resolving a destination.
	switch _, err := paths.IDToPath(kind, id, root); {
	case err == nil:
		return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
			"a %s with id %s already exists; pick another id or update the existing object", kind, id).
			With("id", id))
	case !trelliserr.HasCode(err, trelliserr.CodeObjectNotFound):
		return errorResponse(err)
	}

	// Server-side creates bootstrap the planning directory on first use.
	if _, err := paths.EnsurePlanningDir(root); err != nil {
		return errorResponse(err)
	}
	path, err := paths.ResolveNew(kind, id, args.Parent, status, root)
	if err != nil {
		return errorResponse(err)
	}

	now := time.Now().UTC()
	obj := &types.Object{
		Kind:          kind,
		ID:            id,
		Parent:        args.Parent,
		Status:        status,
		Title:         args.Title,
		Priority:      priority,
		Worktree:      args.Worktree,
		Created:       now,
		Updated:       now,
		SchemaVersion: types.SchemaVersionCurrent,
		Prerequisites: prereqs,
		Body:          args.Body,
		FilePath:      path,
	}

	if kind == types.KindTask && len(prereqs) > 0 {
		all, err := s.scanner.CollectTasks(ctx, root, "")
		if err != nil {
			return errorResponse(err)
		}
		g := deps.Build(all)
		g.Replace(obj)
		if err := g.CheckAcyclicFrom(ctx, id); err != nil {
			return errorResponse(err)
		}
	}

	c := &validation.Collector{}
	validation.ValidateObject(ctx, obj, root, c)
	if err := c.Err(); err != nil {
		return errorResponse(err)
	}

	if err := schema.Write(obj); err != nil {
		return errorResponse(err)
	}
	return dataResponse(objectResult(obj))
}

func (s *Server) handleGetObject(req *Request) Response {
	var args GetObjectArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	res, err := s.kinds.InferWithValidation(ctx, args.ID, root)
	if err != nil {
		if trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
			if hint := s.closestKnownID(ctx, args.ID, root); hint != "" {
				err = trelliserr.AsError(err).With("did_you_mean", hint)
			}
		}
		return errorResponse(err)
	}
	obj, err := schema.Load(res.FilePath)
	if err != nil {
		return errorResponse(err)
	}

	out := objectResult(obj)
	children, err := immediateChildren(obj)
	if err != nil {
		return errorResponse(err)
	}
	out.Children = children
	return dataResponse(out)
}

// closestKnownID scans existing IDs for a near-miss on a lookup that
// found nothing. Distance 2 covers one typo plus a case slip.
func (s *Server) closestKnownID(ctx context.Context, id, root string) string {
	var known []string
	_ = s.scanner.ScanAll(ctx, root, func(o *types.Object) error {
		known = append(known, o.ID)
		return nil
	})
	return utils.ClosestID(id, known, 2)
}

// immediateChildren lists one level down: project to epics, epic to
// features, feature to tasks in both open and done directories.
func immediateChildren(o *types.Object) ([]types.Child, error) {
	dir := filepath.Dir(o.FilePath)
	var children []types.Child

	appendMarkers := func(containerDir string, kind types.Kind) {
		entries, err := os.ReadDir(containerDir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			child, err := schema.Load(filepath.Join(containerDir, e.Name(), kind.FileName()))
			if err != nil {
				continue
			}
			children = append(children, childOf(child))
		}
	}

	switch o.Kind {
	case types.KindProject:
		appendMarkers(filepath.Join(dir, types.KindEpic.DirName()), types.KindEpic)
	case types.KindEpic:
		appendMarkers(filepath.Join(dir, types.KindFeature.DirName()), types.KindFeature)
	case types.KindFeature:
		for _, sub := range []string{paths.TasksOpenDir, paths.TasksDoneDir} {
			entries, err := os.ReadDir(filepath.Join(dir, sub))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				if _, _, _, ok := paths.ParseTaskFileName(e.Name()); !ok {
					continue
				}
				child, err := schema.Load(filepath.Join(dir, sub, e.Name()))
				if err != nil {
					continue
				}
				children = append(children, childOf(child))
			}
		}
	}

	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func childOf(o *types.Object) types.Child {
	return types.Child{
		ID:       o.ID,
		Title:    o.Title,
		Status:   o.Status,
		Kind:     o.Kind,
		Created:  o.Created,
		FilePath: o.FilePath,
	}
}

func (s *Server) handleUpdateObject(req *Request) Response {
	var args UpdateObjectArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	if len(args.Fields) == 0 && args.Body == nil {
		return errorResponse(trelliserr.New(trelliserr.CodeMissingRequiredField,
			"update requires fields or body"))
	}
	if err := validation.ScreenUpdateFields(args.Fields); err != nil {
		return errorResponse(err)
	}

	res, err := s.kinds.InferWithValidation(ctx, args.ID, root)
	if err != nil {
		return errorResponse(err)
	}
	obj, err := schema.Load(res.FilePath)
	if err != nil {
		return errorResponse(err)
	}

	prereqsChanged := false
	for name, value := range args.Fields {
		switch strings.ToLower(name) {
		case "title":
			title, ok := value.(string)
			if !ok || title == "" {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"title must be a non-empty string").With("field", "title"))
			}
			obj.Title = title
		case "status":
			raw, ok := value.(string)
			if !ok {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"status must be a string").With("field", "status"))
			}
			to := types.Status(raw)
			if !types.StatusAllowed(obj.Kind, to) {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"status %q is not valid for a %s", raw, obj.Kind).With("field", "status"))
			}
			if obj.Kind == types.KindTask && to == types.StatusDone {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"use completeTask to finish a task; it moves the file and appends the log"))
			}
			if !types.ValidTransition(obj.Kind, obj.Status, to) {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"cannot move %s from %s to %s", obj.ID, obj.Status, to).With("field", "status"))
			}
			obj.Status = to
		case "priority":
			raw, _ := value.(string)
			p, ok := types.ParsePriority(raw)
			if !ok {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"priority must be high, normal or low").With("field", "priority"))
			}
			obj.Priority = p
		case "worktree":
			wt, ok := value.(string)
			if !ok {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"worktree must be a string").With("field", "worktree"))
			}
			obj.Worktree = wt
		case "prerequisites":
			list, err := prereqList(value)
			if err != nil {
				return errorResponse(err)
			}
			if obj.Kind != types.KindTask {
				return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
					"only tasks carry prerequisites").With("field", "prerequisites"))
			}
			obj.Prerequisites = list
			prereqsChanged = true
		case "parent":
			return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
				"changing parent is not supported; recreate the object under the new parent").
				With("field", "parent"))
		default:
			return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
				"unknown field %q", name))
		}
	}
	if args.Body != nil {
		obj.Body = *args.Body
	}

	// The proposed graph must stay acyclic before anything is written.
	if prereqsChanged {
		all, err := s.scanner.CollectTasks(ctx, root, "")
		if err != nil {
			return errorResponse(err)
		}
		g := deps.Build(all)
		g.Replace(obj)
		if err := g.CheckAcyclicFrom(ctx, obj.ID); err != nil {
			return errorResponse(err)
		}
	}

	obj.Updated = time.Now().UTC()
	c := &validation.Collector{}
	validation.ValidateObject(ctx, obj, root, c)
	if err := c.Err(); err != nil {
		return errorResponse(err)
	}
	if err := schema.Write(obj); err != nil {
		return errorResponse(err)
	}
	s.kinds.Invalidate(obj.ID, root)
	return dataResponse(objectResult(obj))
}

func prereqList(value any) ([]string, error) {
	var raw []string
	switch v := value.(type) {
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, trelliserr.New(trelliserr.CodeInvalidField,
					"prerequisites must be a list of task ids").With("field", "prerequisites")
			}
			raw = append(raw, s)
		}
	default:
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"prerequisites must be a list of task ids").With("field", "prerequisites")
	}
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		canonical := types.CanonicalTaskID(strings.TrimSpace(p))
		if !types.ValidID(types.KindTask, canonical) {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"prerequisite %q is not a task identifier", p).With("field", "prerequisites")
		}
		out = append(out, canonical)
	}
	return out, nil
}

func (s *Server) handleDeleteObject(req *Request) Response {
	var args DeleteObjectArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	res, err := s.kinds.InferWithValidation(ctx, args.ID, root)
	if err != nil {
		return errorResponse(err)
	}

	cascade := false
	if res.InferredKind == types.KindTask {
		if err := os.Remove(res.FilePath); err != nil {
			return errorResponse(trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot delete task file"))
		}
	} else {
		// Containers delete their whole directory; descendants go with
		// it.
		cascade = true
		if err := os.RemoveAll(filepath.Dir(res.FilePath)); err != nil {
			return errorResponse(trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot delete %s directory", res.InferredKind))
		}
	}
	s.kinds.Invalidate(args.ID, root)
	return dataResponse(DeleteObjectResult{ID: res.ID, Cascade: cascade})
}

func (s *Server) handleClaimNextTask(req *Request) Response {
	var args ClaimNextTaskArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	res, err := s.claims.Claim(ctx, &claim.Request{
		Root:     root,
		Scope:    args.Scope,
		TaskID:   args.TaskID,
		Force:    args.ForceClaim,
		Worktree: args.Worktree,
		Actor:    req.Actor,
	})
	if err != nil {
		return errorResponse(err)
	}
	if res.Forced {
		// Reviving a done task relocates its file.
		s.kinds.Invalidate(res.Task.ID, root)
	}
	return dataResponse(ClaimNextTaskResult{Task: objectResult(res.Task), Forced: res.Forced})
}

func (s *Server) handleCompleteTask(req *Request) Response {
	var args CompleteTaskArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)

	res, err := s.claims.Complete(&claim.CompleteRequest{
		Root:         root,
		TaskID:       args.TaskID,
		FilesChanged: args.FilesChanged,
		Summary:      args.Summary,
	})
	if err != nil {
		return errorResponse(err)
	}
	// The file moved; drop the stale location from the kind cache.
	s.kinds.Invalidate(args.TaskID, root)
	return dataResponse(CompleteTaskResult{
		Task:        objectResult(res.Task),
		FilePath:    res.Path,
		AlreadyDone: res.AlreadyDone,
	})
}

func (s *Server) handleGetNextReviewableTask(req *Request) Response {
	var args GetNextReviewableTaskArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	tasks, err := s.scanner.CollectTasks(ctx, root, args.Scope)
	if err != nil {
		return errorResponse(err)
	}
	var reviewable []*types.Object
	for _, t := range tasks {
		if t.Status == types.StatusReview {
			reviewable = append(reviewable, t)
		}
	}
	if len(reviewable) == 0 {
		return errorResponse(trelliserr.New(trelliserr.CodeNoAvailableTask,
			"no task is waiting for review"))
	}
	sort.Slice(reviewable, func(i, j int) bool {
		a, b := reviewable[i], reviewable[j]
		if !a.Updated.Equal(b.Updated) {
			return a.Updated.Before(b.Updated)
		}
		return a.ID < b.ID
	})
	return dataResponse(objectResult(reviewable[0]))
}

func (s *Server) handleListBacklog(req *Request) Response {
	var args ListBacklogArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	filter := types.TaskFilter{Scope: args.Scope}
	for _, raw := range args.Status {
		st := types.Status(raw)
		if !types.StatusAllowed(types.KindTask, st) {
			return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
				"unknown task status %q", raw).With("field", "status"))
		}
		filter.Status = append(filter.Status, st)
	}
	for _, raw := range args.Priority {
		p, ok := types.ParsePriority(raw)
		if !ok {
			return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
				"priority must be high, normal or low").With("field", "priority"))
		}
		filter.Priority = append(filter.Priority, p)
	}

	tasks, err := s.scanner.CollectTasks(ctx, root, args.Scope)
	if err != nil {
		return errorResponse(err)
	}
	var matched []*types.Object
	for _, t := range tasks {
		if filter.Matches(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return types.ClaimLess(matched[i], matched[j]) })

	out := ListBacklogResult{Tasks: make([]ObjectResult, len(matched))}
	for i, t := range matched {
		out.Tasks[i] = objectResult(t)
	}
	return dataResponse(out)
}

func (s *Server) handleGetCompletedObjects(req *Request) Response {
	var args GetCompletedObjectsArgs
	if err := decodeArgs(req.Args, &args); err != nil {
		return errorResponse(err)
	}
	root := s.rootFor(args.ProjectRoot)
	ctx, cancel := s.reqCtx()
	defer cancel()

	res, err := s.kinds.InferWithValidation(ctx, args.ID, root)
	if err != nil {
		return errorResponse(err)
	}

	// A task is its own subtree; containers cover everything under
	// their directory.
	if res.InferredKind == types.KindTask {
		obj, err := schema.Load(res.FilePath)
		if err != nil {
			return errorResponse(err)
		}
		out := GetCompletedObjectsResult{}
		if obj.Status == types.StatusDone {
			out.Objects = append(out.Objects, CompletedObject{
				Object:    objectResult(obj),
				Completed: completedAt(obj),
			})
		}
		return dataResponse(out)
	}

	subtree := filepath.Dir(res.FilePath)
	var done []CompletedObject
	visit := func(o *types.Object) error {
		if o.Status != types.StatusDone || o.FilePath == res.FilePath {
			return nil
		}
		rel, err := filepath.Rel(subtree, o.FilePath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil
		}
		done = append(done, CompletedObject{
			Object:    objectResult(o),
			Completed: completedAt(o),
		})
		return nil
	}
	if err := s.scanner.ScanAll(ctx, root, visit); err != nil {
		return errorResponse(err)
	}

	sort.Slice(done, func(i, j int) bool {
		a, b := done[i], done[j]
		if !a.Completed.Equal(b.Completed) {
			return a.Completed.After(b.Completed)
		}
		return a.Object.Priority.Rank() < b.Object.Priority.Rank()
	})
	return dataResponse(GetCompletedObjectsResult{Objects: done})
}

// completedAt extracts the completion instant: the filename stamp for
// done tasks, the updated timestamp otherwise.
func completedAt(o *types.Object) time.Time {
	if o.Kind == types.KindTask {
		if _, doneName, stamp, ok := paths.ParseTaskFileName(filepath.Base(o.FilePath)); ok && doneName {
			if ts, err := time.ParseInLocation(types.DoneStampLayout, stamp, time.UTC); err == nil {
				return ts
			}
		}
	}
	return o.Updated
}
