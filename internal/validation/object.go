package validation

import (
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

// ValidateObject runs the semantic checks on a loaded object: parent
// existence, status/directory consistency, and security screening of
// every ID-bearing field. Structural schema checks already ran in the
// parser; problems here land in the collector rather than failing
// fast.
func ValidateObject(ctx context.Context, o *types.Object, root string, c *Collector) {
	if err := ctx.Err(); err != nil {
		return
	}

	if err := ScreenID("id", o.ID); err != nil {
		c.AddError(err)
	}
	if o.Parent != "" {
		if err := ScreenID("parent", o.Parent); err != nil {
			c.AddError(err)
		}
	}
	for _, p := range o.Prerequisites {
		if err := ScreenID("prerequisites", p); err != nil {
			c.AddError(err)
		}
	}

	validateParent(o, root, c)
	validateLocation(o, c)

	if o.Updated.Before(o.Created) {
		c.Add(SeverityInfo, trelliserr.CodeInvalidField, "updated",
			"updated precedes created on %s %s", o.SystemLabel(), o.ID)
	}
}

// validateParent checks the kind-specific parent rule against the
// filesystem.
func validateParent(o *types.Object, root string, c *Collector) {
	parentKind := o.Kind.ParentKind()
	switch {
	case o.Kind == types.KindProject:
		return
	case o.Parent == "" && o.Kind == types.KindTask:
		// Standalone task.
		return
	case o.Parent == "":
		// Schema already rejects this; nothing further to resolve.
		return
	}
	if _, err := paths.IDToPath(parentKind, o.Parent, root); err != nil {
		if trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
			c.Add(SeveritySemantic, trelliserr.CodeParentNotFound, "parent",
				"%s %s names parent %s which does not exist", o.SystemLabel(), o.ID, o.Parent)
			return
		}
		c.AddError(err)
	}
}

// validateLocation enforces the status/directory invariant for tasks
// with a known file path: open-ish statuses live under tasks-open,
// done lives under tasks-done with a timestamp prefix.
func validateLocation(o *types.Object, c *Collector) {
	if o.Kind != types.KindTask || o.FilePath == "" {
		return
	}
	dir := filepath.Base(filepath.Dir(o.FilePath))
	name := filepath.Base(o.FilePath)
	_, doneName, _, ok := paths.ParseTaskFileName(name)
	if !ok {
		c.Add(SeverityStructural, trelliserr.CodeInvalidField, "file",
			"task %s has an unrecognized filename shape", o.ID)
		return
	}
	switch {
	case o.Status == types.StatusDone && (dir != paths.TasksDoneDir || !doneName):
		c.Add(SeverityStructural, trelliserr.CodeInvalidField, "status",
			"done task %s must live under %s with a completion stamp", o.ID, paths.TasksDoneDir)
	case o.Status != types.StatusDone && (dir != paths.TasksOpenDir || doneName):
		c.Add(SeverityStructural, trelliserr.CodeInvalidField, "status",
			"%s task %s must live under %s", o.Status, o.ID, paths.TasksOpenDir)
	}
}

// ValidateTree loads and validates every object under root with
// bounded parallelism, aggregating all problems into one collector.
// The scan-side collector catches unreadable files; per-object
// semantic checks run on workers.
func ValidateTree(ctx context.Context, root string, scan func(context.Context, string, func(*types.Object) error) error) (*Collector, error) {
	c := &Collector{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	results := make(chan *Collector)
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for sub := range results {
			c.Merge(sub)
		}
	}()

	err := scan(gctx, root, func(o *types.Object) error {
		obj := o
		g.Go(func() error {
			sub := &Collector{}
			ValidateObject(gctx, obj, root, sub)
			select {
			case results <- sub:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
		return nil
	})
	werr := g.Wait()
	close(results)
	<-collectDone

	if err != nil {
		return c, err
	}
	return c, werr
}

// ScreenUpdateFields rejects update payloads that target forbidden
// field names or carry hostile values in ID-bearing fields.
func ScreenUpdateFields(fields map[string]any) error {
	for name, value := range fields {
		if err := ScreenFieldName(name); err != nil {
			return err
		}
		switch strings.ToLower(name) {
		case "parent", "id":
			if s, ok := value.(string); ok && s != "" {
				if err := ScreenID(name, s); err != nil {
					return err
				}
			}
		case "prerequisites":
			list, ok := value.([]any)
			if !ok {
				if strs, ok2 := value.([]string); ok2 {
					for _, s := range strs {
						if err := ScreenID(name, s); err != nil {
							return err
						}
					}
					continue
				}
				return trelliserr.New(trelliserr.CodeInvalidField,
					"prerequisites must be a list of task ids")
			}
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return trelliserr.New(trelliserr.CodeInvalidField,
						"prerequisites must be a list of task ids")
				}
				if err := ScreenID(name, s); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ObjectValidator checks one precondition on a loaded object.
// Validators compose with Chain for lifecycle operations.
type ObjectValidator func(id string, o *types.Object) error

// Chain composes validators; the first failure stops the chain.
func Chain(validators ...ObjectValidator) ObjectValidator {
	return func(id string, o *types.Object) error {
		for _, v := range validators {
			if err := v(id, o); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exists fails when the object is nil.
func Exists() ObjectValidator {
	return func(id string, o *types.Object) error {
		if o == nil {
			return trelliserr.New(trelliserr.CodeObjectNotFound, "object %s not found", id).With("id", id)
		}
		return nil
	}
}

// IsTask fails for non-task objects.
func IsTask() ObjectValidator {
	return func(id string, o *types.Object) error {
		if o == nil {
			return nil
		}
		if o.Kind != types.KindTask {
			return trelliserr.New(trelliserr.CodeInvalidField,
				"%s is a %s; this operation applies to tasks", id, o.Kind).With("id", id)
		}
		return nil
	}
}

// HasStatus fails unless the object's status is in the allowed set.
func HasStatus(code trelliserr.Code, allowed ...types.Status) ObjectValidator {
	return func(id string, o *types.Object) error {
		if o == nil {
			return nil
		}
		for _, s := range allowed {
			if o.Status == s {
				return nil
			}
		}
		names := make([]string, len(allowed))
		for i, s := range allowed {
			names[i] = string(s)
		}
		return trelliserr.New(code,
			"%s %s has status %s, expected one of: %s",
			o.SystemLabel(), id, o.Status, strings.Join(names, ", ")).With("id", id)
	}
}

// NotStatus fails with code when the object's status is one of blocked.
func NotStatus(code trelliserr.Code, blocked ...types.Status) ObjectValidator {
	return func(id string, o *types.Object) error {
		if o == nil {
			return nil
		}
		for _, s := range blocked {
			if o.Status == s {
				return trelliserr.New(code,
					"%s %s is already %s; pick another task or retry priority selection",
					o.SystemLabel(), id, o.Status).With("id", id)
			}
		}
		return nil
	}
}

// TransitionAllowed fails when moving the object to the target status
// is not a legal lifecycle step.
func TransitionAllowed(to types.Status) ObjectValidator {
	return func(id string, o *types.Object) error {
		if o == nil {
			return nil
		}
		if !types.ValidTransition(o.Kind, o.Status, to) {
			return trelliserr.New(trelliserr.CodeInvalidField,
				"cannot move %s from %s to %s", id, o.Status, to).With("id", id)
		}
		return nil
	}
}

// ForClaim is the standard precondition chain for a non-forced claim.
// An in-progress task means another claimer holds it, which is a
// retryable conflict rather than a lifecycle violation.
func ForClaim() ObjectValidator {
	return Chain(
		Exists(),
		IsTask(),
		NotStatus(trelliserr.CodeTaskAlreadyClaimed, types.StatusInProgress),
		HasStatus(trelliserr.CodeInvalidStatusForCompletion, types.StatusOpen),
	)
}

// ForComplete is the precondition chain for completion: in-progress or
// review, or open for a direct-to-done completion.
func ForComplete() ObjectValidator {
	return Chain(
		Exists(),
		IsTask(),
		HasStatus(trelliserr.CodeInvalidStatusForCompletion,
			types.StatusOpen, types.StatusInProgress, types.StatusReview),
	)
}
