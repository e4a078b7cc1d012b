// Package scanner discovers planning objects on disk. Scans are lazy,
// unsorted and per-file consistent: a malformed file is reported to the
// optional error sink and skipped, never failing the whole scan.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/schema"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

// VisitFunc receives each discovered object. Returning an error stops
// the scan and propagates.
type VisitFunc func(*types.Object) error

// ErrorSink collects per-file scan problems for callers that validate
// while scanning. A nil sink drops them.
type ErrorSink interface {
	AddFileError(path string, err error)
}

// scopePattern validates scope IDs at the boundary.
var scopePattern = regexp.MustCompile(`^[PEF]-[A-Za-z0-9_-]+$`)

// Scanner walks a planning tree. The zero value is usable; Errors
// receives skipped-file diagnostics when set.
type Scanner struct {
	Errors ErrorSink
}

// ScanAll yields every project, epic, feature and task under root, in
// both the hierarchy and the standalone directories.
func (s *Scanner) ScanAll(ctx context.Context, root string, visit VisitFunc) error {
	planning := paths.PlanningDir(root)
	if err := s.scanHierarchy(ctx, planning, true, visit); err != nil {
		return err
	}
	return s.scanStandalone(ctx, planning, visit)
}

// ScanTasks yields tasks only.
func (s *Scanner) ScanTasks(ctx context.Context, root string, visit VisitFunc) error {
	planning := paths.PlanningDir(root)
	if err := s.scanHierarchy(ctx, planning, false, visit); err != nil {
		return err
	}
	return s.scanStandalone(ctx, planning, visit)
}

// FilterByScope yields the tasks a scope covers: a project scope takes
// its whole hierarchy plus standalone tasks, an epic scope its
// features' tasks, a feature scope only its own. Malformed scopes fail
// with InvalidScope; a well-formed scope that resolves to nothing fails
// with ObjectNotFound.
func (s *Scanner) FilterByScope(ctx context.Context, root, scope string, visit VisitFunc) error {
	if !scopePattern.MatchString(scope) {
		return trelliserr.New(trelliserr.CodeInvalidScope,
			"scope must look like P-<id>, E-<id> or F-<id>").With("scope", scope)
	}
	kind, _ := types.KindForID(scope)
	markerPath, err := paths.IDToPath(kind, scope, root)
	if err != nil {
		return err
	}
	scopeDir := filepath.Dir(markerPath)

	switch kind {
	case types.KindProject:
		if err := s.walkTaskDirsUnder(ctx, scopeDir, visit); err != nil {
			return err
		}
		return s.scanStandalone(ctx, paths.PlanningDir(root), visit)
	case types.KindEpic:
		return s.walkTaskDirsUnder(ctx, scopeDir, visit)
	case types.KindFeature:
		return s.scanTaskDirs(ctx, scopeDir, visit)
	}
	return trelliserr.New(trelliserr.CodeInvalidScope, "scope kind %s cannot filter tasks", kind)
}

// scanHierarchy walks projects/epics/features, emitting containers when
// includeContainers is set and always descending into task dirs.
func (s *Scanner) scanHierarchy(ctx context.Context, planning string, includeContainers bool, visit VisitFunc) error {
	for _, projDir := range subDirs(filepath.Join(planning, types.KindProject.DirName())) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if includeContainers {
			if err := s.visitMarker(projDir, types.KindProject, visit); err != nil {
				return err
			}
		}
		for _, epicDir := range subDirs(filepath.Join(projDir, types.KindEpic.DirName())) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if includeContainers {
				if err := s.visitMarker(epicDir, types.KindEpic, visit); err != nil {
					return err
				}
			}
			for _, featDir := range subDirs(filepath.Join(epicDir, types.KindFeature.DirName())) {
				if includeContainers {
					if err := s.visitMarker(featDir, types.KindFeature, visit); err != nil {
						return err
					}
				}
				if err := s.scanTaskDirs(ctx, featDir, visit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// walkTaskDirsUnder emits every task beneath dir, at any feature depth.
// A feature's open and done directories are siblings, so the base is
// deduplicated to scan each pair once.
func (s *Scanner) walkTaskDirsUnder(ctx context.Context, dir string, visit VisitFunc) error {
	seen := make(map[string]bool)
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			s.report(path, err)
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() && (d.Name() == paths.TasksOpenDir || d.Name() == paths.TasksDoneDir) {
			base := filepath.Dir(path)
			if !seen[base] {
				seen[base] = true
				if serr := s.scanTaskDirs(ctx, base, visit); serr != nil {
					return serr
				}
			}
			return filepath.SkipDir
		}
		return nil
	})
}

// scanStandalone emits the tasks in planning/tasks-open and
// planning/tasks-done.
func (s *Scanner) scanStandalone(ctx context.Context, planning string, visit VisitFunc) error {
	return s.scanTaskDirs(ctx, planning, visit)
}

// scanTaskDirs emits tasks from base/tasks-open and base/tasks-done.
func (s *Scanner) scanTaskDirs(ctx context.Context, base string, visit VisitFunc) error {
	for _, sub := range []string{paths.TasksOpenDir, paths.TasksDoneDir} {
		dir := filepath.Join(base, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.IsDir() {
				continue
			}
			if _, _, _, ok := paths.ParseTaskFileName(e.Name()); !ok {
				continue
			}
			path := filepath.Join(dir, e.Name())
			obj, err := schema.Load(path)
			if err != nil {
				s.report(path, err)
				continue
			}
			if err := visit(obj); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) visitMarker(dir string, kind types.Kind, visit VisitFunc) error {
	path := filepath.Join(dir, kind.FileName())
	obj, err := schema.Load(path)
	if err != nil {
		s.report(path, err)
		return nil
	}
	return visit(obj)
}

func (s *Scanner) report(path string, err error) {
	if s.Errors != nil {
		s.Errors.AddFileError(path, err)
	}
}

// CollectTasks gathers the scope's tasks into a slice. An empty scope
// means the whole root. The order is whatever the scan produced; the
// caller sorts.
func (s *Scanner) CollectTasks(ctx context.Context, root, scope string) ([]*types.Object, error) {
	var tasks []*types.Object
	visit := func(o *types.Object) error {
		if o.Kind == types.KindTask {
			tasks = append(tasks, o)
		}
		return nil
	}
	var err error
	if scope == "" {
		err = s.ScanTasks(ctx, root, visit)
	} else {
		err = s.FilterByScope(ctx, root, scope, visit)
	}
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func subDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	return dirs
}
