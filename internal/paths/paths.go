// Package paths maps Trellis IDs to filesystem locations and back. It
// covers both the nested project hierarchy and the standalone task
// directories, and enforces that every resolved path stays inside the
// resolution root.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

const (
	// PlanningDirName is the optional planning segment under a project
	// root.
	PlanningDirName = "planning"

	// TasksOpenDir and TasksDoneDir hold task files at both the feature
	// level and the standalone level.
	TasksOpenDir = "tasks-open"
	TasksDoneDir = "tasks-done"
)

// doneNamePattern matches completed task filenames:
// 20250304_120000-T-slug.md
var doneNamePattern = regexp.MustCompile(`^(\d{8}_\d{6})-(T-[a-z0-9][a-z0-9-]*)\.md$`)

// openNamePattern matches open task filenames: T-slug.md
var openNamePattern = regexp.MustCompile(`^(T-[a-z0-9][a-z0-9-]*)\.md$`)

// PlanningDir resolves the planning directory for a root. If the root
// already contains a projects/ or tasks-open/ child it is itself the
// planning directory (CLI callers pass it directly); otherwise the
// planning/ subdirectory is used.
func PlanningDir(root string) string {
	for _, marker := range []string{types.KindProject.DirName(), TasksOpenDir, TasksDoneDir} {
		if info, err := os.Stat(filepath.Join(root, marker)); err == nil && info.IsDir() {
			return root
		}
	}
	return filepath.Join(root, PlanningDirName)
}

// EnsurePlanningDir is the MCP-side variant: it creates the planning/
// subdirectory under root when the root is not already a planning
// directory. CLI invocations must not call this.
func EnsurePlanningDir(root string) (string, error) {
	dir := PlanningDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot create planning directory")
	}
	return dir, nil
}

// WithinRoot verifies that path does not escape root. Defense in depth:
// strict ID validation already excludes separator and traversal
// characters, so a failure here indicates corrupted input.
func WithinRoot(root, path string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return trelliserr.New(trelliserr.CodeSecurityViolation,
			"resolved location escapes the project root")
	}
	return nil
}

// checkID validates the ID shape for the kind before any filesystem
// access.
func checkID(kind types.Kind, id string) error {
	if !types.ValidID(kind, id) {
		return trelliserr.New(trelliserr.CodeInvalidIDFormat,
			"malformed %s id: expected %s<slug> with lowercase letters, digits and hyphens", kind, kind.Prefix()).
			With("id", id)
	}
	return nil
}

// TaskFileName returns the open-task filename for a task ID.
func TaskFileName(id string) string {
	return id + ".md"
}

// DoneFileName returns the completed-task filename: the compact UTC
// completion stamp, a hyphen, then the task ID.
func DoneFileName(id string, completed time.Time) string {
	return completed.UTC().Format(types.DoneStampLayout) + "-" + id + ".md"
}

// ParseTaskFileName recognizes both open and done task filenames.
// Returns the task ID, whether the file is in done form, and the raw
// completion stamp for done files.
func ParseTaskFileName(name string) (id string, done bool, stamp string, ok bool) {
	if m := openNamePattern.FindStringSubmatch(name); m != nil {
		return m[1], false, "", true
	}
	if m := doneNamePattern.FindStringSubmatch(name); m != nil {
		return m[2], true, m[1], true
	}
	return "", false, "", false
}

// ProjectDir returns the directory for a project ID.
func ProjectDir(planning, id string) string {
	return filepath.Join(planning, types.KindProject.DirName(), id)
}

// IDToPath locates an existing object's file. Tasks are searched under
// the hierarchy and the standalone directories; finding the same ID in
// more than one place is reported as AmbiguousObject.
func IDToPath(kind types.Kind, id, root string) (string, error) {
	if err := checkID(kind, id); err != nil {
		return "", err
	}
	planning := PlanningDir(root)

	var matches []string
	switch kind {
	case types.KindProject:
		p := filepath.Join(ProjectDir(planning, id), types.KindProject.FileName())
		if fileExists(p) {
			matches = append(matches, p)
		}
	case types.KindEpic:
		matches = findNestedDirs(planning, id, 1)
	case types.KindFeature:
		matches = findNestedDirs(planning, id, 2)
	case types.KindTask:
		matches = findTaskFiles(planning, id)
	default:
		return "", trelliserr.New(trelliserr.CodeInvalidField, "unrecognized kind %q", kind)
	}

	switch len(matches) {
	case 0:
		return "", trelliserr.New(trelliserr.CodeObjectNotFound,
			"no %s with id %s under the project root", kind, id).With("id", id)
	case 1:
		if err := WithinRoot(root, matches[0]); err != nil {
			return "", err
		}
		return matches[0], nil
	default:
		return "", trelliserr.New(trelliserr.CodeAmbiguousObject,
			"id %s matches %d files in different subtrees; remove the duplicate before retrying", id, len(matches)).
			With("id", id)
	}
}

// findNestedDirs walks the hierarchy looking for an epic (depth 1) or
// feature (depth 2) directory named by ID, returning marker-file paths.
func findNestedDirs(planning, id string, depth int) []string {
	var matches []string
	for _, projDir := range subDirs(filepath.Join(planning, types.KindProject.DirName())) {
		epicsDir := filepath.Join(projDir, types.KindEpic.DirName())
		for _, epicDir := range subDirs(epicsDir) {
			if depth == 1 {
				if filepath.Base(epicDir) == id {
					p := filepath.Join(epicDir, types.KindEpic.FileName())
					if fileExists(p) {
						matches = append(matches, p)
					}
				}
				continue
			}
			for _, featDir := range subDirs(filepath.Join(epicDir, types.KindFeature.DirName())) {
				if filepath.Base(featDir) == id {
					p := filepath.Join(featDir, types.KindFeature.FileName())
					if fileExists(p) {
						matches = append(matches, p)
					}
				}
			}
		}
	}
	return matches
}

// findTaskFiles searches every tasks-open/ and tasks-done/ directory,
// hierarchical and standalone, for files carrying the task ID.
func findTaskFiles(planning, id string) []string {
	var matches []string
	scan := func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			fileID, _, _, ok := ParseTaskFileName(e.Name())
			if ok && fileID == id {
				matches = append(matches, filepath.Join(dir, e.Name()))
			}
		}
	}

	// Standalone directories first.
	scan(filepath.Join(planning, TasksOpenDir))
	scan(filepath.Join(planning, TasksDoneDir))

	for _, featDir := range allFeatureDirs(planning) {
		scan(filepath.Join(featDir, TasksOpenDir))
		scan(filepath.Join(featDir, TasksDoneDir))
	}
	return matches
}

// allFeatureDirs enumerates every feature directory in the hierarchy.
func allFeatureDirs(planning string) []string {
	var dirs []string
	for _, projDir := range subDirs(filepath.Join(planning, types.KindProject.DirName())) {
		for _, epicDir := range subDirs(filepath.Join(projDir, types.KindEpic.DirName())) {
			dirs = append(dirs, subDirs(filepath.Join(epicDir, types.KindFeature.DirName()))...)
		}
	}
	return dirs
}

// ResolveNew constructs the destination for a new object, creating
// parent directories on demand. Tasks land in tasks-open or tasks-done
// according to status.
func ResolveNew(kind types.Kind, id, parentID string, status types.Status, root string) (string, error) {
	if err := checkID(kind, id); err != nil {
		return "", err
	}
	planning := PlanningDir(root)

	var dir, name string
	switch kind {
	case types.KindProject:
		dir = ProjectDir(planning, id)
		name = kind.FileName()
	case types.KindEpic, types.KindFeature:
		if parentID == "" {
			return "", trelliserr.New(trelliserr.CodeMissingRequiredField,
				"a %s requires a parent %s", kind, kind.ParentKind()).With("field", "parent")
		}
		parentPath, err := IDToPath(kind.ParentKind(), parentID, root)
		if err != nil {
			if trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
				return "", trelliserr.New(trelliserr.CodeParentNotFound,
					"parent %s does not exist; create it first", parentID).With("parent", parentID)
			}
			return "", err
		}
		dir = filepath.Join(filepath.Dir(parentPath), kind.DirName(), id)
		name = kind.FileName()
	case types.KindTask:
		base := planning
		if parentID != "" {
			parentPath, err := IDToPath(types.KindFeature, parentID, root)
			if err != nil {
				if trelliserr.HasCode(err, trelliserr.CodeObjectNotFound) {
					return "", trelliserr.New(trelliserr.CodeParentNotFound,
						"parent feature %s does not exist; create it first", parentID).With("parent", parentID)
				}
				return "", err
			}
			base = filepath.Dir(parentPath)
		}
		if status == types.StatusDone {
			dir = filepath.Join(base, TasksDoneDir)
			name = DoneFileName(id, time.Now())
		} else {
			dir = filepath.Join(base, TasksOpenDir)
			name = TaskFileName(id)
		}
	default:
		return "", trelliserr.New(trelliserr.CodeInvalidField, "unrecognized kind %q", kind)
	}

	path := filepath.Join(dir, name)
	if err := WithinRoot(root, path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot create %s directory", kind)
	}
	return path, nil
}

// PathToID inverts the mapping: given a file path, report the object
// kind and ID. Recognizes the three marker filenames and both task
// filename shapes.
func PathToID(path string) (types.Kind, string, error) {
	name := filepath.Base(path)
	dir := filepath.Base(filepath.Dir(path))

	switch name {
	case types.KindProject.FileName():
		return types.KindProject, dir, nil
	case types.KindEpic.FileName():
		return types.KindEpic, dir, nil
	case types.KindFeature.FileName():
		return types.KindFeature, dir, nil
	}
	if id, _, _, ok := ParseTaskFileName(name); ok {
		if dir != TasksOpenDir && dir != TasksDoneDir {
			return "", "", fmt.Errorf("task file %s outside tasks-open/tasks-done", name)
		}
		return types.KindTask, id, nil
	}
	return "", "", fmt.Errorf("unrecognized planning file name %s", name)
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

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
