// Package schema converts between on-disk planning files and the
// in-memory object model. Files are YAML front-matter between two ---
// lines followed by a free-form markdown body. Field order on write is
// canonical; the body round-trips byte-identical apart from authorized
// Log appends.
package schema

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trellisplan/trellis/internal/fsutil"
	"github.com/trellisplan/trellis/internal/paths"
	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

const frontMatterDelim = "---\n"

// frontMatter is the strict wire form of the YAML block. Strings stand
// in for enums and timestamps so coercion errors can carry field names.
type frontMatter struct {
	Kind          string   `yaml:"kind"`
	ID            string   `yaml:"id"`
	Parent        *string  `yaml:"parent"`
	Status        string   `yaml:"status"`
	Title         string   `yaml:"title"`
	Priority      string   `yaml:"priority"`
	Worktree      *string  `yaml:"worktree"`
	Created       string   `yaml:"created"`
	Updated       string   `yaml:"updated"`
	SchemaVersion string   `yaml:"schema_version"`
	Prerequisites []string `yaml:"prerequisites"`
}

// Parse decodes a planning file into an Object. Unknown front-matter
// fields are rejected; enum and timestamp coercion failures carry the
// offending field name. The body is preserved verbatim.
func Parse(data []byte) (*types.Object, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"file does not start with a --- front-matter block")
	}
	rest := text[len(frontMatterDelim):]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	var yamlPart, body string
	switch {
	case strings.HasPrefix(rest, frontMatterDelim):
		// Empty front-matter block.
		yamlPart, body = "", rest[len(frontMatterDelim):]
	case end >= 0:
		yamlPart = rest[:end+1]
		body = rest[end+1+len(frontMatterDelim):]
	default:
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"front-matter block is not terminated by ---")
	}

	var fm frontMatter
	dec := yaml.NewDecoder(strings.NewReader(yamlPart))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil {
		return nil, trelliserr.Wrap(trelliserr.CodeInvalidField, err,
			"malformed front-matter: %s", trelliserr.Sanitize(err.Error()))
	}

	obj := &types.Object{
		Kind:          types.Kind(fm.Kind),
		ID:            fm.ID,
		Status:        types.Status(fm.Status),
		Title:         fm.Title,
		SchemaVersion: fm.SchemaVersion,
		Body:          body,
	}
	if fm.Parent != nil {
		obj.Parent = *fm.Parent
	}
	if fm.Worktree != nil {
		obj.Worktree = *fm.Worktree
	}

	if !obj.Kind.Valid() {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"kind must be one of project, epic, feature, task").With("field", "kind")
	}
	if fm.ID == "" {
		return nil, trelliserr.New(trelliserr.CodeMissingRequiredField, "id is required").With("field", "id")
	}
	if !types.ValidID(obj.Kind, fm.ID) {
		return nil, trelliserr.New(trelliserr.CodeInvalidIDFormat,
			"id %s is not a valid %s identifier", fm.ID, obj.Kind).With("field", "id")
	}
	if fm.Title == "" {
		return nil, trelliserr.New(trelliserr.CodeMissingRequiredField, "title is required").With("field", "title")
	}
	if !types.StatusAllowed(obj.Kind, obj.Status) {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"status %q is not valid for a %s", fm.Status, obj.Kind).With("field", "status")
	}
	prio, ok := types.ParsePriority(fm.Priority)
	if !ok {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"priority must be high, normal or low").With("field", "priority")
	}
	obj.Priority = prio
	if !types.KnownSchemaVersion(fm.SchemaVersion) {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"unrecognized schema_version %q", fm.SchemaVersion).With("field", "schema_version")
	}

	var err error
	if obj.Created, err = parseTimestamp(fm.Created, "created"); err != nil {
		return nil, err
	}
	if obj.Updated, err = parseTimestamp(fm.Updated, "updated"); err != nil {
		return nil, err
	}

	for i, prereq := range fm.Prerequisites {
		canonical := types.CanonicalTaskID(strings.TrimSpace(prereq))
		if !types.ValidID(types.KindTask, canonical) {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"prerequisite %q is not a task identifier", prereq).With("field", "prerequisites")
		}
		if canonical == types.CanonicalTaskID(fm.ID) {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"task cannot list itself as a prerequisite").With("field", "prerequisites")
		}
		fm.Prerequisites[i] = canonical
	}
	obj.Prerequisites = fm.Prerequisites

	if obj.Kind != types.KindTask && len(obj.Prerequisites) > 0 {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"only tasks carry prerequisites").With("field", "prerequisites")
	}
	if obj.Kind == types.KindProject && obj.Parent != "" {
		return nil, trelliserr.New(trelliserr.CodeInvalidField,
			"projects take no parent").With("field", "parent")
	}
	if parentKind := obj.Kind.ParentKind(); parentKind != "" && obj.Parent != "" {
		if !types.ValidID(parentKind, obj.Parent) {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"parent of a %s must be a %s id", obj.Kind, parentKind).With("field", "parent")
		}
	}
	if (obj.Kind == types.KindEpic || obj.Kind == types.KindFeature) && obj.Parent == "" {
		return nil, trelliserr.New(trelliserr.CodeMissingRequiredField,
			"a %s requires a parent %s", obj.Kind, obj.Kind.ParentKind()).With("field", "parent")
	}

	return obj, nil
}

func parseTimestamp(s, field string) (time.Time, error) {
	if s == "" {
		return time.Time{}, trelliserr.New(trelliserr.CodeMissingRequiredField,
			"%s timestamp is required", field).With("field", field)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, trelliserr.New(trelliserr.CodeInvalidField,
			"%s must be an ISO-8601 timestamp with timezone", field).With("field", field)
	}
	return t, nil
}

// Serialize renders the canonical byte form of an object: front-matter
// fields in fixed order, optional fields omitted when empty, then the
// body verbatim. Legacy 1.0 objects are upgraded to the current schema
// version on write.
func Serialize(o *types.Object) ([]byte, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
	}
	str := func(v string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
	}
	quoted := func(v string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: v}
	}

	version := o.SchemaVersion
	if version == "" || version == types.SchemaVersionLegacy {
		version = types.SchemaVersionCurrent
	}
	priority := o.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}

	add("kind", str(string(o.Kind)))
	add("id", str(o.ID))
	if o.Parent != "" {
		add("parent", str(o.Parent))
	}
	add("status", str(string(o.Status)))
	add("title", str(o.Title))
	add("priority", str(string(priority)))
	if o.Worktree != "" {
		add("worktree", str(o.Worktree))
	}
	add("created", str(o.Created.Format(time.RFC3339)))
	add("updated", str(o.Updated.Format(time.RFC3339)))
	add("schema_version", quoted(version))
	if len(o.Prerequisites) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, p := range o.Prerequisites {
			seq.Content = append(seq.Content, str(p))
		}
		add("prerequisites", seq)
	}

	yamlBytes, err := yaml.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("marshaling front-matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim)
	buf.Write(yamlBytes)
	buf.WriteString(frontMatterDelim)
	buf.WriteString(o.Body)
	if o.Body != "" && !strings.HasSuffix(o.Body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Load reads and parses an object file, recording its path and
// checking kind/ID consistency between front-matter and location.
func Load(path string) (*types.Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trelliserr.New(trelliserr.CodeObjectNotFound, "planning file is missing")
		}
		return nil, trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot read planning file")
	}
	obj, err := Parse(data)
	if err != nil {
		return nil, err
	}
	obj.FilePath = path

	fileKind, fileID, idErr := paths.PathToID(path)
	if idErr == nil {
		if fileKind != obj.Kind {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"file location says %s but front-matter says %s", fileKind, obj.Kind)
		}
		if fileKind == types.KindTask && fileID != obj.ID {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"filename id %s disagrees with front-matter id %s", fileID, obj.ID)
		}
		if fileKind != types.KindTask && fileID != obj.ID {
			return nil, trelliserr.New(trelliserr.CodeInvalidField,
				"directory id %s disagrees with front-matter id %s", fileID, obj.ID)
		}
	}
	return obj, nil
}

// Write serializes the object and atomically replaces its file.
func Write(o *types.Object) error {
	if o.FilePath == "" {
		return fmt.Errorf("object %s has no file path", o.ID)
	}
	data, err := Serialize(o)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(o.FilePath, data, 0o644); err != nil {
		return trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot write planning file")
	}
	return nil
}
