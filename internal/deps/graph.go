// Package deps builds the unified prerequisite graph over all tasks,
// hierarchical and standalone, and answers the two questions the claim
// path needs: is this task unblocked, and would this change introduce
// a cycle.
package deps

import (
	"context"
	"sort"
	"strings"

	"github.com/trellisplan/trellis/internal/trelliserr"
	"github.com/trellisplan/trellis/internal/types"
)

// Graph is an identifier-keyed adjacency view of the task set. Nodes
// are canonical task IDs; edges run from a task to its prerequisites.
// Never holds object pointers across requests.
type Graph struct {
	nodes map[string]*types.Object
	adj   map[string][]string
}

// Build indexes a task slice. Later duplicates of an ID are ignored;
// the scanner reports those separately as ambiguity.
func Build(tasks []*types.Object) *Graph {
	g := &Graph{
		nodes: make(map[string]*types.Object, len(tasks)),
		adj:   make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		id := types.CanonicalTaskID(t.ID)
		if _, ok := g.nodes[id]; ok {
			continue
		}
		g.nodes[id] = t
		prereqs := make([]string, len(t.Prerequisites))
		for i, p := range t.Prerequisites {
			prereqs[i] = types.CanonicalTaskID(p)
		}
		g.adj[id] = prereqs
	}
	return g
}

// Replace swaps in a modified object so a proposed change can be
// checked before it is written.
func (g *Graph) Replace(o *types.Object) {
	id := types.CanonicalTaskID(o.ID)
	g.nodes[id] = o
	prereqs := make([]string, len(o.Prerequisites))
	for i, p := range o.Prerequisites {
		prereqs[i] = types.CanonicalTaskID(p)
	}
	g.adj[id] = prereqs
}

// Get returns the task for a canonical or alias ID, or nil.
func (g *Graph) Get(id string) *types.Object {
	return g.nodes[types.CanonicalTaskID(id)]
}

// Len reports the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// DFS coloring.
type color uint8

const (
	white color = iota // unvisited
	gray               // on the current stack
	black              // finished
)

// CheckAcyclicFrom runs cycle detection over the subgraph reachable
// from start. An edge to a gray node is a cycle; the returned error
// names one witnessing cycle. Dangling prerequisite references are
// not cycles and are ignored here.
func (g *Graph) CheckAcyclicFrom(ctx context.Context, start string) error {
	colors := make(map[string]color, len(g.nodes))
	var stack []string

	var visit func(id string) *trelliserr.Error
	visit = func(id string) *trelliserr.Error {
		if err := ctx.Err(); err != nil {
			return trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cycle detection cancelled")
		}
		colors[id] = gray
		stack = append(stack, id)
		for _, prereq := range g.adj[id] {
			if _, exists := g.nodes[prereq]; !exists {
				continue
			}
			switch colors[prereq] {
			case gray:
				return cycleError(append(stack, prereq))
			case white:
				if err := visit(prereq); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	start = types.CanonicalTaskID(start)
	if _, ok := g.nodes[start]; !ok {
		return nil
	}
	if err := visit(start); err != nil {
		return err
	}
	return nil
}

// CheckAcyclic runs full-graph cycle detection, visiting every
// component. Used by bulk validation.
func (g *Graph) CheckAcyclic(ctx context.Context) error {
	colors := make(map[string]color, len(g.nodes))
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic witness

	var stack []string
	var visit func(id string) *trelliserr.Error
	visit = func(id string) *trelliserr.Error {
		if err := ctx.Err(); err != nil {
			return trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cycle detection cancelled")
		}
		colors[id] = gray
		stack = append(stack, id)
		for _, prereq := range g.adj[id] {
			if _, exists := g.nodes[prereq]; !exists {
				continue
			}
			switch colors[prereq] {
			case gray:
				return cycleError(append(stack, prereq))
			case white:
				if err := visit(prereq); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range ids {
		if colors[id] != white {
			continue
		}
		stack = stack[:0]
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// cycleError renders the witnessing cycle, trimmed to start at its
// first repeated node.
func cycleError(stack []string) *trelliserr.Error {
	last := stack[len(stack)-1]
	start := 0
	for i, id := range stack[:len(stack)-1] {
		if id == last {
			start = i
			break
		}
	}
	witness := strings.Join(stack[start:], " -> ")
	return trelliserr.New(trelliserr.CodeCycleDetected,
		"prerequisites form a cycle: %s", witness).With("cycle", witness)
}

// CheckUnblocked reports whether every prerequisite of the task is
// done. A prerequisite that resolves to no known task in either system
// fails with CrossSystemPrerequisiteInvalid; open prerequisites fail
// with PrerequisitesNotComplete listing the blockers.
func (g *Graph) CheckUnblocked(o *types.Object) error {
	var open, missing []string
	for _, raw := range o.Prerequisites {
		prereq := types.CanonicalTaskID(raw)
		node, ok := g.nodes[prereq]
		if !ok {
			missing = append(missing, raw)
			continue
		}
		if node.Status != types.StatusDone {
			open = append(open, raw)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return trelliserr.New(trelliserr.CodeCrossSystemPrerequisiteInvalid,
			"%s %s references prerequisites that do not exist in either task system: %s",
			o.SystemLabel(), o.ID, strings.Join(missing, ", ")).
			With("prerequisites", strings.Join(missing, ","))
	}
	if len(open) > 0 {
		sort.Strings(open)
		return trelliserr.New(trelliserr.CodePrerequisitesNotComplete,
			"%s %s is blocked by incomplete prerequisites: %s",
			o.SystemLabel(), o.ID, strings.Join(open, ", ")).
			With("prerequisites", strings.Join(open, ","))
	}
	return nil
}

// Unblocked is the boolean form of CheckUnblocked.
func (g *Graph) Unblocked(o *types.Object) bool {
	return g.CheckUnblocked(o) == nil
}
