// Package graph compiles a workflow value into a layered schedule plus a
// resource manifest, grounded on the teacher's
// cmd/workflow-runner/compiler/ir.go (CompileWorkflowSchema, validate,
// computeTerminalNodes): build a dependency/dependents map, validate before
// use, then walk it - generalized here from node-type dispatch to pure DAG
// layering, since this workflow model has no control-flow node types.
package graph

import (
	"errors"
	"fmt"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// ErrInvalidWorkflow is returned for a cycle, a dangling reference, or an
// empty workflow.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Schedule is an ordered sequence of batches; each batch is a set of
// vertices (named by CID) that may execute in parallel. For every edge
// u -> v in the dependency graph, batch(u) < batch(v).
type Schedule [][]cidhash.CID

// Len returns the number of batches.
func (s Schedule) Len() int {
	return len(s)
}

// Graph is the pair (Schedule, set of Resource) produced by Build.
type Graph struct {
	Schedule  Schedule
	Resources []string // de-duplicated resource URIs, insertion order
}

// vertex holds per-task bookkeeping used only during Build.
type vertex struct {
	cid     cidhash.CID
	deps    map[cidhash.CID]struct{}
	task    workflow.Task
	batched bool
}

// Build partitions the workflow into batches via a layered topological sort:
// batch 0 contains every instruction with no unsatisfied intra-workflow
// dependency; batch k+1 contains every instruction whose dependencies are
// all in batches <= k. Tie-breaking inside a batch is insertion order of the
// workflow's task list, making the schedule a deterministic function of the
// workflow.
func Build(w workflow.Workflow) (Graph, error) {
	if len(w.Tasks) == 0 {
		return Graph{}, fmt.Errorf("%w: empty workflow", ErrInvalidWorkflow)
	}

	order := make([]cidhash.CID, 0, len(w.Tasks))
	vertices := make(map[cidhash.CID]*vertex, len(w.Tasks))
	resources := make([]string, 0)
	seenResource := make(map[string]struct{})

	for _, task := range w.Tasks {
		cid, err := task.Instruction.CID()
		if err != nil {
			return Graph{}, fmt.Errorf("%w: hash instruction: %v", ErrInvalidWorkflow, err)
		}

		for _, uri := range task.Resources {
			if _, ok := seenResource[uri]; !ok {
				seenResource[uri] = struct{}{}
				resources = append(resources, uri)
			}
		}

		if _, exists := vertices[cid]; exists {
			// Identical instructions collapse to the same vertex: content
			// addressing means re-listing the same instruction twice isn't
			// a second unit of work.
			continue
		}

		deps := make(map[cidhash.CID]struct{})
		for _, in := range task.Instruction.Inputs {
			if in.Ref != nil {
				deps[in.Ref.CID] = struct{}{}
			}
		}

		vertices[cid] = &vertex{cid: cid, deps: deps, task: task}
		order = append(order, cid)
	}

	// Dangling reference check: every dependency must resolve to a vertex
	// in this workflow.
	for _, v := range vertices {
		for dep := range v.deps {
			if _, ok := vertices[dep]; !ok {
				return Graph{}, fmt.Errorf("%w: dangling reference to %s", ErrInvalidWorkflow, dep)
			}
		}
	}

	if err := checkAcyclic(vertices, order); err != nil {
		return Graph{}, err
	}

	schedule := layer(vertices, order)

	return Graph{Schedule: schedule, Resources: resources}, nil
}

// checkAcyclic runs a DFS with a coloring scheme (white/gray/black) over the
// dependency edges, reporting a cycle if a gray vertex is revisited.
func checkAcyclic(vertices map[cidhash.CID]*vertex, order []cidhash.CID) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[cidhash.CID]int, len(vertices))

	var visit func(cidhash.CID) error
	visit = func(c cidhash.CID) error {
		switch color[c] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("%w: cycle detected at %s", ErrInvalidWorkflow, c)
		}
		color[c] = gray
		for dep := range vertices[c].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[c] = black
		return nil
	}

	for _, c := range order {
		if err := visit(c); err != nil {
			return err
		}
	}
	return nil
}

// layer performs the batch assignment: repeatedly peel off vertices whose
// dependencies are already assigned to an earlier batch.
func layer(vertices map[cidhash.CID]*vertex, order []cidhash.CID) Schedule {
	var schedule Schedule

	remaining := len(vertices)
	for remaining > 0 {
		var batch []cidhash.CID
		for _, c := range order {
			v := vertices[c]
			if v.batched {
				continue
			}
			if allDepsBatched(v, vertices) {
				batch = append(batch, c)
			}
		}
		for _, c := range batch {
			vertices[c].batched = true
			remaining--
		}
		schedule = append(schedule, batch)
	}

	return schedule
}

// allDepsBatched reports whether every dependency of v has already been
// assigned to an earlier batch.
func allDepsBatched(v *vertex, vertices map[cidhash.CID]*vertex) bool {
	for dep := range v.deps {
		if !vertices[dep].batched {
			return false
		}
	}
	return true
}
