// Package scheduler consumes a workflow graph, reconciles it with the
// Receipt Store, and emits an ExecutionPlan with resume metadata and a
// LinkMap of already-known results.
//
// Grounded directly on
// original_source/homestar-runtime/src/scheduler.rs (TaskScheduler::init):
// the reverse batch walk, the ControlFlow-style break decision, and the
// split-at-idx/resume_step derivation are ported line for line from Rust's
// std::ops::ControlFlow into an idiomatic Go loop with an explicit early
// return, since Go has no ControlFlow type.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/graph"
	"github.com/lyzr/wasmrun/internal/receipt"
	"github.com/lyzr/wasmrun/internal/resource"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// ErrFetchFailed wraps a resource-fetch error that aborts plan construction.
var ErrFetchFailed = errors.New("resource fetch failed")

// LinkMap maps instruction CID to that instruction's computed result. Only
// contains results from the batch that broke the reverse walk; earlier
// fully-satisfied batches contribute nothing because their results flowed
// forward via the graph at the time they were computed.
type LinkMap map[cidhash.CID]workflow.Result

// OrderedResourceMap preserves fetch order, mirroring the original's
// IndexMap<Resource, Vec<u8>>.
type OrderedResourceMap struct {
	order []resource.Resource
	data  map[resource.Resource][]byte
}

// newOrderedResourceMap builds an OrderedResourceMap from a fetch result,
// fixing iteration order by the resource list passed to fetch.
func newOrderedResourceMap(order []resource.Resource, data map[resource.Resource][]byte) OrderedResourceMap {
	return OrderedResourceMap{order: order, data: data}
}

// Get returns the bytes for a resource and whether it was present.
func (m OrderedResourceMap) Get(r resource.Resource) ([]byte, bool) {
	b, ok := m.data[r]
	return b, ok
}

// Len returns the number of resources.
func (m OrderedResourceMap) Len() int {
	return len(m.order)
}

// Plan is the TaskScheduler's output.
type Plan struct {
	// Ran is the prefix of the schedule already satisfied by receipts, or
	// nil if nothing has run yet.
	Ran *graph.Schedule
	// Run is the suffix of the schedule still to execute.
	Run graph.Schedule
	// ResumeStep is the index of the first batch still needing execution,
	// or nil when the workflow either starts from scratch or is already
	// complete.
	ResumeStep *int
	LinkMap    LinkMap
	Resources  OrderedResourceMap
}

// Init builds the ExecutionPlan for workflow w: fetches its resources,
// walks the schedule from last batch to first looking for the deepest
// cache boundary, and returns the resulting plan.
func Init(ctx context.Context, w workflow.Workflow, store receipt.Store, fetch resource.Fetcher) (*Plan, error) {
	g, err := graph.Build(w)
	if err != nil {
		return nil, err
	}

	resources := make([]resource.Resource, len(g.Resources))
	for i, uri := range g.Resources {
		resources[i] = resource.Resource{URI: uri}
	}

	fetched, err := fetch.Fetch(ctx, resources)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resourceMap := newOrderedResourceMap(resources, fetched)

	schedule := g.Schedule
	idx, linkmap, broke := reverseWalk(ctx, schedule, store)
	if !broke {
		return &Plan{
			Ran:        nil,
			Run:        schedule,
			ResumeStep: nil,
			LinkMap:    LinkMap{},
			Resources:  resourceMap,
		}, nil
	}

	scheduleLength := len(schedule)
	ran := schedule[:idx]
	run := schedule[idx:]

	var resumeStep *int
	if idx > 0 && idx < scheduleLength {
		step := idx
		resumeStep = &step
	}

	return &Plan{
		Ran:        &ran,
		Run:        run,
		ResumeStep: resumeStep,
		LinkMap:    linkmap,
		Resources:  resourceMap,
	}, nil
}

// reverseWalk walks the schedule from the last batch to the first, looking
// for the deepest fully- or partially-cached batch. A late cached batch
// implies all earlier batches are cached, since their results must have
// existed when the late batch ran - so the walk short-circuits at the
// deepest cache boundary in O(batches) Receipt Store queries in the best
// case. Do not "optimize" this into a forward walk: once batch i is known
// fully cached, no query is issued for batch i-1.
func reverseWalk(ctx context.Context, schedule graph.Schedule, store receipt.Store) (idx int, linkmap LinkMap, broke bool) {
	for i := len(schedule) - 1; i >= 0; i-- {
		batch := schedule[i]

		pointers := make([]cidhash.CID, 0, len(batch))
		for _, name := range batch {
			// A CID parse failure is a cache miss, never a fatal error -
			// skip this batch and continue the reverse walk.
			cid, ok := cidhash.Parse(name.String())
			if !ok {
				pointers = nil
				break
			}
			pointers = append(pointers, cid)
		}
		if pointers == nil {
			continue
		}

		found, err := store.FindInstructions(ctx, pointers)
		if err != nil {
			// Receipt Store errors are treated as "none found" for this
			// batch - they do not abort Init.
			continue
		}

		folded := make(LinkMap, len(found))
		for _, r := range found {
			folded[r.Instruction] = r.Result
		}

		switch {
		case len(found) == len(batch):
			return i + 1, folded, true
		case len(found) > 0 && len(found) < len(batch):
			return i, folded, true
		default:
			continue
		}
	}

	return 0, nil, false
}
