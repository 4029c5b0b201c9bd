// Package workflow holds the authoring-level data model: instructions,
// tasks, workflows, and the result sum type threaded through the scheduler's
// LinkMap.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/wasmrun/internal/cidhash"
)

// Ref points at another instruction's output by CID, used as an input value
// when a task depends on a sibling task in the same workflow.
type Ref struct {
	CID cidhash.CID `json:"cid"`
}

// Input is either a literal JSON value or a Ref to another instruction's
// output. Exactly one of Literal or Ref is set.
type Input struct {
	Literal json.RawMessage `json:"literal,omitempty"`
	Ref     *Ref            `json:"ref,omitempty"`
}

// Instruction is an immutable description of one unit of work: a function
// reference plus ordered inputs. Its CID is the primary key into the
// Receipt Store.
type Instruction struct {
	Function string  `json:"function"`
	Inputs   []Input `json:"inputs"`
}

// CID computes the instruction's content identifier by hashing its canonical
// JSON encoding.
func (i Instruction) CID() (cidhash.CID, error) {
	return cidhash.Of(i)
}

// Task is an Instruction plus resource configuration and an opaque proof
// blob. Tasks are the authoring-level unit inside a Workflow.
type Task struct {
	Instruction Instruction     `json:"instruction"`
	Resources   []string        `json:"resources,omitempty"` // resource URIs this task needs
	Proof       json.RawMessage `json:"proof,omitempty"`
}

// Workflow is an ordered sequence of tasks. Invariants enforced by
// internal/graph.Build rather than here: every task's inputs are either
// literal or reference another task in the same workflow by CID, and the
// induced dependency graph is acyclic.
type Workflow struct {
	Tasks []Task `json:"tasks"`
}

// Result is the sum type Ok(value) | Err(value) threaded through the
// scheduler's LinkMap. Exactly one of Ok or Err is non-nil.
type Result struct {
	Ok  json.RawMessage `json:"ok,omitempty"`
	Err json.RawMessage `json:"err,omitempty"`
}

// IsOk reports whether this result represents success.
func (r Result) IsOk() bool {
	return r.Ok != nil
}

// OkResult constructs a successful Result from any JSON-marshalable value.
func OkResult(v any) (Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("marshal ok result: %w", err)
	}
	return Result{Ok: b}, nil
}

// ErrResult constructs a failed Result from any JSON-marshalable value.
func ErrResult(v any) (Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("marshal err result: %w", err)
	}
	return Result{Err: b}, nil
}
