package graph

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/workflow"
)

func literalTask(function string, value int) workflow.Task {
	lit, _ := json.Marshal(value)
	return workflow.Task{Instruction: workflow.Instruction{
		Function: function,
		Inputs:   []workflow.Input{{Literal: lit}},
	}}
}

func refTask(function string, ref cidhash.CID) workflow.Task {
	return workflow.Task{Instruction: workflow.Instruction{
		Function: function,
		Inputs:   []workflow.Input{{Ref: &workflow.Ref{CID: ref}}},
	}}
}

func twoDependentTasks(t *testing.T) (task1, task2 workflow.Task) {
	t.Helper()
	task1 = literalTask("double", 2)
	cid1, err := task1.Instruction.CID()
	require.NoError(t, err)
	task2 = refTask("double", cid1)
	return task1, task2
}

func TestBuildRejectsEmptyWorkflow(t *testing.T) {
	_, err := Build(workflow.Workflow{})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestBuildLayersDependentTasks(t *testing.T) {
	task1, task2 := twoDependentTasks(t)
	g, err := Build(workflow.Workflow{Tasks: []workflow.Task{task1, task2}})
	require.NoError(t, err)

	require.Equal(t, 2, g.Schedule.Len())
	assert.Len(t, g.Schedule[0], 1)
	assert.Len(t, g.Schedule[1], 1)

	cid1, _ := task1.Instruction.CID()
	cid2, _ := task2.Instruction.CID()
	assert.Equal(t, cid1, g.Schedule[0][0])
	assert.Equal(t, cid2, g.Schedule[1][0])
}

func TestBuildCollapsesIdenticalInstructions(t *testing.T) {
	task := literalTask("noop", 1)
	g, err := Build(workflow.Workflow{Tasks: []workflow.Task{task, task}})
	require.NoError(t, err)

	require.Equal(t, 1, g.Schedule.Len())
	assert.Len(t, g.Schedule[0], 1)
}

func TestBuildRejectsDanglingReference(t *testing.T) {
	ghost, err := cidhash.Of("nonexistent instruction")
	require.NoError(t, err)

	task := refTask("double", ghost)
	_, err = Build(workflow.Workflow{Tasks: []workflow.Task{task}})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestCheckAcyclicRejectsCycle(t *testing.T) {
	// A genuine A->B->A cycle can't be produced through Build's public API:
	// since a CID is a pure hash of an instruction's content, vertex A's
	// dependency on cid(B) and vertex B's dependency on cid(A) would each
	// have to be baked into content whose own hash is the other's
	// dependency - a fixed point no real workflow payload can satisfy.
	// checkAcyclic is exercised directly here with hand-built vertices to
	// cover the defensive check regardless.
	a := cidhash.CID("sha256:" + strings.Repeat("a", 64))
	b := cidhash.CID("sha256:" + strings.Repeat("b", 64))

	vertices := map[cidhash.CID]*vertex{
		a: {cid: a, deps: map[cidhash.CID]struct{}{b: {}}},
		b: {cid: b, deps: map[cidhash.CID]struct{}{a: {}}},
	}
	order := []cidhash.CID{a, b}

	err := checkAcyclic(vertices, order)
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}
