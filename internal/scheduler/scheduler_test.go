package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/receipt"
	"github.com/lyzr/wasmrun/internal/resource"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// fakeStore is an in-memory receipt.Store keyed by instruction CID, used to
// drive the S1/S2/S3 scenarios without a database.
type fakeStore struct {
	receipts map[cidhash.CID]receipt.Receipt
}

func newFakeStore(rs ...receipt.Receipt) *fakeStore {
	s := &fakeStore{receipts: make(map[cidhash.CID]receipt.Receipt)}
	for _, r := range rs {
		s.receipts[r.Instruction] = r
	}
	return s
}

func (s *fakeStore) FindInstructions(ctx context.Context, pointers []cidhash.CID) ([]receipt.Receipt, error) {
	var found []receipt.Receipt
	for _, p := range pointers {
		if r, ok := s.receipts[p]; ok {
			found = append(found, r)
		}
	}
	return found, nil
}

func (s *fakeStore) StoreReceipt(ctx context.Context, r receipt.Receipt) error {
	s.receipts[r.Instruction] = r
	return nil
}

func (s *fakeStore) StoreReceipts(ctx context.Context, rs []receipt.Receipt) error {
	for _, r := range rs {
		s.receipts[r.Instruction] = r
	}
	return nil
}

func noopFetcher() resource.Fetcher {
	return resource.FuncFetcher(func(ctx context.Context, resources []resource.Resource) (map[resource.Resource][]byte, error) {
		return map[resource.Resource][]byte{}, nil
	})
}

// twoDependentTasks builds the fixture used by S1/S2/S3: task2's input is a
// Ref to task1's CID.
func twoDependentTasks(t *testing.T) (task1, task2 workflow.Task, cid1, cid2 cidhash.CID) {
	t.Helper()
	lit, _ := json.Marshal(2)
	task1 = workflow.Task{Instruction: workflow.Instruction{
		Function: "double",
		Inputs:   []workflow.Input{{Literal: lit}},
	}}
	var err error
	cid1, err = task1.Instruction.CID()
	require.NoError(t, err)

	task2 = workflow.Task{Instruction: workflow.Instruction{
		Function: "double",
		Inputs:   []workflow.Input{{Ref: &workflow.Ref{CID: cid1}}},
	}}
	cid2, err = task2.Instruction.CID()
	require.NoError(t, err)

	return task1, task2, cid1, cid2
}

func okResult(t *testing.T, v int) workflow.Result {
	t.Helper()
	r, err := workflow.OkResult(v)
	require.NoError(t, err)
	return r
}

// S1: no receipts.
func TestInitNoReceipts(t *testing.T) {
	task1, task2, _, _ := twoDependentTasks(t)
	store := newFakeStore()

	plan, err := Init(context.Background(), workflow.Workflow{Tasks: []workflow.Task{task1, task2}}, store, noopFetcher())
	require.NoError(t, err)

	assert.Nil(t, plan.Ran)
	assert.Equal(t, 2, plan.Run.Len())
	assert.Nil(t, plan.ResumeStep)
	assert.Empty(t, plan.LinkMap)
}

// S2: first batch receipted.
func TestInitFirstBatchReceipted(t *testing.T) {
	task1, task2, cid1, _ := twoDependentTasks(t)
	store := newFakeStore(receipt.Receipt{Instruction: cid1, Result: okResult(t, 4)})

	plan, err := Init(context.Background(), workflow.Workflow{Tasks: []workflow.Task{task1, task2}}, store, noopFetcher())
	require.NoError(t, err)

	require.NotNil(t, plan.Ran)
	assert.Equal(t, 1, len(*plan.Ran))
	assert.Equal(t, 1, plan.Run.Len())
	require.NotNil(t, plan.ResumeStep)
	assert.Equal(t, 1, *plan.ResumeStep)
	require.Len(t, plan.LinkMap, 1)
	assert.Equal(t, okResult(t, 4), plan.LinkMap[cid1])
}

// S3: all receipted.
func TestInitAllReceipted(t *testing.T) {
	task1, task2, cid1, cid2 := twoDependentTasks(t)
	store := newFakeStore(
		receipt.Receipt{Instruction: cid1, Result: okResult(t, 4)},
		receipt.Receipt{Instruction: cid2, Result: okResult(t, 44)},
	)

	plan, err := Init(context.Background(), workflow.Workflow{Tasks: []workflow.Task{task1, task2}}, store, noopFetcher())
	require.NoError(t, err)

	require.NotNil(t, plan.Ran)
	assert.Equal(t, 2, len(*plan.Ran))
	assert.Equal(t, 0, plan.Run.Len())
	assert.Nil(t, plan.ResumeStep)
	require.Len(t, plan.LinkMap, 1)
	assert.Equal(t, okResult(t, 44), plan.LinkMap[cid2])
	_, present := plan.LinkMap[cid1]
	assert.False(t, present, "cid(task1) must not appear in the linkmap once task2's batch is fully receipted")
}

func TestInitWrapsFetchFailure(t *testing.T) {
	task1, task2, _, _ := twoDependentTasks(t)
	store := newFakeStore()
	failingFetch := resource.FuncFetcher(func(ctx context.Context, resources []resource.Resource) (map[resource.Resource][]byte, error) {
		return nil, assert.AnError
	})

	_, err := Init(context.Background(), workflow.Workflow{Tasks: []workflow.Task{task1, task2}}, store, failingFetch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}
