package rpcsurface

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/wasmrun/internal/notifier"
	"github.com/lyzr/wasmrun/internal/runnermailbox"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// noopSink is a dispatcher.Sink that accepts everything and is never closed
// for the lifetime of a test.
type noopSink struct {
	closed chan struct{}
}

func newNoopSink() *noopSink { return &noopSink{closed: make(chan struct{})} }

func (s *noopSink) Send(json.RawMessage) error { return nil }
func (s *noopSink) Closed() <-chan struct{}    { return s.closed }

func simpleWorkflow(t *testing.T) workflow.Workflow {
	t.Helper()
	lit, _ := json.Marshal(1)
	return workflow.Workflow{Tasks: []workflow.Task{{
		Instruction: workflow.Instruction{Function: "noop", Inputs: []workflow.Input{{Literal: lit}}},
	}}}
}

// S5: ack timeout - the mailbox never replies, the caller is rejected after
// ReceiverTimeout, and no Subscription Record is left behind.
func TestSubscribeRunWorkflowAckTimeout(t *testing.T) {
	rpcCtx := NewContext(nil, notifier.NewTopic(4), notifier.NewTopic(4), runnermailbox.NewSilentMockMailbox(), 20*time.Millisecond, nil)

	_, rpcErr := SubscribeRunWorkflow(rpcCtx, newNoopSink(), "test-run", simpleWorkflow(t))
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, ErrAckTimeout.Error())

	assert.Equal(t, 0, rpcCtx.listeners.count())
}

func TestSubscribeRunWorkflowAcksAndRegisters(t *testing.T) {
	rpcCtx := NewContext(nil, notifier.NewTopic(4), notifier.NewTopic(4), runnermailbox.NewMockMailbox(), time.Second, nil)

	result, rpcErr := SubscribeRunWorkflow(rpcCtx, newNoopSink(), "test-run", simpleWorkflow(t))
	require.Nil(t, rpcErr)
	require.NotEmpty(t, result.SubscriptionID)

	rec, ok := rpcCtx.listeners.lookup(result.SubscriptionID)
	require.True(t, ok)
	assert.Equal(t, listenerKindWorkflow, rec.Kind)
	assert.Equal(t, "test-run", rec.Name)
}
