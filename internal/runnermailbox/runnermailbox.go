// Package runnermailbox defines the Runner Mailbox interface: a request/
// reply channel to the workflow runner, used for workflow-start
// acknowledgement. Grounded on the teacher's coordinator completion-signal
// plumbing (cmd/workflow-runner/coordinator), generalized from a
// Redis-backed completion queue to a Go channel rendezvous, since the
// mailbox is explicitly in-process here: TaskScheduler state produced by
// Init is owned thereafter by the runner and not otherwise shared.
package runnermailbox

import (
	"context"
	"sync"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// RunWorkflow is the one message type the core sends to the mailbox: start
// running the named workflow.
type RunWorkflow struct {
	Name     string
	Workflow workflow.Workflow
}

// AckWorkflow is the runner's reply to a RunWorkflow request: the canonical
// CID it computed for the workflow, and the name it was started with. All
// subsequent filtering uses this CID, never anything the original caller
// supplied.
type AckWorkflow struct {
	CID  cidhash.CID
	Name string
}

// Mailbox is the bidirectional channel to the workflow runner.
type Mailbox interface {
	// Send delivers msg to the runner. If replyCh is non-nil, the runner is
	// expected to send exactly one reply on it.
	Send(ctx context.Context, msg RunWorkflow, replyCh chan<- AckWorkflow) error
}

// MockMailbox is an in-memory Mailbox that acknowledges with the workflow's
// computed CID (unless built with NewSilentMockMailbox, or given an empty
// workflow), used by tests. The binary uses SchedulerMailbox instead.
type MockMailbox struct {
	mu     sync.Mutex
	silent bool // when true, Send never replies - used to exercise ack timeout
}

// NewMockMailbox creates a MockMailbox that always acks.
func NewMockMailbox() *MockMailbox {
	return &MockMailbox{}
}

// NewSilentMockMailbox creates a MockMailbox that never acks, for testing
// the ack-timeout path.
func NewSilentMockMailbox() *MockMailbox {
	return &MockMailbox{silent: true}
}

// Send computes the workflow's root CID (its last task's instruction CID)
// and acknowledges with it, unless the mailbox was constructed silent.
func (m *MockMailbox) Send(ctx context.Context, msg RunWorkflow, replyCh chan<- AckWorkflow) error {
	m.mu.Lock()
	silent := m.silent
	m.mu.Unlock()

	if silent || replyCh == nil {
		return nil
	}

	if len(msg.Workflow.Tasks) == 0 {
		return nil
	}
	cid, err := msg.Workflow.Tasks[len(msg.Workflow.Tasks)-1].Instruction.CID()
	if err != nil {
		return err
	}

	go func() {
		select {
		case replyCh <- AckWorkflow{CID: cid, Name: msg.Name}:
		case <-ctx.Done():
		}
	}()
	return nil
}
