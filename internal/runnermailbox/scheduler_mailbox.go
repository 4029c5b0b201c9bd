package runnermailbox

import (
	"context"

	"github.com/lyzr/wasmrun/common/logger"
	"github.com/lyzr/wasmrun/internal/receipt"
	"github.com/lyzr/wasmrun/internal/resource"
	"github.com/lyzr/wasmrun/internal/scheduler"
)

// SchedulerMailbox is the production Mailbox: it runs the submitted workflow
// through scheduler.Init to produce a batched execution Plan, logs the plan,
// and acknowledges with the workflow's computed CID. Actually executing the
// Plan's instructions against a Wasm runtime is the next link in the chain
// and is not done here - this is the wiring point a real runner replaces.
type SchedulerMailbox struct {
	store  receipt.Store
	fetch  resource.Fetcher
	log    *logger.Logger
}

// NewSchedulerMailbox builds a Mailbox backed by a receipt Store and
// resource Fetcher.
func NewSchedulerMailbox(store receipt.Store, fetch resource.Fetcher, log *logger.Logger) *SchedulerMailbox {
	return &SchedulerMailbox{store: store, fetch: fetch, log: log}
}

// Send computes the Plan for msg.Workflow and acknowledges with its root
// CID. Scheduling failures (cyclic/dangling workflow, resource fetch
// failure) are logged and the request is not acknowledged, matching the
// ack-timeout contract callers already handle.
func (m *SchedulerMailbox) Send(ctx context.Context, msg RunWorkflow, replyCh chan<- AckWorkflow) error {
	if len(msg.Workflow.Tasks) == 0 {
		return nil
	}
	cid, err := msg.Workflow.Tasks[len(msg.Workflow.Tasks)-1].Instruction.CID()
	if err != nil {
		return err
	}

	go func() {
		plan, err := scheduler.Init(ctx, msg.Workflow, m.store, m.fetch)
		if err != nil {
			if m.log != nil {
				m.log.Error("scheduling failed", "workflow", msg.Name, "error", err)
			}
			return
		}
		if m.log != nil {
			m.log.Info("workflow scheduled",
				"workflow", msg.Name,
				"cid", cid.String(),
				"batches_to_run", plan.Run.Len(),
				"receipts_replayed", len(plan.LinkMap),
			)
		}

		if replyCh == nil {
			return
		}
		select {
		case replyCh <- AckWorkflow{CID: cid, Name: msg.Name}:
		case <-ctx.Done():
		}
	}()

	return nil
}
