package rpcsurface

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lyzr/wasmrun/internal/dispatcher"
	"github.com/lyzr/wasmrun/internal/notifier"
	"github.com/lyzr/wasmrun/internal/runnermailbox"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// NetworkEventsClass is the Class published on for every network event.
// A single shared class keeps every subscribe_network_events subscriber on
// one stream, matching the original's "there is one NetworkEvent topic"
// shape.
var NetworkEventsClass = notifier.EventClass("network_events")

// SubscribeResult is returned by every subscribe_* method.
type SubscribeResult struct {
	SubscriptionID string `json:"subscription_id"`
}

// SubscribeNetworkEvents starts forwarding every published network event to
// sink until the sink closes or the receiver lags. Runs the dispatcher loop
// in the background and returns immediately with the new subscription id.
// unsubscribe_network_events removes the Subscription Record but does not
// stop the dispatcher; forwarding ends only when the sink closes or lags.
func SubscribeNetworkEvents(rpcCtx *Context, sink dispatcher.Sink) (SubscribeResult, *Error) {
	subID := uuid.NewString()
	receiver := rpcCtx.EventNotifier.Subscribe()

	rpcCtx.listeners.insert(subID, listenerRecord{Kind: listenerKindNetwork})

	match := func(msg notifier.Message) bool {
		return msg.Header.Subscription.Equal(NetworkEventsClass)
	}
	cleanup := func() { rpcCtx.listeners.remove(subID) }

	go func() {
		_ = dispatcher.Run(backgroundContext(), receiver, sink, match, rpcCtx.Logger, cleanup)
	}()

	return SubscribeResult{SubscriptionID: subID}, nil
}

// UnsubscribeNetworkEventsParams carries the subscription id to cancel.
type UnsubscribeNetworkEventsParams struct {
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeResult reports whether a matching subscription was found.
type UnsubscribeResult struct {
	Unsubscribed bool `json:"unsubscribed"`
}

func unsubscribe(rpcCtx *Context, subID string, kind string) UnsubscribeResult {
	rec, ok := rpcCtx.listeners.lookup(subID)
	if !ok || rec.Kind != kind {
		return UnsubscribeResult{Unsubscribed: false}
	}
	// The dispatcher goroutine notices the sink closing on its own; removing
	// the record here only stops it from being addressable again. The actual
	// teardown of the underlying sink is the transport's (wsadapter's)
	// responsibility, triggered by the caller closing its connection.
	rpcCtx.listeners.remove(subID)
	return UnsubscribeResult{Unsubscribed: true}
}

// UnsubscribeNetworkEvents removes a network-event Subscription Record.
func UnsubscribeNetworkEvents(ctx context.Context, rpcCtx *Context, params json.RawMessage) (any, *Error) {
	var p UnsubscribeNetworkEventsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, parseError(err)
	}
	return unsubscribe(rpcCtx, p.SubscriptionID, listenerKindNetwork), nil
}

// UnsubscribeRunWorkflow removes a workflow Subscription Record.
func UnsubscribeRunWorkflow(ctx context.Context, rpcCtx *Context, params json.RawMessage) (any, *Error) {
	var p UnsubscribeNetworkEventsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, parseError(err)
	}
	return unsubscribe(rpcCtx, p.SubscriptionID, listenerKindWorkflow), nil
}

// SubscribeRunWorkflowParams names and submits a workflow to run.
type SubscribeRunWorkflowParams struct {
	Name     string            `json:"name"`
	Workflow workflow.Workflow `json:"workflow"`
}

// SubscribeRunWorkflow is the start-workflow rendezvous: submit the workflow
// to the runner mailbox, wait up to rpcCtx.ReceiverTimeout for its ack, and
// only then create the Subscription Record and start forwarding the
// workflow's messages to sink. No Subscription Record is created if the ack
// never arrives - the caller gets ErrAckTimeout and nothing to unsubscribe.
func SubscribeRunWorkflow(rpcCtx *Context, sink dispatcher.Sink, name string, wf workflow.Workflow) (SubscribeResult, *Error) {
	ctx, cancel := context.WithTimeout(backgroundContext(), rpcCtx.ReceiverTimeout)
	defer cancel()

	replyCh := make(chan runnermailbox.AckWorkflow, 1)
	if err := rpcCtx.Mailbox.Send(ctx, runnermailbox.RunWorkflow{Name: name, Workflow: wf}, replyCh); err != nil {
		return SubscribeResult{}, internalError()
	}

	var ack runnermailbox.AckWorkflow
	select {
	case ack = <-replyCh:
	case <-ctx.Done():
		return SubscribeResult{}, &Error{Code: CodeInternalError, Message: ErrAckTimeout.Error()}
	}

	subID := uuid.NewString()
	receiver := rpcCtx.WorkflowNotifier.Subscribe()
	class := notifier.CidClass(ack.CID)

	rpcCtx.listeners.insert(subID, listenerRecord{Kind: listenerKindWorkflow, CID: ack.CID, Name: ack.Name})

	match := func(msg notifier.Message) bool {
		if !msg.Header.Subscription.Equal(class) {
			return false
		}
		// An absent Ident means "broadcast to every subscriber of this CID".
		// A present Ident must match the name this subscriber started the
		// workflow under.
		return msg.Header.Ident == nil || *msg.Header.Ident == ack.Name
	}
	cleanup := func() { rpcCtx.listeners.remove(subID) }

	go func() {
		_ = dispatcher.Run(backgroundContext(), receiver, sink, match, rpcCtx.Logger, cleanup)
	}()

	return SubscribeResult{SubscriptionID: subID}, nil
}
