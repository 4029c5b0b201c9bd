package rpcsurface

import (
	"context"
	"encoding/json"
)

// Method is a plain request/response RPC handler.
type Method func(ctx context.Context, rpcCtx *Context, params json.RawMessage) (any, *Error)

var methods = map[string]Method{
	HealthEndpoint:                   Health,
	MetricsEndpoint:                  Metrics,
	UnsubscribeNetworkEventsEndpoint: UnsubscribeNetworkEvents,
	UnsubscribeRunWorkflowEndpoint:   UnsubscribeRunWorkflow,
}

// Handle dispatches one decoded Request against the plain-method registry.
// subscribe_network_events and subscribe_run_workflow are not here: they
// need a transport-level Sink and are invoked directly by the transport
// (see internal/wsadapter) via SubscribeNetworkEvents/SubscribeRunWorkflow.
func Handle(ctx context.Context, rpcCtx *Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	method, ok := methods[req.Method]
	if !ok {
		resp.Error = &Error{Code: CodeInvalidParams, Message: "unknown method: " + req.Method}
		return resp
	}

	result, rpcErr := method(ctx, rpcCtx, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		resp.Error = internalError()
		return resp
	}
	resp.Result = encoded
	return resp
}

// IsSubscribeMethod reports whether method requires a live Sink rather than
// a plain request/response round trip, so the transport can route it
// differently before ever building a Request/Response pair.
func IsSubscribeMethod(method string) bool {
	switch method {
	case SubscribeNetworkEventsEndpoint, SubscribeRunWorkflowEndpoint:
		return true
	default:
		return false
	}
}

// DecodeSubscribeRunWorkflow parses the params for subscribe_run_workflow.
func DecodeSubscribeRunWorkflow(params json.RawMessage) (SubscribeRunWorkflowParams, *Error) {
	var p SubscribeRunWorkflowParams
	if err := json.Unmarshal(params, &p); err != nil {
		return SubscribeRunWorkflowParams{}, parseError(err)
	}
	return p, nil
}
