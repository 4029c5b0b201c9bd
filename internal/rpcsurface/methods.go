package rpcsurface

import (
	"context"
	"encoding/json"
)

// HealthResult is the result of the health method.
type HealthResult struct {
	Healthy bool `json:"healthy"`
}

// Health reports liveness. No params.
func Health(ctx context.Context, rpcCtx *Context, params json.RawMessage) (any, *Error) {
	return HealthResult{Healthy: true}, nil
}

// MetricsParams is accepted but ignored: spec's open question on prefix
// filtering is resolved by parsing the field (so malformed params still
// surface as InvalidParams) and returning every metric family regardless of
// its value.
type MetricsParams struct {
	Prefix *string `json:"prefix,omitempty"`
}

// Metrics returns every registered Prometheus metric family as JSON, via
// Telemetry.Snapshot's round-trip through the Prometheus text format (the
// format the /metrics HTTP endpoint serves).
func Metrics(ctx context.Context, rpcCtx *Context, params json.RawMessage) (any, *Error) {
	var p MetricsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, parseError(err)
		}
	}

	if rpcCtx.Telemetry == nil {
		return nil, internalError()
	}

	families, err := rpcCtx.Telemetry.Snapshot()
	if err != nil {
		if rpcCtx.Logger != nil {
			rpcCtx.Logger.Error("metrics snapshot failed", "error", err)
		}
		return nil, internalError()
	}
	return families, nil
}
