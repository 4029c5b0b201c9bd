// Package rpcsurface registers health, metrics, event-subscription, and
// workflow-subscription methods over a single process-wide Context, shared
// by every RPC handler and every dispatcher task.
//
// Grounded directly on
// original_source/homestar-runtime/src/network/webserver/rpc.rs (the
// Context/JsonRpc/RpcModule shape, the HEALTH_ENDPOINT/METRICS_ENDPOINT
// constants, the ack-rendezvous inside the subscribe_run_workflow handler)
// and on goadesign-goa-ai/features/mcp/runtime/rpc.go for the JSON-RPC
// envelope shape (jsonrpc/method/id/params, rpcError{Code,Message}) adapted
// into a Go Method registry for the plain request/response methods, since Go
// has no jsonrpsee equivalent in the pack. The subscribe_* methods are not in
// that registry; the transport calls them directly with its Sink.
package rpcsurface

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/lyzr/wasmrun/common/logger"
	"github.com/lyzr/wasmrun/common/telemetry"
	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/notifier"
	"github.com/lyzr/wasmrun/internal/runnermailbox"
)

// ErrAckTimeout is returned (as RPC InternalError) when a workflow start was
// not acknowledged within ReceiverTimeout.
var ErrAckTimeout = errors.New("rpcsurface: workflow start not acknowledged in time")

const (
	HealthEndpoint                   = "health"
	MetricsEndpoint                  = "metrics"
	SubscribeNetworkEventsEndpoint   = "subscribe_network_events"
	UnsubscribeNetworkEventsEndpoint = "unsubscribe_network_events"
	SubscribeRunWorkflowEndpoint     = "subscribe_run_workflow"
	UnsubscribeRunWorkflowEndpoint   = "unsubscribe_run_workflow"
)

// listenerRecord is the Subscription Record for one active subscription,
// keyed by subscription id. Kind distinguishes a network-event subscription
// (CID unused) from a workflow subscription (CID is the workflow's
// canonical CID, Name is the name it was started under).
type listenerRecord struct {
	Kind string
	CID  cidhash.CID
	Name string
}

const (
	listenerKindNetwork  = "network"
	listenerKindWorkflow = "workflow"
)

// listenerShardCount is the fan-out of the Subscription Record map. Sharded
// locking keeps inserts/removals on different subscriptions from serializing
// through one lock - the closest idiomatic-Go stand-in for the original's
// DashMap, grounded on the teacher's sync.RWMutex-guarded map pattern in
// common/cache.MemoryCache and common/queue.MemoryQueue, generalized to 16
// shards here since neither teacher type sharded its single lock.
const listenerShardCount = 16

type listenerShard struct {
	mu      sync.RWMutex
	records map[string]listenerRecord
}

type listenerTable struct {
	shards [listenerShardCount]*listenerShard
}

func newListenerTable() *listenerTable {
	t := &listenerTable{}
	for i := range t.shards {
		t.shards[i] = &listenerShard{records: make(map[string]listenerRecord)}
	}
	return t
}

func (t *listenerTable) shardFor(subscriptionID string) *listenerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subscriptionID))
	return t.shards[h.Sum32()%listenerShardCount]
}

func (t *listenerTable) insert(subscriptionID string, rec listenerRecord) {
	s := t.shardFor(subscriptionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[subscriptionID] = rec
}

func (t *listenerTable) lookup(subscriptionID string) (listenerRecord, bool) {
	s := t.shardFor(subscriptionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[subscriptionID]
	return rec, ok
}

func (t *listenerTable) remove(subscriptionID string) {
	s := t.shardFor(subscriptionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, subscriptionID)
}

// count returns the total number of active Subscription Records across every
// shard.
func (t *listenerTable) count() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.records)
		s.mu.RUnlock()
	}
	return n
}

// Context is the process-wide value shared across every RPC handler and
// every dispatcher goroutine. Per the original's Arc<Context> plus
// open-question note (spec §9): every field here is already a
// shared-ownership handle or a plain value (topic pointers, a Mailbox
// interface value, a pointer to the shard table), so passing *Context by pointer to both
// handlers and dispatcher goroutines is safe without an explicit
// reference-counting wrapper - Go's GC plus "the fields are themselves
// concurrency-safe" gives the same property the original gets from Arc.
type Context struct {
	Telemetry        *telemetry.Telemetry
	EventNotifier    *notifier.Topic
	WorkflowNotifier *notifier.Topic
	Mailbox          runnermailbox.Mailbox
	ReceiverTimeout  time.Duration
	Logger           *logger.Logger

	listeners *listenerTable
}

// NewContext builds a process-wide Context.
func NewContext(tel *telemetry.Telemetry, events, workflows *notifier.Topic, mailbox runnermailbox.Mailbox, receiverTimeout time.Duration, log *logger.Logger) *Context {
	return &Context{
		Telemetry:        tel,
		EventNotifier:    events,
		WorkflowNotifier: workflows,
		Mailbox:          mailbox,
		ReceiverTimeout:  receiverTimeout,
		Logger:           log,
		listeners:        newListenerTable(),
	}
}

// backgroundContext is used by dispatcher goroutines that must outlive the
// RPC call that spawned them. context.Background() documents that intent
// explicitly rather than leaving ctx.TODO() or an inherited request context
// that could be canceled when the HTTP request returns.
func backgroundContext() context.Context {
	return context.Background()
}
