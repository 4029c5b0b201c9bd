// Package dispatcher runs the per-subscription long-running loop that pulls
// from the Notifier, filters by a caller-supplied predicate, forwards
// matching messages to a client sink, and cleans up on close/error.
//
// Grounded on original_source/homestar-runtime/src/network/webserver/rpc.rs
// (handle_event_subscription, handle_workflow_subscription): the original
// has two near-identical functions sharing almost all of their select! body,
// differing only in the filtering predicate and what gets cleaned up.
// Rather than duplicate the loop, this package collapses both into one
// generic Run plus two predicate closures supplied by internal/rpcsurface -
// matching the teacher's pattern of small composable Opts structs
// (OperatorOpts, LifecycleHandlerOpts) favoring a shared skeleton over
// copy-pasted loops.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lyzr/wasmrun/common/logger"
	"github.com/lyzr/wasmrun/internal/notifier"
)

// ErrSinkClosed is returned by a Sink when the peer has disconnected.
var ErrSinkClosed = errors.New("dispatcher: sink closed")

// ErrSinkFull is returned by a Sink when its outbound buffer has no room.
// This is non-fatal: the message is dropped and the subscription continues.
var ErrSinkFull = errors.New("dispatcher: sink full")

// Sink is a client-facing send endpoint for one subscription.
type Sink interface {
	// Send delivers an encoded subscription message. Returns ErrSinkFull
	// or ErrSinkClosed for those specific conditions so Run can apply its
	// back-pressure policy (drop on full, terminate on closed).
	Send(payload json.RawMessage) error
	// Closed returns a channel that is closed once the peer disconnects.
	Closed() <-chan struct{}
}

// Predicate reports whether a message should be forwarded to this
// subscription's sink.
type Predicate func(notifier.Message) bool

// Run is the shared dispatcher loop. It terminates normally (nil error)
// when the sink closes or the source stream ends, and with a non-nil error
// when the subscription lagged or the sink rejected a send as closed.
// cleanup is called exactly once, on every exit path, and should remove the
// caller's Subscription Record.
func Run(ctx context.Context, source *notifier.Receiver, sink Sink, match Predicate, log *logger.Logger, cleanup func()) error {
	defer cleanup()

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closedCh := sink.Closed()
	go func() {
		select {
		case <-closedCh:
			cancel()
		case <-dctx.Done():
		}
	}()

	for {
		msg, err := source.Recv(dctx)
		if err != nil {
			select {
			case <-closedCh:
				// Sink closed by peer: terminate normally.
				return nil
			default:
			}
			if errors.Is(err, notifier.ErrLagged) {
				return notifier.ErrLagged
			}
			// Parent context canceled (server shutdown): terminate
			// normally, same as stream end.
			return nil
		}

		if !match(msg) {
			continue
		}

		if err := sink.Send(msg.Payload); err != nil {
			if errors.Is(err, ErrSinkFull) {
				if log != nil {
					log.Info("dispatcher sink full, dropping message")
				}
				continue
			}
			return ErrSinkClosed
		}
	}
}
