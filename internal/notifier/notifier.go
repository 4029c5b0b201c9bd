// Package notifier implements the in-process broadcast bus: one topic for
// network events, one for workflow messages, each a sequence-numbered ring
// so that a subscriber falling behind observes an explicit Lagged error
// instead of silently losing messages.
//
// Grounded on goadesign-goa-ai's runtime/mcp/broadcast.go channelBroadcaster
// (a buffered-channel-per-subscriber map behind an RWMutex, with a
// drop-vs-block publish policy) and on the teacher's common/queue/queue.go
// per-topic buffered-channel map shape - generalized here into a ring with a
// monotonic sequence counter per topic, since neither source detects lag:
// the goadesign broadcaster just drops silently. Publishers never block in
// either design; this one additionally lets a slow subscriber notice it
// fell behind.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/lyzr/wasmrun/internal/cidhash"
)

// ErrLagged is returned from Recv when the subscriber fell behind the
// ring's capacity and some messages were overwritten before it could read
// them.
var ErrLagged = errors.New("notifier: subscriber lagged")

// Class is the tagged union EventClass(string) | Cid(CID) identifying which
// logical stream a message belongs to.
type Class struct {
	eventClass string
	cid        cidhash.CID
	isCid      bool
}

// EventClass constructs a Class for the network-event stream.
func EventClass(name string) Class {
	return Class{eventClass: name}
}

// CidClass constructs a Class for a workflow's message stream.
func CidClass(cid cidhash.CID) Class {
	return Class{cid: cid, isCid: true}
}

// Equal reports whether two Class values identify the same stream.
func (c Class) Equal(other Class) bool {
	if c.isCid != other.isCid {
		return false
	}
	if c.isCid {
		return c.cid == other.cid
	}
	return c.eventClass == other.eventClass
}

// Header carries the subscription class and an optional identifier. A
// missing Ident is semantically "broadcast to every subscriber of this
// class/cid", not a wildcard the caller can request.
type Header struct {
	Subscription Class
	Ident        *string
}

// Message is one notifier payload: a header plus an opaque JSON blob.
type Message struct {
	Header  Header
	Payload json.RawMessage
}

// Topic is one sequence-numbered broadcast ring.
type Topic struct {
	mu   sync.Mutex
	buf  []Message
	tail uint64
	wake chan struct{}
}

// NewTopic creates a topic with the given ring capacity.
func NewTopic(capacity int) *Topic {
	if capacity <= 0 {
		capacity = 1
	}
	return &Topic{
		buf:  make([]Message, capacity),
		wake: make(chan struct{}),
	}
}

// Publish appends msg to the ring. Never blocks: it overwrites the oldest
// slot if the ring is full, and any subscriber still reading that slot will
// observe ErrLagged on its next Recv.
func (t *Topic) Publish(msg Message) {
	t.mu.Lock()
	idx := int(t.tail % uint64(len(t.buf)))
	t.buf[idx] = msg
	t.tail++
	wake := t.wake
	t.wake = make(chan struct{})
	t.mu.Unlock()
	close(wake)
}

// Subscribe yields a fresh receiver starting at the topic's current tail -
// it will only observe messages published after this call.
func (t *Topic) Subscribe() *Receiver {
	t.mu.Lock()
	next := t.tail
	t.mu.Unlock()
	return &Receiver{topic: t, next: next}
}

// Receiver reads messages from a Topic in publish order.
type Receiver struct {
	topic *Topic
	next  uint64
}

// Recv blocks until the next message is available, ctx is done, or the
// receiver has lagged past the ring's retained window.
func (r *Receiver) Recv(ctx context.Context) (Message, error) {
	t := r.topic
	for {
		t.mu.Lock()
		capacity := uint64(len(t.buf))

		if r.next+capacity < t.tail {
			// The slot this receiver needed has been overwritten. Catch up
			// to the oldest still-retained message rather than spinning on
			// the same stale index forever. tail-capacity is itself still
			// valid (it's the next slot Publish will overwrite, not yet
			// overwritten), so the strict "<" leaves that boundary readable.
			r.next = t.tail - capacity
			t.mu.Unlock()
			return Message{}, ErrLagged
		}

		if r.next == t.tail {
			wake := t.wake
			t.mu.Unlock()
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return Message{}, ctx.Err()
			}
		}

		idx := int(r.next % capacity)
		msg := t.buf[idx]
		r.next++
		t.mu.Unlock()
		return msg, nil
	}
}

// Notifier holds the two topics named in the spec: network events and
// workflow messages.
type Notifier struct {
	Events           *Topic
	WorkflowMessages *Topic
}

// New creates a Notifier with both topics sized to bufferSize.
func New(bufferSize int) *Notifier {
	return &Notifier{
		Events:           NewTopic(bufferSize),
		WorkflowMessages: NewTopic(bufferSize),
	}
}
