package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/notifier"
)

// fakeSink is an in-memory dispatcher.Sink for tests. fullFor counts down
// how many consecutive Send calls report ErrSinkFull before accepting.
type fakeSink struct {
	mu      sync.Mutex
	fullFor int
	sent    []json.RawMessage
	closed  chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{closed: make(chan struct{})}
}

func (s *fakeSink) Send(payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fullFor > 0 {
		s.fullFor--
		return ErrSinkFull
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSink) Closed() <-chan struct{} { return s.closed }

func (s *fakeSink) snapshot() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// S4: workflow filter - two subscriptions on distinct CIDs, a publish to one
// CID is delivered only to its matching subscription.
func TestRunFiltersByWorkflowCID(t *testing.T) {
	topic := notifier.NewTopic(8)
	cidA, err := cidhash.Of("workflow A")
	require.NoError(t, err)
	cidB, err := cidhash.Of("workflow B")
	require.NoError(t, err)

	sinkA := newFakeSink()
	sinkB := newFakeSink()

	matchA := func(msg notifier.Message) bool { return msg.Header.Subscription.Equal(notifier.CidClass(cidA)) }
	matchB := func(msg notifier.Message) bool { return msg.Header.Subscription.Equal(notifier.CidClass(cidB)) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recvA := topic.Subscribe()
	recvB := topic.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = Run(ctx, recvA, sinkA, matchA, nil, func() {}) }()
	go func() { defer wg.Done(); _ = Run(ctx, recvB, sinkB, matchB, nil, func() {}) }()

	topic.Publish(notifier.Message{
		Header:  notifier.Header{Subscription: notifier.CidClass(cidA)},
		Payload: json.RawMessage(`"for-a"`),
	})

	require.Eventually(t, func() bool {
		return len(sinkA.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sinkB.snapshot())
	assert.Equal(t, `"for-a"`, string(sinkA.snapshot()[0]))

	cancel()
	wg.Wait()
}

// S6: sink full on three consecutive messages, subscription stays
// registered, and a later message with capacity available is delivered.
func TestRunSurvivesRepeatedSinkFull(t *testing.T) {
	topic := notifier.NewTopic(8)
	sink := newFakeSink()
	sink.fullFor = 3

	matchAll := func(notifier.Message) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recv := topic.Subscribe()

	cleanedUp := false
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = Run(ctx, recv, sink, matchAll, nil, func() { cleanedUp = true })
	}()

	for i := 0; i < 3; i++ {
		topic.Publish(notifier.Message{Payload: json.RawMessage(`"dropped"`)})
	}
	topic.Publish(notifier.Message{Payload: json.RawMessage(`"delivered"`)})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `"delivered"`, string(sink.snapshot()[0]))

	cancel()
	wg.Wait()
	assert.True(t, cleanedUp)
}
