package notifier

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/wasmrun/internal/cidhash"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	topic := NewTopic(4)
	recv := topic.Subscribe()

	topic.Publish(Message{Header: Header{Subscription: EventClass("net")}, Payload: json.RawMessage(`"hi"`)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := recv.Recv(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(msg.Payload))
}

func TestSubscribeOnlySeesFutureMessages(t *testing.T) {
	topic := NewTopic(4)
	topic.Publish(Message{Header: Header{Subscription: EventClass("net")}, Payload: json.RawMessage(`1`)})

	recv := topic.Subscribe()
	topic.Publish(Message{Header: Header{Subscription: EventClass("net")}, Payload: json.RawMessage(`2`)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := recv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, `2`, string(msg.Payload))
}

func TestPublishNeverBlocksAndLagsSlowReceiver(t *testing.T) {
	topic := NewTopic(2)
	recv := topic.Subscribe()

	for i := 0; i < 5; i++ {
		topic.Publish(Message{Header: Header{Subscription: EventClass("net")}, Payload: json.RawMessage("1")})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := recv.Recv(ctx)
	assert.ErrorIs(t, err, ErrLagged)

	// After lagging, the receiver catches up and can keep reading.
	msg, err := recv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string(msg.Payload))
}

func TestRecvRespectsContextCancellation(t *testing.T) {
	topic := NewTopic(4)
	recv := topic.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := recv.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassEquality(t *testing.T) {
	cid1, err := cidhash.Of("a")
	require.NoError(t, err)
	cid1Again, err := cidhash.Of("a")
	require.NoError(t, err)
	cid2, err := cidhash.Of("b")
	require.NoError(t, err)

	assert.True(t, CidClass(cid1).Equal(CidClass(cid1Again)))
	assert.False(t, CidClass(cid1).Equal(CidClass(cid2)))
	assert.False(t, CidClass(cid1).Equal(EventClass("a")))
	assert.True(t, EventClass("x").Equal(EventClass("x")))
}
