package localbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/bridge/internal/bus"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan bus.Message, 2)
	b.Subscribe("addr", func(_ context.Context, msg bus.Message) { got <- msg })
	b.Subscribe("addr", func(_ context.Context, msg bus.Message) { got <- msg })

	require.NoError(t, b.Publish(context.Background(), bus.Message{Address: "addr", Body: "hi"}))

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			assert.Equal(t, "hi", msg.Body)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestSendDeliversAndWaitsForReply(t *testing.T) {
	b := New()
	defer b.Close()

	b.Subscribe("svc", func(ctx context.Context, msg bus.Message) {
		_ = b.Publish(ctx, bus.Message{Address: msg.ReplyAddress, Body: "pong"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := b.Send(ctx, bus.Message{Address: "svc", Body: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Body)
}

func TestSendFailsWithNoSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Send(ctx, bus.Message{Address: "nobody", Body: "x"})
	assert.Error(t, err)
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan struct{}, 1)
	unsubscribe := b.Subscribe("addr", func(context.Context, bus.Message) { got <- struct{}{} })
	unsubscribe()

	require.NoError(t, b.Publish(context.Background(), bus.Message{Address: "addr"}))
	select {
	case <-got:
		t.Fatal("handler fired after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAfterCloseReturnsErrClosed(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), bus.Message{Address: "addr"})
	assert.ErrorIs(t, err, bus.ErrClosed)
}
