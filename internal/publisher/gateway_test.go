package publisher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchange = "NotificationMessage"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newGateway(t *testing.T, mem *broker.Memory, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(func(time.Time) string { return "01HXTESTID" }),
	}, opts...)
	g, err := New(mem, exchange, opts...)
	require.NoError(t, err)
	return g
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	_, err := New(nil, exchange)
	assert.Error(t, err)

	_, err = New(broker.NewMemory(exchange), "")
	assert.Error(t, err)

	g, err := New(broker.NewMemory(exchange), exchange)
	require.NoError(t, err)
	assert.Equal(t, broker.DriverMemory, g.Driver())
	assert.Equal(t, exchange, g.Exchange())
}

func TestPublish_AckDescribesAcceptedMessage(t *testing.T) {
	mem := broker.NewMemory(exchange)
	g := newGateway(t, mem)

	ack, err := g.Publish(context.Background(), "notify.group.notification.created", []byte(`{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, Ack{
		Exchange:    exchange,
		RoutingKey:  "notify.group.notification.created",
		MessageID:   "01HXTESTID",
		PublishedAt: fixedNow,
	}, ack)

	sent := mem.Published()
	require.Len(t, sent, 1)
	assert.Equal(t, exchange, sent[0].Exchange)
	assert.Equal(t, "notify.group.notification.created", sent[0].RoutingKey)
	assert.Equal(t, "01HXTESTID", sent[0].MessageID)
	assert.Equal(t, "application/json", sent[0].ContentType)
	assert.Equal(t, fixedNow, sent[0].Timestamp)
	assert.Equal(t, []byte(`{"a":1}`), sent[0].Body)
}

func TestPublish_DefaultIDsAreUnique(t *testing.T) {
	mem := broker.NewMemory(exchange)
	g, err := New(mem, exchange)
	require.NoError(t, err)

	a1, err := g.Publish(context.Background(), "k", nil)
	require.NoError(t, err)
	a2, err := g.Publish(context.Background(), "k", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a1.MessageID, a2.MessageID)
	assert.Len(t, a1.MessageID, 26)
}

func TestPublish_ClassifiesBrokerFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *broker.Memory)
		want  Kind
	}{
		{"exchange missing", func(m *broker.Memory) {}, KindExchangeMissing},
		{"unreachable", func(m *broker.Memory) { m.FailWith(fmt.Errorf("dial: %w", broker.ErrUnreachable)) }, KindUnreachable},
		{"closed", func(m *broker.Memory) { _ = m.Close() }, KindUnreachable},
		{"rejected", func(m *broker.Memory) { m.FailWith(fmt.Errorf("nack: %w", broker.ErrRejected)) }, KindRejected},
		{"anything else", func(m *broker.Memory) { m.FailWith(errors.New("boom")) }, KindRejected},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := broker.NewMemory()
			if tc.want != KindExchangeMissing {
				mem.Declare(exchange)
			}
			tc.setup(mem)

			g := newGateway(t, mem)
			ack, err := g.Publish(context.Background(), "notify.group.notification.created", []byte("{}"))
			require.Error(t, err)
			assert.Zero(t, ack)

			var pe *PublishError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.want, pe.Kind)
			assert.Equal(t, exchange, pe.Exchange)
			assert.Equal(t, "notify.group.notification.created", pe.RoutingKey)

			kind, ok := KindOf(fmt.Errorf("wrapped: %w", err))
			assert.True(t, ok)
			assert.Equal(t, tc.want, kind)
		})
	}
}

func TestPublish_EmptyRoutingKeyNeverReachesBroker(t *testing.T) {
	mem := broker.NewMemory(exchange)
	g := newGateway(t, mem)

	_, err := g.Publish(context.Background(), "", []byte("{}"))
	assert.ErrorIs(t, err, ErrEmptyRoutingKey)
	assert.Empty(t, mem.Published())
}

func TestPublish_BreakerFailsFastAndNeverResends(t *testing.T) {
	mem := broker.NewMemory(exchange)
	now := fixedNow
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	g := newGateway(t, mem, WithBreaker(b))

	mem.FailWith(broker.ErrUnreachable)
	for i := 0; i < 2; i++ {
		_, err := g.Publish(context.Background(), "k", nil)
		kind, _ := KindOf(err)
		assert.Equal(t, KindUnreachable, kind)
	}
	assert.True(t, b.Open())

	mem.FailWith(nil)
	_, err := g.Publish(context.Background(), "k", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, mem.Published())

	now = now.Add(2 * time.Minute)
	_, err = g.Publish(context.Background(), "k", nil)
	require.NoError(t, err)
	assert.Len(t, mem.Published(), 1)
	assert.False(t, b.Open())
}

func TestPublish_RejectionDoesNotTripBreaker(t *testing.T) {
	mem := broker.NewMemory(exchange)
	b := NewBreaker(1, time.Minute)
	g := newGateway(t, mem, WithBreaker(b))

	mem.FailWith(broker.ErrRejected)
	_, err := g.Publish(context.Background(), "k", nil)
	require.Error(t, err)
	assert.False(t, b.Open())
}

func TestPublish_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	mem := broker.NewMemory(exchange)
	now := fixedNow
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }
	g := newGateway(t, mem, WithBreaker(b))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := g.Publish(ctx, "k", nil)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.False(t, b.Open())

	dctx, dcancel := context.WithDeadline(context.Background(), fixedNow.Add(-time.Hour))
	defer dcancel()
	_, err := g.Publish(dctx, "k", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, b.Open())

	// a cancelled half-open probe hands the slot back
	mem.FailWith(broker.ErrUnreachable)
	_, err = g.Publish(context.Background(), "k", nil)
	require.Error(t, err)
	assert.True(t, b.Open())
	mem.FailWith(nil)

	now = now.Add(2 * time.Minute)
	_, err = g.Publish(ctx, "k", nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = g.Publish(context.Background(), "k", nil)
	require.NoError(t, err)
	assert.False(t, b.Open())
}

type connTracking struct {
	*broker.Memory
	up bool
}

func (c connTracking) IsConnected() bool { return c.up }

func TestGateway_Ready(t *testing.T) {
	mem := broker.NewMemory(exchange)
	b := NewBreaker(1, time.Minute)
	g := newGateway(t, mem, WithBreaker(b))
	assert.True(t, g.Ready())

	mem.FailWith(broker.ErrUnreachable)
	_, _ = g.Publish(context.Background(), "k", nil)
	assert.False(t, g.Ready(), "open breaker")

	down, err := New(connTracking{Memory: broker.NewMemory(exchange)}, exchange)
	require.NoError(t, err)
	assert.False(t, down.Ready(), "transport reports disconnected")

	up, err := New(connTracking{Memory: broker.NewMemory(exchange), up: true}, exchange)
	require.NoError(t, err)
	assert.True(t, up.Ready())
}
