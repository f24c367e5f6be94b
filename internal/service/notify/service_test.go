package notify

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/jmehdipour/notify-gateway/internal/codec"
	"github.com/jmehdipour/notify-gateway/internal/model"
	"github.com/jmehdipour/notify-gateway/internal/publisher"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPublisher struct {
	calls int
	keys  []string
}

func (p *countingPublisher) Publish(_ context.Context, key string, _ []byte) (publisher.Ack, error) {
	p.calls++
	p.keys = append(p.keys, key)
	return publisher.Ack{Exchange: "ex", RoutingKey: key, MessageID: "id"}, nil
}

func newPipeline(t *testing.T, mem *broker.Memory) *Service {
	t.Helper()
	gw, err := publisher.New(mem, "NotificationMessage")
	require.NoError(t, err)
	return New(routing.Deriver{}, gw, nil)
}

func TestPublish_SampleReachesBrokerWithDerivedKey(t *testing.T) {
	mem := broker.NewMemory("NotificationMessage")
	svc := newPipeline(t, mem)

	rcpt, err := svc.Publish(context.Background(), SampleEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "NotificationMessage", rcpt.Exchange)
	assert.Equal(t, "notify.group.notification.created", rcpt.RoutingKey)
	assert.NotEmpty(t, rcpt.MessageID)
	assert.WithinDuration(t, time.Now(), rcpt.PublishedAt, time.Minute)

	sent := mem.Published()
	require.Len(t, sent, 1)
	assert.Equal(t, rcpt.MessageID, sent[0].MessageID)

	got, err := codec.Decode(sent[0].Body)
	require.NoError(t, err)
	want, err := model.Validate(SampleEnvelope())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPublish_ValidationFailureNeverCallsBroker(t *testing.T) {
	pub := &countingPublisher{}
	svc := New(routing.Deriver{}, pub, nil)

	bad := []model.Envelope{
		{},
		{Title: "t", Body: "b", Type: model.TypeGroup, Category: model.CategoryAlert, Channels: []model.Channel{model.ChannelSMS}},
		{Title: "t", Body: "b", Type: model.TypeSystemWide, Category: model.CategoryAlert},
		{Title: "t", Body: "b", Type: "Broadcast", Category: model.CategoryAlert, Channels: []model.Channel{model.ChannelSMS}},
	}
	for _, e := range bad {
		_, err := svc.Publish(context.Background(), e)
		var ve *model.ValidationError
		assert.ErrorAs(t, err, &ve)
	}
	assert.Zero(t, pub.calls)
}

func TestPublish_SystemWideNeedsNoTargets(t *testing.T) {
	pub := &countingPublisher{}
	svc := New(routing.Deriver{}, pub, nil)

	_, err := svc.Publish(context.Background(), model.Envelope{
		Title:       "Maintenance",
		Body:        "Tonight 02:00 UTC",
		Type:        model.TypeSystemWide,
		Category:    model.CategoryAlert,
		Channels:    []model.Channel{model.ChannelPush},
		TargetUsers: []string{"ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"notify.systemwide.notification.created"}, pub.keys)
}

func TestPublish_BrokerFailureSurfacesAsPublishError(t *testing.T) {
	mem := broker.NewMemory()
	svc := newPipeline(t, mem)

	_, err := svc.Publish(context.Background(), SampleEnvelope())
	kind, ok := publisher.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, publisher.KindExchangeMissing, kind)
}

func TestPublishValid_RejectsZeroEnvelope(t *testing.T) {
	pub := &countingPublisher{}
	_, err := New(routing.Deriver{}, pub, nil).PublishValid(context.Background(), model.ValidEnvelope{})
	assert.Error(t, err)
	assert.Zero(t, pub.calls)
}

func TestPublish_ReleaseAnnouncementToGroup(t *testing.T) {
	mem := broker.NewMemory("NotificationMessage")
	svc := newPipeline(t, mem)

	rcpt, err := svc.Publish(context.Background(), model.Envelope{
		Title:       "Release 2.0",
		Body:        "New features available",
		Type:        model.TypeGroup,
		Category:    model.CategoryUpdate,
		Channels:    []model.Channel{model.ChannelEmail},
		TargetUsers: []string{"u1", "u2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "notify.group.notification.created", rcpt.RoutingKey)

	sent := mem.Published()
	require.Len(t, sent, 1)
	assert.Equal(t, "notify.group.notification.created", sent[0].RoutingKey)
	assert.Equal(t, rcpt.MessageID, sent[0].MessageID)
	assert.Equal(t,
		`{"title":"Release 2.0","body":"New features available","type":"Group","category":"Update","channels":["Email"],"target_users":["u1","u2"]}`,
		string(sent[0].Body))
}

func TestPublish_EmptyTitleStopsBeforeBroker(t *testing.T) {
	mem := broker.NewMemory("NotificationMessage")
	svc := newPipeline(t, mem)

	rcpt, err := svc.Publish(context.Background(), model.Envelope{
		Title:    "",
		Body:     "x",
		Type:     model.TypeSystemWide,
		Category: model.CategoryAlert,
		Channels: []model.Channel{model.ChannelSMS},
	})
	assert.ErrorIs(t, err, model.ErrEmptyTitle)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)
	assert.Zero(t, rcpt)
	assert.Empty(t, mem.Published())
}
