package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/codec"
	"github.com/jmehdipour/notify-gateway/internal/metrics"
	"github.com/jmehdipour/notify-gateway/internal/model"
	"github.com/jmehdipour/notify-gateway/internal/publisher"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"go.uber.org/zap"
)

const (
	stageRejected  = "rejected"
	stagePublished = "published"
	stageFailed    = "failed"
)

// Publisher is the gateway capability the service needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) (publisher.Ack, error)
}

// Receipt is handed back to callers once the broker accepted a notification.
type Receipt struct {
	MessageID   string
	Exchange    string
	RoutingKey  string
	PublishedAt time.Time
}

// Service runs validate -> route -> encode -> publish. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	routes routing.Deriver
	pub    Publisher
	log    *zap.Logger
}

func New(routes routing.Deriver, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{routes: routes, pub: pub, log: log}
}

// Publish validates e and publishes it. A validation failure is returned as
// *model.ValidationError before the broker is touched; broker failures are
// *publisher.PublishError.
func (s *Service) Publish(ctx context.Context, e model.Envelope) (Receipt, error) {
	v, err := model.Validate(e)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(stageRejected, typeLabel(e.Type)).Inc()
		s.log.Info("notification rejected", zap.Error(err))
		return Receipt{}, err
	}
	return s.PublishValid(ctx, v)
}

// PublishValid publishes an already validated envelope.
func (s *Service) PublishValid(ctx context.Context, v model.ValidEnvelope) (Receipt, error) {
	if v.IsZero() {
		return Receipt{}, errors.New("notify: zero envelope")
	}

	key := s.routes.Derive(v)
	payload, err := codec.Encode(v)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode envelope: %w", err)
	}

	ack, err := s.pub.Publish(ctx, key, payload)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(stageFailed, typeLabel(v.Type())).Inc()
		s.log.Error("notification publish failed",
			zap.String("routing_key", key),
			zap.String("type", v.Type().String()),
			zap.Error(err))
		return Receipt{}, err
	}

	metrics.NotificationsTotal.WithLabelValues(stagePublished, typeLabel(v.Type())).Inc()
	s.log.Info("notification published",
		zap.String("message_id", ack.MessageID),
		zap.String("exchange", ack.Exchange),
		zap.String("routing_key", ack.RoutingKey),
		zap.String("category", v.Category().String()),
		zap.Int("channels", len(v.Channels())),
		zap.Int("target_users", len(v.TargetUsers())))

	return Receipt{
		MessageID:   ack.MessageID,
		Exchange:    ack.Exchange,
		RoutingKey:  ack.RoutingKey,
		PublishedAt: ack.PublishedAt,
	}, nil
}

// Ready reports whether the gateway can currently publish. Gateways that do
// not report readiness are assumed ready.
func (s *Service) Ready() bool {
	if r, ok := s.pub.(interface{ Ready() bool }); ok {
		return r.Ready()
	}
	return true
}

// SampleEnvelope is the fixed smoke-test notification served by POST /publish.
func SampleEnvelope() model.Envelope {
	return model.Envelope{
		Title:    "Test Notification",
		Body:     "Test Notification Content",
		Type:     model.TypeGroup,
		Category: model.CategoryUpdate,
		Channels: []model.Channel{model.ChannelEmail},
		TargetUsers: []string{
			"g1623g6-12g31g-123g-123g-123g123g",
			"g1623g6-12g31g-123g-123g-123g123g",
		},
	}
}

// typeLabel keeps label cardinality bounded for unknown input.
func typeLabel(t model.NotificationType) string {
	if !t.Valid() {
		return "unknown"
	}
	return strings.ToLower(t.String())
}
