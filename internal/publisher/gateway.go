package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/jmehdipour/notify-gateway/internal/codec"
	"github.com/jmehdipour/notify-gateway/internal/metrics"
	"github.com/jmehdipour/notify-gateway/internal/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/jmehdipour/notify-gateway/internal/publisher"

// Kind classifies a failed publish.
type Kind string

const (
	KindUnreachable     Kind = "unreachable"
	KindExchangeMissing Kind = "exchange_missing"
	KindRejected        Kind = "rejected"
)

const outcomeOK = "ok"

var (
	ErrCircuitOpen     = errors.New("circuit open")
	ErrEmptyRoutingKey = errors.New("empty routing key")
)

// PublishError is returned for every failed hand-off.
type PublishError struct {
	Kind       Kind
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to %q: %s: %v", e.RoutingKey, e.Exchange, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// KindOf returns the kind of a *PublishError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// Ack confirms the broker accepted a message for routing.
type Ack struct {
	Exchange    string
	RoutingKey  string
	MessageID   string
	PublishedAt time.Time
}

// Gateway hands encoded envelopes to one exchange. It never retries: a
// returned error means the message was not accepted, an Ack means it was
// accepted exactly once from the gateway's point of view.
type Gateway struct {
	pub      broker.Publisher
	exchange string
	driver   string
	breaker  *Breaker
	log      *zap.Logger
	now      func() time.Time
	newID    func(time.Time) string
	tracer   trace.Tracer
}

type Option func(*Gateway)

// WithBreaker fails publishes fast while the broker keeps being unreachable.
func WithBreaker(b *Breaker) Option { return func(g *Gateway) { g.breaker = b } }

func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.log = l } }

func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

func WithIDs(fn func(time.Time) string) Option { return func(g *Gateway) { g.newID = fn } }

func WithTracer(t trace.Tracer) Option { return func(g *Gateway) { g.tracer = t } }

func New(pub broker.Publisher, exchange string, opts ...Option) (*Gateway, error) {
	if pub == nil {
		return nil, errors.New("publisher: nil broker")
	}
	if exchange == "" {
		return nil, errors.New("publisher: empty exchange")
	}

	g := &Gateway{
		pub:      pub,
		exchange: exchange,
		driver:   "unknown",
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    util.NewIDAt,
		tracer:   otel.Tracer(tracerName),
	}
	if d, ok := pub.(interface{ Driver() string }); ok {
		g.driver = d.Driver()
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Gateway) Exchange() string { return g.exchange }

func (g *Gateway) Driver() string { return g.driver }

// Ready reports whether a publish would be attempted right now: the breaker
// is not refusing and the transport, when it tracks its connection, is up.
func (g *Gateway) Ready() bool {
	if g.breaker != nil && g.breaker.Open() {
		return false
	}
	if c, ok := g.pub.(interface{ IsConnected() bool }); ok {
		return c.IsConnected()
	}
	return true
}

func (g *Gateway) Publish(ctx context.Context, routingKey string, payload []byte) (Ack, error) {
	if routingKey == "" {
		return Ack{}, g.fail(KindRejected, routingKey, ErrEmptyRoutingKey)
	}
	if g.breaker != nil && !g.breaker.TryAcquire() {
		metrics.PublishDuration.WithLabelValues(g.driver, string(KindUnreachable)).Observe(0)
		return Ack{}, g.fail(KindUnreachable, routingKey, ErrCircuitOpen)
	}

	now := g.now().UTC()
	msg := broker.Message{
		Exchange:    g.exchange,
		RoutingKey:  routingKey,
		MessageID:   g.newID(now),
		ContentType: codec.ContentType,
		Timestamp:   now,
		Body:        payload,
	}

	ctx, span := g.tracer.Start(ctx, "publisher.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", g.driver),
			attribute.String("messaging.destination.name", g.exchange),
			attribute.String("messaging.routing_key", routingKey),
			attribute.String("messaging.message.id", msg.MessageID),
			attribute.Int("messaging.message.body.size", len(payload)),
		))
	defer span.End()

	start := time.Now()
	err := g.pub.Publish(ctx, msg)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		kind := classify(err)
		if g.breaker != nil {
			switch {
			case ctx.Err() != nil:
				// the caller gave up; says nothing about the broker
				g.breaker.Release()
			case errors.Is(err, broker.ErrUnreachable):
				g.breaker.OnFailure()
			default:
				g.breaker.OnSuccess()
			}
		}
		metrics.PublishDuration.WithLabelValues(g.driver, string(kind)).Observe(elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		g.log.Warn("publish failed",
			zap.String("exchange", g.exchange),
			zap.String("routing_key", routingKey),
			zap.String("message_id", msg.MessageID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return Ack{}, g.fail(kind, routingKey, err)
	}

	if g.breaker != nil {
		g.breaker.OnSuccess()
	}
	metrics.PublishDuration.WithLabelValues(g.driver, outcomeOK).Observe(elapsed)
	span.SetStatus(codes.Ok, "")
	g.log.Debug("published",
		zap.String("exchange", g.exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", msg.MessageID))

	return Ack{
		Exchange:    g.exchange,
		RoutingKey:  routingKey,
		MessageID:   msg.MessageID,
		PublishedAt: now,
	}, nil
}

func (g *Gateway) fail(kind Kind, routingKey string, err error) *PublishError {
	return &PublishError{Kind: kind, Exchange: g.exchange, RoutingKey: routingKey, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, broker.ErrExchangeNotFound):
		return KindExchangeMissing
	case errors.Is(err, broker.ErrUnreachable), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindUnreachable
	default:
		return KindRejected
	}
}
