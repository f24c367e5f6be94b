package worker

import (
	"context"
	"errors"
	"slices"

	"github.com/jmehdipour/notify-gateway/internal/broker"
	"github.com/jmehdipour/notify-gateway/internal/codec"
	"github.com/jmehdipour/notify-gateway/internal/metrics"
	"github.com/jmehdipour/notify-gateway/internal/model"
	"go.uber.org/zap"
)

const (
	outcomeMatched = "matched"
	outcomeSkipped = "skipped"
	outcomePoison  = "poison"
)

// Received is one decoded envelope that passed the tail filters.
type Received struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Envelope   model.ValidEnvelope
}

// Tail:
// - subscribes to an exchange with a topic pattern,
// - decodes every delivery (poison payloads are logged and skipped),
// - keeps envelopes addressed to the wanted channels/categories.
//
// It stands in for a channel worker when checking what the gateway routes.
type Tail struct {
	Sub      broker.Subscriber
	Exchange string
	Pattern  string

	// Behavior
	Channels   []model.Channel  // empty = any
	Categories []model.Category // empty = any
	Handle     func(Received)   // default logs the envelope
	Log        *zap.Logger
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Tail) Run(ctx context.Context) error {
	if w.Sub == nil {
		return errors.New("tail: nil subscriber")
	}
	if w.Exchange == "" || w.Pattern == "" {
		return errors.New("tail: exchange and pattern are required")
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}
	if w.Handle == nil {
		w.Handle = w.logReceived
	}

	w.Log.Info("tail started",
		zap.String("exchange", w.Exchange),
		zap.String("pattern", w.Pattern),
		zap.Int("channels", len(w.Channels)),
		zap.Int("categories", len(w.Categories)))

	err := w.Sub.Subscribe(ctx, w.Exchange, w.Pattern, w.process)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (w *Tail) process(d broker.Delivery) error {
	v, err := codec.Decode(d.Body)
	if err != nil {
		// poison -> skip, the subscription keeps going
		metrics.ConsumedTotal.WithLabelValues(outcomePoison).Inc()
		w.Log.Warn("tail: bad envelope",
			zap.String("routing_key", d.RoutingKey),
			zap.String("message_id", d.MessageID),
			zap.Error(err))
		return nil
	}

	if !w.wants(v) {
		metrics.ConsumedTotal.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}

	metrics.ConsumedTotal.WithLabelValues(outcomeMatched).Inc()
	w.Handle(Received{
		Exchange:   d.Exchange,
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageID,
		Envelope:   v,
	})
	return nil
}

func (w *Tail) wants(v model.ValidEnvelope) bool {
	if len(w.Categories) > 0 && !slices.Contains(w.Categories, v.Category()) {
		return false
	}
	if len(w.Channels) == 0 {
		return true
	}
	return slices.ContainsFunc(w.Channels, v.HasChannel)
}

func (w *Tail) logReceived(r Received) {
	v := r.Envelope
	w.Log.Info("notification",
		zap.String("routing_key", r.RoutingKey),
		zap.String("message_id", r.MessageID),
		zap.String("type", v.Type().String()),
		zap.String("category", v.Category().String()),
		zap.Stringers("channels", v.Channels()),
		zap.Strings("target_users", v.TargetUsers()),
		zap.String("title", v.Title()))
}
