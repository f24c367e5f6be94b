package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/config"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	natspkg "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS publishes on subject <exchange>.<routing key>. A publish counts as
// accepted once a flush round-trip to the server succeeds.
type NATS struct {
	nc           *natspkg.Conn
	flushTimeout time.Duration
	log          *zap.Logger
}

var _ Client = (*NATS)(nil)

func DialNATS(cfg config.NATSConfig, log *zap.Logger) (*NATS, error) {
	opts := []natspkg.Option{natspkg.Name(cfg.Name)}
	if cfg.Timeout > 0 {
		opts = append(opts, natspkg.Timeout(cfg.Timeout))
	}
	opts = append(opts,
		natspkg.DisconnectErrHandler(func(_ *natspkg.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		natspkg.ReconnectHandler(func(nc *natspkg.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)

	nc, err := natspkg.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", classifyNATS(err))
	}

	log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return &NATS{nc: nc, flushTimeout: cfg.FlushTimeout, log: log}, nil
}

func (n *NATS) Driver() string { return DriverNATS }

func (n *NATS) IsConnected() bool {
	return n.nc != nil && n.nc.Status() == natspkg.CONNECTED
}

func (n *NATS) Publish(ctx context.Context, msg Message) error {
	m := natspkg.NewMsg(subject(msg.Exchange, msg.RoutingKey))
	m.Data = msg.Body
	m.Header.Set(natspkg.MsgIdHdr, msg.MessageID)
	m.Header.Set("Content-Type", msg.ContentType)
	m.Header.Set("Routing-Key", msg.RoutingKey)

	if err := n.nc.PublishMsg(m); err != nil {
		return fmt.Errorf("nats publish: %w", classifyNATS(err))
	}

	flushCtx := ctx
	if n.flushTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, n.flushTimeout)
		defer cancel()
	}
	if err := n.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("nats flush: %w", classifyNATS(err))
	}
	return nil
}

// Subscribe listens on <exchange>.> and filters with the topic pattern, since
// NATS only allows its full wildcard as the last token.
func (n *NATS) Subscribe(ctx context.Context, exchange, pattern string, fn func(Delivery) error) error {
	errCh := make(chan error, 1)
	prefix := exchange + "."

	sub, err := n.nc.Subscribe(prefix+">", func(m *natspkg.Msg) {
		key := strings.TrimPrefix(m.Subject, prefix)
		if !routing.Match(pattern, key) {
			return
		}
		d := Delivery{Exchange: exchange, RoutingKey: key, Body: m.Data}
		if m.Header != nil {
			d.MessageID = m.Header.Get(natspkg.MsgIdHdr)
		}
		if err := fn(d); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", classifyNATS(err))
	}
	defer func() { _ = sub.Unsubscribe() }()

	n.log.Info("nats subscribed", zap.String("subject", prefix+">"), zap.String("pattern", pattern))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

func classifyNATS(err error) error {
	switch {
	case errors.Is(err, natspkg.ErrNoServers), errors.Is(err, natspkg.ErrConnectionClosed),
		errors.Is(err, natspkg.ErrConnectionDraining), errors.Is(err, natspkg.ErrTimeout),
		errors.Is(err, natspkg.ErrConnectionReconnecting), errors.Is(err, natspkg.ErrDisconnected),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case errors.Is(err, natspkg.ErrBadSubject):
		return fmt.Errorf("%w: %w", ErrExchangeNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
}
