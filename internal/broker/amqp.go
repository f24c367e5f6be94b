package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeKindTopic = "topic"

// AMQP publishes to a RabbitMQ topic exchange with publisher confirms.
type AMQP struct {
	exchange string
	cfg      config.AMQPConfig
	log      *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	pub  *amqpChannel
}

// amqpChannel remembers why the server closed it so that a nack can be told
// apart from a missing exchange.
type amqpChannel struct {
	ch     *amqp.Channel
	closes chan *amqp.Error

	mu  sync.Mutex
	err *amqp.Error
}

func (c *amqpChannel) closeErr() *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		select {
		case e, ok := <-c.closes:
			if ok {
				c.err = e
			}
		default:
		}
	}
	return c.err
}

var _ Client = (*AMQP)(nil)

// DialAMQP connects to the broker and declares (or passively checks) the
// topic exchange.
func DialAMQP(ctx context.Context, exchange string, cfg config.AMQPConfig, log *zap.Logger) (*AMQP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := &AMQP{exchange: exchange, cfg: cfg, log: log}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.dial(); err != nil {
		return nil, err
	}
	if _, err := a.publishChannel(); err != nil {
		_ = a.conn.Close()
		return nil, err
	}

	log.Info("amqp connected",
		zap.String("exchange", exchange),
		zap.String("vhost", cfg.VirtualHost),
		zap.Bool("declared", cfg.DeclareExchange))
	return a, nil
}

func (a *AMQP) Driver() string { return DriverAMQP }

// dial must be called with a.mu held.
func (a *AMQP) dial() error {
	hb := a.cfg.Heartbeat
	if hb <= 0 {
		hb = 10 * time.Second
	}
	conn, err := amqp.DialConfig(a.cfg.URL, amqp.Config{
		Vhost:     a.cfg.VirtualHost,
		Heartbeat: hb,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", classifyAMQP(err))
	}
	a.conn = conn
	a.pub = nil
	return nil
}

// publishChannel returns an open confirm-mode channel, reconnecting when the
// connection or channel was closed. Must be called with a.mu held.
func (a *AMQP) publishChannel() (*amqpChannel, error) {
	if a.conn == nil || a.conn.IsClosed() {
		if err := a.dial(); err != nil {
			return nil, err
		}
	}
	if a.pub != nil && !a.pub.ch.IsClosed() {
		return a.pub, nil
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", classifyAMQP(err))
	}
	if err := a.ensureExchange(ch); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", classifyAMQP(err))
	}

	a.pub = &amqpChannel{ch: ch, closes: ch.NotifyClose(make(chan *amqp.Error, 1))}
	return a.pub, nil
}

func (a *AMQP) ensureExchange(ch *amqp.Channel) error {
	var err error
	if a.cfg.DeclareExchange {
		err = ch.ExchangeDeclare(a.exchange, exchangeKindTopic, a.cfg.Durable, false, false, false, nil)
	} else {
		err = ch.ExchangeDeclarePassive(a.exchange, exchangeKindTopic, a.cfg.Durable, false, false, false, nil)
	}
	if err != nil {
		return fmt.Errorf("amqp exchange %q: %w", a.exchange, classifyAMQP(err))
	}
	return nil
}

func (a *AMQP) Publish(ctx context.Context, msg Message) error {
	a.mu.Lock()
	pc, err := a.publishChannel()
	if err != nil {
		a.mu.Unlock()
		return err
	}
	conf, err := pc.ch.PublishWithDeferredConfirmWithContext(ctx, msg.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    msg.Timestamp,
		Type:         a.exchange,
		Body:         msg.Body,
	})
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("amqp publish: %w", classifyAMQP(err))
	}

	waitCtx := ctx
	if a.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
		defer cancel()
	}
	acked, err := conf.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", classifyAMQP(err))
	}
	if !acked {
		if ce := pc.closeErr(); ce != nil {
			return fmt.Errorf("amqp publish: %w", classifyAMQP(ce))
		}
		return fmt.Errorf("amqp publish: nacked: %w", ErrRejected)
	}
	return nil
}

// Subscribe binds a server-named exclusive queue to the exchange with pattern.
func (a *AMQP) Subscribe(ctx context.Context, exchange, pattern string, fn func(Delivery) error) error {
	a.mu.Lock()
	if a.conn == nil || a.conn.IsClosed() {
		if err := a.dial(); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	conn := a.conn
	a.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", classifyAMQP(err))
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("amqp queue declare: %w", classifyAMQP(err))
	}
	if err := ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
		return fmt.Errorf("amqp bind %s -> %s: %w", exchange, pattern, classifyAMQP(err))
	}
	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", classifyAMQP(err))
	}

	a.log.Info("amqp subscribed", zap.String("exchange", exchange), zap.String("pattern", pattern), zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp deliveries closed: %w", ErrUnreachable)
			}
			if err := fn(Delivery{Exchange: d.Exchange, RoutingKey: d.RoutingKey, MessageID: d.MessageId, Body: d.Body}); err != nil {
				_ = d.Nack(false, false)
				return err
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("amqp ack: %w", classifyAMQP(err))
			}
		}
	}
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub != nil {
		_ = a.pub.ch.Close()
		a.pub = nil
	}
	if a.conn == nil || a.conn.IsClosed() {
		return nil
	}
	return a.conn.Close()
}

// classifyAMQP maps client errors onto the broker sentinels.
func classifyAMQP(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, amqp.ErrClosed) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	var ae *amqp.Error
	if errors.As(err, &ae) {
		switch ae.Code {
		case amqp.NotFound:
			return fmt.Errorf("%w: %s", ErrExchangeNotFound, ae.Reason)
		case amqp.ConnectionForced, amqp.ChannelError, amqp.FrameError, amqp.InternalError:
			return fmt.Errorf("%w: %s", ErrUnreachable, ae.Reason)
		default:
			return fmt.Errorf("%w: %s", ErrRejected, ae.Reason)
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}
