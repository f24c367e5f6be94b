package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis publishes the raw payload on pub/sub channel <exchange>.<routing key>.
// Pub/sub carries no headers, so deliveries have no message id.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

var _ Client = (*Redis)(nil)

// NewRedis wraps an existing client; the caller keeps ownership of rdb.
func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

func (r *Redis) Driver() string { return DriverRedis }

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	if err := r.rdb.Publish(ctx, subject(msg.Exchange, msg.RoutingKey), msg.Body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", classifyRedis(err))
	}
	return nil
}

// Subscribe pattern-subscribes to <exchange>.* (redis globs cross dots) and
// filters with the topic pattern.
func (r *Redis) Subscribe(ctx context.Context, exchange, pattern string, fn func(Delivery) error) error {
	prefix := exchange + "."
	ps := r.rdb.PSubscribe(ctx, prefix+"*")
	defer func() { _ = ps.Close() }()

	// wait for the subscription confirmation so errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis psubscribe: %w", classifyRedis(err))
	}
	r.log.Info("redis subscribed", zap.String("channel", prefix+"*"), zap.String("pattern", pattern))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed: %w", ErrUnreachable)
			}
			key := strings.TrimPrefix(m.Channel, prefix)
			if !routing.Match(pattern, key) {
				continue
			}
			if err := fn(Delivery{Exchange: exchange, RoutingKey: key, Body: []byte(m.Payload)}); err != nil {
				return err
			}
		}
	}
}

// Close is a no-op: the redis client is shared with the rate limiter and
// closed by its owner.
func (r *Redis) Close() error { return nil }

func classifyRedis(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, redis.ErrClosed), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled), errors.As(err, &ne):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	default:
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
}
