package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DriverAMQP   = "amqp"
	DriverKafka  = "kafka"
	DriverNATS   = "nats"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

var (
	// ErrUnreachable means the broker could not be contacted or the
	// connection is gone.
	ErrUnreachable = errors.New("broker unreachable")
	// ErrExchangeNotFound means the target exchange (topic, subject space)
	// does not exist on the broker.
	ErrExchangeNotFound = errors.New("exchange not found")
	// ErrRejected means the broker or transport refused the message.
	ErrRejected = errors.New("message rejected by broker")
)

// Message is one publish request handed to a transport.
type Message struct {
	Exchange    string
	RoutingKey  string
	MessageID   string
	ContentType string
	Timestamp   time.Time
	Body        []byte
}

// Delivery is a message received by a subscriber.
type Delivery struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Body       []byte
}

// Publisher hands messages to a broker. Publish returns once the broker has
// accepted the message for routing. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages whose routing key matches a topic pattern
// ("*" one word, "#" zero or more). Subscribe blocks until ctx is done or
// the handler returns an error.
type Subscriber interface {
	Subscribe(ctx context.Context, exchange, pattern string, fn func(Delivery) error) error
}

// Client is a transport that can both publish and subscribe.
type Client interface {
	Publisher
	Subscriber
	Driver() string
}

// Open connects the driver selected in cfg. rdb is only used by the redis
// driver and may be nil otherwise.
func Open(ctx context.Context, cfg config.BrokerConfig, rdb *redis.Client, log *zap.Logger) (Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("broker: empty exchange name")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverAMQP, "rabbitmq":
		return DialAMQP(ctx, cfg.Exchange, cfg.AMQP, log)
	case DriverKafka:
		return NewKafka(cfg.Exchange, cfg.Kafka, log)
	case DriverNATS:
		return DialNATS(cfg.NATS, log)
	case DriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("broker: redis driver needs redis.addr: %w", ErrUnreachable)
		}
		return NewRedis(rdb, log), nil
	case DriverMemory:
		return NewMemory(cfg.Exchange), nil
	default:
		return nil, fmt.Errorf("broker: unknown driver %q", cfg.Driver)
	}
}

// subject joins exchange and routing key for transports with a single flat
// namespace (NATS subjects, Redis channels).
func subject(exchange, routingKey string) string {
	return exchange + "." + routingKey
}
