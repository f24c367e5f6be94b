package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmehdipour/notify-gateway/internal/config"
	"github.com/jmehdipour/notify-gateway/internal/routing"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerRoutingKey  = "routing_key"
	headerMessageID   = "message_id"
	headerContentType = "content_type"
)

// Kafka maps the exchange onto a topic. The routing key becomes the message
// key (so one audience type stays on one partition) and a header; topic
// pattern matching happens on the consumer side.
type Kafka struct {
	w   *kafka.Writer
	cfg config.KafkaConfig
	log *zap.Logger
}

var _ Client = (*Kafka)(nil)

func NewKafka(exchange string, cfg config.KafkaConfig, log *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured: %w", ErrUnreachable)
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	acks := kafka.RequireOne
	if cfg.RequireAllAcks {
		acks = kafka.RequireAll
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  exchange,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           acks,
		MaxAttempts:            attempts,
		WriteTimeout:           cfg.WriteTimeout,
		BatchSize:              1,
		AllowAutoTopicCreation: cfg.AutoCreateTopic,
	}

	log.Info("kafka writer ready", zap.Strings("brokers", cfg.Brokers), zap.String("topic", exchange))
	return &Kafka{w: w, cfg: cfg, log: log}, nil
}

func (k *Kafka) Driver() string { return DriverKafka }

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	if msg.Exchange != k.w.Topic {
		return fmt.Errorf("kafka: writer bound to topic %q, got %q: %w", k.w.Topic, msg.Exchange, ErrExchangeNotFound)
	}
	err := k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.RoutingKey),
		Value: msg.Body,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte(msg.RoutingKey)},
			{Key: headerMessageID, Value: []byte(msg.MessageID)},
			{Key: headerContentType, Value: []byte(msg.ContentType)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", classifyKafka(err))
	}
	return nil
}

// Subscribe reads the topic with a consumer group and hands over messages
// whose routing key matches pattern. Non-matching messages are committed.
func (k *Kafka) Subscribe(ctx context.Context, exchange, pattern string, fn func(Delivery) error) error {
	c := newConsumer(consumerConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          exchange,
		GroupID:        k.cfg.GroupID,
		MinBytes:       k.cfg.MinBytes,
		MaxBytes:       k.cfg.MaxBytes,
		CommitInterval: k.cfg.CommitInterval,
	})
	defer func() { _ = c.Close() }()

	k.log.Info("kafka subscribed", zap.String("topic", exchange), zap.String("pattern", pattern), zap.String("group", k.cfg.GroupID))

	for {
		m, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", classifyKafka(err))
		}

		d := kafkaDelivery(m)
		if routing.Match(pattern, d.RoutingKey) {
			if err := fn(d); err != nil {
				return err
			}
		}
		if err := c.Commit(ctx, m); err != nil && ctx.Err() == nil {
			return fmt.Errorf("kafka commit: %w", classifyKafka(err))
		}
	}
}

func (k *Kafka) Close() error { return k.w.Close() }

func kafkaDelivery(m kafka.Message) Delivery {
	d := Delivery{Exchange: m.Topic, RoutingKey: string(m.Key), Body: m.Value}
	for _, h := range m.Headers {
		switch h.Key {
		case headerRoutingKey:
			d.RoutingKey = string(h.Value)
		case headerMessageID:
			d.MessageID = string(h.Value)
		}
	}
	return d
}

// classifyKafka maps kafka-go errors onto the broker sentinels.
func classifyKafka(err error) error {
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil {
				return classifyKafka(e)
			}
		}
	}

	switch {
	case errors.Is(err, kafka.UnknownTopicOrPartition), errors.Is(err, kafka.InvalidTopic):
		return fmt.Errorf("%w: %w", ErrExchangeNotFound, err)
	case errors.Is(err, kafka.LeaderNotAvailable), errors.Is(err, kafka.NotLeaderForPartition),
		errors.Is(err, kafka.RequestTimedOut), errors.Is(err, kafka.BrokerNotAvailable),
		errors.Is(err, kafka.NetworkException), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	// kafka.Error also satisfies net.Error, so protocol errors go first
	var ke kafka.Error
	if errors.As(err, &ke) {
		if ke.Temporary() {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

type consumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // default 1s (0 = sync each msg)
	MaxWait        time.Duration // default 50ms
}

// consumer is a thin wrapper around segmentio/kafka-go Reader.
type consumer struct {
	r *kafka.Reader
}

func newConsumer(c consumerConfig) *consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	ci := c.CommitInterval
	if ci <= 0 {
		ci = time.Second
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}
	group := c.GroupID
	if group == "" {
		group = "notifygw-tail"
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        group,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: ci,
		MaxWait:        mw,
	})

	return &consumer{r: r}
}

func (c *consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *consumer) Commit(ctx context.Context, m kafka.Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *consumer) Close() error { return c.r.Close() }
