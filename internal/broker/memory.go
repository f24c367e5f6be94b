package broker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jmehdipour/notify-gateway/internal/routing"
)

// Memory is an in-process topic exchange. It backs tests and --dry-run.
type Memory struct {
	mu        sync.Mutex
	exchanges map[string]bool
	published []Message
	subs      map[int]memorySub
	nextSub   int
	failWith  error
	closed    bool
}

type memorySub struct {
	exchange string
	pattern  string
	ch       chan Delivery
}

var _ Client = (*Memory)(nil)

// NewMemory returns a memory broker with the given exchanges declared.
func NewMemory(exchanges ...string) *Memory {
	m := &Memory{exchanges: make(map[string]bool), subs: make(map[int]memorySub)}
	for _, e := range exchanges {
		m.exchanges[e] = true
	}
	return m
}

func (m *Memory) Driver() string { return DriverMemory }

// Declare adds an exchange.
func (m *Memory) Declare(exchange string) {
	m.mu.Lock()
	m.exchanges[exchange] = true
	m.mu.Unlock()
}

// FailWith makes every following Publish return err (nil restores).
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Published returns a copy of every accepted message, in order.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.published)
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory publish: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("memory publish: closed: %w", ErrUnreachable)
	case m.failWith != nil:
		return m.failWith
	case !m.exchanges[msg.Exchange]:
		return fmt.Errorf("memory publish to %q: %w", msg.Exchange, ErrExchangeNotFound)
	}

	msg.Body = slices.Clone(msg.Body)
	m.published = append(m.published, msg)

	for _, s := range m.subs {
		if s.exchange != msg.Exchange || !routing.Match(s.pattern, msg.RoutingKey) {
			continue
		}
		d := Delivery{Exchange: msg.Exchange, RoutingKey: msg.RoutingKey, MessageID: msg.MessageID, Body: msg.Body}
		select {
		case s.ch <- d:
		default:
			// slow subscriber: drop, like a full non-durable queue
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, exchange, pattern string, fn func(Delivery) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("memory subscribe: closed: %w", ErrUnreachable)
	}
	if !m.exchanges[exchange] {
		m.mu.Unlock()
		return fmt.Errorf("memory subscribe to %q: %w", exchange, ErrExchangeNotFound)
	}
	id := m.nextSub
	m.nextSub++
	sub := memorySub{exchange: exchange, pattern: pattern, ch: make(chan Delivery, 256)}
	m.subs[id] = sub
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-sub.ch:
			if err := fn(d); err != nil {
				return err
			}
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
