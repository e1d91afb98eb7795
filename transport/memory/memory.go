// Package memory provides an in-process implementation of the transport
// contract. Subscriptions are plain queues with at-least-once semantics:
// a pulled entry stays at the head of its queue until acknowledged, so an
// unacked pull is redelivered by the next one. Suitable for tests and
// single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmona/pubsession/credentials"
	"github.com/jmona/pubsession/internal/satoken"
	"github.com/jmona/pubsession/transport"
)

// Audience names this transport's authorization surface in assertions.
const Audience = "pubsession/local"

// Config contains configuration options for the memory transport.
type Config struct {
	// PullBlock bounds how long a blocking Pull waits for an entry.
	// Defaults to 5s if zero.
	PullBlock time.Duration
}

// Transport implements transport.Transport with in-process state.
type Transport struct {
	mu        sync.Mutex
	subs      map[string]*subscription
	pullBlock time.Duration
}

// New creates a new memory transport.
func New(cfg Config) *Transport {
	block := cfg.PullBlock
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Transport{
		subs:      make(map[string]*subscription),
		pullBlock: block,
	}
}

// Authorize validates the account by minting a self-signed assertion and
// verifying it against the account's public key and the requested scopes.
// There is no remote authorization server in-process; the round trip proves
// the key material is usable and the scope set is well formed.
func (t *Transport) Authorize(ctx context.Context, account *credentials.ServiceAccount, projectID string, scopes []string) (transport.Conn, error) {
	if account == nil {
		return nil, errors.New("memory: account is required")
	}
	if projectID == "" {
		return nil, errors.New("memory: project id is required")
	}
	assertion, err := account.SignedAssertion(Audience, scopes, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("memory: sign assertion: %w", err)
	}
	cfg := satoken.DefaultConfig(Audience)
	cfg.RequiredScopes = scopes
	if _, err := satoken.Verify(assertion, account.PublicKey(), cfg); err != nil {
		return nil, fmt.Errorf("memory: verify assertion: %w", err)
	}
	return &conn{t: t}, nil
}

type entry struct {
	id   string
	data []byte
}

type subscription struct {
	t     *Transport
	topic string

	mu      sync.Mutex
	queue   []entry
	arrival chan struct{}
	deleted bool
}

type conn struct {
	t      *Transport
	closed atomic.Bool
}

func (c *conn) CreateSubscription(ctx context.Context, name, topic string) transport.CreateResult {
	if c.closed.Load() {
		return transport.CreateResult{Status: transport.StatusFailed, Err: errors.New("memory: connection closed")}
	}
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if _, exists := c.t.subs[name]; exists {
		return transport.CreateResult{Status: transport.StatusAlreadyExists}
	}
	sub := &subscription{
		t:       c.t,
		topic:   topic,
		arrival: make(chan struct{}, 1),
	}
	c.t.subs[name] = sub
	return transport.CreateResult{Status: transport.StatusCreated, Subscription: sub}
}

func (c *conn) LookupSubscription(ctx context.Context, name string) (transport.Subscription, error) {
	if c.closed.Load() {
		return nil, errors.New("memory: connection closed")
	}
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	sub, ok := c.t.subs[name]
	if !ok {
		return nil, fmt.Errorf("memory: unknown subscription %q", name)
	}
	return sub, nil
}

func (c *conn) Publish(ctx context.Context, topic string, data []byte) error {
	if c.closed.Load() {
		return errors.New("memory: connection closed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e := entry{id: uuid.NewString(), data: append([]byte(nil), data...)}

	c.t.mu.Lock()
	targets := make([]*subscription, 0, len(c.t.subs))
	for _, sub := range c.t.subs {
		if sub.topic == topic {
			targets = append(targets, sub)
		}
	}
	c.t.mu.Unlock()

	for _, sub := range targets {
		sub.mu.Lock()
		if !sub.deleted {
			sub.queue = append(sub.queue, e)
		}
		sub.mu.Unlock()
		select {
		case sub.arrival <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *conn) DeleteSubscription(ctx context.Context, name string) error {
	if c.closed.Load() {
		return errors.New("memory: connection closed")
	}
	c.t.mu.Lock()
	sub, ok := c.t.subs[name]
	if ok {
		delete(c.t.subs, name)
	}
	c.t.mu.Unlock()
	if !ok {
		return nil
	}
	sub.mu.Lock()
	sub.deleted = true
	sub.queue = nil
	sub.mu.Unlock()
	select {
	case sub.arrival <- struct{}{}:
	default:
	}
	return nil
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}

// Pull returns the head of the queue without removing it; removal happens on
// Ack. Pulling again before acknowledging redelivers the same entry.
func (s *subscription) Pull(ctx context.Context, wait bool) (*transport.Envelope, error) {
	deadline := time.NewTimer(s.t.pullBlock)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if s.deleted {
			s.mu.Unlock()
			return nil, errors.New("memory: subscription deleted")
		}
		if len(s.queue) > 0 {
			head := s.queue[0]
			s.mu.Unlock()
			return &transport.Envelope{
				ID:   head.id,
				Data: append([]byte(nil), head.data...),
				Ack:  s.ackFunc(head.id),
			}, nil
		}
		s.mu.Unlock()

		if !wait {
			return nil, nil
		}
		select {
		case <-s.arrival:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *subscription) ackFunc(id string) transport.AckFunc {
	return func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.queue {
			if e.id == id {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				return nil
			}
		}
		// Already acknowledged; treat as a no-op.
		return nil
	}
}

// Compile-time interface checks
var (
	_ transport.Transport    = (*Transport)(nil)
	_ transport.Conn         = (*conn)(nil)
	_ transport.Subscription = (*subscription)(nil)
)
