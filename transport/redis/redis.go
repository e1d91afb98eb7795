// Package redis implements the transport contract on Redis Streams. Topics
// are streams, durable subscriptions are consumer groups, and the BUSYGROUP
// reply from XGROUP CREATE is the native already-exists conflict signal the
// session's idempotent acquisition path relies on.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/jmona/pubsession/credentials"
	"github.com/jmona/pubsession/internal/satoken"
	"github.com/jmona/pubsession/transport"
)

// Audience names this transport's authorization surface in assertions.
const Audience = "pubsession/redis"

// Config contains configuration options for the Redis transport. Defaults
// can be loaded from the environment via NewFromEnv.
type Config struct {
	// Client is the Redis client to use. If nil, one is created from
	// RedisAddr and owned (and closed) by the transport's connections.
	Client redis.UniversalClient

	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix is prepended to all keys. ENV: PUBSESSION_KEY_PREFIX
	KeyPrefix string `env:"PUBSESSION_KEY_PREFIX,default=pubsession:"`
	// PullBlock bounds how long a blocking pull waits. ENV: PUBSESSION_PULL_BLOCK
	PullBlock time.Duration `env:"PUBSESSION_PULL_BLOCK,default=30s"`
}

// Transport implements transport.Transport backed by Redis Streams.
type Transport struct {
	client     redis.UniversalClient
	ownsClient bool
	keyPrefix  string
	pullBlock  time.Duration
}

// New creates a Redis transport from cfg.
func New(cfg Config) *Transport {
	client := cfg.Client
	owns := false
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
		owns = true
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pubsession:"
	}
	block := cfg.PullBlock
	if block <= 0 {
		block = 30 * time.Second
	}
	return &Transport{client: client, ownsClient: owns, keyPrefix: prefix, pullBlock: block}
}

// NewFromEnv builds a Transport using envdecode to populate Config.
func NewFromEnv() *Transport {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (t *Transport) topicKey(topic string) string { return t.keyPrefix + "topic:" + topic }
func (t *Transport) subsKey() string              { return t.keyPrefix + "subs" }

// Authorize validates the account's key material and scope set, then proves
// the Redis backend is reachable with a ping.
func (t *Transport) Authorize(ctx context.Context, account *credentials.ServiceAccount, projectID string, scopes []string) (transport.Conn, error) {
	if account == nil {
		return nil, errors.New("redis: account is required")
	}
	if projectID == "" {
		return nil, errors.New("redis: project id is required")
	}
	assertion, err := account.SignedAssertion(Audience, scopes, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("redis: sign assertion: %w", err)
	}
	cfg := satoken.DefaultConfig(Audience)
	cfg.RequiredScopes = scopes
	if _, err := satoken.Verify(assertion, account.PublicKey(), cfg); err != nil {
		return nil, fmt.Errorf("redis: verify assertion: %w", err)
	}
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &conn{t: t}, nil
}

type conn struct {
	t *Transport
}

func (c *conn) CreateSubscription(ctx context.Context, name, topic string) transport.CreateResult {
	set, err := c.t.client.HSetNX(ctx, c.t.subsKey(), name, topic).Result()
	if err != nil {
		return transport.CreateResult{Status: transport.StatusFailed, Err: fmt.Errorf("register subscription %s: %w", name, err)}
	}
	if !set {
		return transport.CreateResult{Status: transport.StatusAlreadyExists}
	}

	err = c.t.client.XGroupCreateMkStream(ctx, c.t.topicKey(topic), name, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return transport.CreateResult{Status: transport.StatusAlreadyExists}
		}
		// Roll back the registry entry so a retry can attempt creation again.
		c.t.client.HDel(ctx, c.t.subsKey(), name)
		return transport.CreateResult{Status: transport.StatusFailed, Err: fmt.Errorf("create group %s on %s: %w", name, topic, err)}
	}

	return transport.CreateResult{Status: transport.StatusCreated, Subscription: c.subscription(name, topic)}
}

func (c *conn) LookupSubscription(ctx context.Context, name string) (transport.Subscription, error) {
	topic, err := c.t.client.HGet(ctx, c.t.subsKey(), name).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("redis: unknown subscription %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: lookup subscription %s: %w", name, err)
	}
	return c.subscription(name, topic), nil
}

func (c *conn) subscription(name, topic string) *subscription {
	// The consumer name matches the group: one logical consumer per durable
	// subscription, so entries pulled but never acknowledged before a crash
	// are redelivered to the relaunched client.
	return &subscription{
		client:    c.t.client,
		stream:    c.t.topicKey(topic),
		group:     name,
		consumer:  name,
		pullBlock: c.t.pullBlock,
	}
}

func (c *conn) Publish(ctx context.Context, topic string, data []byte) error {
	err := c.t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.t.topicKey(topic),
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", topic, err)
	}
	return nil
}

func (c *conn) DeleteSubscription(ctx context.Context, name string) error {
	topic, err := c.t.client.HGet(ctx, c.t.subsKey(), name).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis: delete subscription %s: %w", name, err)
	}
	if err := c.t.client.XGroupDestroy(ctx, c.t.topicKey(topic), name).Err(); err != nil {
		return fmt.Errorf("redis: destroy group %s: %w", name, err)
	}
	if err := c.t.client.HDel(ctx, c.t.subsKey(), name).Err(); err != nil {
		return fmt.Errorf("redis: deregister subscription %s: %w", name, err)
	}
	return nil
}

// Close releases the client when the transport created it. Injected clients
// are owned by the caller and left open.
func (c *conn) Close() error {
	if c.t.ownsClient {
		return c.t.client.Close()
	}
	return nil
}

type subscription struct {
	client    redis.UniversalClient
	stream    string
	group     string
	consumer  string
	pullBlock time.Duration
}

// Pull fetches one entry via XREADGROUP. Entries this consumer pulled but
// never acknowledged are redelivered first (read from "0"); only then is new
// stream data (">") consumed, blocking up to the configured budget when wait
// is set.
func (s *subscription) Pull(ctx context.Context, wait bool) (*transport.Envelope, error) {
	if env, err := s.read(ctx, "0", -1); err != nil || env != nil {
		return env, err
	}
	block := time.Duration(-1)
	if wait {
		block = s.pullBlock
	}
	return s.read(ctx, ">", block)
}

func (s *subscription) read(ctx context.Context, id string, block time.Duration) (*transport.Envelope, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", s.stream, err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			data, _ := msg.Values["data"].(string)
			return &transport.Envelope{
				ID:   msg.ID,
				Data: []byte(data),
				Ack:  s.ackFunc(msg.ID),
			}, nil
		}
	}
	return nil, nil
}

func (s *subscription) ackFunc(id string) transport.AckFunc {
	return func(ctx context.Context) error {
		if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
			return fmt.Errorf("redis: ack %s: %w", id, err)
		}
		return nil
	}
}

// Compile-time interface checks
var (
	_ transport.Transport    = (*Transport)(nil)
	_ transport.Conn         = (*conn)(nil)
	_ transport.Subscription = (*subscription)(nil)
)
