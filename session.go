package pubsession

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmona/pubsession/credentials"
	"github.com/jmona/pubsession/internal/logctx"
	"github.com/jmona/pubsession/transport"
)

// State is the derived lifecycle position of a session. It is never stored;
// State() recomputes it from the underlying flags on every call.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateClosed        State = "closed"
)

// defaultScopes is the scope set requested during authorization. The session
// both publishes and consumes, so it needs the full pair.
var defaultScopes = []string{transport.ScopePublish, transport.ScopeConsume}

// Session owns one client identity's relationship with the messaging
// service: the authorized connection, the durable subscription named after
// the identity, and the ready gate every delivery operation checks.
//
// A Session is not safe for concurrent use. Callers must serialize
// operations or provide their own synchronization; there is no internal
// locking around the lifecycle flags.
type Session struct {
	identity string
	tr       transport.Transport
	log      *slog.Logger
	codec    Codec
	scopes   []string

	authenticated bool
	initialized   bool
	closed        bool

	topic string
	conn  transport.Conn
	sub   transport.Subscription
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger sets the logger used by session operations. Defaults to slog's
// default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithCodec overrides the wire codec used by Receive and Send. Defaults to
// JSONCodec.
func WithCodec(c Codec) Option {
	return func(s *Session) { s.codec = c }
}

// New constructs an unauthenticated session for the given client identity.
// The identity doubles as the durable subscription name, so a restarting
// client with the same identity reattaches to its prior subscription.
func New(identity string, tr transport.Transport, opts ...Option) *Session {
	s := &Session{
		identity: identity,
		tr:       tr,
		log:      slog.Default(),
		codec:    JSONCodec,
		scopes:   defaultScopes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the client identity this session was constructed with.
func (s *Session) Identity() string { return s.identity }

// Topic returns the bound topic name, empty before initialization.
func (s *Session) Topic() string { return s.topic }

// Ready reports whether the session is fully initialized. It is derived from
// the authentication and subscription flags; nothing sets it directly.
func (s *Session) Ready() bool { return s.authenticated && s.initialized }

// State derives the lifecycle state from the session flags.
func (s *Session) State() State {
	switch {
	case s.closed:
		return StateClosed
	case s.Ready():
		return StateReady
	case s.authenticated:
		return StateAuthenticated
	default:
		return StateUninitialized
	}
}

// InitializeFromFile reads service-account credentials from path and
// initializes the session with them. The path is validated before any I/O.
func (s *Session) InitializeFromFile(ctx context.Context, path, projectID, topic string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("%w: credentials path is required", ErrConfiguration)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("%w: read credentials %s: %v", ErrConfiguration, path, err)
	}
	return s.Initialize(ctx, raw, projectID, topic)
}

// Initialize authenticates the session and binds its durable subscription.
//
// The two stages are strictly sequential: the subscription call needs the
// authorized connection. Acquisition is idempotent across restarts — a
// create that reports the subscription already exists falls back to looking
// up the prior one. On a non-conflict subscription failure the session is
// left authenticated but not ready.
//
// Returns the resulting Ready() value.
func (s *Session) Initialize(ctx context.Context, rawCredentials []byte, projectID, topic string) (bool, error) {
	if s.closed {
		return false, fmt.Errorf("%w: session is closed", ErrConfiguration)
	}
	if s.Ready() {
		return false, fmt.Errorf("%w: session already initialized; close it first", ErrConfiguration)
	}
	if projectID == "" {
		return false, fmt.Errorf("%w: project id is required", ErrConfiguration)
	}
	if topic == "" {
		return false, fmt.Errorf("%w: topic is required", ErrConfiguration)
	}

	ctx = s.logCtx(ctx, topic)

	account, err := credentials.Parse(rawCredentials)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	conn, err := s.tr.Authorize(ctx, account, projectID, s.scopes)
	if err != nil {
		return false, fmt.Errorf("%w: authorize: %v", ErrAuthentication, err)
	}
	if s.conn != nil {
		// Retry after a failed acquisition: drop the prior connection.
		_ = s.conn.Close()
	}
	s.conn = conn
	s.authenticated = true
	s.log.DebugContext(ctx, "transport authorized", slog.String("project_id", projectID))

	res := conn.CreateSubscription(ctx, s.identity, topic)
	switch res.Status {
	case transport.StatusCreated:
		s.sub = res.Subscription
	case transport.StatusAlreadyExists:
		// Same identity restarting: the prior subscription is still there.
		sub, err := conn.LookupSubscription(ctx, s.identity)
		if err != nil {
			return false, fmt.Errorf("%w: lookup after conflict: %v", ErrSubscription, err)
		}
		s.sub = sub
		s.log.DebugContext(ctx, "reattached to existing subscription")
	default:
		return false, fmt.Errorf("%w: create: %v", ErrSubscription, res.Err)
	}

	s.topic = topic
	s.initialized = true
	s.log.InfoContext(ctx, "session ready")
	return s.Ready(), nil
}

func (s *Session) logCtx(ctx context.Context, topic string) context.Context {
	if topic == "" {
		topic = s.topic
	}
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		Identity: s.identity,
		Topic:    topic,
		State:    string(s.State()),
	})
}
