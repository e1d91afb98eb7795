package pubsession

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Receive pulls at most one message from the session's subscription and
// decodes it. A nil message with a nil error means either the session is not
// ready or nothing was available — both are expected steady-state outcomes,
// not failures.
//
// With wait=true the pull blocks until an envelope arrives or the
// transport's own wait budget elapses; with wait=false it returns
// immediately.
//
// The envelope is acknowledged before decoding, so a payload the codec
// rejects is consumed and silently dropped rather than redelivered. Callers
// that cannot tolerate that loss should use ReceiveRaw and decode
// themselves.
func (s *Session) Receive(ctx context.Context, wait bool) (*Message, error) {
	data, err := s.pullAcked(ctx, wait)
	if err != nil || data == nil {
		return nil, err
	}
	msg, err := s.codec.Decode(data)
	if err != nil {
		// Already acked; the payload is gone either way.
		s.log.WarnContext(s.logCtx(ctx, ""), "dropping undecodable message",
			slog.String("error", err.Error()))
		return nil, nil
	}
	return msg, nil
}

// ReceiveRaw is Receive without the decoding step: it returns the
// acknowledged payload bytes as pulled. A nil slice with a nil error means
// not ready or nothing available.
func (s *Session) ReceiveRaw(ctx context.Context, wait bool) ([]byte, error) {
	return s.pullAcked(ctx, wait)
}

func (s *Session) pullAcked(ctx context.Context, wait bool) ([]byte, error) {
	if !s.Ready() {
		return nil, nil
	}
	ctx = s.logCtx(ctx, "")

	env, err := s.sub.Pull(ctx, wait)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	if env == nil {
		return nil, nil
	}
	if err := env.Ack(ctx); err != nil {
		return nil, fmt.Errorf("ack %s: %w", env.ID, err)
	}
	s.log.DebugContext(ctx, "envelope acknowledged", slog.String("envelope_id", env.ID))
	return env.Data, nil
}

// Send encodes msg and publishes it to the session's bound topic. A nil
// message with a nil error means the session is not ready and no publish was
// attempted. On success the input message is returned as the success signal;
// Send assigns msg.ID when it is empty.
func (s *Session) Send(ctx context.Context, msg *Message) (*Message, error) {
	if !s.Ready() {
		return nil, nil
	}
	ctx = s.logCtx(ctx, "")

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := s.codec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrPublish, err)
	}
	if err := s.conn.Publish(ctx, s.topic, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	s.log.DebugContext(ctx, "message published", slog.String("message_id", msg.ID))
	return msg, nil
}

// Close tears the session down. With unsubscribe=true the durable
// subscription is deleted first; the deletion is fire-and-forget and its
// failure is logged, not surfaced, since the caller cannot act on it
// post-close. The authorized connection is always released. Close is
// idempotent and leaves the session in its terminal, non-ready state.
func (s *Session) Close(ctx context.Context, unsubscribe bool) error {
	if s.closed {
		return nil
	}
	ctx = s.logCtx(ctx, "")

	var closeErr error
	if s.conn != nil {
		if unsubscribe && s.initialized {
			if err := s.conn.DeleteSubscription(ctx, s.identity); err != nil {
				s.log.WarnContext(ctx, "subscription delete failed",
					slog.String("error", err.Error()))
			}
		}
		closeErr = s.conn.Close()
	}

	s.sub = nil
	s.conn = nil
	s.initialized = false
	s.authenticated = false
	s.closed = true
	s.log.InfoContext(ctx, "session closed")

	if closeErr != nil {
		return fmt.Errorf("release connection: %w", closeErr)
	}
	return nil
}
