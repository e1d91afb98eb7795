// Package logctx enriches slog records with session data carried on the
// context. Session operations attach their identity/topic/state once and
// every log line emitted below them picks the attributes up through Handler.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends session attributes found on
// the record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("identity", sd.Identity),
			slog.String("topic", sd.Topic),
			slog.String("state", sd.State),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

// SessionData names the session an operation is running on behalf of.
type SessionData struct {
	Identity string
	Topic    string
	State    string
}

// WithSessionData attaches session data to the context for Handler to emit.
func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
