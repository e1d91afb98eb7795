// Package pubsession is a session wrapper around a managed publish/subscribe
// messaging service. It authenticates a service-account identity, binds (or
// reattaches to) a durable subscription named after that identity, and
// exposes a minimal send/receive/close surface gated on session readiness.
//
// Layers & Roles
//
//	Session     -> lifecycle state machine: authenticate, then bind subscription
//	Transport   -> injected service boundary (authorize, create/lookup/delete, pull/ack, publish)
//	Codec       -> wire form of a Message (JSON by default)
//
// # Lifecycle
//
// A session moves uninitialized -> authenticated -> ready, and terminally to
// closed. Readiness is always derived from the authentication and
// subscription flags; no operation sets it directly. Subscription
// acquisition is idempotent: creation that conflicts with an existing
// subscription of the same name falls back to looking it up, so a client
// that crashes and relaunches with the same identity resumes its backlog.
//
// # Delivery semantics
//
// Receive and Send on a session that is not ready return nil results rather
// than errors — the gate is an expected steady-state outcome. Pulled
// envelopes are acknowledged before decoding, trading silent loss of
// malformed payloads for immunity to poison-message loops; see Receive for
// the details and ReceiveRaw for the escape hatch.
//
// Implementations
//
//	transport/memory : in-process transport for tests and single-node use
//	transport/redis  : Redis Streams transport (consumer groups as durable subscriptions)
//
// Example:
//
//	sess := pubsession.New("worker-7", tr)
//	ready, err := sess.InitializeFromFile(ctx, "account.json", "my-project", "events")
//	if err != nil || !ready {
//		// handle
//	}
//	defer sess.Close(ctx, true)
//
//	msg, err := sess.Receive(ctx, true)
package pubsession
