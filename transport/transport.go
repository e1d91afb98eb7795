package transport

import (
	"context"

	"github.com/jmona/pubsession/credentials"
)

// Scopes a session requests when authorizing a connection. Transports may
// enforce a subset; the assertion presented must cover everything they check.
const (
	ScopePublish = "pubsub.publish"
	ScopeConsume = "pubsub.consume"
)

// Transport is the messaging service boundary. Implementations own all
// network concerns; callers treat the returned Conn as an opaque authorized
// handle.
type Transport interface {
	// Authorize validates the service account for the given project and
	// scope set and returns a connection bound to that grant.
	Authorize(ctx context.Context, account *credentials.ServiceAccount, projectID string, scopes []string) (Conn, error)
}

// Conn is an authorized connection to the messaging service. A Conn is owned
// by exactly one session and released via Close.
type Conn interface {
	// CreateSubscription attempts to create a durable subscription named
	// name on topic. The outcome is a tagged result so the already-exists
	// conflict is an explicit branch rather than error matching.
	CreateSubscription(ctx context.Context, name, topic string) CreateResult

	// LookupSubscription resolves an existing subscription by name.
	LookupSubscription(ctx context.Context, name string) (Subscription, error)

	// Publish appends data to the named topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// DeleteSubscription removes the named subscription and any undelivered
	// backlog it holds.
	DeleteSubscription(ctx context.Context, name string) error

	// Close releases the connection. The Conn must not be used afterwards.
	Close() error
}

// CreateStatus tags the outcome of a CreateSubscription call.
type CreateStatus int

const (
	// StatusCreated means the subscription was newly created.
	StatusCreated CreateStatus = iota
	// StatusAlreadyExists means a subscription with that name already
	// exists. Callers fall back to LookupSubscription.
	StatusAlreadyExists
	// StatusFailed means creation failed for any other reason; Err carries
	// the cause.
	StatusFailed
)

// CreateResult is the tagged outcome of CreateSubscription. Subscription is
// non-nil only when Status is StatusCreated; Err is non-nil only when Status
// is StatusFailed.
type CreateResult struct {
	Status       CreateStatus
	Subscription Subscription
	Err          error
}

// Subscription is a durable pull point bound to a topic.
type Subscription interface {
	// Pull fetches at most one envelope. With wait=false it returns
	// immediately; with wait=true it blocks until an envelope arrives or the
	// transport's own wait budget elapses. A (nil, nil) return means nothing
	// was available.
	Pull(ctx context.Context, wait bool) (*Envelope, error)
}

// AckFunc confirms processing of an envelope, removing it from the
// subscription's redelivery queue.
type AckFunc func(ctx context.Context) error

// Envelope is one unit of pulled data. It is borrowed from the transport for
// the duration of a single receive; Ack must be invoked at most once.
type Envelope struct {
	// ID is the transport-assigned identifier for the envelope.
	ID string
	// Data is the raw payload as published.
	Data []byte
	// Ack acknowledges the envelope.
	Ack AckFunc
}
