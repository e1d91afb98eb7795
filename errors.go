package pubsession

import "errors"

// ErrConfiguration indicates a required initialization parameter is missing
// or the session is not in a state that allows the call. Raised before any
// I/O; caller-fixable.
var ErrConfiguration = errors.New("pubsession: configuration")

// ErrAuthentication indicates credential parsing or transport authorization
// failed. Fatal to initialization.
var ErrAuthentication = errors.New("pubsession: authentication")

// ErrSubscription indicates subscription acquisition failed for a reason
// other than the already-exists conflict. Fatal to initialization; the
// session remains authenticated but not ready.
var ErrSubscription = errors.New("pubsession: subscription")

// ErrPublish indicates a send failed at the transport layer. The session
// remains ready.
var ErrPublish = errors.New("pubsession: publish")
