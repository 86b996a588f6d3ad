package chatlink

import (
	"errors"
	"fmt"
)

// ErrDeliveryUncertain is returned synchronously when an outbound event is
// issued while the session is not CONNECTED. The caller keeps the content and
// retries on the next connected window instead of queueing into a dead
// transport.
var ErrDeliveryUncertain = errors.New("chatlink: session not connected, delivery uncertain")

// AuthError means the handshake credential was rejected. It is terminal for
// the session instance: the supervisor never retries it.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("chatlink: handshake rejected with status %d", e.Status)
}

// TransportError means the connection dropped or could not be established.
// It is recoverable and drives the reconnection supervisor.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chatlink: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrReconnectFailed is surfaced through OnError exactly once after the
// supervisor exhausts its attempt budget.
var ErrReconnectFailed = errors.New("chatlink: could not reconnect")
