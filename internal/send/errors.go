package send

import (
	"errors"
	"fmt"
)

// ErrWindowClosed means free-form messaging is not currently permitted for
// the conversation. It is an expected business condition, not a failure:
// callers route the operator to template selection. Both the local fast-path
// check and an authoritative server-side rejection surface as this error.
var ErrWindowClosed = errors.New("service window closed")

// ErrSendInFlight means a send is already in flight for the conversation.
// Re-entrant sends from double submission are rejected, never queued.
var ErrSendInFlight = errors.New("send already in flight")

// ValidationError rejects a send before any I/O: empty body, unknown
// conversation, unresolvable reply target.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid send: " + e.Reason }

// NetworkError is a transient transport failure with no provider verdict.
// Retry is operator-initiated; nothing retries automatically.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "send network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// GatewayError is an opaque provider failure, surfaced verbatim. The
// message is marked failed and never retried automatically.
type GatewayError struct {
	Code   int
	Detail string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected send (code %d): %s", e.Code, e.Detail)
}
