// Package gateway is the outbound side of the messaging provider: a typed
// client for the Business Cloud API send endpoint. The server is the
// authority on the service window; a locally open window can still be
// rejected with a template-required error, which callers must treat as
// window-closed, not as a failure.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ozmetal/inbox/internal/content"
)

// ErrRequiresTemplate is returned when the provider rejects a free-form
// message because the customer-service window is closed server-side.
var ErrRequiresTemplate = errors.New("service window closed: template required")

// APIError is a provider-reported failure that is not a window rejection.
// It is surfaced verbatim and the message is marked failed.
type APIError struct {
	Code    int
	Subcode int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// TransportError wraps network-level failures (timeouts, connection
// errors) where the provider's verdict is unknown.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "gateway transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Request is an outbound message submission.
type Request struct {
	Recipient         string
	Content           content.Content
	ReplyToExternalID string
}

// Response is a successful submission acknowledgment.
type Response struct {
	ExternalID string
}

// Gateway submits outbound messages to the provider.
type Gateway interface {
	Send(ctx context.Context, req Request) (*Response, error)
}
