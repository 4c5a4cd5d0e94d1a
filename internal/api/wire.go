// Package api exposes the daemon over the session's Unix socket as an
// HTTP/JSON surface: conversation and message queries, sends, search and
// a streaming event feed consumed by the terminal client.
package api

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/send"
	"github.com/ozmetal/inbox/internal/store"
)

// Error kinds on the wire. Clients branch on Kind, not on HTTP status.
const (
	ErrKindWindowClosed = "window_closed"
	ErrKindValidation   = "validation"
	ErrKindInFlight     = "in_flight"
	ErrKindNetwork      = "network"
	ErrKindGateway      = "gateway"
	ErrKindNotFound     = "not_found"
	ErrKindInternal     = "internal"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error kind plus provider detail when present.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// SendRequest is the POST body for a send.
type SendRequest struct {
	Content           content.Content `json:"content"`
	ReplyToExternalID string          `json:"reply_to_external_id,omitempty"`
}

// SendResponse acknowledges a successful submission.
type SendResponse struct {
	Message    *store.Message `json:"message"`
	ExternalID string         `json:"external_id"`
}

// StatusRequest is the POST body for a conversation status change.
type StatusRequest struct {
	Status string `json:"status"`
}

// ConversationsResponse lists conversations by last activity.
type ConversationsResponse struct {
	Conversations []store.Conversation `json:"conversations"`
	HasMore       bool                 `json:"has_more"`
}

// MessagesResponse is one page of a conversation timeline, newest first.
// Clients render oldest-first by reversing.
type MessagesResponse struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// SearchResponse lists full-text matches with snippets.
type SearchResponse struct {
	Results []store.SearchResult `json:"results"`
}

// EventEnvelope is one line of the NDJSON event stream.
type EventEnvelope struct {
	EventID          string `json:"event_id"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	ConversationID   string `json:"conversation_id,omitempty"`
	MessageID        string `json:"message_id,omitempty"`
	Status           string `json:"status,omitempty"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, detail ErrorDetail) {
	writeJSON(ctx, status, ErrorBody{Error: detail})
}

// writeSendError maps the pipeline failure taxonomy onto the wire. Window
// closure is an expected business outcome, not a server fault.
func writeSendError(ctx *fasthttp.RequestCtx, err error) {
	var valErr *send.ValidationError
	var netErr *send.NetworkError
	var gwErr *send.GatewayError
	switch {
	case errors.Is(err, send.ErrWindowClosed):
		writeError(ctx, fasthttp.StatusConflict, ErrorDetail{
			Kind:    ErrKindWindowClosed,
			Message: "service window closed; use a template message",
		})
	case errors.Is(err, send.ErrSendInFlight):
		writeError(ctx, fasthttp.StatusTooManyRequests, ErrorDetail{
			Kind:    ErrKindInFlight,
			Message: "a send is already in flight for this conversation",
		})
	case errors.As(err, &valErr):
		writeError(ctx, fasthttp.StatusBadRequest, ErrorDetail{
			Kind:    ErrKindValidation,
			Message: valErr.Reason,
		})
	case errors.As(err, &gwErr):
		writeError(ctx, fasthttp.StatusBadGateway, ErrorDetail{
			Kind:    ErrKindGateway,
			Message: gwErr.Detail,
			Code:    gwErr.Code,
		})
	case errors.As(err, &netErr):
		writeError(ctx, fasthttp.StatusBadGateway, ErrorDetail{
			Kind:    ErrKindNetwork,
			Message: netErr.Error(),
		})
	default:
		writeError(ctx, fasthttp.StatusInternalServerError, ErrorDetail{
			Kind:    ErrKindInternal,
			Message: err.Error(),
		})
	}
}
