// Package client talks to the daemon's Unix-socket API on behalf of the
// terminal UI. It implements the inbox session's backend and live feed.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/ozmetal/inbox/internal/api"
	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/store"
)

const requestTimeout = 20 * time.Second

// Error is a decoded API error envelope.
type Error struct {
	Kind    string
	Message string
	Code    int
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsWindowClosed reports whether err is the daemon's window-closed
// rejection, the cue to route the operator to template selection.
func IsWindowClosed(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.Kind == api.ErrKindWindowClosed
}

// Client wraps HTTP connections to the daemon socket.
type Client struct {
	http   *fasthttp.Client
	stream *fasthttp.Client
}

// New creates a client for the given session socket.
func New(socketPath string) *Client {
	dial := func(string) (net.Conn, error) { return net.Dial("unix", socketPath) }
	return &Client{
		http: &fasthttp.Client{Dial: dial},
		stream: &fasthttp.Client{
			Dial:               dial,
			StreamResponseBody: true,
		},
	}
}

func (c *Client) do(method, uri string, body, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://daemon" + uri)
	req.Header.SetMethod(method)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}
	if err := c.http.DoTimeout(req, resp, requestTimeout); err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	if resp.StatusCode() >= 400 {
		var envelope api.ErrorBody
		if err := json.Unmarshal(resp.Body(), &envelope); err != nil || envelope.Error.Kind == "" {
			return &Error{Kind: api.ErrKindInternal, Message: string(resp.Body()), Status: resp.StatusCode()}
		}
		return &Error{
			Kind:    envelope.Error.Kind,
			Message: envelope.Error.Message,
			Code:    envelope.Error.Code,
			Status:  resp.StatusCode(),
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}

// Healthz reports whether a daemon answers on the socket.
func (c *Client) Healthz() bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://daemon/healthz")
	if err := c.http.DoTimeout(req, resp, 2*time.Second); err != nil {
		return false
	}
	return resp.StatusCode() == fasthttp.StatusOK
}

// Conversations lists conversations by last activity.
func (c *Client) Conversations(_ context.Context) ([]*store.Conversation, error) {
	var out api.ConversationsResponse
	if err := c.do(fasthttp.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	convs := make([]*store.Conversation, len(out.Conversations))
	for i := range out.Conversations {
		convs[i] = &out.Conversations[i]
	}
	return convs, nil
}

// Messages returns one page of a conversation's timeline, oldest first.
func (c *Client) Messages(_ context.Context, conversationID string, limit int) ([]*store.Message, error) {
	uri := fmt.Sprintf("/v1/conversations/%s/messages?limit=%d", conversationID, limit)
	var out api.MessagesResponse
	if err := c.do(fasthttp.MethodGet, uri, nil, &out); err != nil {
		return nil, err
	}
	// The daemon pages newest-first.
	msgs := make([]*store.Message, len(out.Messages))
	for i := range out.Messages {
		msgs[len(out.Messages)-1-i] = &out.Messages[i]
	}
	return msgs, nil
}

// MarkRead zeroes a conversation's unread counter.
func (c *Client) MarkRead(_ context.Context, conversationID string) error {
	return c.do(fasthttp.MethodPost, "/v1/conversations/"+conversationID+"/read", nil, nil)
}

// SetStatus changes a conversation's status (open, pending, closed).
func (c *Client) SetStatus(conversationID, status string) error {
	return c.do(fasthttp.MethodPost, "/v1/conversations/"+conversationID+"/status",
		api.StatusRequest{Status: status}, nil)
}

// Send submits a message payload, optionally as a reply.
func (c *Client) Send(conversationID string, payload content.Content, replyTo string) (*api.SendResponse, error) {
	var out api.SendResponse
	err := c.do(fasthttp.MethodPost, "/v1/conversations/"+conversationID+"/messages",
		api.SendRequest{Content: payload, ReplyToExternalID: replyTo}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Resend submits a failed message again as a new record.
func (c *Client) Resend(clientID string) (*api.SendResponse, error) {
	var out api.SendResponse
	if err := c.do(fasthttp.MethodPost, "/v1/messages/"+clientID+"/resend", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a full-text query across stored messages.
func (c *Client) Search(query, conversationID string) ([]store.SearchResult, error) {
	uri := "/v1/search?q=" + query
	if conversationID != "" {
		uri += "&conversation_id=" + conversationID
	}
	var out api.SearchResponse
	if err := c.do(fasthttp.MethodGet, uri, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Watch reads the daemon's NDJSON event stream, invoking fn per event
// until ctx is cancelled or the stream breaks.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(api.EventEnvelope)) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://daemon/v1/events?namespace=" + namespace)
	if err := c.stream.Do(req, resp); err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = resp.CloseBodyStream() }()

	// Unblock the scanner when the caller walks away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = resp.CloseBodyStream()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(resp.BodyStream())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var env api.EventEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue
		}
		if env.Kind == "ping" {
			continue
		}
		fn(env)
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// MessageFeed attaches a live feed for one conversation. Every message
// event triggers a re-fetch of the recent page; merge-by-id in the view
// absorbs the redundant deliveries.
func (c *Client) MessageFeed(conversationID string, deliver func(*store.Message)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = c.Watch(ctx, "message.", func(env api.EventEnvelope) {
			if env.ConversationID != conversationID {
				return
			}
			msgs, err := c.Messages(ctx, conversationID, 50)
			if err != nil {
				return
			}
			for _, m := range msgs {
				deliver(m)
			}
		})
	}()
	return cancel, nil
}
