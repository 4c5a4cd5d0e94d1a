package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ozmetal/inbox/internal/content"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// fakeAPI serves a canned Cloud API response over an in-memory listener.
func fakeAPI(t *testing.T, status int, body string, capture *[]byte) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if capture != nil {
				*capture = append([]byte(nil), ctx.PostBody()...)
			}
			ctx.SetStatusCode(status)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(body)
		},
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return NewClient(Options{
		BaseURL:       "http://api.test",
		PhoneNumberID: "1555000",
		Token:         "tok",
		Timeout:       2 * time.Second,
		Dial:          func(string) (net.Conn, error) { return ln.Dial() },
	}, nil)
}

func TestSendSuccess(t *testing.T) {
	var captured []byte
	c := fakeAPI(t, fasthttp.StatusOK, `{"messages":[{"id":"wamid.ABC"}]}`, &captured)

	resp, err := c.Send(context.Background(), Request{
		Recipient:         "905551112233",
		Content:           content.NewText("merhaba"),
		ReplyToExternalID: "wamid.PREV",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExternalID != "wamid.ABC" {
		t.Errorf("external id = %q, want wamid.ABC", resp.ExternalID)
	}

	var payload map[string]any
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["to"] != "905551112233" {
		t.Errorf("to = %v", payload["to"])
	}
	if payload["type"] != "text" {
		t.Errorf("type = %v", payload["type"])
	}
	ctxField, ok := payload["context"].(map[string]any)
	if !ok || ctxField["message_id"] != "wamid.PREV" {
		t.Errorf("context = %v, want reply reference", payload["context"])
	}
}

func TestSendRequiresTemplate(t *testing.T) {
	c := fakeAPI(t, fasthttp.StatusBadRequest,
		`{"error":{"code":131047,"message":"Re-engagement message"}}`, nil)

	_, err := c.Send(context.Background(), Request{
		Recipient: "90555", Content: content.NewText("x"),
	})
	if !errors.Is(err, ErrRequiresTemplate) {
		t.Errorf("error = %v, want ErrRequiresTemplate", err)
	}
}

func TestSendAPIError(t *testing.T) {
	c := fakeAPI(t, fasthttp.StatusBadRequest,
		`{"error":{"code":100,"message":"Invalid parameter","error_data":{"details":"to is malformed"}}}`, nil)

	_, err := c.Send(context.Background(), Request{
		Recipient: "bad", Content: content.NewText("x"),
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Code != 100 || apiErr.Message != "to is malformed" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSendTransportError(t *testing.T) {
	c := NewClient(Options{
		BaseURL:       "http://api.test",
		PhoneNumberID: "1555000",
		Token:         "tok",
		Timeout:       200 * time.Millisecond,
		Dial: func(string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}, nil)

	_, err := c.Send(context.Background(), Request{
		Recipient: "90555", Content: content.NewText("x"),
	})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("error = %T (%v), want *TransportError", err, err)
	}
}
