package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Error code the Cloud API uses for "re-engagement message required", i.e.
// the 24-hour window is closed and only a template may be sent.
const codeReengagementRequired = 131047

// Client talks to the Business Cloud API messages endpoint.
type Client struct {
	baseURL       string
	phoneNumberID string
	token         string
	timeout       time.Duration
	http          *fasthttp.Client
	logger        *zap.Logger
}

// Options configures the Cloud API client.
type Options struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
	// Timeout bounds the whole send round-trip; expiry surfaces as a
	// TransportError and is never retried automatically.
	Timeout time.Duration
	// Dial overrides the transport dial function (tests).
	Dial func(addr string) (net.Conn, error)
}

// NewClient creates a Cloud API client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       opts.BaseURL,
		phoneNumberID: opts.PhoneNumberID,
		token:         opts.Token,
		timeout:       opts.Timeout,
		http:          &fasthttp.Client{Dial: opts.Dial},
		logger:        logger,
	}
}

type apiErrorEnvelope struct {
	Error struct {
		Code      int    `json:"code"`
		ErrorSub  int    `json:"error_subcode"`
		Message   string `json:"message"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send submits one message. The context only gates entry; the round-trip
// itself is bounded by the configured timeout.
func (c *Client) Send(ctx context.Context, r Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Err: err}
	}

	body, err := c.encode(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, c.decodeError(resp)
	}

	var out sendResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, &APIError{Message: "response without message id"}
	}
	return &Response{ExternalID: out.Messages[0].ID}, nil
}

// encode builds the wire payload: the tagged content union plus the
// addressing envelope and an optional reply context.
func (c *Client) encode(r Request) ([]byte, error) {
	raw, err := json.Marshal(r.Content)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	payload["messaging_product"] = "whatsapp"
	payload["recipient_type"] = "individual"
	payload["to"] = r.Recipient
	if r.ReplyToExternalID != "" {
		payload["context"] = map[string]string{"message_id": r.ReplyToExternalID}
	}
	return json.Marshal(payload)
}

func (c *Client) decodeError(resp *fasthttp.Response) error {
	var env apiErrorEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env.Error.Code == 0 {
		return &APIError{Code: resp.StatusCode(), Message: string(resp.Body())}
	}
	if env.Error.Code == codeReengagementRequired {
		if c.logger != nil {
			c.logger.Info("send rejected: window closed server-side",
				zap.Int("code", env.Error.Code))
		}
		return ErrRequiresTemplate
	}
	msg := env.Error.Message
	if env.Error.ErrorData.Details != "" {
		msg = env.Error.ErrorData.Details
	}
	return &APIError{Code: env.Error.Code, Subcode: env.Error.ErrorSub, Message: msg}
}
