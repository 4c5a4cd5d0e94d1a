// Package send is the outbound message pipeline: window check, validation,
// single-flight submission and failure classification. The local window
// check is only a fast path; the gateway remains the authority and its
// template-required rejection is treated identically to a locally closed
// window.
package send

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/delivery"
	"github.com/ozmetal/inbox/internal/gateway"
	"github.com/ozmetal/inbox/internal/metrics"
	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/window"
	"go.uber.org/zap"
)

// Result is a successful submission.
type Result struct {
	Message    *store.Message
	ExternalID string
}

// Pipeline validates and submits outbound messages.
type Pipeline struct {
	db     *store.DB
	gw     gateway.Gateway
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewPipeline creates a send pipeline.
func NewPipeline(db *store.DB, gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:       db,
		gw:       gw,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Send submits one message to a conversation. replyTo is the external id of
// the message being replied to, or empty.
//
// The service window is evaluated fresh here, never from a cached boolean;
// when closed for a non-template payload the call fails with ErrWindowClosed
// before any network I/O.
func (p *Pipeline) Send(ctx context.Context, conversationID string, c content.Content, replyTo string) (*Result, error) {
	conv, err := p.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, &ValidationError{Reason: "unknown conversation " + conversationID}
	}
	if c.Empty() {
		return nil, &ValidationError{Reason: "empty message body"}
	}
	if replyTo != "" {
		target, err := p.db.GetMessageByExternalID(replyTo)
		if err != nil {
			return nil, err
		}
		if target == nil || target.ConversationID != conversationID {
			return nil, &ValidationError{Reason: "unresolvable reply target " + replyTo}
		}
	}

	// Templates are the one payload allowed through a closed window.
	if c.Kind != content.KindTemplate {
		if st := window.Evaluate(conv.WindowExpiry(), p.now()); !st.Open {
			metrics.WindowRejections.WithLabelValues("local").Inc()
			metrics.SendsTotal.WithLabelValues("window_closed").Inc()
			return nil, ErrWindowClosed
		}
	}

	if !p.acquire(conversationID) {
		return nil, ErrSendInFlight
	}
	defer p.release(conversationID)

	now := p.now().UnixMilli()
	msg := &store.Message{
		ConversationID:    conversationID,
		ClientID:          uuid.New().String(),
		Direction:         store.DirectionOutbound,
		Type:              string(c.Kind),
		Body:              c.SearchableText(),
		Content:           c,
		Status:            string(delivery.Queued),
		Timestamp:         now,
		ReplyToExternalID: replyTo,
	}
	if err := p.db.InsertOutbound(msg); err != nil {
		return nil, err
	}
	// Optimistic insert: the queued message is visible in the timeline
	// before the gateway answers.
	p.publish("message.upserted", bus.Ref{ConversationID: conversationID, MessageID: msg.ClientID})

	resp, err := p.gw.Send(ctx, gateway.Request{
		Recipient:         conv.CounterpartyID,
		Content:           c,
		ReplyToExternalID: replyTo,
	})
	if err != nil {
		return nil, p.fail(msg, err)
	}

	msg.ExternalID = resp.ExternalID
	msg.Status = string(delivery.Sent)
	if err := p.db.MarkSent(msg.ClientID, resp.ExternalID, msg.Status); err != nil {
		return nil, err
	}
	if err := p.db.RecordOutbound(conversationID, now, c.Preview()); err != nil {
		return nil, err
	}

	p.logger.Info("message sent",
		zap.String("conversation_id", conversationID),
		zap.String("client_id", msg.ClientID),
		zap.String("external_id", resp.ExternalID))
	p.publish("message.upserted", bus.Ref{ConversationID: conversationID, MessageID: resp.ExternalID})
	p.publish("conversation.upserted", bus.Ref{ConversationID: conversationID})
	metrics.SendsTotal.WithLabelValues("sent").Inc()

	return &Result{Message: msg, ExternalID: resp.ExternalID}, nil
}

// Resend submits a new message carrying a failed message's payload. The
// failed row is left untouched; the audit trail shows both attempts.
func (p *Pipeline) Resend(ctx context.Context, clientID string) (*Result, error) {
	prev, err := p.db.GetMessageByClientID(clientID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, &ValidationError{Reason: "unknown message " + clientID}
	}
	if prev.Status != string(delivery.Failed) {
		return nil, &ValidationError{Reason: "message " + clientID + " is not failed"}
	}
	return p.Send(ctx, prev.ConversationID, prev.Content, prev.ReplyToExternalID)
}

// fail classifies a gateway error, marks the optimistic row failed so the
// attempt stays visible in the timeline, and returns the pipeline error.
func (p *Pipeline) fail(msg *store.Message, err error) error {
	var out error
	switch {
	case errors.Is(err, gateway.ErrRequiresTemplate):
		// The local check passed but the server knows better (clock skew,
		// concurrent expiry, stale snapshot). Same outcome as the local
		// fast-path rejection.
		out = ErrWindowClosed
		metrics.WindowRejections.WithLabelValues("gateway").Inc()
		metrics.SendsTotal.WithLabelValues("window_closed").Inc()
	default:
		var apiErr *gateway.APIError
		var transport *gateway.TransportError
		switch {
		case errors.As(err, &apiErr):
			out = &GatewayError{Code: apiErr.Code, Detail: apiErr.Message}
			metrics.SendsTotal.WithLabelValues("gateway_error").Inc()
		case errors.As(err, &transport):
			out = &NetworkError{Err: transport.Err}
			metrics.SendsTotal.WithLabelValues("network_error").Inc()
		default:
			out = &NetworkError{Err: err}
			metrics.SendsTotal.WithLabelValues("network_error").Inc()
		}
	}

	if dbErr := p.db.MarkSendFailed(msg.ClientID, string(delivery.Failed), out.Error()); dbErr != nil {
		p.logger.Error("failed to mark send failure", zap.Error(dbErr), zap.String("client_id", msg.ClientID))
	}
	p.logger.Warn("send failed",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("client_id", msg.ClientID),
		zap.Error(out))
	p.publish("message.send_failed", bus.Ref{ConversationID: msg.ConversationID, MessageID: msg.ClientID})
	p.publish("message.upserted", bus.Ref{ConversationID: msg.ConversationID, MessageID: msg.ClientID})
	return out
}

func (p *Pipeline) acquire(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[conversationID]; busy {
		return false
	}
	p.inFlight[conversationID] = struct{}{}
	return true
}

func (p *Pipeline) release(conversationID string) {
	p.mu.Lock()
	delete(p.inFlight, conversationID)
	p.mu.Unlock()
}

func (p *Pipeline) publish(kind string, ref bus.Ref) {
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: ref})
}
