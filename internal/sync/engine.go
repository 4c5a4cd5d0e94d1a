// Package sync ingests gateway events into the store: inbound messages,
// delivery receipts and contact profiles. Ingestion is idempotent
// (merge-by-id) and is the only writer of provider-driven message status,
// which keeps the monotonic rank rule enforceable without locking.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/crm"
	"github.com/ozmetal/inbox/internal/delivery"
	"github.com/ozmetal/inbox/internal/metrics"
	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/window"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of gateway events into the store.
// It subscribes to "gw." events on the bus and processes them.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	resolver crm.Resolver
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, resolver crm.Resolver, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		bus:      b,
		resolver: resolver,
		logger:   logger,
	}
}

// Start subscribes to inbound gateway events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("gw.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "gw.message":
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("external_id", msg.ExternalID))
		}
	case "gw.status":
		u, ok := evt.Payload.(bus.StatusUpdate)
		if !ok {
			return
		}
		if err := e.ApplyStatus(u); err != nil {
			e.logger.Error("failed to apply status", zap.Error(err), zap.String("external_id", u.ExternalID))
		}
	case "gw.contact":
		c, ok := evt.Payload.(*store.Contact)
		if !ok {
			return
		}
		if err := e.db.UpsertContact(c); err != nil {
			e.logger.Error("failed to upsert contact", zap.Error(err), zap.String("counterparty_id", c.CounterpartyID))
			return
		}
		e.refreshDisplayName(c.CounterpartyID)
	}
}

// refreshDisplayName re-resolves a counterparty's display name after a
// profile update and pushes it onto an existing conversation. A resolver
// miss returns the raw id, which is never persisted over a real name.
func (e *Engine) refreshDisplayName(counterpartyID string) {
	conv, err := e.db.GetConversation(counterpartyID)
	if err != nil || conv == nil {
		return
	}
	if name := e.resolver.Resolve(context.Background(), counterpartyID); name != counterpartyID {
		if err := e.db.UpsertConversation(&store.Conversation{
			ID:             conv.ID,
			CounterpartyID: conv.CounterpartyID,
			DisplayName:    name,
		}); err != nil {
			e.logger.Error("failed to update display name", zap.Error(err), zap.String("conversation_id", conv.ID))
			return
		}
	}
	e.publish("conversation.upserted", bus.Ref{ConversationID: conv.ID})
}

// IngestMessage processes a single inbound message into the store
// (idempotent). The conversation is created on first contact, reopened if
// closed, its unread counter bumped and its service window extended by the
// fixed grant from the message instant.
func (e *Engine) IngestMessage(msg *store.Message) error {
	expiry := window.ExpiryAfter(time.UnixMilli(msg.Timestamp)).UnixMilli()
	// Provider-originated conversations are keyed by the counterparty
	// number, so the conversation id doubles as the counterparty id.
	if err := e.db.RecordInbound(msg.ConversationID, msg.ConversationID,
		msg.Timestamp, truncate(msg.Content.Preview(), 100), expiry); err != nil {
		return fmt.Errorf("record inbound conversation: %w", err)
	}

	if err := e.db.UpsertInbound(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.publish("conversation.upserted", bus.Ref{ConversationID: msg.ConversationID})
	e.publish("message.upserted", bus.Ref{ConversationID: msg.ConversationID, MessageID: msg.ExternalID})
	return nil
}

// ApplyStatus reconciles a provider delivery receipt against the stored
// message. Receipts ranked at or below the current status are discarded;
// invalid backward transitions are logged as corrections, never applied.
func (e *Engine) ApplyStatus(u bus.StatusUpdate) error {
	msg, err := e.db.GetMessageByExternalID(u.ExternalID)
	if err != nil {
		return err
	}
	if msg == nil {
		// Receipt raced ahead of the message upsert, or references a
		// message outside the local window. Nothing to reconcile.
		e.logger.Debug("status for unknown message", zap.String("external_id", u.ExternalID))
		return nil
	}

	incoming := delivery.Status(u.Status)
	if !delivery.Known(incoming) {
		e.logger.Warn("unknown delivery status", zap.String("status", u.Status), zap.String("external_id", u.ExternalID))
		return nil
	}

	next, outcome := delivery.Advance(delivery.Status(msg.Status), incoming)
	switch outcome {
	case delivery.Applied:
		if err := e.db.SetStatusByExternalID(u.ExternalID, string(next)); err != nil {
			return err
		}
		e.bus.Publish(bus.Event{Kind: "message.status", Timestamp: time.Now(), Payload: bus.StatusUpdate{
			ExternalID: u.ExternalID,
			Status:     string(next),
			Timestamp:  u.Timestamp,
		}})
		e.publish("message.upserted", bus.Ref{ConversationID: msg.ConversationID, MessageID: u.ExternalID})
	case delivery.Correction:
		metrics.StatusCorrections.Inc()
		e.logger.Warn("provider status correction discarded",
			zap.String("external_id", u.ExternalID),
			zap.String("current", msg.Status),
			zap.String("incoming", u.Status))
	case delivery.Discarded:
		// Duplicate or out-of-order receipt; normal.
	}
	return nil
}

func (e *Engine) publish(kind string, ref bus.Ref) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: ref})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
