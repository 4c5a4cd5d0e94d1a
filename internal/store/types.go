package store

import (
	"time"

	"github.com/ozmetal/inbox/internal/content"
)

// Conversation statuses. Closed is logical: the row stays, and any inbound
// message reopens it.
const (
	ConversationOpen    = "open"
	ConversationPending = "pending"
	ConversationClosed  = "closed"
)

// Message directions relative to the operator.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Conversation is one customer thread. Timestamps are unix milliseconds.
type Conversation struct {
	ID                  string `json:"id"`
	CounterpartyID      string `json:"counterparty_id"`
	DisplayName         string `json:"display_name"`
	Status              string `json:"status"`
	UnreadCount         int    `json:"unread_count"`
	LastMessageAt       int64  `json:"last_message_at"`
	LastMessagePreview  string `json:"last_message_preview"`
	ServiceWindowExpiry *int64 `json:"service_window_expiry,omitempty"`
}

// WindowExpiry returns the service-window expiry as an instant, or nil when
// no inbound message has granted one.
func (c *Conversation) WindowExpiry() *time.Time {
	if c.ServiceWindowExpiry == nil {
		return nil
	}
	t := time.UnixMilli(*c.ServiceWindowExpiry).UTC()
	return &t
}

// Message is one message row. ClientID is the local key for outbound
// messages; ExternalID is assigned by the provider once the message is
// acknowledged (and is the only key inbound messages carry).
type Message struct {
	ID                int64           `json:"id"`
	ConversationID    string          `json:"conversation_id"`
	ClientID          string          `json:"client_id,omitempty"`
	ExternalID        string          `json:"external_id,omitempty"`
	Direction         string          `json:"direction"`
	Type              string          `json:"type"`
	Body              string          `json:"body"`
	Content           content.Content `json:"content"`
	Status            string          `json:"status"`
	Timestamp         int64           `json:"timestamp"`
	ReplyToExternalID string          `json:"reply_to_external_id,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
}

// Key returns the merge key for view deduplication: the external id once
// assigned, else the client id.
func (m *Message) Key() string {
	if m.ExternalID != "" {
		return m.ExternalID
	}
	return m.ClientID
}

// Contact is a CRM-resolved counterparty profile.
type Contact struct {
	CounterpartyID string `json:"counterparty_id"`
	Name           string `json:"name"`
	ProfileName    string `json:"profile_name"`
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}
