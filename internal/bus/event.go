package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds in use:
//
//	gw.message            inbound message parsed from a webhook (payload *store.Message)
//	gw.status             delivery receipt (payload StatusUpdate)
//	gw.contact            contact profile from a webhook (payload *store.Contact)
//	message.upserted      a message row changed (payload Ref)
//	message.status        a message's delivery status advanced (payload StatusUpdate)
//	message.send_failed   an outbound send failed (payload Ref)
//	conversation.upserted a conversation row changed (payload Ref)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Ref identifies a conversation and optionally one of its messages.
type Ref struct {
	ConversationID string
	MessageID      string // external id when assigned, else client id
}

// StatusUpdate is a provider-reported delivery status for a message.
type StatusUpdate struct {
	ExternalID string
	Status     string
	Timestamp  time.Time
}
