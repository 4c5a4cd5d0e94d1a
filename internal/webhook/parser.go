// Package webhook receives the provider's push feed: inbound messages,
// delivery receipts and contact profiles arrive as webhook payloads, are
// parsed into domain records and published on the bus. The sync engine
// subscribes independently; the receiver never writes to the store.
package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/content"
	"github.com/ozmetal/inbox/internal/delivery"
	"github.com/ozmetal/inbox/internal/store"
	"github.com/ozmetal/inbox/internal/timeutil"
)

// Parsed holds the domain records extracted from one webhook payload.
type Parsed struct {
	Messages []*store.Message
	Statuses []bus.StatusUpdate
	Contacts []*store.Contact
}

type payload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []json.RawMessage `json:"messages"`
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp any    `json:"timestamp"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundEnvelope struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp any    `json:"timestamp"`
	Context   *struct {
		ID string `json:"id"`
	} `json:"context"`
}

// Parse extracts messages, statuses and contacts from a webhook body.
// Records with malformed timestamps are dropped individually; one bad
// record never poisons the batch.
func Parse(body []byte) (*Parsed, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	out := &Parsed{}
	var dropped []error
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, c := range change.Value.Contacts {
				if c.WaID == "" {
					continue
				}
				out.Contacts = append(out.Contacts, &store.Contact{
					CounterpartyID: c.WaID,
					ProfileName:    c.Profile.Name,
				})
			}
			for _, raw := range change.Value.Messages {
				msg, err := parseMessage(raw)
				if err != nil {
					dropped = append(dropped, err)
					continue
				}
				out.Messages = append(out.Messages, msg)
			}
			for _, s := range change.Value.Statuses {
				ts, err := timeutil.Normalize(s.Timestamp)
				if err != nil {
					dropped = append(dropped, fmt.Errorf("status %s: %w", s.ID, err))
					continue
				}
				out.Statuses = append(out.Statuses, bus.StatusUpdate{
					ExternalID: s.ID,
					Status:     s.Status,
					Timestamp:  ts,
				})
			}
		}
	}
	if len(dropped) > 0 {
		return out, fmt.Errorf("dropped %d malformed records (first: %w)", len(dropped), dropped[0])
	}
	return out, nil
}

func parseMessage(raw json.RawMessage) (*store.Message, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	ts, err := timeutil.Normalize(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", env.ID, err)
	}

	// The webhook message object is itself a tagged union keyed by "type",
	// so it decodes straight into the content envelope.
	var c content.Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("message %s: %w", env.ID, err)
	}

	msg := &store.Message{
		ConversationID: env.From,
		ExternalID:     env.ID,
		Direction:      store.DirectionInbound,
		Type:           string(c.Kind),
		Body:           c.SearchableText(),
		Content:        c,
		Status:         string(delivery.Received),
		Timestamp:      ts.UnixMilli(),
	}
	if env.Context != nil {
		msg.ReplyToExternalID = env.Context.ID
	}
	return msg, nil
}
