package api

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/ozmetal/inbox/internal/bus"
)

const heartbeatInterval = 15 * time.Second

// streamEvents writes bus events to the client as NDJSON, one envelope per
// line. The stream ends when the client disconnects; a periodic heartbeat
// line surfaces dead connections.
func (h *Handler) streamEvents(ctx *fasthttp.RequestCtx) {
	namespace := string(ctx.QueryArgs().Peek("namespace"))

	ctx.SetContentType("application/x-ndjson")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		events, unsub := h.bus.Subscribe(namespace, 256)
		defer unsub()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		enc := json.NewEncoder(w)
		for {
			select {
			case evt := <-events:
				if err := enc.Encode(envelope(evt)); err != nil {
					return
				}
			case <-ticker.C:
				if err := enc.Encode(EventEnvelope{
					EventID:          uuid.New().String(),
					Kind:             "ping",
					OccurredAtUnixMs: time.Now().UnixMilli(),
				}); err != nil {
					return
				}
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}

func envelope(evt bus.Event) EventEnvelope {
	env := EventEnvelope{
		EventID:          uuid.New().String(),
		Kind:             evt.Kind,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
	}
	switch p := evt.Payload.(type) {
	case bus.Ref:
		env.ConversationID = p.ConversationID
		env.MessageID = p.MessageID
	case bus.StatusUpdate:
		env.MessageID = p.ExternalID
		env.Status = p.Status
	}
	return env
}
