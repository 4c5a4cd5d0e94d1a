package api

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/send"
	"github.com/ozmetal/inbox/internal/store"
)

const defaultPageSize = 50

// Handler routes daemon API requests.
type Handler struct {
	db       *store.DB
	pipeline *send.Pipeline
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  fasthttp.RequestHandler
}

// NewHandler creates the API handler.
func NewHandler(db *store.DB, pipeline *send.Pipeline, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		db:       db,
		pipeline: pipeline,
		bus:      b,
		logger:   logger.Named("api"),
		metrics:  fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
}

// Handle dispatches one request by path.
func (h *Handler) Handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case path == "/metrics":
		h.metrics(ctx)
	case path == "/v1/events" && method == fasthttp.MethodGet:
		h.streamEvents(ctx)
	case path == "/v1/search" && method == fasthttp.MethodGet:
		h.search(ctx)
	case path == "/v1/conversations" && method == fasthttp.MethodGet:
		h.listConversations(ctx)
	case strings.HasPrefix(path, "/v1/conversations/"):
		h.conversationSubtree(ctx, method, strings.TrimPrefix(path, "/v1/conversations/"))
	case strings.HasPrefix(path, "/v1/messages/") && strings.HasSuffix(path, "/resend") && method == fasthttp.MethodPost:
		clientID := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/messages/"), "/resend")
		h.resend(ctx, clientID)
	default:
		writeError(ctx, fasthttp.StatusNotFound, ErrorDetail{Kind: ErrKindNotFound, Message: "no such route"})
	}
}

func (h *Handler) conversationSubtree(ctx *fasthttp.RequestCtx, method, rest string) {
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(ctx, fasthttp.StatusNotFound, ErrorDetail{Kind: ErrKindNotFound, Message: "missing conversation id"})
		return
	}
	switch {
	case sub == "" && method == fasthttp.MethodGet:
		h.getConversation(ctx, id)
	case sub == "read" && method == fasthttp.MethodPost:
		h.markRead(ctx, id)
	case sub == "status" && method == fasthttp.MethodPost:
		h.setStatus(ctx, id)
	case sub == "messages" && method == fasthttp.MethodGet:
		h.listMessages(ctx, id)
	case sub == "messages" && method == fasthttp.MethodPost:
		h.send(ctx, id)
	default:
		writeError(ctx, fasthttp.StatusNotFound, ErrorDetail{Kind: ErrKindNotFound, Message: "no such route"})
	}
}

func (h *Handler) listConversations(ctx *fasthttp.RequestCtx) {
	limit := queryInt(ctx, "limit", defaultPageSize)
	offset := queryInt(ctx, "offset", 0)
	convs, err := h.db.ListConversations(limit, offset)
	if err != nil {
		h.internal(ctx, "list conversations", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, ConversationsResponse{
		Conversations: convs,
		HasMore:       len(convs) == limit,
	})
}

func (h *Handler) getConversation(ctx *fasthttp.RequestCtx, id string) {
	c, err := h.db.GetConversation(id)
	if err != nil {
		h.internal(ctx, "get conversation", err)
		return
	}
	if c == nil {
		writeError(ctx, fasthttp.StatusNotFound, ErrorDetail{Kind: ErrKindNotFound, Message: "conversation " + id + " not found"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, c)
}

func (h *Handler) markRead(ctx *fasthttp.RequestCtx, id string) {
	if err := h.db.MarkConversationRead(id); err != nil {
		h.internal(ctx, "mark read", err)
		return
	}
	h.bus.Publish(bus.Event{Kind: "conversation.upserted", Payload: bus.Ref{ConversationID: id}})
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handler) setStatus(ctx *fasthttp.RequestCtx, id string) {
	var req StatusRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, ErrorDetail{Kind: ErrKindValidation, Message: "malformed body"})
		return
	}
	switch req.Status {
	case store.ConversationOpen, store.ConversationPending, store.ConversationClosed:
	default:
		writeError(ctx, fasthttp.StatusBadRequest, ErrorDetail{Kind: ErrKindValidation, Message: "unknown status " + req.Status})
		return
	}
	if err := h.db.SetConversationStatus(id, req.Status); err != nil {
		h.internal(ctx, "set status", err)
		return
	}
	h.bus.Publish(bus.Event{Kind: "conversation.upserted", Payload: bus.Ref{ConversationID: id}})
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handler) listMessages(ctx *fasthttp.RequestCtx, id string) {
	limit := queryInt(ctx, "limit", defaultPageSize)
	before := int64(queryInt(ctx, "before", 0))
	msgs, err := h.db.ListMessages(id, before, limit)
	if err != nil {
		h.internal(ctx, "list messages", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, MessagesResponse{
		Messages: msgs,
		HasMore:  len(msgs) == limit,
	})
}

func (h *Handler) send(ctx *fasthttp.RequestCtx, id string) {
	var req SendRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, ErrorDetail{Kind: ErrKindValidation, Message: "malformed body"})
		return
	}
	res, err := h.pipeline.Send(ctx, id, req.Content, req.ReplyToExternalID)
	if err != nil {
		writeSendError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, SendResponse{Message: res.Message, ExternalID: res.ExternalID})
}

func (h *Handler) resend(ctx *fasthttp.RequestCtx, clientID string) {
	res, err := h.pipeline.Resend(ctx, clientID)
	if err != nil {
		writeSendError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, SendResponse{Message: res.Message, ExternalID: res.ExternalID})
}

func (h *Handler) search(ctx *fasthttp.RequestCtx) {
	q := string(ctx.QueryArgs().Peek("q"))
	if q == "" {
		writeError(ctx, fasthttp.StatusBadRequest, ErrorDetail{Kind: ErrKindValidation, Message: "missing query"})
		return
	}
	convID := string(ctx.QueryArgs().Peek("conversation_id"))
	limit := queryInt(ctx, "limit", defaultPageSize)
	results, err := h.db.SearchMessages(q, convID, limit)
	if err != nil {
		h.internal(ctx, "search", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, SearchResponse{Results: results})
}

func (h *Handler) internal(ctx *fasthttp.RequestCtx, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	writeError(ctx, fasthttp.StatusInternalServerError, ErrorDetail{Kind: ErrKindInternal, Message: op + " failed"})
}

func queryInt(ctx *fasthttp.RequestCtx, key string, def int) int {
	v := string(ctx.QueryArgs().Peek(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
