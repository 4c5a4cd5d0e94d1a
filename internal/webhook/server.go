package webhook

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/metrics"
)

// Server terminates the provider's webhook callbacks. GET requests answer
// the subscription verification handshake; POST requests carry the push
// feed and are acknowledged immediately after the bus publish.
type Server struct {
	addr        string
	verifyToken string
	bus         *bus.Bus
	logger      *zap.Logger

	srv *fasthttp.Server
	ln  net.Listener
}

// NewServer creates a webhook server. addr may be empty, in which case the
// receiver is disabled and Start is a no-op.
func NewServer(addr, verifyToken string, b *bus.Bus, logger *zap.Logger) *Server {
	s := &Server{
		addr:        addr,
		verifyToken: verifyToken,
		bus:         b,
		logger:      logger.Named("webhook"),
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handle,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	return s
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	if s.addr == "" {
		s.logger.Info("webhook receiver disabled")
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("webhook receiver listening", zap.String("addr", s.addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil {
			s.logger.Error("webhook server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

// Handle routes one webhook request.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Method()) {
	case fasthttp.MethodGet:
		s.handleVerify(ctx)
	case fasthttp.MethodPost:
		s.handleEvent(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}
}

func (s *Server) handleVerify(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	mode := string(args.Peek("hub.mode"))
	token := string(args.Peek("hub.verify_token"))
	if mode != "subscribe" || token != s.verifyToken {
		s.logger.Warn("webhook verification rejected", zap.String("mode", mode))
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(args.Peek("hub.challenge"))
}

func (s *Server) handleEvent(ctx *fasthttp.RequestCtx) {
	parsed, err := Parse(ctx.PostBody())
	if parsed == nil {
		s.logger.Warn("webhook payload rejected", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	if err != nil {
		// Partial parse: publish what survived, log what did not.
		s.logger.Warn("webhook payload partially parsed", zap.Error(err))
	}

	now := time.Now()
	for _, c := range parsed.Contacts {
		metrics.WebhookEvents.WithLabelValues("contact").Inc()
		s.bus.Publish(bus.Event{Kind: "gw.contact", Timestamp: now, Payload: c})
	}
	for _, m := range parsed.Messages {
		metrics.WebhookEvents.WithLabelValues("message").Inc()
		s.bus.Publish(bus.Event{Kind: "gw.message", Timestamp: now, Payload: m})
	}
	for _, st := range parsed.Statuses {
		metrics.WebhookEvents.WithLabelValues("status").Inc()
		s.bus.Publish(bus.Event{Kind: "gw.status", Timestamp: now, Payload: st})
	}

	// Acknowledge regardless of content; the provider retries on non-2xx
	// and the ingest path is already decoupled behind the bus.
	ctx.SetStatusCode(fasthttp.StatusOK)
}
