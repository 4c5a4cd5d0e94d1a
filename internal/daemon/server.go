package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/ozmetal/inbox/internal/api"
	"github.com/ozmetal/inbox/internal/session"
)

// Server serves the daemon API on the session's Unix domain socket.
type Server struct {
	srv        *fasthttp.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the API handler to the session socket.
func NewServer(p Params, logger *zap.Logger, handler *api.Handler) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		srv: &fasthttp.Server{
			Handler:     handler.Handle,
			ReadTimeout: 30 * time.Second,
			// The event stream holds its response open indefinitely.
			WriteTimeout: 0,
		},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving API requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("socket", s.socketPath))
	return s.srv.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("api server stopping")
	if err := s.srv.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("api shutdown", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}
