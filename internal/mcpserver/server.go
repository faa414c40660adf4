// Package mcpserver exposes Firewatch to agents over the Model Context
// Protocol. It serves the tool set via SSE and Streamable HTTP transports on
// one port, or over stdio for embedded use.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/firewatch/firewatch/internal/app"
	"github.com/firewatch/firewatch/internal/common/logger"
	fwsync "github.com/firewatch/firewatch/internal/sync"
	"github.com/firewatch/firewatch/internal/version"
)

// Config holds the MCP server configuration.
type Config struct {
	Port int // Port to listen on; 0 picks a free port.
}

// Server wraps the SSE and Streamable HTTP servers with lifecycle management.
// Both transports are served for compatibility with different MCP clients:
// SSE (/sse) for Claude Desktop and Cursor, Streamable HTTP (/mcp) for Codex.
type Server struct {
	cfg                  Config
	app                  *app.App
	poller               *fwsync.Poller
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	logger               *logger.Logger
}

// New creates an MCP server over the app service layer.
func New(cfg Config, application *app.App, log *logger.Logger) *Server {
	return &Server{cfg: cfg, app: application, logger: log}
}

// Port returns the bound port once the server is running.
func (s *Server) Port() int { return s.cfg.Port }

func (s *Server) buildMCPServer() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"firewatch",
		version.Version,
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s.app, s.logger)
	return mcpServer
}

// Start starts both transports and returns once the listener is bound. When
// auto_sync is on, a background poller keeps the configured repos fresh for
// the server's lifetime.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	mcpServer := s.buildMCPServer()

	s.sseServer = server.NewSSEServer(mcpServer)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	if s.app.Config().Sync.AutoSync {
		poller, err := s.app.Poller()
		if err != nil {
			s.logger.Warn("background poller unavailable", zap.Error(err))
		} else {
			s.poller = poller
			s.poller.Start(ctx)
		}
	}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("MCP server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", zap.Error(err))
		}
	}()

	<-ready
	return nil
}

// ServeStdio runs the MCP server over stdin/stdout (agent embedding).
// It blocks until the client disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	if s.app.Config().Sync.AutoSync {
		poller, err := s.app.Poller()
		if err != nil {
			s.logger.Warn("background poller unavailable", zap.Error(err))
		} else {
			s.poller = poller
			s.poller.Start(ctx)
			defer s.poller.Stop()
		}
	}
	return server.ServeStdio(s.buildMCPServer())
}

// Stop shuts down the transports and the background poller.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if s.poller != nil {
		s.poller.Stop()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.running = false
	s.logger.Info("MCP server stopped")
	return nil
}
