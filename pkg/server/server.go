package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/coedit-dev/coedit/pkg/document"
)

// tracerName identifies this package's spans to the configured tracer
// provider.
const tracerName = "github.com/coedit-dev/coedit/pkg/server"

// Server is the coedit HTTP/WebSocket front end. It accepts client
// connections on /ws and hands everything else (health, metrics) to a chi
// router; all document and session state lives in the hub.
type Server struct {
	config   *Config
	doc      *document.Store
	registry *Registry
	metrics  *Metrics
	hub      *hub
	upgrader websocket.Upgrader
	router   chi.Router
	logger   *slog.Logger

	httpServer *http.Server
}

// New creates a Server for the document named in config and starts its
// dispatch loop. The caller still has to serve it, either via Run or by
// mounting Handler on an existing listener.
func New(config *Config) (*Server, error) {
	config = config.withDefaults()
	if config.DocumentPath == "" {
		return nil, errors.New("server: config: DocumentPath is required")
	}

	doc, err := document.Open(config.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	logger := slog.Default().With("component", "server")
	metrics := newMetrics()
	metrics.documentBytes.Set(float64(doc.Len()))
	registry := NewRegistry(config.Palette, config.UsernameAttempts)

	s := &Server{
		config:   config,
		doc:      doc,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin:      config.CheckOrigin,
		},
	}
	s.hub = newHub(doc, registry, metrics, slog.Default().With("component", "hub"), otel.Tracer(tracerName), config)

	r := chi.NewRouter()
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router = r

	go s.hub.run()
	return s, nil
}

// Handler returns the server's HTTP handler for mounting in external
// routers or test servers.
func (s *Server) Handler() http.Handler { return s.router }

// Document returns the document store (read-only use outside the hub).
func (s *Server) Document() *document.Store { return s.doc }

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Config returns the server configuration.
func (s *Server) Config() *Config { return s.config }

// handleWebSocket upgrades a connection and registers it in the hub's live
// set. A session exists only once the client completes its
// client_connection handshake through the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{ws: conn, remoteAddr: r.RemoteAddr}
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.logger.Debug("connection accepted", "remote", c.remoteAddr)
	go s.readPump(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Run starts listening and blocks until a shutdown signal or a listener
// error. A bind failure surfaces as the returned error before any
// connection is accepted.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: s.router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address, "document", s.doc.Path())
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server: the hub closes every connection,
// then the HTTP listener drains.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.hub.stop()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Close stops the server without waiting for in-flight HTTP requests. It is
// what tests and embedders use when they own the listener.
func (s *Server) Close() {
	s.hub.stop()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}
