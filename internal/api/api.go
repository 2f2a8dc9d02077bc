// Package api provides the HTTP server and handlers for FormPipe.
//
// It exposes RESTful endpoints for capability registration, tenant provider
// bindings, draft administration, and the two invocation entry points
// (structured invoke and free-text turn).
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a functional option for API server configuration.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the HTTP surface to the catalog, store, planner, and
// coordinator.
type Server struct {
	addr        string
	catalog     *catalog.Registry
	store       store.Store
	planner     *flow.Planner
	coordinator *flow.Coordinator
	httpServer  *http.Server
}

// NewServer creates the API server.
func NewServer(reg *catalog.Registry, st store.Store, planner *flow.Planner, coordinator *flow.Coordinator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:        addr,
		catalog:     reg,
		store:       st,
		planner:     planner,
		coordinator: coordinator,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/capabilities", s.capabilitiesHandler)
	mux.HandleFunc("/api/v1/capabilities/", s.capabilityHandler)
	mux.HandleFunc("/api/v1/bindings", s.bindingsHandler)
	mux.HandleFunc("/api/v1/bindings/", s.bindingHandler)
	mux.HandleFunc("/api/v1/invoke", s.invokeHandler)
	mux.HandleFunc("/api/v1/turn", s.turnHandler)
	mux.HandleFunc("/api/v1/drafts", s.draftsHandler)
	mux.HandleFunc("/api/v1/drafts/", s.draftHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: FormPipe API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Server.Run: shutting down API server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
