// Package hub provides a reusable coordination Hub server that can be
// embedded in other binaries.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/agentmesh/agentmesh/internal/hub/auth"
	"github.com/agentmesh/agentmesh/internal/hub/config"
	"github.com/agentmesh/agentmesh/internal/hub/events"
	"github.com/agentmesh/agentmesh/internal/hub/registry"
	"github.com/agentmesh/agentmesh/internal/hub/service"
	"github.com/agentmesh/agentmesh/internal/hub/thread"
	"github.com/agentmesh/agentmesh/internal/hub/transport"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/logging"
	"github.com/agentmesh/agentmesh/internal/metrics"
)

// Server is a reusable Hub server instance. All coordination state is
// in-memory: threads, messages and sessions do not survive a restart.
type Server struct {
	cfg        *config.Config
	server     *http.Server
	reg        *registry.Registry
	svc        *service.Service
	shutdownCh chan struct{}
}

// NewServer creates a new Hub server and wires all components. Call
// Serve() to start listening.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	shutdownCh := make(chan struct{})

	broadcaster := events.NewBroadcaster()

	reg := registry.New(registry.Options{
		ChannelCap: cfg.ChannelCap,
		BufferCap:  cfg.BufferCap,
		Grace:      cfg.Grace(),
	})
	reg.OnChange = func(event, agentID string) {
		broadcaster.Broadcast(events.Event{Type: event, AgentID: agentID})
	}

	threads := thread.NewStore(reg.Registered)

	svc := service.New(reg, threads, broadcaster, service.Options{
		MaxWaitMs:    cfg.MaxWaitMs,
		DedupeWindow: cfg.DedupeWindow(),
	})

	var keyHash []byte
	if cfg.PrivacyKeyHash != "" {
		keyHash = []byte(cfg.PrivacyKeyHash)
	}
	keyring := auth.NewKeyring(cfg.AppID, cfg.PrivacyKey, keyHash)

	handler := transport.NewHandler(cfg, reg, svc, keyring, broadcaster, shutdownCh)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sse", handler.SSE)
	mux.HandleFunc("/api/rpc", handler.RPC)
	mux.HandleFunc("/ws/events", handler.WSEvents)
	mux.Handle("/metrics", promhttp.Handler())

	h2cHandler := h2c.NewHandler(logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)), &http2.Server{
		MaxConcurrentStreams: 1000,
	})

	server := &http.Server{
		Handler:           h2cHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		server:     server,
		reg:        reg,
		svc:        svc,
		shutdownCh: shutdownCh,
	}, nil
}

// Registry exposes the session registry (used by tests and embedders).
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Serve starts the Hub server on the configured TCP listener. It
// blocks until ctx is cancelled, then performs graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	return s.serve(ctx, ln)
}

// ServeListener is Serve on a caller-provided listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("hub shutting down...")

		// 1. Reject new sessions and RPCs.
		close(s.shutdownCh)

		// 2. Terminate live sessions so parked waits resolve.
		s.reg.CloseAll(wire.ReasonShutdown)

		// 3. Drain in-flight HTTP requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		// 4. Stop the eviction reaper.
		s.reg.Stop()

		close(shutdownDone)
	}()

	slog.Info("hub listening", "addr", ln.Addr().String())

	if err := s.server.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone
	return nil
}
