// Package transport exposes the hub over HTTP: a server-sent-event
// stream per agent session, an upstream RPC endpoint, and a WebSocket
// event watch stream.
package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmesh/agentmesh/internal/hub/auth"
	"github.com/agentmesh/agentmesh/internal/hub/config"
	"github.com/agentmesh/agentmesh/internal/hub/events"
	"github.com/agentmesh/agentmesh/internal/hub/registry"
	"github.com/agentmesh/agentmesh/internal/hub/service"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/util/sanitize"
)

const maxDescriptionLen = 512

// Handler serves the hub's HTTP surface.
type Handler struct {
	cfg        *config.Config
	reg        *registry.Registry
	svc        *service.Service
	keyring    *auth.Keyring
	events     *events.Broadcaster
	shutdownCh <-chan struct{}
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, reg *registry.Registry, svc *service.Service, keyring *auth.Keyring, ev *events.Broadcaster, shutdownCh <-chan struct{}) *Handler {
	return &Handler{
		cfg:        cfg,
		reg:        reg,
		svc:        svc,
		keyring:    keyring,
		events:     ev,
		shutdownCh: shutdownCh,
	}
}

// SSE serves GET /api/sse: the durable downstream channel of one agent
// session. Query parameters carry the identity handshake: agentId,
// agentDescription, waitForAgents (advisory), appId, privacyKey.
func (h *Handler) SSE(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown() {
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	if err := h.keyring.Verify(q.Get("appId"), q.Get("privacyKey")); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	agentID := q.Get("agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}
	description := sanitize.Line(q.Get("agentDescription"), maxDescriptionLen)
	capabilities := q["capability"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sess, reattached := h.reg.Open(agentID, description, capabilities)
	defer h.reg.Detach(sess)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	hello := wire.MustNew(wire.KindHello, "", wire.Hello{
		SessionID:   sess.ID,
		AgentID:     agentID,
		HeartbeatMs: h.cfg.HeartbeatMs,
		MaxWaitMs:   h.cfg.MaxWaitMs,
		GraceMs:     h.cfg.GraceMs,
		Reattached:  reattached,
	})
	if err := writeEvent(w, flusher, hello); err != nil {
		return
	}

	slog.Info("agent connected", "agent_id", agentID, "session", sess.ID, "reattached", reattached)
	defer slog.Info("agent stream ended", "agent_id", agentID, "session", sess.ID)

	heartbeat := time.NewTicker(h.cfg.Heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-h.shutdownCh:
			sess.Close(wire.ReasonShutdown)
			_ = writeEvent(w, flusher, wire.MustNew(wire.KindClosed, "", wire.Closed{Reason: wire.ReasonShutdown}))
			return

		case <-sess.Done():
			reason := sess.CloseReason()
			_ = writeEvent(w, flusher, wire.MustNew(wire.KindClosed, "", wire.Closed{Reason: reason}))
			return

		case f := <-sess.Frames():
			if err := writeEvent(w, flusher, f); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := writeEvent(w, flusher, &wire.Frame{Kind: wire.KindHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) shuttingDown() bool {
	select {
	case <-h.shutdownCh:
		return true
	default:
		return false
	}
}

// writeEvent writes one frame as an SSE data event and flushes.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, f *wire.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
