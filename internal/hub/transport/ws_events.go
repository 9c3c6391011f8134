package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/agentmesh/agentmesh/internal/metrics"
)

// WebSocket close codes for the event watch stream.
const (
	wsCloseUnauthorized   = 4001
	wsCloseInvalidRequest = 4002
)

// WSEvents serves /ws/events: a dashboard-facing stream of hub
// lifecycle events (agents joining and leaving, threads, messages).
//
// Protocol:
//  1. Client opens WebSocket with subprotocol "agentmesh.events.v1".
//  2. Client sends the privacy key as a text frame within 10 seconds.
//  3. Server streams JSON-encoded events as text frames.
func (h *Handler) WSEvents(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown() {
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"agentmesh.events.v1"},
	})
	if err != nil {
		slog.Debug("ws/events: accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	ctx := r.Context()

	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	typ, data, err := conn.Read(handshakeCtx)
	if err != nil {
		slog.Debug("ws/events: read key failed", "error", err)
		return
	}
	if typ != websocket.MessageText {
		_ = conn.Close(websocket.StatusCode(wsCloseInvalidRequest), "expected text frame with privacy key")
		return
	}
	if err := h.keyring.Verify(h.cfg.AppID, string(data)); err != nil {
		_ = conn.Close(websocket.StatusCode(wsCloseUnauthorized), "unauthorized")
		return
	}

	watcher := h.events.Watch()
	defer h.events.Unwatch(watcher)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdownCh:
			_ = conn.Close(websocket.StatusNormalClosure, "hub shutting down")
			return
		case e := <-watcher.C():
			payload, err := json.Marshal(e)
			if err != nil {
				slog.Error("ws/events: marshal event", "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
