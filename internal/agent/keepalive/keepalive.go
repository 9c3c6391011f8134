// Package keepalive keeps an agent's session visibly active on fabrics
// that prune idle channels. The probe is list_agents: cheap,
// idempotent, and it bumps the agent's activity clock on the hub.
package keepalive

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// Pinger is the slice of the hub client the engine needs.
type Pinger interface {
	ListAgents(ctx context.Context, includeDetails bool) ([]wire.AgentSummary, error)
	Connected() bool
}

// Modes.
const (
	ModeOff    = "off"
	ModeActive = "active"
)

// probeTimeout bounds one keepalive probe. Probes must never pile up
// behind a slow hub.
const probeTimeout = 2 * time.Second

// Engine periodically probes the hub. A failed probe is logged and
// skipped; the engine never interferes with the dispatch loop.
type Engine struct {
	pinger   Pinger
	mode     string
	interval time.Duration
}

// New creates an Engine. Interval must be positive when mode is
// ModeActive.
func New(pinger Pinger, mode string, interval time.Duration) *Engine {
	return &Engine{pinger: pinger, mode: mode, interval: interval}
}

// Run probes until ctx is cancelled. It returns immediately when the
// mode is off.
func (e *Engine) Run(ctx context.Context) {
	if e.mode != ModeActive {
		slog.Debug("keepalive disabled")
		return
	}

	slog.Info("keepalive active", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probe(ctx)
		}
	}
}

func (e *Engine) probe(ctx context.Context) {
	if !e.pinger.Connected() {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := e.pinger.ListAgents(probeCtx, false); err != nil {
		slog.Debug("keepalive probe failed", "error", err)
	}
}
