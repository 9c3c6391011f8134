// Package agent runs a complete client runtime: hub session with
// reconnect, keepalive engine, and the wait-decide-act dispatch loop
// around a caller-provided Brain.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentmesh/agentmesh/internal/agent/config"
	"github.com/agentmesh/agentmesh/internal/agent/dispatch"
	agenthub "github.com/agentmesh/agentmesh/internal/agent/hub"
	"github.com/agentmesh/agentmesh/internal/agent/keepalive"
)

// readinessPoll paces the waitForAgents readiness probe.
const readinessPoll = 2 * time.Second

// RunConfig bundles everything Run needs.
type RunConfig struct {
	Config *config.Config
	Brain  dispatch.Brain

	// NewBrain, when set, builds the Brain from the hub client instead
	// of Brain. Coordinators use it to issue their own waits and relays
	// between dispatch cycles.
	NewBrain func(client *agenthub.Client) dispatch.Brain

	// OnActionFailed observes actions that exhausted their retries.
	// Optional.
	OnActionFailed func(a dispatch.Action, err error)
}

// Run connects to the hub and drives the dispatch loop until ctx is
// cancelled. Shutdown order: the dispatch loop stops first, then
// keepalive, then the session is closed.
func Run(ctx context.Context, rc RunConfig) error {
	cfg := rc.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if rc.Brain == nil && rc.NewBrain == nil {
		return fmt.Errorf("a Brain is required")
	}

	client := agenthub.New(agenthub.Options{
		BaseURL:          cfg.NormalizeHubURL(),
		AgentID:          cfg.AgentID,
		AgentDescription: cfg.AgentDescription,
		WaitForAgents:    cfg.WaitForAgents,
		AppID:            cfg.AppID,
		PrivacyKey:       cfg.PrivacyKey,
		MaxBackoff:       time.Duration(cfg.ReconnectMaxBackoffMs) * time.Millisecond,
	})

	connCtx, stopConn := context.WithCancel(context.Background())
	defer stopConn()
	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		client.ConnectWithReconnect(connCtx)
	}()

	if err := awaitReady(ctx, client, cfg.WaitForAgents); err != nil {
		return err
	}

	keepCtx, stopKeepalive := context.WithCancel(context.Background())
	defer stopKeepalive()
	engine := keepalive.New(client, cfg.KeepaliveMode,
		time.Duration(cfg.KeepaliveIntervalMs)*time.Millisecond)
	keepDone := make(chan struct{})
	go func() {
		defer close(keepDone)
		engine.Run(keepCtx)
	}()

	brain := rc.Brain
	if rc.NewBrain != nil {
		brain = rc.NewBrain(client)
	}
	if brain == nil {
		return fmt.Errorf("NewBrain returned nil")
	}
	loop := dispatch.New(client, brain, dispatch.Options{
		WaitTimeoutMs:  cfg.WaitTimeoutMs,
		OnActionFailed: rc.OnActionFailed,
	})

	slog.Info("agent running", "agent_id", cfg.AgentID, "hub", cfg.NormalizeHubURL())
	err := loop.Run(ctx)

	stopKeepalive()
	<-keepDone

	closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if cerr := client.CloseSession(closeCtx); cerr != nil {
		slog.Debug("close session", "error", cerr)
	}
	stopConn()
	<-connDone

	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

// awaitReady blocks until the client is connected and, when
// waitForAgents is set, until that many agents (including this one)
// are registered.
func awaitReady(ctx context.Context, client *agenthub.Client, waitForAgents int) error {
	ticker := time.NewTicker(readinessPoll)
	defer ticker.Stop()

	for {
		if client.Connected() {
			if waitForAgents <= 0 {
				return nil
			}
			probeCtx, cancel := context.WithTimeout(ctx, readinessPoll)
			agents, err := client.ListAgents(probeCtx, false)
			cancel()
			if err == nil && len(agents) >= waitForAgents {
				slog.Info("fabric ready", "agents", len(agents), "required", waitForAgents)
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
