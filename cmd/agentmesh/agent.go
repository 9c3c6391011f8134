package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/agentmesh/agentmesh/agent"
	"github.com/agentmesh/agentmesh/internal/agent/classify"
	"github.com/agentmesh/agentmesh/internal/agent/config"
	"github.com/agentmesh/agentmesh/internal/agent/dispatch"
	agenthub "github.com/agentmesh/agentmesh/internal/agent/hub"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/logging"
)

func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if lvl, err := logging.ParseLevel(*logLevel); err == nil {
		logging.SetLevel(lvl)
	} else {
		slog.Warn("invalid log level, using info", "value", *logLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.PrintBanner("agent", version, cfg.NormalizeHubURL())

	table := classify.Default()
	if cfg.ClassifierRules != "" {
		table, err = classify.Load(cfg.ClassifierRules)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return agent.Run(ctx, agent.RunConfig{
		Config: cfg,
		NewBrain: func(client *agenthub.Client) dispatch.Brain {
			return coordinatorBrain(client, cfg.AgentID, table)
		},
	})
}

// coordinatorBrain is the built-in Brain: it classifies each mention,
// relays specialist-bound work into the thread and waits for the
// specialist's answer on the classified budget, and answers general
// requests directly. Real deployments embed the agent package with
// their own Brain.
func coordinatorBrain(client *agenthub.Client, agentID string, table *classify.Table) dispatch.Brain {
	return dispatch.BrainFunc(func(ctx context.Context, batch []wire.MentionDelivery) ([]dispatch.Action, error) {
		var actions []dispatch.Action
		for _, m := range batch {
			decision := table.Classify(m.Body)
			if decision.Specialist == "" || decision.Specialist == agentID {
				actions = append(actions, dispatch.SendMessage{
					ThreadID: m.ThreadID,
					Body:     fmt.Sprintf("@%s classified your request as %s", m.SenderID, decision.Class),
					Mentions: []string{m.SenderID},
				})
				continue
			}
			actions = append(actions, relayToSpecialist(ctx, client, m, decision))
		}
		return actions, nil
	})
}

// relayToSpecialist forwards one request to the classified specialist
// and waits for its answer on the class wait budget, sliced so the
// coordinator stays responsive. The returned action carries the answer
// (or a shortfall notice) back to the original sender.
func relayToSpecialist(ctx context.Context, client *agenthub.Client, m wire.MentionDelivery, d classify.Decision) dispatch.Action {
	reply := func(body string) dispatch.Action {
		return dispatch.SendMessage{
			ThreadID: m.ThreadID,
			Body:     body,
			Mentions: []string{m.SenderID},
		}
	}

	if err := client.AddParticipant(ctx, m.ThreadID, d.Specialist); err != nil {
		slog.Debug("specialist unavailable", "specialist", d.Specialist, "error", err)
		return reply(fmt.Sprintf("@%s no %s specialist is available right now", m.SenderID, d.Class))
	}
	if _, err := client.SendMessage(ctx, "", m.ThreadID,
		fmt.Sprintf("@%s %s", d.Specialist, m.Body), []string{d.Specialist}); err != nil {
		return reply(fmt.Sprintf("@%s could not reach the %s specialist", m.SenderID, d.Class))
	}

	answer, err := dispatch.AwaitReply(ctx, client, d, classify.DefaultSliceMs)
	if err != nil || len(answer) == 0 {
		return reply(fmt.Sprintf("@%s the %s specialist did not answer within %dms", m.SenderID, d.Class, d.WaitMs))
	}
	return reply(fmt.Sprintf("@%s %s", m.SenderID, answer[0].Body))
}
