// Package dispatch runs an agent's wait-decide-act cycle. The loop
// parks on wait_for_mentions, hands non-empty batches to a Brain, and
// executes the actions the Brain returns. The Brain is never invoked
// on an empty batch: an idle agent costs nothing but the parked wait.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// Brain decides how to respond to a batch of mentions. Implementations
// are typically model-backed and expensive; the loop guarantees batch
// is never empty.
type Brain interface {
	Respond(ctx context.Context, batch []wire.MentionDelivery) ([]Action, error)
}

// BrainFunc adapts a function to the Brain interface.
type BrainFunc func(ctx context.Context, batch []wire.MentionDelivery) ([]Action, error)

// Respond implements Brain.
func (f BrainFunc) Respond(ctx context.Context, batch []wire.MentionDelivery) ([]Action, error) {
	return f(ctx, batch)
}

// HubClient is the slice of the hub client the loop needs.
type HubClient interface {
	WaitForMentions(ctx context.Context, timeoutMs int64) ([]wire.MentionDelivery, error)
	CreateThread(ctx context.Context, corrID, name string, participants []string) (string, error)
	AddParticipant(ctx context.Context, threadID, agentID string) error
	RemoveParticipant(ctx context.Context, threadID, agentID string) error
	SendMessage(ctx context.Context, corrID, threadID, body string, mentions []string) (string, error)
	CloseThread(ctx context.Context, threadID string) error
}

const (
	// maxAttempts bounds retries of one action on transport errors.
	maxAttempts = 3
	// retryBase doubles per attempt: 1s, 2s, 4s.
	retryBase = 1 * time.Second

	// emptyBackoff paces the loop between empty wait cycles.
	emptyBackoff = 1500 * time.Millisecond
)

// Options configures a Loop.
type Options struct {
	// WaitTimeoutMs is the per-cycle wait budget.
	WaitTimeoutMs int64

	// OnActionFailed observes actions that exhausted their retries.
	// Optional.
	OnActionFailed func(a Action, err error)
}

// Loop is the wait-decide-act cycle for one agent.
type Loop struct {
	client HubClient
	brain  Brain
	opts   Options

	sleep func(ctx context.Context, d time.Duration) // test seam
}

// New creates a Loop.
func New(client HubClient, brain Brain, opts Options) *Loop {
	if opts.WaitTimeoutMs <= 0 {
		opts.WaitTimeoutMs = 4000
	}
	return &Loop{client: client, brain: brain, opts: opts, sleep: sleepCtx}
}

// Run cycles until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := l.client.WaitForMentions(ctx, l.opts.WaitTimeoutMs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("wait cycle failed, backing off", "error", err)
			l.sleep(ctx, emptyBackoff)
			continue
		}
		if len(batch) == 0 {
			l.sleep(ctx, emptyBackoff)
			continue
		}

		l.dispatch(ctx, batch)
	}
}

// dispatch runs the Brain over one non-empty batch and executes its
// actions. Brain failures (error or panic) are reported back into the
// originating threads rather than crashing the agent.
func (l *Loop) dispatch(ctx context.Context, batch []wire.MentionDelivery) {
	actions, err := l.respond(ctx, batch)
	if err != nil {
		slog.Error("brain failed on batch", "batch_size", len(batch), "error", err)
		l.reportFailure(ctx, batch)
		return
	}

	for _, a := range actions {
		if ctx.Err() != nil {
			return
		}
		if err := l.execute(ctx, a); err != nil {
			slog.Error("action failed", "action", a.describe(), "error", err)
			if l.opts.OnActionFailed != nil {
				l.opts.OnActionFailed(a, err)
			}
		}
	}
}

func (l *Loop) respond(ctx context.Context, batch []wire.MentionDelivery) (actions []Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			actions = nil
			err = fmt.Errorf("brain panic: %v", r)
		}
	}()
	return l.brain.Respond(ctx, batch)
}

// execute performs one action with retries on transport errors. The
// correlation id is fixed across attempts so hub-side deduplication
// absorbs retried creates and sends.
func (l *Loop) execute(ctx context.Context, a Action) error {
	corrID := uuid.NewString()

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			l.sleep(ctx, retryBase<<(attempt-1))
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		err = l.apply(ctx, a, corrID)
		if err == nil || !wire.Retryable(err) {
			return err
		}
	}
	return err
}

func (l *Loop) apply(ctx context.Context, a Action, corrID string) error {
	switch act := a.(type) {
	case SendMessage:
		_, err := l.client.SendMessage(ctx, corrID, act.ThreadID, act.Body, act.Mentions)
		return err
	case CreateThread:
		_, err := l.client.CreateThread(ctx, corrID, act.Name, act.Participants)
		return err
	case AddParticipant:
		return l.client.AddParticipant(ctx, act.ThreadID, act.AgentID)
	case RemoveParticipant:
		return l.client.RemoveParticipant(ctx, act.ThreadID, act.AgentID)
	case CloseThread:
		return l.client.CloseThread(ctx, act.ThreadID)
	default:
		return fmt.Errorf("unknown action %T", a)
	}
}

// reportFailure posts a short apology into each thread the failed
// batch came from, mentioning the original senders so work is not
// silently dropped.
func (l *Loop) reportFailure(ctx context.Context, batch []wire.MentionDelivery) {
	senders := make(map[string]map[string]bool) // threadID -> senderIDs
	for _, m := range batch {
		if senders[m.ThreadID] == nil {
			senders[m.ThreadID] = make(map[string]bool)
		}
		senders[m.ThreadID][m.SenderID] = true
	}
	for threadID, set := range senders {
		mentions := make([]string, 0, len(set))
		for id := range set {
			mentions = append(mentions, id)
		}
		body := "I hit an internal error handling your last message; please retry."
		if _, err := l.client.SendMessage(ctx, uuid.NewString(), threadID, body, mentions); err != nil {
			slog.Debug("failure report not delivered", "thread", threadID, "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
