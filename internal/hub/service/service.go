// Package service implements the coordination tool surface: the fixed
// set of operations agents invoke over their session transport, the
// mention router, and the wait coordinator.
package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/internal/hub/events"
	"github.com/agentmesh/agentmesh/internal/hub/registry"
	"github.com/agentmesh/agentmesh/internal/hub/thread"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// Service ties the session registry, thread store and mention buffers
// together behind the frame-level tool surface.
type Service struct {
	reg     *registry.Registry
	threads *thread.Store
	events  *events.Broadcaster
	dedupe  *dedupeCache

	maxWaitMs int64

	// routeMu serializes mention fan-out so that per-agent delivery
	// order matches global message append order across threads.
	routeMu sync.Mutex
}

// Options configures a Service.
type Options struct {
	MaxWaitMs    int64         // T_max for wait_for_mentions (default 60000)
	DedupeWindow time.Duration // correlation-id dedupe window (default 30s)
}

// New creates a Service.
func New(reg *registry.Registry, threads *thread.Store, ev *events.Broadcaster, opts Options) *Service {
	if opts.MaxWaitMs <= 0 {
		opts.MaxWaitMs = 60_000
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 30 * time.Second
	}
	return &Service{
		reg:       reg,
		threads:   threads,
		events:    ev,
		dedupe:    newDedupeCache(opts.DedupeWindow),
		maxWaitMs: opts.MaxWaitMs,
	}
}

// MaxWaitMs returns the hub's wait timeout ceiling (T_max).
func (s *Service) MaxWaitMs() int64 {
	return s.maxWaitMs
}

// Handle processes one upstream frame for the given session and
// returns the frame to answer with. wait_for_mentions is acknowledged
// here and resolved asynchronously on the session's push channel.
// Unknown frame kinds are tolerated and acknowledged, never rejected.
func (s *Service) Handle(sess *registry.Session, f *wire.Frame) *wire.Frame {
	agentID := sess.AgentID
	s.reg.Touch(agentID)

	switch f.Kind {
	case wire.OpListAgents:
		var req wire.ListAgentsRequest
		if len(f.Payload) > 0 {
			if err := f.DecodePayload(&req); err != nil {
				return errorFrame(f.ID, err)
			}
		}
		agents := s.reg.List(req.IncludeDetails, agentID)
		return resultFrame(f.ID, wire.ListAgentsResponse{Agents: agents})

	case wire.OpCreateThread:
		if cached, ok := s.dedupe.get(f.ID); ok {
			return cached
		}
		var req wire.CreateThreadRequest
		if err := f.DecodePayload(&req); err != nil {
			return errorFrame(f.ID, err)
		}
		threadID, err := s.threads.Create(agentID, req.Name, req.Participants)
		if err != nil {
			return errorFrame(f.ID, err)
		}
		s.events.Broadcast(events.Event{Type: "thread_created", AgentID: agentID, ThreadID: threadID, Detail: req.Name})
		resp := resultFrame(f.ID, wire.CreateThreadResponse{ThreadID: threadID})
		s.dedupe.put(f.ID, resp)
		return resp

	case wire.OpAddParticipant:
		var req wire.ParticipantRequest
		if err := f.DecodePayload(&req); err != nil {
			return errorFrame(f.ID, err)
		}
		if err := s.threads.AddParticipant(req.ThreadID, agentID, req.AgentID); err != nil {
			return errorFrame(f.ID, err)
		}
		s.events.Broadcast(events.Event{Type: "participant_added", AgentID: req.AgentID, ThreadID: req.ThreadID})
		return resultFrame(f.ID, wire.OK{})

	case wire.OpRemoveParticipant:
		var req wire.ParticipantRequest
		if err := f.DecodePayload(&req); err != nil {
			return errorFrame(f.ID, err)
		}
		if err := s.threads.RemoveParticipant(req.ThreadID, agentID, req.AgentID); err != nil {
			return errorFrame(f.ID, err)
		}
		s.events.Broadcast(events.Event{Type: "participant_removed", AgentID: req.AgentID, ThreadID: req.ThreadID})
		return resultFrame(f.ID, wire.OK{})

	case wire.OpSendMessage:
		if cached, ok := s.dedupe.get(f.ID); ok {
			return cached
		}
		var req wire.SendMessageRequest
		if err := f.DecodePayload(&req); err != nil {
			return errorFrame(f.ID, err)
		}
		msg, err := s.threads.Append(req.ThreadID, agentID, req.Body, req.Mentions)
		if err != nil {
			return errorFrame(f.ID, err)
		}
		s.routeMentions(msg)
		s.events.Broadcast(events.Event{Type: "message_posted", AgentID: agentID, ThreadID: msg.ThreadID, MessageID: msg.ID})
		resp := resultFrame(f.ID, wire.SendMessageResponse{MessageID: msg.ID})
		s.dedupe.put(f.ID, resp)
		return resp

	case wire.OpCloseThread:
		var req wire.CloseThreadRequest
		if err := f.DecodePayload(&req); err != nil {
			return errorFrame(f.ID, err)
		}
		if err := s.threads.Close(req.ThreadID, agentID); err != nil {
			return errorFrame(f.ID, err)
		}
		s.events.Broadcast(events.Event{Type: "thread_closed", AgentID: agentID, ThreadID: req.ThreadID})
		return resultFrame(f.ID, wire.OK{})

	case wire.OpWaitForMentions:
		var req wire.WaitForMentionsRequest
		if err := f.DecodePayload(&req); err != nil {
			return errorFrame(f.ID, err)
		}
		if req.TimeoutMs < 0 || req.TimeoutMs > s.maxWaitMs {
			return errorFrame(f.ID, wire.Errorf(wire.ErrTimeoutTooLarge,
				"timeoutMs %d outside [0, %d]", req.TimeoutMs, s.maxWaitMs))
		}
		go s.completeWait(sess, f.ID, time.Duration(req.TimeoutMs)*time.Millisecond)
		return &wire.Frame{Kind: wire.KindAck, ID: f.ID}

	case wire.OpCloseSession:
		s.reg.CloseSession(sess.ID)
		return resultFrame(f.ID, wire.OK{})

	case wire.OpPing:
		// Notification-style frame: no correlation id required.
		return &wire.Frame{Kind: wire.KindAck, ID: f.ID}

	default:
		// Unknown kinds are ignored for forward compatibility.
		slog.Debug("ignoring unknown frame kind", "kind", f.Kind, "agent_id", agentID)
		return &wire.Frame{Kind: wire.KindAck, ID: f.ID}
	}
}

// completeWait parks on the agent's mention buffer and pushes the
// resolved batch (or an error) back over the session's push channel.
func (s *Service) completeWait(sess *registry.Session, corrID string, timeout time.Duration) {
	buf := s.reg.BufferFor(sess.AgentID)
	if buf == nil {
		_ = sess.Push(errorFrame(corrID, wire.Errorf(wire.ErrUnknownAgent, "agent %q is not registered", sess.AgentID)))
		return
	}

	batch, err := buf.Wait(sess.Context(), timeout)
	if err != nil {
		_ = sess.Push(errorFrame(corrID, err))
		return
	}
	if batch == nil {
		batch = []wire.MentionDelivery{}
	}
	frame, ferr := wire.New(wire.KindMentions, corrID, wire.WaitForMentionsResponse{Mentions: batch})
	if ferr != nil {
		slog.Error("encode mentions frame", "error", ferr)
		return
	}
	if err := sess.Push(frame); err != nil {
		// The session died while the wait was parked. Put the batch
		// back so a reattached session can drain it.
		for _, d := range batch {
			buf.Enqueue(d)
		}
		slog.Warn("failed to push wait result", "agent_id", sess.AgentID, "error", err)
	}
}

// routeMentions fans one appended message out to the mention buffers
// of every mentioned agent. The sender is never self-delivered. The
// router lock makes per-agent delivery order match the global append
// order across threads.
func (s *Service) routeMentions(msg thread.Message) {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()

	for _, target := range msg.Mentions {
		if target == msg.SenderID {
			continue
		}
		buf := s.reg.BufferFor(target)
		if buf == nil {
			// Participant departed since the thread was created; the
			// message stays in the log but has no live recipient.
			continue
		}
		buf.Enqueue(wire.MentionDelivery{
			ThreadID:  msg.ThreadID,
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Body:      msg.Body,
			PostedAt:  msg.PostedAt,
		})
	}
}

func resultFrame(id string, payload any) *wire.Frame {
	f, err := wire.New(wire.KindResult, id, payload)
	if err != nil {
		return errorFrame(id, wire.Errorf(wire.ErrProtocol, "encode result: %v", err))
	}
	return f
}

func errorFrame(id string, err error) *wire.Frame {
	we, ok := err.(*wire.Error)
	if !ok {
		we = wire.Errorf(wire.ErrProtocol, "%v", err)
	}
	f, ferr := wire.New(wire.KindError, id, we)
	if ferr != nil {
		return &wire.Frame{Kind: wire.KindError, ID: id}
	}
	return f
}
