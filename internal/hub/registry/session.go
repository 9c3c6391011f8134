package registry

import (
	"context"
	"sync"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// Session is one live transport attachment. The hub owns the session;
// the agent holds only the session id and the receive end of the
// downstream channel.
type Session struct {
	ID      string
	AgentID string

	out    chan *wire.Frame
	closed chan struct{}

	mu        sync.Mutex
	reason    string
	closeOnce sync.Once

	// cancel aborts any wait parked on this session's buffer.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(id, agentID string, channelCap int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:      id,
		AgentID: agentID,
		out:     make(chan *wire.Frame, channelCap),
		closed:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Push enqueues a frame on the downstream channel. The channel is
// bounded: a saturated session is the slowest consumer and is
// terminated rather than allowed to stall the hub.
func (s *Session) Push(f *wire.Frame) error {
	select {
	case <-s.closed:
		return wire.Errorf(wire.ErrTransport, "session %s closed", s.ID)
	default:
	}
	select {
	case s.out <- f:
		return nil
	default:
		s.Close(wire.ReasonSlowConsumer)
		return wire.Errorf(wire.ErrTransport, "session %s push channel saturated", s.ID)
	}
}

// Frames returns the downstream channel consumed by the SSE pump.
func (s *Session) Frames() <-chan *wire.Frame {
	return s.out
}

// Done is closed when the session has been terminated.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Context is cancelled when the session terminates; waits parked on
// the agent's mention buffer are bound to it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close terminates the session with a reason. Idempotent.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.cancel()
		close(s.closed)
	})
}

// CloseReason returns the reason recorded by Close, or "".
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
