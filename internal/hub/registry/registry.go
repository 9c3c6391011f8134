// Package registry tracks live agent sessions: one session per agent
// id, displacement of stale sessions, detach with a reconnect grace
// window that preserves the mention buffer, and eviction after the
// window expires.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentmesh/agentmesh/internal/hub/id"
	"github.com/agentmesh/agentmesh/internal/hub/mention"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/metrics"
)

// Options configures a Registry.
type Options struct {
	ChannelCap int           // downstream frame channel bound (default 256)
	BufferCap  int           // mention buffer soft cap (default mention.DefaultCap)
	Grace      time.Duration // reconnect grace window (default 30s)
}

type registration struct {
	agentID      string
	description  string
	capabilities []string
	registeredAt time.Time
	lastActivity atomic.Int64 // unix nanos

	buffer *mention.Buffer

	// sess is nil while the registration is detached (transport lost,
	// grace window running).
	sess       *Session
	detachedAt time.Time
}

// Registry is the hub's map of live agents. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*registration // agentID -> registration
	sessions map[string]string        // sessionID -> agentID

	opts Options

	stopOnce sync.Once
	stopCh   chan struct{}

	// OnChange, when set, is invoked outside the registry lock after a
	// registry mutation (open, close, displace, evict).
	OnChange func(event, agentID string)
}

// New creates a Registry and starts its eviction reaper.
func New(opts Options) *Registry {
	if opts.ChannelCap <= 0 {
		opts.ChannelCap = 256
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	r := &Registry{
		agents:   make(map[string]*registration),
		sessions: make(map[string]string),
		opts:     opts,
		stopCh:   make(chan struct{}),
	}
	go r.reap()
	return r
}

// Stop halts the eviction reaper.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Open establishes a session for agentID. An existing live session for
// the same agent is displaced (closed with reason displaced). A
// reconnect within the grace window reattaches the preserved mention
// buffer; the second return reports whether that happened.
func (r *Registry) Open(agentID, description string, capabilities []string) (*Session, bool) {
	sess := newSession(id.GenerateSession(), agentID, r.opts.ChannelCap)

	r.mu.Lock()
	var displaced *Session
	reg, reattached := r.agents[agentID]
	if reattached {
		if reg.sess != nil {
			displaced = reg.sess
			delete(r.sessions, reg.sess.ID)
		}
		reg.description = description
		reg.capabilities = capabilities
		reg.sess = sess
		reg.detachedAt = time.Time{}
	} else {
		reg = &registration{
			agentID:      agentID,
			description:  description,
			capabilities: capabilities,
			registeredAt: time.Now(),
			buffer:       mention.NewBuffer(r.opts.BufferCap),
			sess:         sess,
		}
		r.agents[agentID] = reg
	}
	reg.lastActivity.Store(time.Now().UnixNano())
	r.sessions[sess.ID] = agentID
	r.mu.Unlock()

	if displaced != nil {
		displaced.Close(wire.ReasonDisplaced)
		reg.buffer.Abort()
		metrics.SessionsDisplaced.Inc()
		slog.Info("session displaced", "agent_id", agentID, "old_session", displaced.ID, "new_session", sess.ID)
	} else {
		metrics.ActiveSessions.Inc()
	}
	r.notify("agent_connected", agentID)
	return sess, reattached
}

// CloseSession explicitly removes the agent and discards its mention
// buffer. Idempotent: closing an unknown session is a no-op.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	agentID, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	reg := r.agents[agentID]
	var sess *Session
	if reg != nil && reg.sess != nil && reg.sess.ID == sessionID {
		sess = reg.sess
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if sess != nil {
		sess.Close(wire.ReasonClosed)
		reg.buffer.Discard()
		metrics.ActiveSessions.Dec()
		r.notify("agent_left", agentID)
		slog.Info("session closed", "agent_id", agentID, "session", sessionID)
	}
}

// Detach records transport loss for the given session and starts the
// grace window. The registration and its mention buffer are preserved
// until the window expires. Detaching a session that has already been
// replaced is a no-op (a newer connection must not be disturbed).
func (r *Registry) Detach(sess *Session) {
	r.mu.Lock()
	reg := r.agents[sess.AgentID]
	detached := reg != nil && reg.sess == sess
	if detached {
		reg.sess = nil
		reg.detachedAt = time.Now()
	}
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	if detached {
		// Terminate the session and release any wait parked on the
		// shared buffer; a reattach within the grace window must not
		// inherit a stale waiter.
		sess.Close(wire.ReasonClosed)
		reg.buffer.Abort()
		metrics.ActiveSessions.Dec()
		slog.Info("session detached, grace window started",
			"agent_id", sess.AgentID, "session", sess.ID, "grace", r.opts.Grace)
	}
}

// List snapshots all registered agents. callerAgentID's lastActivityAt
// is bumped: keepalive pings count as activity. The snapshot is taken
// under a read lock so writers are not blocked.
func (r *Registry) List(includeDetails bool, callerAgentID string) []wire.AgentSummary {
	r.mu.RLock()
	out := make([]wire.AgentSummary, 0, len(r.agents))
	for _, reg := range r.agents {
		if reg.agentID == callerAgentID {
			reg.lastActivity.Store(time.Now().UnixNano())
		}
		s := wire.AgentSummary{
			AgentID:     reg.agentID,
			Description: reg.description,
		}
		if includeDetails {
			s.Capabilities = reg.capabilities
			s.RegisteredAt = reg.registeredAt
			s.LastActivityAt = time.Unix(0, reg.lastActivity.Load())
			s.BufferDepth = reg.buffer.Depth()
			s.BufferDropped = reg.buffer.Dropped()
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// BufferFor returns the mention buffer for a registered agent, or nil.
func (r *Registry) BufferFor(agentID string) *mention.Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.agents[agentID]; ok {
		return reg.buffer
	}
	return nil
}

// SessionFor returns the live session for an agent, or nil while the
// agent is detached or unknown.
func (r *Registry) SessionFor(agentID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.agents[agentID]; ok {
		return reg.sess
	}
	return nil
}

// Lookup resolves a session id to its agent and session.
func (r *Registry) Lookup(sessionID string) (agentID string, sess *Session, buf *mention.Buffer, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agentID, found := r.sessions[sessionID]
	if !found {
		return "", nil, nil, false
	}
	reg := r.agents[agentID]
	if reg == nil || reg.sess == nil || reg.sess.ID != sessionID {
		return "", nil, nil, false
	}
	return agentID, reg.sess, reg.buffer, true
}

// Registered reports whether the agent currently has a registration
// (live or within the grace window).
func (r *Registry) Registered(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Touch bumps the agent's lastActivityAt.
func (r *Registry) Touch(agentID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.agents[agentID]; ok {
		reg.lastActivity.Store(time.Now().UnixNano())
	}
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// CloseAll terminates every live session with the given reason. Used
// during hub shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.agents))
	for _, reg := range r.agents {
		if reg.sess != nil {
			sessions = append(sessions, reg.sess)
		}
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(reason)
	}
}

// reap evicts registrations whose grace window has expired.
func (r *Registry) reap() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
		}

		now := time.Now()
		var evicted []string
		r.mu.Lock()
		for agentID, reg := range r.agents {
			if reg.sess == nil && now.Sub(reg.detachedAt) > r.opts.Grace {
				reg.buffer.Discard()
				delete(r.agents, agentID)
				evicted = append(evicted, agentID)
			}
		}
		r.mu.Unlock()

		for _, agentID := range evicted {
			metrics.SessionsEvicted.Inc()
			r.notify("agent_evicted", agentID)
			slog.Info("registration evicted after grace window", "agent_id", agentID)
		}
	}
}

func (r *Registry) notify(event, agentID string) {
	if r.OnChange != nil {
		r.OnChange(event, agentID)
	}
}
