// Package thread implements the in-memory thread store: named,
// participant-scoped, append-only message logs. Nothing here survives
// a hub restart by design.
package thread

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/internal/hub/id"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/metrics"
	"github.com/agentmesh/agentmesh/internal/util/sanitize"
)

const (
	maxNameLen = 120
	maxBodyLen = 64 * 1024
)

// mentionPattern matches @name tokens in message bodies.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// Message is one immutable appended record.
type Message struct {
	ID       string
	ThreadID string
	SenderID string
	Body     string
	Mentions []string
	PostedAt time.Time
}

// Info is a snapshot of thread metadata.
type Info struct {
	ID           string
	Name         string
	CreatedBy    string
	Participants []string
	Closed       bool
	Messages     int
}

type threadRec struct {
	mu           sync.Mutex
	id           string
	name         string
	createdBy    string
	participants map[string]struct{}
	closed       bool
	log          []Message
}

// Store holds all threads. The registered callback decides whether an
// agent id currently has a hub registration; threads never hold agent
// pointers, only ids.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*threadRec

	registered func(agentID string) bool
}

// NewStore creates a Store. registered must be non-nil.
func NewStore(registered func(agentID string) bool) *Store {
	return &Store{
		threads:    make(map[string]*threadRec),
		registered: registered,
	}
}

// Create atomically creates a thread. The creator is implicitly a
// participant; every listed participant must be currently registered.
func (s *Store) Create(creator, name string, participants []string) (string, error) {
	members := map[string]struct{}{creator: {}}
	for _, p := range participants {
		if !s.registered(p) {
			return "", wire.Errorf(wire.ErrUnknownAgent, "agent %q is not registered", p)
		}
		members[p] = struct{}{}
	}

	rec := &threadRec{
		id:           id.Generate(),
		name:         sanitize.Line(name, maxNameLen),
		createdBy:    creator,
		participants: members,
	}

	s.mu.Lock()
	s.threads[rec.id] = rec
	s.mu.Unlock()

	metrics.ThreadsCreated.Inc()
	return rec.id, nil
}

// AddParticipant adds agentID to the thread. Any existing participant
// may extend the conversation.
func (s *Store) AddParticipant(threadID, requester, agentID string) error {
	rec, err := s.get(threadID)
	if err != nil {
		return err
	}
	if !s.registered(agentID) {
		return wire.Errorf(wire.ErrUnknownAgent, "agent %q is not registered", agentID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return wire.Errorf(wire.ErrThreadClosed, "thread %s is closed", threadID)
	}
	if _, ok := rec.participants[requester]; !ok {
		return wire.Errorf(wire.ErrNotAParticipant, "agent %q is not a participant of thread %s", requester, threadID)
	}
	rec.participants[agentID] = struct{}{}
	return nil
}

// RemoveParticipant removes agentID from the thread. Removing the
// creator is allowed; removing the last participant closes the thread.
func (s *Store) RemoveParticipant(threadID, requester, agentID string) error {
	rec, err := s.get(threadID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.participants[requester]; !ok {
		return wire.Errorf(wire.ErrNotAParticipant, "agent %q is not a participant of thread %s", requester, threadID)
	}
	if _, ok := rec.participants[agentID]; !ok {
		return wire.Errorf(wire.ErrNotAParticipant, "agent %q is not a participant of thread %s", agentID, threadID)
	}
	delete(rec.participants, agentID)
	if len(rec.participants) == 0 {
		rec.closed = true
	}
	return nil
}

// Close finalizes the thread. Idempotent; further posts fail with
// THREAD_CLOSED.
func (s *Store) Close(threadID, requester string) error {
	rec, err := s.get(threadID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.participants[requester]; !ok && !rec.closed {
		return wire.Errorf(wire.ErrNotAParticipant, "agent %q is not a participant of thread %s", requester, threadID)
	}
	rec.closed = true
	return nil
}

// Append validates and appends a message under the thread lock, then
// returns it for mention routing. Effective mentions are the explicit
// list unioned with @name body tokens that name participants; every
// explicit mention must be a participant. A failed validation never
// mutates the log.
func (s *Store) Append(threadID, senderID, body string, mentions []string) (Message, error) {
	rec, err := s.get(threadID)
	if err != nil {
		return Message{}, err
	}

	body = sanitize.Text(body, maxBodyLen)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed {
		return Message{}, wire.Errorf(wire.ErrThreadClosed, "thread %s is closed", threadID)
	}
	if _, ok := rec.participants[senderID]; !ok {
		return Message{}, wire.Errorf(wire.ErrNotAParticipant, "sender %q is not a participant of thread %s", senderID, threadID)
	}

	set := make(map[string]struct{}, len(mentions))
	for _, m := range mentions {
		if _, ok := rec.participants[m]; !ok {
			return Message{}, wire.Errorf(wire.ErrMentionNotParticipant, "mentioned agent %q is not a participant of thread %s", m, threadID)
		}
		set[m] = struct{}{}
	}
	// Body tokens are advisory: only those naming a participant count.
	for _, sub := range mentionPattern.FindAllStringSubmatch(body, -1) {
		if _, ok := rec.participants[sub[1]]; ok {
			set[sub[1]] = struct{}{}
		}
	}

	final := make([]string, 0, len(set))
	for m := range set {
		final = append(final, m)
	}
	sort.Strings(final)

	msg := Message{
		ID:       id.Generate(),
		ThreadID: threadID,
		SenderID: senderID,
		Body:     body,
		Mentions: final,
		PostedAt: time.Now(),
	}
	rec.log = append(rec.log, msg)
	metrics.MessagesAppended.Inc()
	return msg, nil
}

// Snapshot returns thread metadata, for diagnostics and tests.
func (s *Store) Snapshot(threadID string) (Info, error) {
	rec, err := s.get(threadID)
	if err != nil {
		return Info{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	parts := make([]string, 0, len(rec.participants))
	for p := range rec.participants {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return Info{
		ID:           rec.id,
		Name:         rec.name,
		CreatedBy:    rec.createdBy,
		Participants: parts,
		Closed:       rec.closed,
		Messages:     len(rec.log),
	}, nil
}

// Log returns a copy of the thread's message log.
func (s *Store) Log(threadID string) ([]Message, error) {
	rec, err := s.get(threadID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Message, len(rec.log))
	copy(out, rec.log)
	return out, nil
}

func (s *Store) get(threadID string) (*threadRec, error) {
	s.mu.RLock()
	rec, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, wire.Errorf(wire.ErrUnknownThread, "thread %q does not exist", threadID)
	}
	return rec, nil
}
