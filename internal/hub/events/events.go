// Package events fans out hub lifecycle events (registry changes,
// thread lifecycle, message appends) to WebSocket watchers.
package events

import (
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/internal/metrics"
)

// Event is one observable hub occurrence.
type Event struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agentId,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Watcher is a single subscriber stream.
type Watcher struct {
	ch chan Event
}

// C returns the channel that receives events.
func (w *Watcher) C() <-chan Event {
	return w.ch
}

// Broadcaster tracks watchers and fans out events.
type Broadcaster struct {
	mu       sync.RWMutex
	watchers map[*Watcher]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{watchers: make(map[*Watcher]struct{})}
}

// Watch registers a new watcher. Remove it with Unwatch when done.
func (b *Broadcaster) Watch() *Watcher {
	w := &Watcher{ch: make(chan Event, 64)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[w] = struct{}{}
	return w
}

// Unwatch removes a watcher. Safe to call multiple times.
func (b *Broadcaster) Unwatch(w *Watcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watchers, w)
}

// Broadcast sends an event to all watchers. Non-blocking: a watcher
// with a full buffer misses the event rather than stalling the hub.
func (b *Broadcaster) Broadcast(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for w := range b.watchers {
		select {
		case w.ch <- e:
			metrics.WSEventsTotal.Inc()
		default:
		}
	}
}
