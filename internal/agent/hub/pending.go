package hub

import (
	"sync"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// pendingCalls correlates acked operations with their asynchronous
// push responses by correlation id.
type pendingCalls struct {
	mu      sync.Mutex
	waiters map[string]chan *wire.Frame
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiters: make(map[string]chan *wire.Frame)}
}

// register creates a waiter for the given correlation id. The channel
// is buffered so completion never blocks the stream pump.
func (p *pendingCalls) register(id string) chan *wire.Frame {
	ch := make(chan *wire.Frame, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) unregister(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// complete hands a push frame to its waiter. Returns false when no
// waiter is registered for the id.
func (p *pendingCalls) complete(id string, f *wire.Frame) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- f
	return true
}

// failAll resolves every outstanding waiter with an error frame. Called
// when the session stream drops so parked operations fail fast instead
// of timing out.
func (p *pendingCalls) failAll(err *wire.Error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan *wire.Frame)
	p.mu.Unlock()

	for id, ch := range waiters {
		f, ferr := wire.New(wire.KindError, id, err)
		if ferr != nil {
			continue
		}
		ch <- f
	}
}
