package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/util/testutil"
)

func newTestRegistry(t *testing.T, grace time.Duration) *Registry {
	t.Helper()
	r := New(Options{ChannelCap: 16, BufferCap: 8, Grace: grace})
	t.Cleanup(r.Stop)
	return r
}

func TestOpenAndLookup(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	sess, reattached := r.Open("alpha", "first agent", []string{"search"})
	assert.False(t, reattached)
	assert.Equal(t, "alpha", sess.AgentID)
	assert.True(t, r.Registered("alpha"))
	assert.Equal(t, 1, r.Count())

	agentID, got, buf, ok := r.Lookup(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "alpha", agentID)
	assert.Same(t, sess, got)
	assert.NotNil(t, buf)

	_, _, _, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestDisplacementClosesOldSessionAndKeepsBuffer(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	old, _ := r.Open("alpha", "", nil)
	r.BufferFor("alpha").Enqueue(wire.MentionDelivery{MessageID: "m1"})

	replacement, reattached := r.Open("alpha", "", nil)
	assert.True(t, reattached)
	assert.NotEqual(t, old.ID, replacement.ID)

	select {
	case <-old.Done():
	default:
		t.Fatal("displaced session not closed")
	}
	assert.Equal(t, wire.ReasonDisplaced, old.CloseReason())

	// The old session id no longer resolves; the buffer survived.
	_, _, _, ok := r.Lookup(old.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.BufferFor("alpha").Depth())
	assert.Equal(t, 1, r.Count())
}

func TestDetachAndReattachWithinGrace(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	sess, _ := r.Open("alpha", "", nil)
	r.BufferFor("alpha").Enqueue(wire.MentionDelivery{MessageID: "m1"})
	r.Detach(sess)

	// Still registered, no live session.
	assert.True(t, r.Registered("alpha"))
	assert.Nil(t, r.SessionFor("alpha"))
	_, _, _, ok := r.Lookup(sess.ID)
	assert.False(t, ok)

	next, reattached := r.Open("alpha", "", nil)
	assert.True(t, reattached)
	assert.NotNil(t, next)
	assert.Equal(t, 1, r.BufferFor("alpha").Depth())
}

func TestDetachReleasesParkedWait(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	sess, _ := r.Open("alpha", "", nil)
	buf := r.BufferFor("alpha")

	done := make(chan struct{})
	go func() {
		defer close(done)
		batch, err := buf.Wait(sess.Context(), time.Minute)
		assert.NoError(t, err)
		assert.Empty(t, batch)
	}()

	r.Detach(sess)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait stayed parked past detach")
	}

	// The preserved buffer accepts the reattached session's wait.
	next, reattached := r.Open("alpha", "", nil)
	require.True(t, reattached)
	batch, err := r.BufferFor("alpha").Wait(next.Context(), 0)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestDisplacementReleasesParkedWait(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	old, _ := r.Open("alpha", "", nil)
	buf := r.BufferFor("alpha")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = buf.Wait(old.Context(), time.Minute)
	}()

	replacement, reattached := r.Open("alpha", "", nil)
	require.True(t, reattached)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait stayed parked past displacement")
	}

	_, err := r.BufferFor("alpha").Wait(replacement.Context(), 0)
	require.NoError(t, err)
}

func TestStaleDetachDoesNotDisturbReplacement(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	old, _ := r.Open("alpha", "", nil)
	replacement, _ := r.Open("alpha", "", nil)

	// The displaced transport unwinds and detaches its dead session.
	r.Detach(old)

	assert.Same(t, replacement, r.SessionFor("alpha"))
	_, _, _, ok := r.Lookup(replacement.ID)
	assert.True(t, ok)
}

func TestCloseSessionDiscardsBuffer(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	sess, _ := r.Open("alpha", "", nil)
	buf := r.BufferFor("alpha")
	buf.Enqueue(wire.MentionDelivery{MessageID: "m1"})

	r.CloseSession(sess.ID)

	assert.False(t, r.Registered("alpha"))
	assert.Equal(t, wire.ReasonClosed, sess.CloseReason())
	assert.Equal(t, 0, buf.Depth())

	// Idempotent.
	r.CloseSession(sess.ID)
}

func TestGraceEviction(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond)

	var evicted []string
	r.OnChange = func(event, agentID string) {
		if event == "agent_evicted" {
			evicted = append(evicted, agentID)
		}
	}

	sess, _ := r.Open("alpha", "", nil)
	r.Detach(sess)

	testutil.RequireEventually(t, func() bool {
		return !r.Registered("alpha")
	}, "registration never evicted")
	assert.Equal(t, []string{"alpha"}, evicted)
}

func TestListDetails(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	r.Open("beta", "responder", nil)
	r.Open("alpha", "coordinator", []string{"route"})
	r.BufferFor("alpha").Enqueue(wire.MentionDelivery{MessageID: "m1"})

	summary := r.List(false, "alpha")
	require.Len(t, summary, 2)
	assert.Equal(t, "alpha", summary[0].AgentID)
	assert.Equal(t, "beta", summary[1].AgentID)
	assert.Empty(t, summary[0].Capabilities)
	assert.True(t, summary[0].RegisteredAt.IsZero())

	detailed := r.List(true, "alpha")
	assert.Equal(t, []string{"route"}, detailed[0].Capabilities)
	assert.False(t, detailed[0].RegisteredAt.IsZero())
	assert.Equal(t, 1, detailed[0].BufferDepth)
}

func TestListBumpsCallerActivity(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	r.Open("alpha", "", nil)

	before := r.List(true, "")[0].LastActivityAt
	time.Sleep(5 * time.Millisecond)
	r.List(false, "alpha")
	after := r.List(true, "")[0].LastActivityAt

	assert.True(t, after.After(before), "keepalive call should count as activity")
}

func TestSessionPushSaturation(t *testing.T) {
	r := New(Options{ChannelCap: 2, Grace: time.Minute})
	t.Cleanup(r.Stop)

	sess, _ := r.Open("alpha", "", nil)
	require.NoError(t, sess.Push(&wire.Frame{Kind: wire.KindHeartbeat}))
	require.NoError(t, sess.Push(&wire.Frame{Kind: wire.KindHeartbeat}))

	err := sess.Push(&wire.Frame{Kind: wire.KindHeartbeat})
	require.Error(t, err)
	assert.True(t, wire.IsKind(err, wire.ErrTransport))
	assert.Equal(t, wire.ReasonSlowConsumer, sess.CloseReason())
}
