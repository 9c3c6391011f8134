package transport

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/hub/auth"
	"github.com/agentmesh/agentmesh/internal/hub/config"
	"github.com/agentmesh/agentmesh/internal/hub/events"
	"github.com/agentmesh/agentmesh/internal/hub/msgcodec"
	"github.com/agentmesh/agentmesh/internal/hub/registry"
	"github.com/agentmesh/agentmesh/internal/hub/service"
	"github.com/agentmesh/agentmesh/internal/hub/thread"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

type testHub struct {
	srv *httptest.Server
	reg *registry.Registry
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	cfg := &config.Config{
		Addr:       ":0",
		AppID:      "app1",
		PrivacyKey: "secret",
	}
	require.NoError(t, cfg.Validate())

	reg := registry.New(registry.Options{ChannelCap: cfg.ChannelCap, Grace: time.Minute})
	t.Cleanup(reg.Stop)
	threads := thread.NewStore(reg.Registered)
	broadcaster := events.NewBroadcaster()
	reg.OnChange = func(event, agentID string) {
		broadcaster.Broadcast(events.Event{Type: event, AgentID: agentID})
	}
	svc := service.New(reg, threads, broadcaster, service.Options{MaxWaitMs: cfg.MaxWaitMs})
	keyring := auth.NewKeyring(cfg.AppID, cfg.PrivacyKey, nil)

	h := NewHandler(cfg, reg, svc, keyring, broadcaster, make(chan struct{}))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sse", h.SSE)
	mux.HandleFunc("/api/rpc", h.RPC)
	mux.HandleFunc("/ws/events", h.WSEvents)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testHub{srv: srv, reg: reg}
}

// stream opens an SSE session and returns the hello payload plus a
// frame reader over the response body.
func (h *testHub) stream(t *testing.T, agentID string) (wire.Hello, *bufio.Scanner, func()) {
	t.Helper()

	q := url.Values{}
	q.Set("agentId", agentID)
	q.Set("appId", "app1")
	q.Set("privacyKey", "secret")

	resp, err := http.Get(h.srv.URL + "/api/sse?" + q.Encode())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	first := readFrame(t, sc)
	require.Equal(t, wire.KindHello, first.Kind)

	var hello wire.Hello
	require.NoError(t, first.DecodePayload(&hello))
	return hello, sc, func() { _ = resp.Body.Close() }
}

func readFrame(t *testing.T, sc *bufio.Scanner) *wire.Frame {
	t.Helper()
	var data []byte
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			f, err := wire.Decode(data)
			require.NoError(t, err)
			return f
		}
		if rest, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
			data = append(data, rest...)
		}
	}
	t.Fatal("stream ended before a frame arrived")
	return nil
}

func (h *testHub) post(t *testing.T, sessionID string, frame *wire.Frame, compress bool) *wire.Frame {
	t.Helper()
	data, err := frame.Encode()
	require.NoError(t, err)

	body := data
	if compress {
		var ok bool
		body, ok = msgcodec.Compress(data)
		require.True(t, ok, "body below compression threshold")
	}
	req, err := http.NewRequest(http.MethodPost,
		h.srv.URL+"/api/rpc?sessionId="+url.QueryEscape(sessionID),
		bytes.NewReader(body))
	require.NoError(t, err)
	if compress {
		req.Header.Set("Content-Encoding", msgcodec.ContentEncoding)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out, err := wire.Decode(respBody)
	require.NoError(t, err)
	return out
}

func TestSSERejectsBadCredentials(t *testing.T) {
	h := newTestHub(t)

	resp, err := http.Get(h.srv.URL + "/api/sse?agentId=alpha&appId=app1&privacyKey=wrong")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSSERequiresAgentID(t *testing.T) {
	h := newTestHub(t)

	resp, err := http.Get(h.srv.URL + "/api/sse?appId=app1&privacyKey=secret")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSSEHelloAdvertisesLimits(t *testing.T) {
	h := newTestHub(t)

	hello, _, done := h.stream(t, "alpha")
	defer done()

	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, "alpha", hello.AgentID)
	assert.Equal(t, int64(config.DefaultMaxWaitMs), hello.MaxWaitMs)
	assert.Equal(t, int64(config.DefaultGraceMs), hello.GraceMs)
	assert.False(t, hello.Reattached)
}

func TestRPCRoundTrip(t *testing.T) {
	h := newTestHub(t)

	hello, _, done := h.stream(t, "alpha")
	defer done()

	resp := h.post(t, hello.SessionID, wire.MustNew(wire.OpListAgents, "c1", nil), false)
	require.Equal(t, wire.KindResult, resp.Kind)
	assert.Equal(t, "c1", resp.ID)

	var agents wire.ListAgentsResponse
	require.NoError(t, resp.DecodePayload(&agents))
	require.Len(t, agents.Agents, 1)
	assert.Equal(t, "alpha", agents.Agents[0].AgentID)
}

func TestRPCCompressedBody(t *testing.T) {
	h := newTestHub(t)

	helloA, _, doneA := h.stream(t, "alpha")
	defer doneA()

	resp := h.post(t, helloA.SessionID, wire.MustNew(wire.OpCreateThread, "c1",
		wire.CreateThreadRequest{Name: "plan"}), false)
	require.Equal(t, wire.KindResult, resp.Kind)
	var created wire.CreateThreadResponse
	require.NoError(t, resp.DecodePayload(&created))

	// A body over the compression threshold posts as zstd.
	body := strings.Repeat("all work and no play makes a dull agent ", 60)
	resp = h.post(t, helloA.SessionID, wire.MustNew(wire.OpSendMessage, "c2",
		wire.SendMessageRequest{ThreadID: created.ThreadID, Body: body}), true)
	require.Equal(t, wire.KindResult, resp.Kind)
}

func TestRPCUnknownSession(t *testing.T) {
	h := newTestHub(t)

	data, err := wire.MustNew(wire.OpListAgents, "c1", nil).Encode()
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+"/api/rpc?sessionId=ghost", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRPCMalformedFrameTerminatesSession(t *testing.T) {
	h := newTestHub(t)

	hello, sc, done := h.stream(t, "alpha")
	defer done()

	resp, err := http.Post(h.srv.URL+"/api/rpc?sessionId="+hello.SessionID,
		"application/json", strings.NewReader(`{"id":"x"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The stream ends with a closed frame naming the protocol error.
	for {
		f := readFrame(t, sc)
		if f.Kind == wire.KindHeartbeat {
			continue
		}
		require.Equal(t, wire.KindClosed, f.Kind)
		var closed wire.Closed
		require.NoError(t, f.DecodePayload(&closed))
		assert.Equal(t, wire.ReasonProtocolError, closed.Reason)
		return
	}
}

func TestMentionCrossesSessions(t *testing.T) {
	h := newTestHub(t)

	helloA, _, doneA := h.stream(t, "alpha")
	defer doneA()
	helloB, scB, doneB := h.stream(t, "beta")
	defer doneB()

	resp := h.post(t, helloA.SessionID, wire.MustNew(wire.OpCreateThread, "c1",
		wire.CreateThreadRequest{Name: "plan", Participants: []string{"beta"}}), false)
	require.Equal(t, wire.KindResult, resp.Kind)
	var created wire.CreateThreadResponse
	require.NoError(t, resp.DecodePayload(&created))

	ack := h.post(t, helloB.SessionID, wire.MustNew(wire.OpWaitForMentions, "w1",
		wire.WaitForMentionsRequest{TimeoutMs: 5000}), false)
	require.Equal(t, wire.KindAck, ack.Kind)

	resp = h.post(t, helloA.SessionID, wire.MustNew(wire.OpSendMessage, "c2",
		wire.SendMessageRequest{ThreadID: created.ThreadID, Body: "ready when you are @beta"}), false)
	require.Equal(t, wire.KindResult, resp.Kind)

	for {
		f := readFrame(t, scB)
		if f.Kind == wire.KindHeartbeat {
			continue
		}
		require.Equal(t, wire.KindMentions, f.Kind)
		assert.Equal(t, "w1", f.ID)
		var batch wire.WaitForMentionsResponse
		require.NoError(t, f.DecodePayload(&batch))
		require.Len(t, batch.Mentions, 1)
		assert.Equal(t, "alpha", batch.Mentions[0].SenderID)
		assert.Equal(t, created.ThreadID, batch.Mentions[0].ThreadID)
		return
	}
}
