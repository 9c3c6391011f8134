package transport

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/hub/events"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWSEventsStreamsAfterKeyHandshake(t *testing.T) {
	h := newTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.srv.URL)+"/ws/events", &websocket.DialOptions{
		Subprotocols: []string{"agentmesh.events.v1"},
	})
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("secret")))

	// Opening an agent session produces a lifecycle event.
	_, _, done := h.stream(t, "alpha")
	defer done()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var e events.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "agent_connected", e.Type)
	assert.Equal(t, "alpha", e.AgentID)
}

func TestWSEventsRejectsBadKey(t *testing.T) {
	h := newTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.srv.URL)+"/ws/events", &websocket.DialOptions{
		Subprotocols: []string{"agentmesh.events.v1"},
	})
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("wrong")))

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	var closeErr websocket.CloseError
	if assert.ErrorAs(t, err, &closeErr) {
		assert.Equal(t, websocket.StatusCode(wsCloseUnauthorized), closeErr.Code)
	}
}
