// Package hub implements the client side of the coordination protocol:
// a long-lived SSE session stream for downstream frames and short HTTP
// posts for upstream operations.
package hub

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/internal/hub/msgcodec"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

const (
	ssePath = "/api/sse"
	rpcPath = "/api/rpc"

	// defaultMaxWaitMs is assumed until the hello frame advertises the
	// hub's actual ceiling.
	defaultMaxWaitMs = 60_000

	// ackGrace pads the park deadline past the requested wait timeout
	// to absorb scheduling and network slack.
	ackGrace = 10 * time.Second

	maxEventBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL          string
	AgentID          string
	AgentDescription string
	Capabilities     []string
	WaitForAgents    int
	AppID            string
	PrivacyKey       string

	// MaxBackoff caps the reconnect backoff interval.
	MaxBackoff time.Duration

	// HTTPClient overrides the client used for RPC posts. The stream
	// always uses a dedicated client without a global timeout.
	HTTPClient *http.Client
}

// Client is one agent's connection to the hub. It is safe for
// concurrent use; the stream runs in its own goroutine (see
// ConnectWithReconnect) while operations post from any goroutine.
type Client struct {
	baseURL    string
	opts       Options
	maxBackoff time.Duration

	rpc    *http.Client
	stream *http.Client

	mu        sync.Mutex
	sessionID string

	maxWaitMs  atomic.Int64
	connected  atomic.Bool
	waitActive atomic.Bool

	pending *pendingCalls
}

// New creates a Client. It does not connect; call Connect or
// ConnectWithReconnect.
func New(opts Options) *Client {
	rpc := opts.HTTPClient
	if rpc == nil {
		rpc = &http.Client{}
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 16 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		opts:       opts,
		maxBackoff: maxBackoff,
		rpc:        rpc,
		stream:     &http.Client{},
		pending:    newPendingCalls(),
	}
	c.maxWaitMs.Store(defaultMaxWaitMs)
	return c
}

// Connected reports whether a session stream is currently live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SessionID returns the current session id, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// MaxWaitMs returns the hub-advertised wait ceiling.
func (c *Client) MaxWaitMs() int64 {
	return c.maxWaitMs.Load()
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Connect opens one session stream and pumps frames until it ends. A
// nil return means the session was closed deliberately (close_session
// or hub shutdown after a clean close frame).
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.sseURL()
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "build stream url: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "build stream request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "open stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return wire.Errorf(wire.ErrUnauthorized, "hub rejected credentials")
	default:
		return wire.Errorf(wire.ErrTransport, "stream status %d", resp.StatusCode)
	}

	defer func() {
		c.connected.Store(false)
		c.setSession("")
		c.pending.failAll(wire.Errorf(wire.ErrTransport, "session stream dropped"))
	}()

	events := newEventReader(resp.Body)

	// The first frame must be hello.
	first, err := events.next()
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "read hello: %v", err)
	}
	if first.Kind != wire.KindHello {
		return wire.Errorf(wire.ErrProtocol, "expected hello frame, got %q", first.Kind)
	}
	var hello wire.Hello
	if err := first.DecodePayload(&hello); err != nil {
		return err
	}
	if hello.MaxWaitMs > 0 {
		c.maxWaitMs.Store(hello.MaxWaitMs)
	}
	c.setSession(hello.SessionID)
	c.connected.Store(true)
	slog.Info("connected to hub",
		"agent_id", hello.AgentID,
		"session", hello.SessionID,
		"reattached", hello.Reattached)

	for {
		f, err := events.next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", errStreamEnded, err)
		}

		switch f.Kind {
		case wire.KindHeartbeat:
			// Liveness only.

		case wire.KindClosed:
			var closed wire.Closed
			_ = f.DecodePayload(&closed)
			if closed.Reason == wire.ReasonClosed {
				return nil
			}
			return wire.Errorf(wire.ErrTransport, "session closed by hub: %s", closed.Reason)

		default:
			if f.ID != "" {
				if !c.pending.complete(f.ID, f) {
					slog.Debug("push frame with no waiter", "kind", f.Kind, "id", f.ID)
				}
				continue
			}
			slog.Debug("ignoring push frame", "kind", f.Kind)
		}
	}
}

func (c *Client) sseURL() (string, error) {
	u, err := url.Parse(c.baseURL + ssePath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("agentId", c.opts.AgentID)
	if c.opts.AgentDescription != "" {
		q.Set("agentDescription", c.opts.AgentDescription)
	}
	if c.opts.WaitForAgents > 0 {
		q.Set("waitForAgents", strconv.Itoa(c.opts.WaitForAgents))
	}
	if c.opts.AppID != "" {
		q.Set("appId", c.opts.AppID)
	}
	if c.opts.PrivacyKey != "" {
		q.Set("privacyKey", c.opts.PrivacyKey)
	}
	for _, cap := range c.opts.Capabilities {
		q.Add("capability", cap)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// call posts one operation frame. For synchronous operations the
// response frame in the POST body carries the result. When park is
// positive the ack response is followed by an asynchronous push frame
// with the same correlation id, and call blocks for it up to park.
func (c *Client) call(ctx context.Context, op, corrID string, payload, out any, park time.Duration) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return wire.Errorf(wire.ErrTransport, "not connected")
	}

	frame, err := wire.New(op, corrID, payload)
	if err != nil {
		return wire.Errorf(wire.ErrProtocol, "encode %s: %v", op, err)
	}
	data, err := frame.Encode()
	if err != nil {
		return wire.Errorf(wire.ErrProtocol, "encode %s frame: %v", op, err)
	}

	var waiter chan *wire.Frame
	if park > 0 && corrID != "" {
		// Register before posting so a fast push cannot race past us.
		waiter = c.pending.register(corrID)
		defer c.pending.unregister(corrID)
	}

	body, compressed := msgcodec.Compress(data)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+rpcPath+"?sessionId="+url.QueryEscape(sessionID),
		bytes.NewReader(body))
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "build %s request: %v", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", msgcodec.ContentEncoding)
	}

	resp, err := c.rpc.Do(req)
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "%s: %v", op, err)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxEventBytes))
	_ = resp.Body.Close()
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "%s: read response: %v", op, err)
	}

	respFrame, err := wire.Decode(respBody)
	if err != nil {
		return wire.Errorf(wire.ErrTransport, "%s: bad response: %v", op, err)
	}

	switch respFrame.Kind {
	case wire.KindResult:
		if out == nil {
			return nil
		}
		return respFrame.DecodePayload(out)

	case wire.KindError:
		return decodeErrorFrame(respFrame)

	case wire.KindAck:
		if waiter == nil {
			return nil
		}
		return c.awaitPush(ctx, waiter, out, park)

	default:
		return wire.Errorf(wire.ErrProtocol, "%s: unexpected response kind %q", op, respFrame.Kind)
	}
}

// awaitPush blocks for the asynchronous push frame matching an acked
// operation.
func (c *Client) awaitPush(ctx context.Context, waiter chan *wire.Frame, out any, park time.Duration) error {
	timer := time.NewTimer(park + ackGrace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return wire.Errorf(wire.ErrTransport, "timed out waiting for push response")
	case f := <-waiter:
		if f.Kind == wire.KindError {
			return decodeErrorFrame(f)
		}
		if out == nil {
			return nil
		}
		return f.DecodePayload(out)
	}
}

func decodeErrorFrame(f *wire.Frame) error {
	var we wire.Error
	if err := f.DecodePayload(&we); err != nil {
		return wire.Errorf(wire.ErrProtocol, "undecodable error frame")
	}
	return &we
}

// ListAgents returns the live-agent snapshot. It doubles as the
// keepalive operation.
func (c *Client) ListAgents(ctx context.Context, includeDetails bool) ([]wire.AgentSummary, error) {
	var out wire.ListAgentsResponse
	req := wire.ListAgentsRequest{IncludeDetails: includeDetails}
	if err := c.call(ctx, wire.OpListAgents, uuid.NewString(), req, &out, 0); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// CreateThread starts a thread. Pass corrID to make retries
// deduplicable; an empty corrID generates a fresh one.
func (c *Client) CreateThread(ctx context.Context, corrID, name string, participants []string) (string, error) {
	if corrID == "" {
		corrID = uuid.NewString()
	}
	var out wire.CreateThreadResponse
	req := wire.CreateThreadRequest{Name: name, Participants: participants}
	if err := c.call(ctx, wire.OpCreateThread, corrID, req, &out, 0); err != nil {
		return "", err
	}
	return out.ThreadID, nil
}

// AddParticipant adds an agent to a thread.
func (c *Client) AddParticipant(ctx context.Context, threadID, agentID string) error {
	req := wire.ParticipantRequest{ThreadID: threadID, AgentID: agentID}
	return c.call(ctx, wire.OpAddParticipant, uuid.NewString(), req, nil, 0)
}

// RemoveParticipant removes an agent from a thread.
func (c *Client) RemoveParticipant(ctx context.Context, threadID, agentID string) error {
	req := wire.ParticipantRequest{ThreadID: threadID, AgentID: agentID}
	return c.call(ctx, wire.OpRemoveParticipant, uuid.NewString(), req, nil, 0)
}

// SendMessage appends a message to a thread. Pass corrID to make
// retries deduplicable; an empty corrID generates a fresh one.
func (c *Client) SendMessage(ctx context.Context, corrID, threadID, body string, mentions []string) (string, error) {
	if corrID == "" {
		corrID = uuid.NewString()
	}
	var out wire.SendMessageResponse
	req := wire.SendMessageRequest{ThreadID: threadID, Body: body, Mentions: mentions}
	if err := c.call(ctx, wire.OpSendMessage, corrID, req, &out, 0); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// CloseThread finalizes a thread.
func (c *Client) CloseThread(ctx context.Context, threadID string) error {
	req := wire.CloseThreadRequest{ThreadID: threadID}
	return c.call(ctx, wire.OpCloseThread, uuid.NewString(), req, nil, 0)
}

// WaitForMentions parks until mentions arrive or timeoutMs elapses. The
// timeout is clamped to the hub-advertised ceiling. Only one wait may
// be active per client; a second concurrent call fails immediately.
// An empty batch with a nil error is a normal timeout outcome.
func (c *Client) WaitForMentions(ctx context.Context, timeoutMs int64) ([]wire.MentionDelivery, error) {
	if !c.waitActive.CompareAndSwap(false, true) {
		return nil, wire.Errorf(wire.ErrWaitAlreadyActive, "a wait is already in flight")
	}
	defer c.waitActive.Store(false)

	batch, err := c.waitOnce(ctx, clamp(timeoutMs, c.maxWaitMs.Load()))
	if wire.IsKind(err, wire.ErrTimeoutTooLarge) {
		// The ceiling moved under us (reconnect against a stricter
		// hub). Re-clamp and try once more.
		batch, err = c.waitOnce(ctx, clamp(timeoutMs, c.maxWaitMs.Load()))
	}
	return batch, err
}

func (c *Client) waitOnce(ctx context.Context, timeoutMs int64) ([]wire.MentionDelivery, error) {
	var out wire.WaitForMentionsResponse
	req := wire.WaitForMentionsRequest{TimeoutMs: timeoutMs}
	park := time.Duration(timeoutMs) * time.Millisecond
	if err := c.call(ctx, wire.OpWaitForMentions, uuid.NewString(), req, &out, park); err != nil {
		return nil, err
	}
	return out.Mentions, nil
}

// Ping posts a notification-style frame with no correlation id. The
// hub acknowledges at the transport level only.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, wire.OpPing, "", nil, nil, 0)
}

// CloseSession ends the session deliberately. The stream then
// terminates with a clean closed frame and ConnectWithReconnect exits.
func (c *Client) CloseSession(ctx context.Context) error {
	return c.call(ctx, wire.OpCloseSession, uuid.NewString(), nil, nil, 0)
}

func clamp(timeoutMs, maxMs int64) int64 {
	if maxMs > 0 && timeoutMs > maxMs {
		return maxMs
	}
	return timeoutMs
}

// eventReader parses SSE data events into frames.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventBytes)
	return &eventReader{scanner: sc}
}

// next returns the next frame. Event boundaries are blank lines; only
// data fields are used.
func (e *eventReader) next() (*wire.Frame, error) {
	var data []byte
	for e.scanner.Scan() {
		line := e.scanner.Bytes()
		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			return wire.Decode(data)
		}
		if rest, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
			data = append(data, rest...)
		}
	}
	if err := e.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
