// Package wire defines the self-describing frames exchanged between
// agents and the hub, and the payload types for every coordination
// operation. Frames travel as JSON: upstream in RPC posts, downstream
// over the per-session SSE push channel.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame kinds pushed by the hub.
const (
	KindHello     = "hello"
	KindHeartbeat = "heartbeat"
	KindAck       = "ack"
	KindResult    = "result"
	KindError     = "error"
	KindMentions  = "mentions"
	KindClosed    = "closed"
)

// Operation kinds sent by agents. Each is one tool-surface operation.
const (
	OpListAgents        = "list_agents"
	OpCreateThread      = "create_thread"
	OpAddParticipant    = "add_participant"
	OpRemoveParticipant = "remove_participant"
	OpSendMessage       = "send_message"
	OpCloseThread       = "close_thread"
	OpWaitForMentions   = "wait_for_mentions"
	OpCloseSession      = "close_session"
	// OpPing is a notification-style frame: it carries no correlation id
	// and expects no reply beyond the transport-level ack.
	OpPing = "ping"
)

// Session close reasons carried in a Closed payload.
const (
	ReasonDisplaced     = "displaced"
	ReasonClosed        = "closed"
	ReasonSlowConsumer  = "slow_consumer"
	ReasonProtocolError = "protocol_error"
	ReasonShutdown      = "shutdown"
)

// Frame is one self-describing record. Kind is the required
// discriminator; ID is an optional correlation identifier linking a
// request to its (possibly asynchronous) response.
type Frame struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a frame with the given kind, correlation id and payload.
// A nil payload produces a frame without a payload field.
func New(kind, id string, payload any) (*Frame, error) {
	f := &Frame{Kind: kind, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		f.Payload = data
	}
	return f, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(kind, id string, payload any) *Frame {
	f, err := New(kind, id, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode parses a frame from raw JSON. A frame without the kind
// discriminator is a protocol error; unknown kinds are NOT rejected
// here so that callers can ignore them (forward compatibility).
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, Errorf(ErrProtocol, "malformed frame: %v", err)
	}
	if f.Kind == "" {
		return nil, Errorf(ErrProtocol, "frame missing kind discriminator")
	}
	return &f, nil
}

// Encode serializes the frame to JSON.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodePayload unmarshals the frame payload into v.
func (f *Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return Errorf(ErrProtocol, "%s frame missing payload", f.Kind)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return Errorf(ErrProtocol, "bad %s payload: %v", f.Kind, err)
	}
	return nil
}

// Hello is the first frame pushed on a new session. It advertises the
// session identity and the hub limits the client must respect.
type Hello struct {
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId"`
	HeartbeatMs int64  `json:"heartbeatMs"`
	MaxWaitMs   int64  `json:"maxWaitMs"`
	GraceMs     int64  `json:"graceMs"`
	Reattached  bool   `json:"reattached,omitempty"`
}

// Closed announces session termination with a reason.
type Closed struct {
	Reason string `json:"reason"`
}

// AgentSummary describes one live agent. The detail fields are only
// populated when list_agents is called with includeDetails.
type AgentSummary struct {
	AgentID      string    `json:"agentId"`
	Description  string    `json:"description"`
	Capabilities []string  `json:"capabilities,omitempty"`
	RegisteredAt time.Time `json:"registeredAt,omitzero"`

	LastActivityAt time.Time `json:"lastActivityAt,omitzero"`
	BufferDepth    int       `json:"bufferDepth,omitempty"`
	BufferDropped  uint64    `json:"bufferDropped,omitempty"`
}

// ListAgentsRequest asks for a snapshot of live agents. This is also
// the designated keepalive operation: it is cheap and idempotent.
type ListAgentsRequest struct {
	IncludeDetails bool `json:"includeDetails,omitempty"`
}

// ListAgentsResponse carries the snapshot.
type ListAgentsResponse struct {
	Agents []AgentSummary `json:"agents"`
}

// CreateThreadRequest starts a named conversation. The creator is
// implied by the session and is always a participant.
type CreateThreadRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

// CreateThreadResponse returns the new thread id.
type CreateThreadResponse struct {
	ThreadID string `json:"threadId"`
}

// ParticipantRequest adds or removes a participant on a thread.
type ParticipantRequest struct {
	ThreadID string `json:"threadId"`
	AgentID  string `json:"agentId"`
}

// SendMessageRequest appends a message to a thread. Mentions may be
// given explicitly and are unioned with @name tokens parsed from the
// body.
type SendMessageRequest struct {
	ThreadID string   `json:"threadId"`
	Body     string   `json:"body"`
	Mentions []string `json:"mentions,omitempty"`
}

// SendMessageResponse returns the appended message id.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
}

// CloseThreadRequest finalizes a thread. Idempotent.
type CloseThreadRequest struct {
	ThreadID string `json:"threadId"`
}

// WaitForMentionsRequest parks the caller until addressed work arrives
// or the timeout elapses. TimeoutMs must be within [0, MaxWaitMs].
type WaitForMentionsRequest struct {
	TimeoutMs int64 `json:"timeoutMs"`
}

// MentionDelivery is one addressed-work record handed to a mentioned
// agent. The target is implicit (deliveries only travel on the target
// agent's own session).
type MentionDelivery struct {
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	PostedAt  time.Time `json:"postedAt"`
}

// WaitForMentionsResponse carries the drained batch. An empty batch is
// a normal outcome, not an error.
type WaitForMentionsResponse struct {
	Mentions []MentionDelivery `json:"mentions"`
}

// OK is the empty success payload for operations with no result.
type OK struct{}
