package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTrip(t *testing.T) {
	f, err := New(OpSendMessage, "corr-1", SendMessageRequest{
		ThreadID: "t1",
		Body:     "hello @worker",
		Mentions: []string{"worker"},
	})
	require.NoError(t, err)

	data, err := f.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, OpSendMessage, got.Kind)
	assert.Equal(t, "corr-1", got.ID)

	var req SendMessageRequest
	require.NoError(t, got.DecodePayload(&req))
	assert.Equal(t, "t1", req.ThreadID)
	assert.Equal(t, []string{"worker"}, req.Mentions)
}

func TestDecodeMissingKind(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","payload":{}}`))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrProtocol))
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{nope`))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrProtocol))
}

// Frames without a correlation id are notifications; they must decode
// and stay routable by kind alone.
func TestDecodeNotificationFrame(t *testing.T) {
	got, err := Decode([]byte(`{"kind":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, OpPing, got.Kind)
	assert.Empty(t, got.ID)
	assert.Empty(t, got.Payload)
}

func TestDecodeUnknownKindTolerated(t *testing.T) {
	got, err := Decode([]byte(`{"kind":"future_op","id":"z"}`))
	require.NoError(t, err)
	assert.Equal(t, "future_op", got.Kind)
}

func TestNewNilPayload(t *testing.T) {
	f, err := New(KindAck, "a", nil)
	require.NoError(t, err)
	assert.Nil(t, f.Payload)

	data, err := f.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload")
}

func TestErrorHelpers(t *testing.T) {
	err := Errorf(ErrTimeoutTooLarge, "timeout %d too large", 70000)
	assert.Equal(t, ErrTimeoutTooLarge, KindOf(err))
	assert.True(t, IsKind(err, ErrTimeoutTooLarge))
	assert.False(t, IsKind(err, ErrTransport))
	assert.False(t, Retryable(err))

	assert.True(t, Retryable(Errorf(ErrTransport, "conn reset")))
	assert.Equal(t, ErrorKind(""), KindOf(assert.AnError))
}
