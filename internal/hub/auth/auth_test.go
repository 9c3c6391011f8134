package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

func TestVerifyPlaintextKey(t *testing.T) {
	k := NewKeyring("app1", "secret", nil)

	assert.NoError(t, k.Verify("app1", "secret"))
	assert.True(t, wire.IsKind(k.Verify("app1", "wrong"), wire.ErrUnauthorized))
	assert.True(t, wire.IsKind(k.Verify("other", "secret"), wire.ErrUnauthorized))
}

func TestVerifyHashedKey(t *testing.T) {
	hash, err := HashKey("secret")
	require.NoError(t, err)

	// The hash wins even when a plaintext key is also set.
	k := NewKeyring("app1", "decoy", hash)
	assert.NoError(t, k.Verify("app1", "secret"))
	assert.Error(t, k.Verify("app1", "decoy"))
}
