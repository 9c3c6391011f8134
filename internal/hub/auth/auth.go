// Package auth validates the application/privacy-key tuple that scopes
// agent sessions.
package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// Keyring holds the hub's accepted application credentials. The
// privacy key may be configured as plaintext (development) or as a
// bcrypt hash (deployments where the config file is less trusted than
// process memory).
type Keyring struct {
	appID   string
	key     string
	keyHash []byte
}

// NewKeyring builds a Keyring. Exactly one of key and keyHash should
// be non-empty; when both are set the hash wins.
func NewKeyring(appID, key string, keyHash []byte) *Keyring {
	return &Keyring{appID: appID, key: key, keyHash: keyHash}
}

// Verify checks an application/privacy-key tuple presented at session
// open or on the events socket.
func (k *Keyring) Verify(appID, privacyKey string) error {
	if subtle.ConstantTimeCompare([]byte(appID), []byte(k.appID)) != 1 {
		return wire.Errorf(wire.ErrUnauthorized, "unknown application id")
	}
	if len(k.keyHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(k.keyHash, []byte(privacyKey)); err != nil {
			return wire.Errorf(wire.ErrUnauthorized, "invalid privacy key")
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(privacyKey), []byte(k.key)) != 1 {
		return wire.Errorf(wire.ErrUnauthorized, "invalid privacy key")
	}
	return nil
}

// HashKey bcrypt-hashes a privacy key for storage in configuration.
func HashKey(key string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
}
