package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		v := Generate()
		assert.Len(t, v, 24)
		assert.False(t, seen[v], "duplicate id %s", v)
		seen[v] = true
		for _, c := range v {
			ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			assert.True(t, ok, "unexpected character %q in %s", c, v)
		}
	}
}

func TestGenerateSession(t *testing.T) {
	a, b := GenerateSession(), GenerateSession()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
