package msgcodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmallBodyNotCompressed(t *testing.T) {
	data := []byte(`{"kind":"ping"}`)
	out, compressed := Compress(data)
	assert.False(t, compressed)
	assert.Equal(t, data, out)
}

func TestLargeBodyRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("mention routing payload "), 200)
	require.Greater(t, len(data), CompressThreshold)

	out, compressed := Compress(data)
	assert.True(t, compressed)
	assert.Less(t, len(out), len(data))

	back, err := Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestDecompressGarbage(t *testing.T) {
	_, err := Decompress([]byte("not zstd at all"))
	assert.Error(t, err)
}
