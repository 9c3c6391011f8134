// Package msgcodec provides frame body compression and decompression
// for the upstream RPC channel. Bodies above CompressThreshold are
// posted with Content-Encoding: zstd.
package msgcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the body size in bytes above which clients
// compress. Small frames are not worth the overhead.
const CompressThreshold = 1024

// ContentEncoding is the header value for compressed bodies.
const ContentEncoding = "zstd"

// Package-level encoder/decoder, safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("msgcodec: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("msgcodec: init zstd decoder: %v", err))
	}
}

// Compress compresses data with zstd. The second return is false when
// the input is below the threshold and should be sent uncompressed.
func Compress(data []byte) ([]byte, bool) {
	if len(data) < CompressThreshold {
		return data, false
	}
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), true
}

// Decompress decompresses a zstd-encoded body.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("msgcodec: decompress: %w", err)
	}
	return out, nil
}
