package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineFlagsCoversEveryLimit(t *testing.T) {
	fs := flag.NewFlagSet("hub", flag.ContinueOnError)
	cfg := DefineFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"-addr", ":9000",
		"-app-id", "prod",
		"-privacy-key", "k1",
		"-max-wait-ms", "30000",
		"-grace-ms", "10000",
		"-heartbeat-ms", "5000",
		"-buffer-cap", "64",
		"-channel-cap", "32",
		"-dedupe-ms", "15000",
	}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "prod", cfg.AppID)
	assert.Equal(t, int64(30_000), cfg.MaxWaitMs)
	assert.Equal(t, int64(10_000), cfg.GraceMs)
	assert.Equal(t, int64(5_000), cfg.HeartbeatMs)
	assert.Equal(t, 64, cfg.BufferCap)
	assert.Equal(t, 32, cfg.ChannelCap)
	assert.Equal(t, int64(15_000), cfg.DedupeMs)
	assert.Equal(t, 15*time.Second, cfg.DedupeWindow())
}

func TestDefineFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("hub", flag.ContinueOnError)
	cfg := DefineFlags(fs)

	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, int64(DefaultMaxWaitMs), cfg.MaxWaitMs)
	assert.Equal(t, int64(DefaultDedupeMs), cfg.DedupeMs)
}

func TestValidateFillsZeroLimits(t *testing.T) {
	cfg := &Config{Addr: ":1", AppID: "a", PrivacyKey: "k"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(DefaultMaxWaitMs), cfg.MaxWaitMs)
	assert.Equal(t, int64(DefaultGraceMs), cfg.GraceMs)
	assert.Equal(t, int64(DefaultHeartbeatMs), cfg.HeartbeatMs)
	assert.Equal(t, DefaultBufferCap, cfg.BufferCap)
	assert.Equal(t, DefaultChannelCap, cfg.ChannelCap)
	assert.Equal(t, int64(DefaultDedupeMs), cfg.DedupeMs)
}

func TestValidateRequiresIdentity(t *testing.T) {
	assert.Error(t, (&Config{AppID: "a", PrivacyKey: "k"}).Validate())
	assert.Error(t, (&Config{Addr: ":1", PrivacyKey: "k"}).Validate())
	assert.Error(t, (&Config{Addr: ":1", AppID: "a"}).Validate())
}
