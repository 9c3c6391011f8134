package config

import (
	"flag"
	"fmt"
	"time"
)

// Defaults for hub limits.
const (
	DefaultAddr        = ":7117"
	DefaultMaxWaitMs   = 60_000
	DefaultGraceMs     = 30_000
	DefaultHeartbeatMs = 12_000
	DefaultBufferCap   = 1024
	DefaultChannelCap  = 256
	DefaultDedupeMs    = 30_000
)

// Config holds the hub's runtime configuration.
type Config struct {
	Addr string // listen address (e.g. ":7117")

	AppID          string // application id agents must present
	PrivacyKey     string // plaintext privacy key (dev)
	PrivacyKeyHash string // bcrypt hash of the privacy key (overrides PrivacyKey)

	MaxWaitMs   int64 // T_max for waitForMentions
	GraceMs     int64 // reconnect grace window
	HeartbeatMs int64 // downstream heartbeat interval
	BufferCap   int   // mention buffer soft cap per agent
	ChannelCap  int   // downstream frame channel bound per session
	DedupeMs    int64 // correlation-id dedupe window
}

// DefineFlags registers command-line flags for hub configuration.
// Call flag.Parse() separately after defining all flags.
func DefineFlags(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.Addr, "addr", DefaultAddr, "listen address")
	fs.StringVar(&c.AppID, "app-id", "default", "application id agents must present")
	fs.StringVar(&c.PrivacyKey, "privacy-key", "devkey", "privacy key agents must present")
	fs.StringVar(&c.PrivacyKeyHash, "privacy-key-hash", "", "bcrypt hash of the privacy key (overrides -privacy-key)")
	fs.Int64Var(&c.MaxWaitMs, "max-wait-ms", DefaultMaxWaitMs, "upper bound on waitForMentions timeouts")
	fs.Int64Var(&c.GraceMs, "grace-ms", DefaultGraceMs, "reconnect grace window before eviction")
	fs.Int64Var(&c.HeartbeatMs, "heartbeat-ms", DefaultHeartbeatMs, "downstream heartbeat interval")
	fs.IntVar(&c.BufferCap, "buffer-cap", DefaultBufferCap, "mention buffer soft cap per agent")
	fs.IntVar(&c.ChannelCap, "channel-cap", DefaultChannelCap, "downstream frame channel bound per session")
	fs.Int64Var(&c.DedupeMs, "dedupe-ms", DefaultDedupeMs, "correlation-id dedupe window for retried operations")
	return c
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.AppID == "" {
		return fmt.Errorf("app-id is required")
	}
	if c.PrivacyKey == "" && c.PrivacyKeyHash == "" {
		return fmt.Errorf("one of privacy-key or privacy-key-hash is required")
	}
	if c.MaxWaitMs <= 0 {
		c.MaxWaitMs = DefaultMaxWaitMs
	}
	if c.GraceMs <= 0 {
		c.GraceMs = DefaultGraceMs
	}
	if c.HeartbeatMs <= 0 {
		c.HeartbeatMs = DefaultHeartbeatMs
	}
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.ChannelCap <= 0 {
		c.ChannelCap = DefaultChannelCap
	}
	if c.DedupeMs <= 0 {
		c.DedupeMs = DefaultDedupeMs
	}
	return nil
}

// Grace returns the reconnect grace window as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

// Heartbeat returns the heartbeat interval as a duration.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// DedupeWindow returns the correlation-id dedupe window as a duration.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeMs) * time.Millisecond
}
