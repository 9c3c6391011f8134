// Package config loads the client runtime configuration from the
// environment. All recognized options live in one record; nothing
// else in the runtime reads environment variables directly.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Keepalive modes.
const (
	KeepaliveOff    = "off"
	KeepaliveActive = "active"
)

// recognized maps environment variable names to config keys. Variables
// outside this table are ignored.
var recognized = map[string]string{
	"HUB_URL":                  "hub_url",
	"AGENT_ID":                 "agent_id",
	"AGENT_DESCRIPTION":        "agent_description",
	"WAIT_FOR_AGENTS":          "wait_for_agents",
	"APP_ID":                   "app_id",
	"PRIVACY_KEY":              "privacy_key",
	"KEEPALIVE_MODE":           "keepalive_mode",
	"KEEPALIVE_INTERVAL_MS":    "keepalive_interval_ms",
	"WAIT_TIMEOUT_MS":          "wait_timeout_ms",
	"RECONNECT_MAX_BACKOFF_MS": "reconnect_max_backoff_ms",
	"CLASSIFIER_RULES":         "classifier_rules",
}

// Config holds the client runtime's configuration.
type Config struct {
	HubURL           string `koanf:"hub_url"`
	AgentID          string `koanf:"agent_id"`
	AgentDescription string `koanf:"agent_description"`
	WaitForAgents    int    `koanf:"wait_for_agents"`
	AppID            string `koanf:"app_id"`
	PrivacyKey       string `koanf:"privacy_key"`

	KeepaliveMode         string `koanf:"keepalive_mode"`
	KeepaliveIntervalMs   int64  `koanf:"keepalive_interval_ms"`
	WaitTimeoutMs         int64  `koanf:"wait_timeout_ms"`
	ReconnectMaxBackoffMs int64  `koanf:"reconnect_max_backoff_ms"`

	// ClassifierRules is an optional path to a YAML rule table for
	// coordinator agents.
	ClassifierRules string `koanf:"classifier_rules"`
}

// Load reads configuration from defaults overlaid with the
// environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := confmap.Provider(map[string]interface{}{
		"hub_url":                  "http://localhost:7117",
		"app_id":                   "default",
		"privacy_key":              "devkey",
		"wait_for_agents":          0,
		"keepalive_mode":           defaultKeepaliveMode(),
		"keepalive_interval_ms":    3000,
		"wait_timeout_ms":          4000,
		"reconnect_max_backoff_ms": 16000,
	}, ".")
	if err := k.Load(defaults, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	envProvider := env.Provider("", ".", func(s string) string {
		key, ok := recognized[s]
		if !ok {
			return "" // skip unrecognized variables
		}
		return key
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.HubURL == "" {
		return fmt.Errorf("HUB_URL is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("AGENT_ID is required")
	}
	switch c.KeepaliveMode {
	case KeepaliveOff, KeepaliveActive:
	default:
		return fmt.Errorf("KEEPALIVE_MODE must be %q or %q, got %q",
			KeepaliveOff, KeepaliveActive, c.KeepaliveMode)
	}
	if c.KeepaliveIntervalMs <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL_MS must be positive")
	}
	if c.WaitTimeoutMs <= 0 {
		return fmt.Errorf("WAIT_TIMEOUT_MS must be positive")
	}
	if c.ReconnectMaxBackoffMs <= 0 {
		return fmt.Errorf("RECONNECT_MAX_BACKOFF_MS must be positive")
	}
	return nil
}

// defaultKeepaliveMode enables active keepalive on Linux, where the
// target deployments sit behind fabrics that prune idle channels.
// Developer workstations default to off. The environment variable
// always wins.
func defaultKeepaliveMode() string {
	if runtime.GOOS == "linux" {
		return KeepaliveActive
	}
	return KeepaliveOff
}

// NormalizeHubURL strips a trailing slash so path joins are uniform.
func (c *Config) NormalizeHubURL() string {
	return strings.TrimRight(c.HubURL, "/")
}
