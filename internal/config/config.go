// Package config loads the daemon configuration from YAML. Missing
// files fall back to defaults; a present file overlays only the fields
// it sets.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftgate/driftgate/internal/dispatch"
	"github.com/driftgate/driftgate/internal/drift"
	"github.com/driftgate/driftgate/internal/ratelimit"
)

// DriftConfig holds the sliding window parameters in YAML form.
type DriftConfig struct {
	WindowSize    int     `yaml:"window_size"`
	Decay         float64 `yaml:"decay"`
	Epsilon       float64 `yaml:"epsilon"`
	RetentionDays int     `yaml:"retention_days"`
}

// Tracker converts the YAML form into drift window parameters.
func (d DriftConfig) Tracker() drift.Config {
	return drift.Config{
		WindowSize: d.WindowSize,
		Decay:      d.Decay,
		Epsilon:    d.Epsilon,
		Retention:  time.Duration(d.RetentionDays) * 24 * time.Hour,
	}
}

// RateLimitConfig bounds per-subject submission throughput. Zero
// values disable the limit.
type RateLimitConfig struct {
	MaxRequests int   `yaml:"max_requests"`
	WindowMS    int64 `yaml:"window_ms"`
}

// Limit converts the YAML form into the limiter's parameters.
func (r RateLimitConfig) Limit() ratelimit.Limit {
	return ratelimit.Limit{
		MaxRequests: r.MaxRequests,
		Window:      time.Duration(r.WindowMS) * time.Millisecond,
	}
}

// Config holds all configurable daemon parameters.
type Config struct {
	ListenAddr    string                 `yaml:"listen_addr"`
	FlagThreshold float64                `yaml:"flag_threshold"`
	Durability    string                 `yaml:"durability"` // "sync" or "async"
	PersistBuffer int                    `yaml:"persist_buffer"`
	DatabasePath  string                 `yaml:"database_path"`
	LayersPath    string                 `yaml:"layers_path"`
	TrailPath     string                 `yaml:"trail_path"`
	Drift         DriftConfig            `yaml:"drift"`
	RateLimit     RateLimitConfig        `yaml:"rate_limit"`
	Alerts        []dispatch.AlertConfig `yaml:"alerts"`
}

// DefaultConfig returns the built-in daemon configuration.
func DefaultConfig() *Config {
	dir := defaultDir()
	return &Config{
		ListenAddr:    ":8420",
		FlagThreshold: 0.3,
		Durability:    "sync",
		PersistBuffer: 256,
		DatabasePath:  filepath.Join(dir, "driftgate.db"),
		LayersPath:    filepath.Join(dir, "layers.yaml"),
		TrailPath:     filepath.Join(dir, "decisions.jsonl"),
		Drift: DriftConfig{
			WindowSize:    20,
			Decay:         1.0,
			Epsilon:       0.01,
			RetentionDays: 30,
		},
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driftgate"
	}
	return filepath.Join(home, ".driftgate")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// Load reads configuration from a YAML file. Empty path falls back to
// ~/.driftgate/config.yaml. Missing file returns defaults. Invalid
// YAML or invalid values return an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 hash of the
// raw file bytes. When no file exists the hash is the SHA-256 of empty
// input, so "running on defaults" is itself a distinguishable state.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, hash, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.FlagThreshold < 0 || c.FlagThreshold > 1 {
		return fmt.Errorf("flag_threshold must be in [0,1], got %g", c.FlagThreshold)
	}
	if c.Durability != "sync" && c.Durability != "async" {
		return fmt.Errorf("durability must be \"sync\" or \"async\", got %q", c.Durability)
	}
	if c.Drift.WindowSize < 0 {
		return fmt.Errorf("drift.window_size must be positive, got %d", c.Drift.WindowSize)
	}
	if c.Drift.Decay < 0 || c.Drift.Decay > 1 {
		return fmt.Errorf("drift.decay must be in (0,1], got %g", c.Drift.Decay)
	}
	if c.RateLimit.MaxRequests < 0 || c.RateLimit.WindowMS < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url is required", i)
		}
		for _, e := range a.Events {
			switch e {
			case "allow", "flag", "block":
			default:
				return fmt.Errorf("alerts[%d]: unknown event %q", i, e)
			}
		}
	}
	return nil
}

// DefaultConfigYAML returns a commented YAML string for init-config.
func DefaultConfigYAML() string {
	return `# driftgate daemon configuration
# Generated by: driftgate init-config

# HTTP listen address for the API server.
listen_addr: ":8420"

# Divergence score above which an otherwise-passing observation is
# flagged. Exclusive bound: score == threshold still allows.
flag_threshold: 0.3

# Persistence mode.
#   sync:  each submission waits for its row to hit disk.
#   async: submissions return immediately; a background writer drains
#          a bounded buffer (reports carry durability_pending).
durability: sync
persist_buffer: 256

# Storage locations. Relative paths resolve against the working
# directory; defaults live under ~/.driftgate/.
#database_path: ~/.driftgate/driftgate.db
#layers_path: ~/.driftgate/layers.yaml
#trail_path: ~/.driftgate/decisions.jsonl

# Sliding window drift parameters.
drift:
  window_size: 20
  decay: 1.0        # 1.0 = all samples weigh equally
  epsilon: 0.01     # trend dead zone
  retention_days: 30

# Per-subject submission rate limit. Zero values disable it.
rate_limit:
  max_requests: 0
  window_ms: 0

# Webhook alert destinations. Events: allow | flag | block.
#alerts:
#  - url: https://hooks.slack.com/services/XXX
#    format: slack            # generic | slack | pagerduty
#    events: ["block"]
#  - url: https://events.pagerduty.com/v2/enqueue
#    format: pagerduty
#    events: ["block", "flag"]
#    headers:
#      Authorization: "Token token=XXX"
`
}
