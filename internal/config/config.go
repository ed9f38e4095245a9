package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"blockrun/internal/compress"
	"blockrun/internal/dedup"
	"blockrun/internal/routing"
)

// EnvProxyPort overrides the listen port when set to a valid port number.
const EnvProxyPort = "BLOCKRUN_PROXY_PORT"

// DefaultPort is used when BLOCKRUN_PROXY_PORT is unset or invalid.
const DefaultPort = 8402

// Config represents the proxy configuration.
type Config struct {
	Port         int    `json:"port"`
	DataDir      string `json:"data_dir,omitempty"`
	DashboardURL string `json:"dashboard_url,omitempty"`

	Upstream    UpstreamConfig        `json:"upstream"`
	Proxy       ProxyConfig           `json:"proxy"`
	Dedup       dedup.Config          `json:"dedup"`
	Scoring     routing.ScoringConfig `json:"scoring"`
	Overrides   routing.Overrides     `json:"overrides"`
	Compression compress.Config       `json:"compression"`
	Usage       UsageConfig           `json:"usage"`
	Maintenance MaintenanceConfig     `json:"maintenance"`
	Debug       DebugConfig           `json:"debug,omitempty"`
}

// UpstreamConfig points the proxy at the inference endpoint.
type UpstreamConfig struct {
	// URL is the chat-completions endpoint requests are forwarded to.
	URL string `json:"url"`

	// PayTo is the recipient address carried in payment attestations.
	PayTo string `json:"pay_to"`

	// TimeoutSeconds is the per-attempt upstream deadline. Values under 30
	// are raised to 30 during validation.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// ProxyConfig bounds the dispatch pipeline.
type ProxyConfig struct {
	// MaxRequestSizeKB rejects request bodies above this size with 413.
	MaxRequestSizeKB int `json:"max_request_size_kb"`

	// CompressionThresholdKB triggers request compression above this size.
	CompressionThresholdKB int `json:"compression_threshold_kb"`

	// AutoCompressRequests enables the compression pipeline for large
	// request bodies.
	AutoCompressRequests bool `json:"auto_compress_requests"`

	// MaxFallbackAttempts caps upstream attempts per request, not counting
	// the emergency model.
	MaxFallbackAttempts int `json:"max_fallback_attempts"`
}

// UsageConfig configures the SQLite usage sink.
type UsageConfig struct {
	Enabled bool `json:"enabled"`

	// Path to the usage database. Empty derives usage.db in the data dir.
	Path string `json:"path,omitempty"`

	// RetentionDays bounds how long dispatch records are kept.
	RetentionDays int `json:"retention_days"`
}

// MaintenanceConfig configures the background maintenance scheduler.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`

	// PruneSchedule is the cron spec for dedup cache pruning.
	PruneSchedule string `json:"prune_schedule"`

	// RetentionSchedule is the cron spec for the usage retention sweep.
	RetentionSchedule string `json:"retention_schedule"`
}

// DebugConfig contains debugging and logging settings.
type DebugConfig struct {
	VerboseLogging bool `json:"verbose_logging,omitempty"`
}

// Default returns a default configuration. The listen port honors
// BLOCKRUN_PROXY_PORT when it parses as a valid port.
func Default() *Config {
	return &Config{
		Port: PortFromEnv(),
		Upstream: UpstreamConfig{
			URL:            "https://api.blockrun.xyz/v1/chat/completions",
			PayTo:          "0x9a1f00A87Ff55bcc53Cc5bE3a7673a8C5Bfa8D3e",
			TimeoutSeconds: 120,
		},
		Proxy: ProxyConfig{
			MaxRequestSizeKB:       512,
			CompressionThresholdKB: 64,
			AutoCompressRequests:   true,
			MaxFallbackAttempts:    3,
		},
		Dedup:       dedup.DefaultConfig(),
		Scoring:     routing.DefaultScoringConfig(),
		Overrides:   routing.DefaultOverrides(),
		Compression: compress.DefaultConfig(),
		Usage: UsageConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Maintenance: MaintenanceConfig{
			Enabled:           true,
			PruneSchedule:     "@every 1m",
			RetentionSchedule: "0 3 * * *",
		},
	}
}

// PortFromEnv resolves the listen port from BLOCKRUN_PROXY_PORT, falling
// back to DefaultPort when unset or invalid.
func PortFromEnv() int {
	raw := os.Getenv(EnvProxyPort)
	if raw == "" {
		return DefaultPort
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port < 1 || port > 65535 {
		return DefaultPort
	}
	return port
}

// Load loads configuration from a file, creating a default config file when
// none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandEnvVars expands ${ENV_VAR} placeholders in string fields.
func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.DashboardURL = os.ExpandEnv(c.DashboardURL)
	c.Upstream.URL = os.ExpandEnv(c.Upstream.URL)
	c.Upstream.PayTo = os.ExpandEnv(c.Upstream.PayTo)
	c.Usage.Path = os.ExpandEnv(c.Usage.Path)
}

// Validate checks the configuration for consistency. Soft limits are
// adjusted in place rather than rejected.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Upstream.PayTo == "" {
		return fmt.Errorf("upstream.pay_to is required")
	}
	if c.Upstream.TimeoutSeconds < 30 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Proxy.MaxRequestSizeKB < 1 {
		return fmt.Errorf("proxy.max_request_size_kb must be positive, got %d", c.Proxy.MaxRequestSizeKB)
	}
	if c.Proxy.CompressionThresholdKB < 1 {
		return fmt.Errorf("proxy.compression_threshold_kb must be positive, got %d", c.Proxy.CompressionThresholdKB)
	}
	if c.Proxy.CompressionThresholdKB > c.Proxy.MaxRequestSizeKB {
		return fmt.Errorf("proxy.compression_threshold_kb (%d) exceeds max_request_size_kb (%d)",
			c.Proxy.CompressionThresholdKB, c.Proxy.MaxRequestSizeKB)
	}
	if c.Proxy.MaxFallbackAttempts < 1 {
		return fmt.Errorf("proxy.max_fallback_attempts must be positive, got %d", c.Proxy.MaxFallbackAttempts)
	}
	if c.Dedup.TTLSeconds < 1 {
		return fmt.Errorf("dedup.ttl_seconds must be positive, got %d", c.Dedup.TTLSeconds)
	}
	if c.Dedup.MaxBodyBytes < 1 {
		return fmt.Errorf("dedup.max_body_bytes must be positive, got %d", c.Dedup.MaxBodyBytes)
	}
	if c.Usage.Enabled && c.Usage.RetentionDays < 1 {
		return fmt.Errorf("usage.retention_days must be positive, got %d", c.Usage.RetentionDays)
	}
	return nil
}
