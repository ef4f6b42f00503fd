// ABOUTME: Configuration loading and parsing for lisa-backend
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lisa-backend configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Build     BuildConfig     `yaml:"build"`
	Deploy    DeployConfig    `yaml:"deploy"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// CallbackURL is the externally reachable base URL agents use to send
	// heartbeats. It is embedded in every generated agent configuration.
	CallbackURL string `yaml:"callback_url"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// JWTSecret signs API bearer tokens for the admin endpoints.
	JWTSecret string `yaml:"jwt_secret"`

	// HeartbeatKey, when set, is required as a bearer token on the heartbeat
	// endpoint. Empty disables the check; agent authentication is a
	// placeholder, not a designed security system.
	HeartbeatKey string `yaml:"heartbeat_key"`
}

// BuildConfig holds build orchestrator configuration.
type BuildConfig struct {
	// BuilderPath is the external agent-builder executable.
	BuilderPath string `yaml:"builder_path"`

	// Workspace is where generated config artifacts are staged for builds.
	Workspace string `yaml:"workspace"`

	// ArtifactDir is where finished agent binaries are written.
	ArtifactDir string `yaml:"artifact_dir"`

	// DrainTimeout bounds how long shutdown waits for in-flight builds.
	DrainTimeout    time.Duration `yaml:"-"`
	DrainTimeoutRaw string        `yaml:"drain_timeout"`
}

// DeployConfig holds deployment orchestrator configuration.
type DeployConfig struct {
	// RemoteDir is the installation directory on target hosts.
	RemoteDir string `yaml:"remote_dir"`

	// ServiceName is the name of the installed systemd unit.
	ServiceName string `yaml:"service_name"`

	DialTimeout    time.Duration `yaml:"-"`
	DialTimeoutRaw string        `yaml:"dial_timeout"`
}

// HeartbeatConfig holds heartbeat tracker configuration.
type HeartbeatConfig struct {
	// Interval is the check-in interval hint returned to agents.
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`

	// OfflineAfter is how long after the last heartbeat the liveness monitor
	// marks an agent offline.
	OfflineAfter    time.Duration `yaml:"-"`
	OfflineAfterRaw string        `yaml:"offline_after"`

	// MonitorInterval is how often the liveness monitor runs.
	MonitorInterval    time.Duration `yaml:"-"`
	MonitorIntervalRaw string        `yaml:"monitor_interval"`

	// RatePerSecond and RateBurst bound heartbeat ingestion. Zero values
	// disable rate limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, suitable for
// tests and the init command.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Server.HTTPAddr = "localhost:8080"
	cfg.Database.Path = "lisa.db"
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.CallbackURL == "" && c.Server.HTTPAddr != "" {
		c.Server.CallbackURL = "http://" + c.Server.HTTPAddr
	}
	if c.Build.Workspace == "" {
		c.Build.Workspace = "/tmp/lisa_builds"
	}
	if c.Build.ArtifactDir == "" {
		c.Build.ArtifactDir = "/var/lib/lisa/artifacts"
	}
	if c.Build.DrainTimeout == 0 {
		c.Build.DrainTimeout = 30 * time.Second
	}
	if c.Deploy.RemoteDir == "" {
		c.Deploy.RemoteDir = "/opt/lisa_agent"
	}
	if c.Deploy.ServiceName == "" {
		c.Deploy.ServiceName = "lisa-agent"
	}
	if c.Deploy.DialTimeout == 0 {
		c.Deploy.DialTimeout = 30 * time.Second
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = time.Minute
	}
	if c.Heartbeat.OfflineAfter == 0 {
		c.Heartbeat.OfflineAfter = 30 * time.Minute
	}
	if c.Heartbeat.MonitorInterval == 0 {
		c.Heartbeat.MonitorInterval = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Heartbeat.RatePerSecond < 0 {
		return fmt.Errorf("heartbeat.rate_per_second must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Build.DrainTimeoutRaw, &cfg.Build.DrainTimeout, "build.drain_timeout"},
		{cfg.Deploy.DialTimeoutRaw, &cfg.Deploy.DialTimeout, "deploy.dial_timeout"},
		{cfg.Heartbeat.IntervalRaw, &cfg.Heartbeat.Interval, "heartbeat.interval"},
		{cfg.Heartbeat.OfflineAfterRaw, &cfg.Heartbeat.OfflineAfter, "heartbeat.offline_after"},
		{cfg.Heartbeat.MonitorIntervalRaw, &cfg.Heartbeat.MonitorInterval, "heartbeat.monitor_interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
