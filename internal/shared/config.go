package shared

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Cache     CacheConfig     `toml:"cache"`
	Queue     QueueConfig     `toml:"queue"`
	Delivery  DeliveryConfig  `toml:"delivery"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	PublicDir string `toml:"public_dir"`
	Origin    string `toml:"origin"` // Site origin the offline proxy fronts
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// CacheConfig describes one cache generation and its fetch policy.
type CacheConfig struct {
	Version          string   `toml:"version"`
	HomePage         string   `toml:"home_page"`
	StaticManifest   []string `toml:"static_manifest"`
	RuntimeAllowList []string `toml:"runtime_allow_list"`
	MaxEntryBytes    int64    `toml:"max_entry_bytes"`
}

// QueueConfig contains the delivery retry policy used by background sync.
type QueueConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
	Workers        int      `toml:"workers"`
	RateLimit      float64  `toml:"rate_limit"` // Deliveries per second
}

// DeliveryConfig points at the endpoint queued submissions are delivered to.
type DeliveryConfig struct {
	BaseURL string      `toml:"base_url"`
	OAuth   OAuthConfig `toml:"oauth"`
}

// OAuthConfig contains optional client-credentials settings for the delivery endpoint.
type OAuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
}

// Enabled reports whether client-credentials authentication is configured.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.TokenURL != ""
}

// SchedulerConfig contains deferred task scheduling settings.
type SchedulerConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	ProbeURL     string   `toml:"probe_url"` // Defaults to the server origin
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps [time.Duration] so it can be written as "500ms" or "15s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads a TOML configuration file from the specified path.
//
// Values missing from the file keep the defaults from the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks the fields the offline runtime cannot work without.
func (c *Config) Validate() error {
	if c.Cache.Version == "" {
		return fmt.Errorf("%w: cache.version must not be empty", ErrInvalidConfig)
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("%w: server.origin must not be empty", ErrInvalidConfig)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("%w: queue.max_attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ValidateDelivery checks that submissions have somewhere to go.
func (c *Config) ValidateDelivery() error {
	if c.Delivery.BaseURL == "" {
		return fmt.Errorf("%w: delivery.base_url must be set to sync submissions", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Delivery.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: delivery.base_url %q must be an absolute URL", ErrInvalidConfig, c.Delivery.BaseURL)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
