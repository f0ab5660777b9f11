// Package config provides configuration management for the aegis moderation
// service. It supports loading from a YAML file with environment-variable
// overlay, explicit reloads, and change notifications so long-running
// components can react to toggles without restarting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".aegis"
	DefaultConfigFile = "config.yaml"

	DefaultAPIBaseURL      = "https://api.openai.com"
	DefaultModel           = "gpt-4o-mini"
	DefaultReasoningEffort = "medium"

	DefaultConfidenceThreshold = 0.7
	DefaultMaxOutputTokens     = 500
	DefaultTemperature         = 0.2

	DefaultScheduleDelay = 5 * time.Second
	DefaultSweepInterval = 2 * time.Minute
	DefaultSweepBatch    = 10
	DefaultSweepPause    = 500 * time.Millisecond
	DefaultKickCooldown  = 60 * time.Second
)

// DispatchBackend selects how deferred moderation units are delivered.
type DispatchBackend string

const (
	// BackendQueue uses the Redis-backed deferred task queue.
	BackendQueue DispatchBackend = "queue"
	// BackendPoll relies entirely on the periodic sweep.
	BackendPoll DispatchBackend = "poll"
)

// IsValid reports whether the backend name is known.
func (b DispatchBackend) IsValid() bool {
	return b == BackendQueue || b == BackendPoll
}

// ClassifierConfig holds classification API settings.
type ClassifierConfig struct {
	// APIBaseURL is the classification API root.
	APIBaseURL string `yaml:"api_base_url"`

	// Model selects the classification model.
	Model string `yaml:"model"`

	// ReasoningEffort is the effort level for reasoning-capable models
	// (low, medium, high).
	ReasoningEffort string `yaml:"reasoning_effort"`

	// MaxOutputTokens bounds the completion size.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Temperature is the sampling temperature for chat-shaped models.
	Temperature float64 `yaml:"temperature"`

	// Timeout bounds chat-shaped requests.
	Timeout time.Duration `yaml:"timeout"`

	// ReasoningTimeout bounds reasoning-shaped requests.
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout"`
}

// ModerationConfig holds the moderation policy settings.
type ModerationConfig struct {
	// AutoModerate enables the pipeline globally.
	AutoModerate bool `yaml:"auto_moderate"`

	// ConfidenceThreshold is the minimum confidence to auto-apply a
	// decision without human review.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Per-content-type toggles.
	ModerateArticles bool `yaml:"moderate_articles"`
	ModeratePages    bool `yaml:"moderate_pages"`
	ModerateProducts bool `yaml:"moderate_products"`
}

// DispatchConfig holds scheduling settings.
type DispatchConfig struct {
	// Backend selects queue or poll dispatch.
	Backend DispatchBackend `yaml:"backend"`

	// ScheduleDelay is how far in the future a deferred unit fires.
	ScheduleDelay time.Duration `yaml:"schedule_delay"`

	// SweepInterval is the periodic safety-net sweep cadence.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SweepBatch bounds how many comments one sweep processes.
	SweepBatch int `yaml:"sweep_batch"`

	// SweepPause is the inter-item pause within a sweep batch, to respect
	// external rate limits.
	SweepPause time.Duration `yaml:"sweep_pause"`

	// KickCooldown rate-limits page-view kicks.
	KickCooldown time.Duration `yaml:"kick_cooldown"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
}

// IsConfigured reports whether the required database fields are set.
func (c *DatabaseConfig) IsConfigured() bool {
	return c != nil && c.Host != "" && c.Database != "" && c.User != ""
}

// ConnectionString returns the PostgreSQL connection string, or empty when
// the database is not configured.
func (c *DatabaseConfig) ConnectionString() string {
	if !c.IsConfigured() {
		return ""
	}

	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}

	connStr := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=%s",
		c.Host, port, c.Database, c.User, sslmode)
	if c.Password != "" {
		connStr += fmt.Sprintf(" password=%s", c.Password)
	}
	return connStr
}

// RedisConfig holds Redis settings for the queue dispatch backend.
type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// IsConfigured reports whether Redis is configured.
func (c *RedisConfig) IsConfigured() bool {
	return c != nil && c.Address != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level       string `yaml:"level,omitempty"`
	JSONFormat  bool   `yaml:"json_format,omitempty"`
	Environment string `yaml:"environment,omitempty"`
}

// Config is the aegis service configuration.
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Moderation ModerationConfig `yaml:"moderation"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Default returns a Config with default values. Auto-moderation starts
// disabled; operators opt in explicitly.
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			APIBaseURL:      DefaultAPIBaseURL,
			Model:           DefaultModel,
			ReasoningEffort: DefaultReasoningEffort,
			MaxOutputTokens: DefaultMaxOutputTokens,
			Temperature:     DefaultTemperature,
		},
		Moderation: ModerationConfig{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			ModerateArticles:    true,
			ModeratePages:       true,
			ModerateProducts:    true,
		},
		Dispatch: DispatchConfig{
			Backend:       BackendPoll,
			ScheduleDelay: DefaultScheduleDelay,
			SweepInterval: DefaultSweepInterval,
			SweepBatch:    DefaultSweepBatch,
			SweepPause:    DefaultSweepPause,
			KickCooldown:  DefaultKickCooldown,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
	}
}

// Dir returns the configuration directory path. Uses $AEGIS_CONFIG_DIR if
// set, otherwise ~/.aegis.
func Dir() (string, error) {
	if dir := os.Getenv("AEGIS_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// Path returns the full path to the configuration file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load loads the configuration: defaults, then the config file if present,
// then environment-variable overlay, then validation.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from an explicit file path. A missing
// file is not an error; defaults plus environment apply.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	loadFromEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills zero values that a partial config file left unset.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Classifier.APIBaseURL == "" {
		cfg.Classifier.APIBaseURL = def.Classifier.APIBaseURL
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = def.Classifier.Model
	}
	if cfg.Classifier.ReasoningEffort == "" {
		cfg.Classifier.ReasoningEffort = def.Classifier.ReasoningEffort
	}
	if cfg.Classifier.MaxOutputTokens <= 0 {
		cfg.Classifier.MaxOutputTokens = def.Classifier.MaxOutputTokens
	}
	if cfg.Classifier.Temperature == 0 {
		cfg.Classifier.Temperature = def.Classifier.Temperature
	}
	if cfg.Moderation.ConfidenceThreshold == 0 {
		cfg.Moderation.ConfidenceThreshold = def.Moderation.ConfidenceThreshold
	}
	if cfg.Dispatch.Backend == "" {
		cfg.Dispatch.Backend = def.Dispatch.Backend
	}
	if cfg.Dispatch.ScheduleDelay <= 0 {
		cfg.Dispatch.ScheduleDelay = def.Dispatch.ScheduleDelay
	}
	if cfg.Dispatch.SweepInterval <= 0 {
		cfg.Dispatch.SweepInterval = def.Dispatch.SweepInterval
	}
	if cfg.Dispatch.SweepBatch <= 0 {
		cfg.Dispatch.SweepBatch = def.Dispatch.SweepBatch
	}
	if cfg.Dispatch.SweepPause <= 0 {
		cfg.Dispatch.SweepPause = def.Dispatch.SweepPause
	}
	if cfg.Dispatch.KickCooldown <= 0 {
		cfg.Dispatch.KickCooldown = def.Dispatch.KickCooldown
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Environment == "" {
		cfg.Logging.Environment = def.Logging.Environment
	}
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("AEGIS_API_BASE_URL"); v != "" {
		cfg.Classifier.APIBaseURL = v
	}
	if v := os.Getenv("AEGIS_MODEL"); v != "" {
		cfg.Classifier.Model = v
	}
	if v := os.Getenv("AEGIS_REASONING_EFFORT"); v != "" {
		cfg.Classifier.ReasoningEffort = v
	}
	if v := os.Getenv("AEGIS_AUTO_MODERATE"); v == "true" || v == "1" {
		cfg.Moderation.AutoModerate = true
	} else if v == "false" || v == "0" {
		cfg.Moderation.AutoModerate = false
	}
	if v := os.Getenv("AEGIS_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Moderation.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("AEGIS_DISPATCH_BACKEND"); v != "" {
		cfg.Dispatch.Backend = DispatchBackend(v)
	}
	if v := os.Getenv("AEGIS_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.SweepInterval = d
		}
	}
	if v := os.Getenv("AEGIS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("AEGIS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("AEGIS_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("AEGIS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("AEGIS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("AEGIS_REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AEGIS_LOG_JSON"); v == "true" || v == "1" {
		cfg.Logging.JSONFormat = true
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Moderation.ConfidenceThreshold < 0 || c.Moderation.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.Moderation.ConfidenceThreshold)
	}
	if !c.Dispatch.Backend.IsValid() {
		return fmt.Errorf("invalid dispatch backend: %q (must be queue or poll)", c.Dispatch.Backend)
	}
	if c.Dispatch.Backend == BackendQueue && !c.Redis.IsConfigured() {
		return fmt.Errorf("dispatch backend queue requires redis.address")
	}
	if c.Classifier.MaxOutputTokens <= 0 {
		return fmt.Errorf("max_output_tokens must be positive")
	}
	return nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ChangeCallback is invoked after a successful Reload with the new config.
type ChangeCallback func(cfg *Config)

// Manager holds the live configuration and supports explicit reloads with
// change notification. Components read through Current() instead of caching
// the struct, so a reload takes effect on their next read.
type Manager struct {
	mu        sync.RWMutex
	path      string
	current   *Config
	callbacks []ChangeCallback
}

// NewManager creates a manager around an already-loaded config.
func NewManager(path string, cfg *Config) *Manager {
	return &Manager{path: path, current: cfg}
}

// LoadManager loads the config from the default path and wraps it.
func LoadManager() (*Manager, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	return NewManager(path, cfg), nil
}

// Current returns the live configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a callback invoked after each successful reload.
func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Reload re-reads the config file and notifies callbacks. On failure the
// previous configuration stays in effect.
func (m *Manager) Reload() error {
	cfg, err := LoadFrom(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}
