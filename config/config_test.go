package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, cfg.Classifier.Model)
	assert.Equal(t, DefaultConfidenceThreshold, cfg.Moderation.ConfidenceThreshold)
	assert.Equal(t, BackendPoll, cfg.Dispatch.Backend)
	assert.Equal(t, DefaultSweepInterval, cfg.Dispatch.SweepInterval)
	assert.False(t, cfg.Moderation.AutoModerate)
	assert.True(t, cfg.Moderation.ModerateArticles)
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
classifier:
  model: gpt-5-mini
  reasoning_effort: high
  max_output_tokens: 800
moderation:
  auto_moderate: true
  confidence_threshold: 0.85
  moderate_articles: true
  moderate_pages: false
  moderate_products: false
dispatch:
  backend: poll
  sweep_interval: 5m
  sweep_batch: 20
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-5-mini", cfg.Classifier.Model)
	assert.Equal(t, "high", cfg.Classifier.ReasoningEffort)
	assert.Equal(t, 800, cfg.Classifier.MaxOutputTokens)
	assert.True(t, cfg.Moderation.AutoModerate)
	assert.Equal(t, 0.85, cfg.Moderation.ConfidenceThreshold)
	assert.False(t, cfg.Moderation.ModeratePages)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.SweepInterval)
	assert.Equal(t, 20, cfg.Dispatch.SweepBatch)

	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultAPIBaseURL, cfg.Classifier.APIBaseURL)
	assert.Equal(t, DefaultKickCooldown, cfg.Dispatch.KickCooldown)
}

func TestLoadFrom_EnvOverlay(t *testing.T) {
	path := writeConfig(t, `
classifier:
  model: gpt-4o
moderation:
  auto_moderate: false
`)

	t.Setenv("AEGIS_MODEL", "gpt-4.1")
	t.Setenv("AEGIS_AUTO_MODERATE", "true")
	t.Setenv("AEGIS_CONFIDENCE_THRESHOLD", "0.6")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", cfg.Classifier.Model)
	assert.True(t, cfg.Moderation.AutoModerate)
	assert.Equal(t, 0.6, cfg.Moderation.ConfidenceThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Moderation.ConfidenceThreshold = 1.3 },
			wantErr: "confidence_threshold",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Dispatch.Backend = "cron" },
			wantErr: "dispatch backend",
		},
		{
			name:    "queue backend without redis",
			mutate:  func(c *Config) { c.Dispatch.Backend = BackendQueue },
			wantErr: "redis.address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := Default()
	cfg.Dispatch.Backend = BackendQueue
	cfg.Redis.Address = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestManager_ReloadNotifiesCallbacks(t *testing.T) {
	path := writeConfig(t, "moderation:\n  auto_moderate: false\n")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	mgr := NewManager(path, cfg)

	var got *Config
	mgr.OnChange(func(c *Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte("moderation:\n  auto_moderate: true\n"), 0600))
	require.NoError(t, mgr.Reload())

	require.NotNil(t, got)
	assert.True(t, got.Moderation.AutoModerate)
	assert.True(t, mgr.Current().Moderation.AutoModerate)
}

func TestManager_ReloadFailureKeepsCurrent(t *testing.T) {
	path := writeConfig(t, "moderation:\n  confidence_threshold: 0.8\n")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	mgr := NewManager(path, cfg)

	require.NoError(t, os.WriteFile(path, []byte("moderation:\n  confidence_threshold: 7\n"), 0600))
	require.Error(t, mgr.Reload())
	assert.Equal(t, 0.8, mgr.Current().Moderation.ConfidenceThreshold)
}

func TestDatabaseConnectionString(t *testing.T) {
	db := &DatabaseConfig{Host: "localhost", Database: "aegis", User: "aegis", Password: "secret"}
	got := db.ConnectionString()
	assert.Contains(t, got, "host=localhost")
	assert.Contains(t, got, "port=5432")
	assert.Contains(t, got, "sslmode=prefer")
	assert.Contains(t, got, "password=secret")

	empty := &DatabaseConfig{}
	assert.Empty(t, empty.ConnectionString())
	assert.False(t, empty.IsConfigured())
}
