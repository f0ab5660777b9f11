package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-moderation/aegis/credentials"
)

func healthCheckByName(report *HealthReport, name string) *HealthCheck {
	for i := range report.Checks {
		if report.Checks[i].Name == name {
			return &report.Checks[i]
		}
	}
	return nil
}

func TestHealthCommand_HealthyWithoutDatabase(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	out, err := runCommand(t, NewHealthCommand(deps), "--output", "json")
	require.NoError(t, err)

	var report HealthReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Healthy)

	db := healthCheckByName(&report, "database")
	require.NotNil(t, db)
	assert.True(t, db.Skipped)
	assert.Contains(t, db.Detail, "in-memory")

	redis := healthCheckByName(&report, "redis")
	require.NotNil(t, redis)
	assert.True(t, redis.Skipped, "poll backend does not use redis")

	api := healthCheckByName(&report, "classification_api")
	require.NotNil(t, api)
	assert.True(t, api.Skipped, "fake classifier cannot probe the API")
}

func TestHealthCommand_MissingCredential(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	t.Setenv(credentials.EnvAPIKey, "")
	t.Setenv("AEGIS_CONFIG_DIR", t.TempDir())
	t.Setenv("AEGIS_ENCRYPTION_KEY", strings.Repeat("00", 32))

	out, err := runCommand(t, NewHealthCommand(deps), "--output", "json")
	require.Error(t, err, "a missing credential fails the preflight")

	var report HealthReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Healthy)

	cred := healthCheckByName(&report, "credential")
	require.NotNil(t, cred)
	assert.False(t, cred.Healthy)
	assert.Contains(t, cred.Error, "aegis auth set-key")
}

func TestHealthCommand_SkipAPI(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	out, err := runCommand(t, NewHealthCommand(deps), "--skip-api", "--output", "json")
	require.NoError(t, err)

	var report HealthReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	api := healthCheckByName(&report, "classification_api")
	require.NotNil(t, api)
	assert.True(t, api.Skipped)
	assert.Equal(t, "skipped", api.Detail)
}
