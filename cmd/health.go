package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aegis-moderation/aegis/config"
	"github.com/aegis-moderation/aegis/credentials"
	"github.com/aegis-moderation/aegis/pkg/db"
	"github.com/aegis-moderation/aegis/pkg/moderation/scheduler"
)

// Health command flags.
var (
	healthOutput  string
	healthSkipAPI bool
)

// connectionTester is implemented by classifiers that can probe the API.
type connectionTester interface {
	TestConnection(ctx context.Context) error
}

// HealthCheck is one preflight check result.
type HealthCheck struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	Skipped   bool    `json:"skipped,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
}

// HealthReport is the full preflight report.
type HealthReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []HealthCheck `json:"checks"`
}

// NewHealthCommand creates the 'health' command.
func NewHealthCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check moderation pipeline health",
		Long: `Run preflight checks over the moderation pipeline: configuration,
credential presence, database connectivity, Redis (when the queue backend is
configured), and the classification API connection.

Examples:
  aegis health
  aegis health --skip-api
  aegis health --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, deps)
		},
	}

	cmd.Flags().BoolVar(&healthSkipAPI, "skip-api", false, "Skip the classification API connection test")
	cmd.Flags().StringVarP(&healthOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runHealth(cmd *cobra.Command, deps *Deps) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	report := &HealthReport{Healthy: true}
	add := func(c HealthCheck) {
		if !c.Healthy && !c.Skipped {
			report.Healthy = false
		}
		report.Checks = append(report.Checks, c)
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		add(HealthCheck{Name: "config", Healthy: false, Error: err.Error()})
		return outputHealth(cmd, report)
	}
	path, _ := config.Path()
	add(HealthCheck{Name: "config", Healthy: true, Detail: path})

	apiKey := checkCredential(deps, add)
	checkDatabase(ctx, cfg, add)
	checkRedis(ctx, cfg, add)
	checkAPI(ctx, deps, cfg, apiKey, add)

	return outputHealth(cmd, report)
}

func checkCredential(deps *Deps, add func(HealthCheck)) string {
	credStore, err := deps.CredentialStore()
	if err != nil {
		add(HealthCheck{Name: "credential", Healthy: false, Error: err.Error()})
		return ""
	}
	key, source, err := credStore.ActiveKey()
	if err != nil {
		add(HealthCheck{Name: "credential", Healthy: false,
			Error: "no API key configured; run 'aegis auth set-key'"})
		return ""
	}
	add(HealthCheck{Name: "credential", Healthy: true,
		Detail: fmt.Sprintf("%s (%s)", credentials.MaskAPIKey(key), source)})
	return key
}

func checkDatabase(ctx context.Context, cfg *config.Config, add func(HealthCheck)) {
	if !cfg.Database.IsConfigured() {
		add(HealthCheck{Name: "database", Healthy: true, Skipped: true,
			Detail: "not configured (in-memory store)"})
		return
	}

	dbCfg := db.DefaultConfig()
	dbCfg.Host = cfg.Database.Host
	if cfg.Database.Port != 0 {
		dbCfg.Port = cfg.Database.Port
	}
	dbCfg.Database = cfg.Database.Database
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	if cfg.Database.SSLMode != "" {
		dbCfg.SSLMode = cfg.Database.SSLMode
	}

	start := time.Now()
	pool, err := db.Connect(ctx, dbCfg)
	latency := time.Since(start)
	if err != nil {
		add(HealthCheck{Name: "database", Healthy: false, Error: err.Error(),
			LatencyMs: float64(latency.Milliseconds())})
		return
	}
	defer db.Close(pool)

	status, err := db.Status(ctx, pool)
	if err != nil {
		add(HealthCheck{Name: "database", Healthy: false, Error: err.Error(),
			LatencyMs: float64(latency.Milliseconds())})
		return
	}
	add(HealthCheck{Name: "database", Healthy: true,
		Detail:    fmt.Sprintf("%s (%d migrations applied, %d pending)", cfg.Database.Host, len(status.Applied), len(status.Pending)),
		LatencyMs: float64(latency.Milliseconds())})
}

func checkRedis(ctx context.Context, cfg *config.Config, add func(HealthCheck)) {
	if cfg.Dispatch.Backend != config.BackendQueue {
		add(HealthCheck{Name: "redis", Healthy: true, Skipped: true,
			Detail: "poll backend; redis not used"})
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	start := time.Now()
	err := client.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		add(HealthCheck{Name: "redis", Healthy: false, Error: err.Error(),
			LatencyMs: float64(latency.Milliseconds())})
		return
	}

	detail := cfg.Redis.Address
	backend := scheduler.NewRedisBackend(client, nil, nil)
	if dead, err := backend.DeadLetterCount(ctx); err == nil && dead > 0 {
		detail = fmt.Sprintf("%s (%d units dead-lettered)", cfg.Redis.Address, dead)
	}
	add(HealthCheck{Name: "redis", Healthy: true, Detail: detail,
		LatencyMs: float64(latency.Milliseconds())})
}

func checkAPI(ctx context.Context, deps *Deps, cfg *config.Config, apiKey string, add func(HealthCheck)) {
	if healthSkipAPI {
		add(HealthCheck{Name: "classification_api", Healthy: true, Skipped: true, Detail: "skipped"})
		return
	}
	if apiKey == "" {
		add(HealthCheck{Name: "classification_api", Healthy: false,
			Error: "no API key; cannot test connection"})
		return
	}

	classifier := deps.NewClassifier(cfg, apiKey, nil)
	tester, ok := classifier.(connectionTester)
	if !ok {
		add(HealthCheck{Name: "classification_api", Healthy: true, Skipped: true,
			Detail: "classifier does not support connection tests"})
		return
	}

	start := time.Now()
	err := tester.TestConnection(ctx)
	latency := time.Since(start)
	if err != nil {
		add(HealthCheck{Name: "classification_api", Healthy: false, Error: err.Error(),
			LatencyMs: float64(latency.Milliseconds())})
		return
	}
	add(HealthCheck{Name: "classification_api", Healthy: true,
		Detail:    fmt.Sprintf("%s (%s)", cfg.Classifier.APIBaseURL, cfg.Classifier.Model),
		LatencyMs: float64(latency.Milliseconds())})
}

func outputHealth(cmd *cobra.Command, report *HealthReport) error {
	switch healthOutput {
	case "json":
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		return healthResult(report)
	case "yaml":
		if err := writeYAML(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		return healthResult(report)
	}

	out := cmd.OutOrStdout()
	overall := "HEALTHY"
	if !report.Healthy {
		overall = "UNHEALTHY"
	}
	fmt.Fprintf(out, "Pipeline status: %s\n\n", overall)

	for _, c := range report.Checks {
		mark := "ok"
		detail := c.Detail
		switch {
		case c.Skipped:
			mark = "--"
		case !c.Healthy:
			mark = "!!"
			detail = c.Error
		}
		latency := ""
		if c.LatencyMs > 0 {
			latency = fmt.Sprintf(" (%.0fms)", c.LatencyMs)
		}
		fmt.Fprintf(out, "  [%s] %-20s %s%s\n", mark, c.Name, detail, latency)
	}

	return healthResult(report)
}

func healthResult(report *HealthReport) error {
	if !report.Healthy {
		return fmt.Errorf("one or more health checks failed")
	}
	return nil
}
