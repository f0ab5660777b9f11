// Package cmd provides the CLI commands for the aegis moderation service.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/aegis-moderation/aegis/config"
	"github.com/aegis-moderation/aegis/credentials"
	"github.com/aegis-moderation/aegis/pkg/db"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/aiclient"
	"github.com/aegis-moderation/aegis/pkg/moderation/guard"
	"github.com/aegis-moderation/aegis/pkg/moderation/observability"
	"github.com/aegis-moderation/aegis/pkg/moderation/scheduler"
	"github.com/aegis-moderation/aegis/pkg/moderation/store"
)

// guardHost is implemented by stores that accept the moderation guard's
// create filter and transition observer.
type guardHost interface {
	SetCreateFilter(moderation.CreateFilter)
	SetTransitionObserver(moderation.TransitionObserver)
}

// Runtime is the wired moderation pipeline a command operates on.
type Runtime struct {
	Config    *config.Config
	Log       logging.Logger
	Comments  moderation.CommentStore
	Creator   moderation.CommentCreator
	Decisions moderation.DecisionStore
	Guard     *guard.Guard
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry

	// Audit, AuditSink, and Pool are nil when no database is configured.
	// AuditSink feeds audit-tagged log entries into the audit_log table; it
	// is attached to Log before the guard is built so override events reach
	// persistence from every command, not just serve.
	Audit     *store.AuditWriter
	AuditSink *logging.AuditSink
	Pool      *pgxpool.Pool

	// Redis is nil unless the queue dispatch backend is configured.
	Redis *redis.Client

	credStore *credentials.Store
	cfgFn     func() *config.Config
	closers   []func()
}

// SetConfigSource replaces the runtime's config reads with a live source,
// e.g. a config.Manager, so reloads apply without restarting.
func (r *Runtime) SetConfigSource(fn func() *config.Config) {
	r.cfgFn = fn
}

// Close releases the runtime's resources.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Eligibility builds the current eligibility snapshot from config and
// credential state.
func (r *Runtime) Eligibility() moderation.Eligibility {
	return eligibilityFor(r.cfgFn(), r.credStore)
}

// Settings maps the current config to scheduler settings.
func (r *Runtime) Settings() scheduler.Settings {
	return settingsFor(r.cfgFn(), r.credStore)
}

// Deps holds the injectable dependencies for commands. Tests override the
// function fields to run against in-memory stores and fake classifiers.
type Deps struct {
	LoadConfig      func() (*config.Config, error)
	CredentialStore func() (*credentials.Store, error)
	OpenRuntime     func(ctx context.Context, cfg *config.Config, log logging.Logger) (*Runtime, error)
	NewClassifier   func(cfg *config.Config, apiKey string, log logging.Logger) scheduler.Classifier
}

// DefaultDeps returns the production dependencies.
func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig:      config.Load,
		CredentialStore: credentials.NewStore,
		OpenRuntime:     openRuntime,
		NewClassifier:   newClassifier,
	}
}

func newClassifier(cfg *config.Config, apiKey string, log logging.Logger) scheduler.Classifier {
	return aiclient.New(aiclient.Config{
		BaseURL:          cfg.Classifier.APIBaseURL,
		APIKey:           apiKey,
		Model:            cfg.Classifier.Model,
		ReasoningEffort:  cfg.Classifier.ReasoningEffort,
		MaxOutputTokens:  cfg.Classifier.MaxOutputTokens,
		Temperature:      cfg.Classifier.Temperature,
		Timeout:          cfg.Classifier.Timeout,
		ReasoningTimeout: cfg.Classifier.ReasoningTimeout,
	}, log)
}

// openRuntime wires the store layer: Postgres when configured, otherwise the
// in-memory store. The guard is registered on whichever store backs the run.
func openRuntime(ctx context.Context, cfg *config.Config, log logging.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log}
	rt.cfgFn = func() *config.Config { return cfg }
	rt.Registry = prometheus.NewRegistry()
	rt.Metrics = observability.NewMetrics(rt.Registry)

	credStore, err := credentials.NewStore()
	if err != nil {
		// Credential problems surface later as missing_credential failures;
		// commands that only read local state still work.
		log.Debug("credential store unavailable", logging.Err(err))
	}
	rt.credStore = credStore

	if cfg.Database.IsConfigured() {
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

		pool, err := db.Connect(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, func() { db.Close(pool) })

		if _, err := db.RunMigrations(ctx, pool); err != nil {
			rt.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}

		pg := store.NewPostgres(pool)
		rt.Comments = pg
		rt.Creator = pg
		rt.Decisions = pg.Decisions()
		rt.Audit = store.NewAuditWriter(pool)
		rt.AuditSink = logging.NewAuditSink(logging.AuditSinkConfig{Writer: rt.Audit})
		rt.closers = append(rt.closers, func() { _ = rt.AuditSink.Close() })
		rt.Log = log.WithSinks(rt.AuditSink)
		rt.registerGuard(pg)
	} else {
		mem := store.NewMemory()
		rt.Comments = mem
		rt.Creator = mem
		rt.Decisions = mem.Decisions()
		rt.registerGuard(mem)
	}

	if cfg.Dispatch.Backend == config.BackendQueue && cfg.Redis.IsConfigured() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.Redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}

	return rt, nil
}

func (rt *Runtime) registerGuard(host guardHost) {
	rt.Guard = guard.New(rt.Decisions, rt.Eligibility, rt.Metrics, rt.Log)
	host.SetCreateFilter(rt.Guard)
	host.SetTransitionObserver(rt.Guard)
}

func eligibilityFor(cfg *config.Config, creds *credentials.Store) moderation.Eligibility {
	return moderation.Eligibility{
		AutoModerationEnabled: cfg.Moderation.AutoModerate,
		CredentialConfigured:  creds.IsConfigured(),
		ModerateArticles:      cfg.Moderation.ModerateArticles,
		ModeratePages:         cfg.Moderation.ModeratePages,
		ModerateProducts:      cfg.Moderation.ModerateProducts,
	}
}

func settingsFor(cfg *config.Config, creds *credentials.Store) scheduler.Settings {
	return scheduler.Settings{
		Eligibility:         eligibilityFor(cfg, creds),
		ConfidenceThreshold: cfg.Moderation.ConfidenceThreshold,
		ScheduleDelay:       cfg.Dispatch.ScheduleDelay,
		SweepInterval:       cfg.Dispatch.SweepInterval,
		SweepBatch:          cfg.Dispatch.SweepBatch,
		SweepPause:          cfg.Dispatch.SweepPause,
		KickCooldown:        cfg.Dispatch.KickCooldown,
	}
}

// activeAPIKey returns the configured classification API key, or empty when
// none is available. The client reports the missing credential as a typed
// failure on first use.
func activeAPIKey(deps *Deps) string {
	credStore, err := deps.CredentialStore()
	if err != nil {
		return ""
	}
	key, _, err := credStore.ActiveKey()
	if err != nil {
		return ""
	}
	return key
}

// newCommandLogger builds the logger commands run with.
func newCommandLogger(cfg *config.Config, debug bool) logging.Logger {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.Level(cfg.Logging.Level)
	if debug {
		logCfg.Level = "debug"
	}
	logCfg.Environment = cfg.Logging.Environment
	logCfg.JSONFormat = cfg.Logging.JSONFormat
	return logging.NewLogger(logCfg)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML writes v as YAML.
func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

// defaultTimeout bounds one-shot command runs.
const defaultTimeout = 5 * time.Minute
