package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aegis-moderation/aegis/config"
	"github.com/aegis-moderation/aegis/pkg/buildinfo"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/policy"
	"github.com/aegis-moderation/aegis/pkg/moderation/scheduler"
)

// Serve command flags.
var (
	serveListen string
	serveDebug  bool
)

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the moderation service",
		Long: `Run the moderation pipeline as a long-lived service: the periodic sweep,
the deferred-dispatch backend, and an HTTP API for comment intake and
operational endpoints.

Endpoints:
  POST /comments   Submit a comment for moderation
  POST /kick       Trigger an immediate sweep (rate limited)
  GET  /healthz    Liveness probe
  GET  /metrics    Prometheus metrics
  GET  /version    Build information

SIGHUP reloads the configuration file; moderation toggles, thresholds, and
the sweep cadence apply without a restart. SIGINT or SIGTERM shut down
gracefully, letting in-flight classifications finish.

Examples:
  aegis serve
  aegis serve --listen :9090 --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, deps)
		},
	}

	cmd.Flags().StringVar(&serveListen, "listen", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(cmd *cobra.Command, deps *Deps) error {
	manager, err := config.LoadManager()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := manager.Current()
	log := newCommandLogger(cfg, serveDebug)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := deps.OpenRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.SetConfigSource(manager.Current)

	// The runtime's logger carries the audit sink when a database is
	// configured; use it so every component persists audit entries.
	log = rt.Log

	classifier := deps.NewClassifier(cfg, activeAPIKey(deps), log)
	engine := policy.New(rt.Comments, rt.Decisions, rt.Metrics, log)

	schedDeps := scheduler.Deps{
		Comments:   rt.Comments,
		Decisions:  rt.Decisions,
		Classifier: classifier,
		Evaluator:  engine,
		Settings:   rt.Settings,
		Metrics:    rt.Metrics,
		Logger:     log,
	}
	if rt.Redis != nil {
		schedDeps.BackendFactory = func(process scheduler.ProcessFunc) scheduler.Backend {
			return scheduler.NewRedisBackend(rt.Redis, process, log)
		}
	}
	sched := scheduler.New(schedDeps)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	manager.OnChange(func(next *config.Config) {
		if err := sched.Reschedule(next.Dispatch.SweepInterval); err != nil {
			log.Error("rescheduling sweep after reload", logging.Err(err))
			return
		}
		log.Info("configuration reloaded",
			logging.F("sweep_interval", next.Dispatch.SweepInterval),
			logging.F("auto_moderate", next.Moderation.AutoModerate))
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := manager.Reload(); err != nil {
				log.Error("config reload failed, keeping previous configuration", logging.Err(err))
			}
		}
	}()

	srv := &http.Server{
		Addr:              serveListen,
		Handler:           newServeMux(rt, sched, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", logging.F("addr", serveListen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = sched.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", logging.Err(err))
	}
	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop incomplete", logging.Err(err))
	}
	if rt.AuditSink != nil {
		if err := rt.AuditSink.Flush(shutdownCtx); err != nil {
			log.Warn("audit sink flush incomplete", logging.Err(err))
		}
	}
	log.Info("shutdown complete")
	return nil
}

func newServeMux(rt *Runtime, sched *scheduler.Scheduler, log logging.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /comments", handleIntake(rt, sched, log))
	mux.HandleFunc("POST /kick", handleKick(sched, log))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHTTPJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /version", buildinfo.Handler("aegis"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	return mux
}

// intakeRequest is the body of POST /comments.
type intakeRequest struct {
	AuthorName   string `json:"author_name"`
	AuthorEmail  string `json:"author_email"`
	Content      string `json:"content"`
	DocumentID   int64  `json:"document_id"`
	DocumentType string `json:"document_type"`
}

// intakeResponse is the body returned for an accepted comment.
type intakeResponse struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	SpamHint  bool   `json:"spam_hint"`
	RequestID string `json:"request_id"`
}

func handleIntake(rt *Runtime, sched *scheduler.Scheduler, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		var req intakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Content == "" {
			writeHTTPError(w, http.StatusBadRequest, "content is required")
			return
		}
		docType := moderation.ContentType(req.DocumentType)
		switch docType {
		case moderation.ContentTypeArticle, moderation.ContentTypePage, moderation.ContentTypeProduct:
		case "":
			docType = moderation.ContentTypeArticle
		default:
			writeHTTPError(w, http.StatusBadRequest, fmt.Sprintf("unknown document_type %q", req.DocumentType))
			return
		}

		comment, err := rt.Creator.Create(r.Context(), &moderation.Comment{
			AuthorName:   req.AuthorName,
			AuthorEmail:  req.AuthorEmail,
			Content:      req.Content,
			DocumentID:   req.DocumentID,
			DocumentType: docType,
		})
		if err != nil {
			log.Error("comment intake failed", logging.Err(err), logging.F("request_id", requestID))
			writeHTTPError(w, http.StatusInternalServerError, "failed to store comment")
			return
		}

		if comment.Status == moderation.StatusPending {
			if err := sched.Schedule(r.Context(), comment); err != nil {
				// The sweep picks the comment up; intake already succeeded.
				log.Warn("scheduling comment failed, sweep will retry",
					logging.CommentID(comment.ID), logging.Err(err))
			}
		}

		log.Info("comment accepted",
			logging.CommentID(comment.ID),
			logging.F("status", comment.Status),
			logging.F("request_id", requestID))

		writeHTTPJSON(w, http.StatusAccepted, intakeResponse{
			ID:        comment.ID,
			Status:    string(comment.Status),
			SpamHint:  comment.SpamHint,
			RequestID: requestID,
		})
	}
}

func handleKick(sched *scheduler.Scheduler, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sched.Kick() {
			writeHTTPJSON(w, http.StatusAccepted, map[string]string{"status": "sweep triggered"})
			return
		}
		writeHTTPJSON(w, http.StatusTooManyRequests, map[string]string{"status": "cooling down"})
	}
}

func writeHTTPJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	writeHTTPJSON(w, status, map[string]string{"error": msg})
}
