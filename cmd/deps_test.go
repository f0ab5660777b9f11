// Package cmd provides the CLI commands for the aegis moderation service.
package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aegis-moderation/aegis/config"
	"github.com/aegis-moderation/aegis/credentials"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/aiclient"
	"github.com/aegis-moderation/aegis/pkg/moderation/observability"
	"github.com/aegis-moderation/aegis/pkg/moderation/scheduler"
	"github.com/aegis-moderation/aegis/pkg/moderation/store"
)

// fakeClassifier returns a fixed result or error for every comment.
type fakeClassifier struct {
	result *aiclient.Result
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, c *moderation.Comment, title string) (*aiclient.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

func approveClassifier(confidence float64) *fakeClassifier {
	return &fakeClassifier{result: &aiclient.Result{
		Outcome:    moderation.OutcomeApprove,
		Confidence: confidence,
		Reasoning:  "benign comment",
		Model:      "test-model",
	}}
}

// testConfig returns a config with the pipeline enabled and test-friendly
// dispatch timings.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Moderation.AutoModerate = true
	cfg.Dispatch.ScheduleDelay = time.Hour
	cfg.Dispatch.SweepPause = 0
	return cfg
}

// newTestRuntime builds a runtime over the in-memory store with the guard
// registered, the way openRuntime does without a database.
func newTestRuntime(t *testing.T, cfg *config.Config) (*Runtime, *store.Memory) {
	t.Helper()
	t.Setenv(credentials.EnvAPIKey, "sk-test-0123456789abcdef")

	mem := store.NewMemory()
	rt := &Runtime{Config: cfg, Log: logging.NewNopLogger()}
	rt.cfgFn = func() *config.Config { return cfg }
	rt.Registry = prometheus.NewRegistry()
	rt.Metrics = observability.NewMetrics(rt.Registry)
	rt.Comments = mem
	rt.Creator = mem
	rt.Decisions = mem.Decisions()
	rt.registerGuard(mem)
	return rt, mem
}

// newTestDeps returns deps wired to a fixed runtime and classifier.
func newTestDeps(cfg *config.Config, rt *Runtime, classifier scheduler.Classifier) *Deps {
	return &Deps{
		LoadConfig:      func() (*config.Config, error) { return cfg, nil },
		CredentialStore: credentials.NewStore,
		OpenRuntime: func(ctx context.Context, c *config.Config, log logging.Logger) (*Runtime, error) {
			return rt, nil
		},
		NewClassifier: func(c *config.Config, apiKey string, log logging.Logger) scheduler.Classifier {
			return classifier
		},
	}
}

// runCommand executes a command with args and returns its combined output.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seedComment creates a comment through the creator so the guard's create
// filter runs, and returns the stored copy.
func seedComment(t *testing.T, rt *Runtime, content string, ct moderation.ContentType) *moderation.Comment {
	t.Helper()
	c, err := rt.Creator.Create(context.Background(), &moderation.Comment{
		AuthorName:   "tester",
		AuthorEmail:  "tester@example.com",
		Content:      content,
		DocumentID:   1,
		DocumentType: ct,
		Status:       moderation.StatusApproved,
	})
	if err != nil {
		t.Fatalf("seeding comment: %v", err)
	}
	return c
}
