package cmd

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
)

// moderateOne runs the process command once so the seeded comment gets a
// decision from the fake classifier.
func moderateOne(t *testing.T, deps *Deps) {
	t.Helper()
	_, err := runCommand(t, NewProcessCommand(deps), "--output", "json")
	require.NoError(t, err)
}

func TestDecisionsCommand_Subcommands(t *testing.T) {
	cmd := NewDecisionsCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "decisions", cmd.Use)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, expected := range []string{"list", "show", "override", "clear", "export", "audit"} {
		assert.True(t, names[expected], "expected subcommand %q", expected)
	}
}

func TestDecisionsList(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	seedComment(t, rt, "first comment", moderation.ContentTypeArticle)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))
	moderateOne(t, deps)

	out, err := runCommand(t, NewDecisionsCommand(deps), "list", "--output", "")
	require.NoError(t, err)
	assert.Contains(t, out, "approve")
	assert.Contains(t, out, "test-model")
}

func TestDecisionsList_Empty(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	out, err := runCommand(t, NewDecisionsCommand(deps), "list", "--output", "")
	require.NoError(t, err)
	assert.Contains(t, out, "No decisions recorded.")
}

func TestDecisionsShow_NotFound(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	_, err := runCommand(t, NewDecisionsCommand(deps), "show", "99", "--output", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no decision recorded for comment 99")
}

func TestDecisionsOverride_MarksDecisionOverridden(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	seeded := seedComment(t, rt, "spam at first glance", moderation.ContentTypeArticle)

	spam := approveClassifier(0.95)
	spam.result.Outcome = moderation.OutcomeSpam
	deps := newTestDeps(cfg, rt, spam)
	moderateOne(t, deps)

	c, err := rt.Comments.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Equal(t, moderation.StatusSpam, c.Status)

	out, err := runCommand(t, NewDecisionsCommand(deps),
		"override", "1", "approved", "--by", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "set to approved by alice")
	assert.Contains(t, out, "AI verdict was spam")

	c, err = rt.Comments.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusApproved, c.Status)

	d, err := rt.Decisions.GetByComment(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.True(t, d.Overridden)
	assert.Equal(t, "alice", d.OverriddenBy)
	require.NotNil(t, d.OverriddenAt)
	assert.Equal(t, moderation.OutcomeSpam, d.Outcome, "the decision record keeps the AI verdict")
}

// captureAuditWriter collects audit entries in memory for assertions.
type captureAuditWriter struct {
	mu      sync.Mutex
	entries []logging.LogEntry
}

func (w *captureAuditWriter) WriteBatch(ctx context.Context, entries []logging.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entries...)
	return nil
}

func (w *captureAuditWriter) find(message string) *logging.LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		if w.entries[i].Message == message {
			return &w.entries[i]
		}
	}
	return nil
}

func TestDecisionsOverride_PersistsAuditEntry(t *testing.T) {
	cfg := testConfig()
	rt, mem := newTestRuntime(t, cfg)

	// Mirror openRuntime's database wiring: the audit sink is attached to
	// the runtime logger before the guard is built, so the guard's override
	// event flows through to the audit writer.
	writer := &captureAuditWriter{}
	sink := logging.NewAuditSink(logging.AuditSinkConfig{Writer: writer, FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = sink.Close() })

	logCfg := logging.DefaultConfig()
	logCfg.Output = io.Discard
	rt.Log = logging.NewLogger(logCfg).WithSinks(sink)
	rt.registerGuard(mem)

	seeded := seedComment(t, rt, "looks like spam", moderation.ContentTypeArticle)
	spam := approveClassifier(0.95)
	spam.result.Outcome = moderation.OutcomeSpam
	deps := newTestDeps(cfg, rt, spam)
	moderateOne(t, deps)

	_, err := runCommand(t, NewDecisionsCommand(deps), "override", "1", "approved", "--by", "alice")
	require.NoError(t, err)

	var entry *logging.LogEntry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry = writer.find("decision overridden by operator"); entry != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, entry, "override event must reach the audit writer")
	assert.Equal(t, "warn", entry.Level)
	require.NotNil(t, entry.CommentID)
	assert.Equal(t, seeded.ID, *entry.CommentID)
	assert.Equal(t, "spam", entry.Fields["ai_outcome"])
	assert.Equal(t, string(moderation.StatusApproved), entry.Fields["new_status"])
	assert.Equal(t, "alice", entry.Fields["overridden_by"])
}

func TestDecisionsOverride_InvalidStatus(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	_, err := runCommand(t, NewDecisionsCommand(deps), "override", "1", "published", "--by", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestDecisionsOverride_CommentNotFound(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	_, err := runCommand(t, NewDecisionsCommand(deps), "override", "404", "approved", "--by", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comment 404 not found")
}

func TestDecisionsClear_RequiresConfirmation(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	_, err := runCommand(t, NewDecisionsCommand(deps), "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestDecisionsClear_DeletesDecisions(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	seedComment(t, rt, "clean comment", moderation.ContentTypeArticle)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))
	moderateOne(t, deps)

	out, err := runCommand(t, NewDecisionsCommand(deps), "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 decisions")

	decisions, err := rt.Decisions.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestDecisionsAudit_RequiresDatabase(t *testing.T) {
	cfg := testConfig()
	rt, _ := newTestRuntime(t, cfg)
	deps := newTestDeps(cfg, rt, approveClassifier(0.95))

	_, err := runCommand(t, NewDecisionsCommand(deps), "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a configured database")
}
