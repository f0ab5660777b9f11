package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/aiclient"
	"github.com/aegis-moderation/aegis/pkg/moderation/observability"
	"github.com/aegis-moderation/aegis/pkg/moderation/policy"
	"github.com/aegis-moderation/aegis/pkg/moderation/store"
)

type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	result *aiclient.Result
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, c *moderation.Comment, title string) (*aiclient.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	return &out, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func approveResult() *aiclient.Result {
	return &aiclient.Result{
		Outcome:    moderation.OutcomeApprove,
		Confidence: 0.9,
		Reasoning:  "fine",
		Model:      "gpt-4o",
	}
}

func testSettings() Settings {
	return Settings{
		Eligibility: moderation.Eligibility{
			AutoModerationEnabled: true,
			CredentialConfigured:  true,
			ModerateArticles:      true,
			ModeratePages:         true,
			ModerateProducts:      true,
		},
		ConfidenceThreshold: 0.7,
		ScheduleDelay:       time.Millisecond,
		SweepInterval:       time.Minute,
		SweepBatch:          10,
		SweepPause:          0,
		KickCooldown:        time.Minute,
	}
}

type fixture struct {
	sched      *Scheduler
	mem        *store.Memory
	classifier *fakeClassifier
	settings   Settings
	settingsMu sync.Mutex
}

func (f *fixture) setSettings(s Settings) {
	f.settingsMu.Lock()
	defer f.settingsMu.Unlock()
	f.settings = s
}

func newFixture(t *testing.T, classifier *fakeClassifier) *fixture {
	t.Helper()
	mem := store.NewMemory()
	f := &fixture{mem: mem, classifier: classifier, settings: testSettings()}

	engine := policy.New(mem, mem.Decisions(), nil, logging.NewNopLogger())
	f.sched = New(Deps{
		Comments:   mem,
		Decisions:  mem.Decisions(),
		Classifier: classifier,
		Evaluator:  engine,
		Settings: func() Settings {
			f.settingsMu.Lock()
			defer f.settingsMu.Unlock()
			return f.settings
		},
		Logger: logging.NewNopLogger(),
	})
	t.Cleanup(func() { _ = f.sched.backend.Close() })
	return f
}

func seedComment(t *testing.T, mem *store.Memory, ct moderation.ContentType, createdAt time.Time) *moderation.Comment {
	t.Helper()
	c, err := mem.Create(context.Background(), &moderation.Comment{
		AuthorName:   "pat",
		Content:      "a comment",
		DocumentID:   1,
		DocumentType: ct,
		Status:       moderation.StatusPending,
		CreatedAt:    createdAt,
	})
	require.NoError(t, err)
	return c
}

func waitForDecision(t *testing.T, mem *store.Memory, commentID int64) *moderation.Decision {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		d, err := mem.Decisions().GetByComment(context.Background(), commentID)
		if err == nil {
			return d
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for decision")
	return nil
}

func TestSchedule_DeferredUnitFires(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)
	c := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())

	require.NoError(t, f.sched.Schedule(context.Background(), c))

	waitForDecision(t, f.mem, c.ID)
	updated, err := f.mem.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusApproved, updated.Status)
	assert.Equal(t, 1, classifier.callCount())
}

func TestSchedule_SkipsIneligible(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)

	settings := testSettings()
	settings.Eligibility.ModeratePages = false
	f.setSettings(settings)

	c := seedComment(t, f.mem, moderation.ContentTypePage, time.Now())
	require.NoError(t, f.sched.Schedule(context.Background(), c))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, classifier.callCount())
	_, err := f.mem.Decisions().GetByComment(context.Background(), c.ID)
	assert.ErrorIs(t, err, agerrors.ErrNotFound)
}

func TestSchedule_DedupsOutstandingUnits(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)

	settings := testSettings()
	settings.ScheduleDelay = 100 * time.Millisecond
	f.setSettings(settings)

	c := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())
	require.NoError(t, f.sched.Schedule(context.Background(), c))
	require.NoError(t, f.sched.Schedule(context.Background(), c))
	require.NoError(t, f.sched.Schedule(context.Background(), c))

	waitForDecision(t, f.mem, c.ID)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, classifier.callCount())
}

func TestProcessNow_Summary(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)

	seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now().Add(-3*time.Minute))
	seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now().Add(-2*time.Minute))
	seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now().Add(-time.Minute))

	summary, err := f.sched.ProcessNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Approved)
	assert.Equal(t, 0, summary.Errors)
	assert.Len(t, summary.Items, 3)
	assert.Equal(t, 3, classifier.callCount())
}

func TestProcessNow_BoundedBatchOldestFirst(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)

	settings := testSettings()
	settings.SweepBatch = 2
	f.setSettings(settings)

	oldest := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now().Add(-3*time.Hour))
	middle := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now().Add(-2*time.Hour))
	newest := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now().Add(-time.Hour))

	summary, err := f.sched.ProcessNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, oldest.ID, summary.Items[0].CommentID)
	assert.Equal(t, middle.ID, summary.Items[1].CommentID)

	_, err = f.mem.Decisions().GetByComment(context.Background(), newest.ID)
	assert.ErrorIs(t, err, agerrors.ErrNotFound)
}

func TestProcess_IdempotentAfterDecision(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)
	c := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())

	first, err := f.sched.ProcessNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	// Comment resolved; a second pass finds nothing held.
	second, err := f.sched.ProcessNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)

	// A stale deferred unit firing later is a no-op.
	item := f.sched.process(context.Background(), c.ID, "deferred")
	assert.True(t, item.Skipped)
	assert.Equal(t, 1, classifier.callCount())
}

func TestProcess_StaleUnitWithPendingReviewDecision(t *testing.T) {
	classifier := &fakeClassifier{result: &aiclient.Result{
		Outcome:    moderation.OutcomeSpam,
		Confidence: 0.4,
		Model:      "gpt-4o",
	}}
	f := newFixture(t, classifier)
	c := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())

	summary, err := f.sched.ProcessNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingReview)

	// Still pending status-wise, but the decision exists: never revisited.
	item := f.sched.process(context.Background(), c.ID, "sweep")
	assert.True(t, item.Skipped)
	assert.Equal(t, 1, classifier.callCount())
}

func TestProcess_FailureLeavesCommentRetryable(t *testing.T) {
	classifier := &fakeClassifier{
		err: agerrors.NewClassificationError(agerrors.ErrConnectionFailed, "gpt-4o", "connection refused"),
	}
	f := newFixture(t, classifier)
	c := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())

	summary, err := f.sched.ProcessNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 0, summary.Processed)

	updated, err := f.mem.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusPending, updated.Status)

	// The next attempt succeeds.
	classifier.mu.Lock()
	classifier.err = nil
	classifier.result = approveResult()
	classifier.mu.Unlock()

	summary, err = f.sched.ProcessNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestProcessDeferred_RetryableErrorsPropagate(t *testing.T) {
	classifier := &fakeClassifier{
		err: agerrors.NewClassificationError(agerrors.ErrConnectionFailed, "gpt-4o", "connection refused"),
	}
	f := newFixture(t, classifier)
	c := seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())

	err := f.sched.processDeferred(context.Background(), c.ID)
	assert.Error(t, err, "retryable failure should propagate to the backend")

	classifier.mu.Lock()
	classifier.err = agerrors.NewClassificationError(agerrors.ErrMissingCredential, "gpt-4o", "no key")
	classifier.mu.Unlock()

	err = f.sched.processDeferred(context.Background(), c.ID)
	assert.NoError(t, err, "non-retryable failure should not burn backend retries")
}

func TestKick_Cooldown(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)
	seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())

	assert.True(t, f.sched.Kick())
	assert.False(t, f.sched.Kick(), "second kick within cooldown must not fire")

	// Let the kicked sweep finish before the fixture is torn down.
	time.Sleep(50 * time.Millisecond)
}

func TestKick_NoHeldComments(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	f := newFixture(t, classifier)

	assert.False(t, f.sched.Kick(), "nothing held, nothing to wake")

	// A no-op kick must not consume the cooldown window.
	seedComment(t, f.mem, moderation.ContentTypeArticle, time.Now())
	assert.True(t, f.sched.Kick())

	time.Sleep(50 * time.Millisecond)
}

func TestProcessNow_UpdatesHeldGauge(t *testing.T) {
	classifier := &fakeClassifier{result: approveResult()}
	mem := store.NewMemory()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := policy.New(mem, mem.Decisions(), nil, logging.NewNopLogger())

	sched := New(Deps{
		Comments:   mem,
		Decisions:  mem.Decisions(),
		Classifier: classifier,
		Evaluator:  engine,
		Settings:   testSettings,
		Metrics:    metrics,
		Logger:     logging.NewNopLogger(),
	})
	t.Cleanup(func() { _ = sched.backend.Close() })

	seedComment(t, mem, moderation.ContentTypeArticle, time.Now().Add(-2*time.Minute))
	seedComment(t, mem, moderation.ContentTypeArticle, time.Now().Add(-time.Minute))

	_, err := sched.ProcessNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HeldCommentsGauge),
		"gauge reflects the backlog observed at list time")
}

func TestTimerBackend_CompleteCancelsPending(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	b := NewTimerBackend(func(ctx context.Context, commentID int64) error {
		mu.Lock()
		fired++
		mu.Unlock()
		return nil
	})
	defer b.Close()

	ok, err := b.Defer(context.Background(), 1, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Complete(context.Background(), 1))
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired)
}
