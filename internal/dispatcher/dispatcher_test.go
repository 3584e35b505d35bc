package dispatcher

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/domain/domaintest"
	"publish-engine/internal/execution"
	"publish-engine/internal/preflight"
	"publish-engine/internal/rollback"
	"publish-engine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dispatcher *Dispatcher
	service    *usecase.PublishService
	jobs       *domaintest.JobRepo
	execs      *domaintest.ExecRepo
	claimer    *domaintest.StubClaimer
	adapter    *domaintest.StubAdapter
	provider   *domaintest.StubSignalProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()
	registry := domain.NewCapabilityRegistry()
	jobs := domaintest.NewJobRepo()
	execs := domaintest.NewExecRepo()
	prefs := domaintest.NewPreflightRepo()
	rbs := domaintest.NewRollbackRepo()
	audit := domaintest.NewAuditRepo()
	adapter := &domaintest.StubAdapter{}
	provider := &domaintest.StubSignalProvider{Signals: domaintest.PassingSignals()}
	claimer := domaintest.NewStubClaimer()

	adapters := make(map[domain.Channel]domain.ChannelAdapter)
	for _, ch := range domain.Channels() {
		adapters[ch] = adapter
	}

	clock := domaintest.FixedClock(testNow)
	service := usecase.NewPublishService(
		jobs, prefs, execs, rbs, audit,
		provider,
		preflight.NewEngine(registry, logger),
		execution.NewEngine(registry, adapters, execs, audit, logger).WithClock(clock),
		rollback.NewEngine(registry, adapters, execs, rbs, audit, logger).WithClock(clock),
		logger,
	).WithClock(clock)

	d, err := New(service, jobs, execs, claimer, 15*time.Second, logger)
	require.NoError(t, err)
	d.WithClock(clock)

	return &fixture{
		dispatcher: d, service: service, jobs: jobs, execs: execs,
		claimer: claimer, adapter: adapter, provider: provider,
	}
}

func saveJob(t *testing.T, f *fixture, id string, scheduledAt time.Time) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:          id,
		ClientID:    "client-1",
		WorkspaceID: "ws-1",
		Channel:     domain.ChannelFacebook,
		Content:     "scheduled post",
		ScheduledAt: scheduledAt,
		CreatedAt:   testNow.Add(-time.Hour),
	}
	require.NoError(t, f.jobs.Save(context.Background(), job))
	return job
}

func TestCycleExecutesDueJob(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-due", testNow.Add(-time.Minute))

	f.dispatcher.Cycle(context.Background())

	records, err := f.execs.ListByJob(context.Background(), "job-due")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ExecutionStatusSuccess, records[0].Status)
	assert.Equal(t, []string{"job-due"}, f.claimer.Claims)
	assert.Equal(t, []string{"job-due"}, f.claimer.Releases, "claims are released after the work")
}

func TestCycleSkipsFutureJobs(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-future", testNow.Add(time.Hour))

	f.dispatcher.Cycle(context.Background())

	records, err := f.execs.ListByJob(context.Background(), "job-future")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, f.claimer.Claims)
}

func TestCycleNeverRestartsExecutedJobs(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-done", testNow.Add(-time.Minute))

	f.dispatcher.Cycle(context.Background())
	f.dispatcher.Cycle(context.Background())

	records, err := f.execs.ListByJob(context.Background(), "job-done")
	require.NoError(t, err)
	assert.Len(t, records, 1, "a completed job is not restarted by later cycles")
	assert.Equal(t, 1, f.adapter.PublishCalls)
}

func TestCycleSkipsClaimedJobs(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-claimed", testNow.Add(-time.Minute))
	f.claimer.Held["job-claimed"] = true

	f.dispatcher.Cycle(context.Background())

	records, err := f.execs.ListByJob(context.Background(), "job-claimed")
	require.NoError(t, err)
	assert.Empty(t, records, "a claim held elsewhere skips the job without error")
}

func TestCycleDeniedJobLeavesNoExecution(t *testing.T) {
	f := newFixture(t)
	f.provider.Signals = domain.ConservativeSignals()
	saveJob(t, f, "job-denied", testNow.Add(-time.Minute))

	f.dispatcher.Cycle(context.Background())

	records, err := f.execs.ListByJob(context.Background(), "job-denied")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, f.adapter.PublishCalls)
}

func TestCycleReattemptsDueRetry(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-retry", testNow.Add(-time.Hour))

	rec := &domain.ExecutionRecord{
		ID:            "exec-retry",
		JobID:         "job-retry",
		Channel:       domain.ChannelFacebook,
		ClientID:      "client-1",
		Status:        domain.ExecutionStatusExecuting,
		RetryCount:    1,
		NextAttemptAt: testNow.Add(-time.Second),
		CreatedAt:     testNow.Add(-time.Hour),
	}
	require.NoError(t, f.execs.Save(context.Background(), rec))

	f.dispatcher.Cycle(context.Background())

	stored, err := f.execs.Get(context.Background(), "exec-retry")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, 1, f.adapter.PublishCalls)
}

func TestCycleIgnoresRetryNotYetDue(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-wait", testNow.Add(-time.Hour))

	rec := &domain.ExecutionRecord{
		ID:            "exec-wait",
		JobID:         "job-wait",
		Channel:       domain.ChannelFacebook,
		ClientID:      "client-1",
		Status:        domain.ExecutionStatusExecuting,
		RetryCount:    1,
		NextAttemptAt: testNow.Add(time.Minute),
		CreatedAt:     testNow.Add(-time.Hour),
	}
	require.NoError(t, f.execs.Save(context.Background(), rec))

	f.dispatcher.Cycle(context.Background())

	stored, err := f.execs.Get(context.Background(), "exec-wait")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusExecuting, stored.Status)
	assert.Equal(t, 0, f.adapter.PublishCalls)
}

func TestCycleRetryExhaustionIsTerminal(t *testing.T) {
	f := newFixture(t)
	saveJob(t, f, "job-exhaust", testNow.Add(-time.Hour))
	f.adapter.PublishErrs = []error{domain.ErrChannelUnavailable}

	rec := &domain.ExecutionRecord{
		ID:            "exec-exhaust",
		JobID:         "job-exhaust",
		Channel:       domain.ChannelFacebook,
		ClientID:      "client-1",
		Status:        domain.ExecutionStatusExecuting,
		RetryCount:    2,
		NextAttemptAt: testNow.Add(-time.Second),
		CreatedAt:     testNow.Add(-time.Hour),
	}
	require.NoError(t, f.execs.Save(context.Background(), rec))

	f.dispatcher.Cycle(context.Background())

	stored, err := f.execs.Get(context.Background(), "exec-exhaust")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
}
