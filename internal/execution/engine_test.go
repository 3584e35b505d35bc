package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/domain/domaintest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine  *Engine
	adapter *domaintest.StubAdapter
	execs   *domaintest.ExecRepo
	audit   *domaintest.AuditRepo
}

func newFixture(channel domain.Channel) *engineFixture {
	adapter := &domaintest.StubAdapter{}
	execs := domaintest.NewExecRepo()
	audit := domaintest.NewAuditRepo()
	engine := NewEngine(
		domain.NewCapabilityRegistry(),
		map[domain.Channel]domain.ChannelAdapter{channel: adapter},
		execs,
		audit,
		slog.Default(),
	).WithClock(domaintest.FixedClock(testNow))
	return &engineFixture{engine: engine, adapter: adapter, execs: execs, audit: audit}
}

func testJob(channel domain.Channel) *domain.Job {
	return &domain.Job{
		ID:          "job-1",
		ClientID:    "client-1",
		WorkspaceID: "ws-1",
		Channel:     channel,
		Content:     "launch post",
		ScheduledAt: testNow.Add(-time.Minute),
	}
}

func passingPreflight() *domain.PreflightResult {
	return &domain.PreflightResult{ID: "pf-1", JobID: "job-1", OverallPassed: true, RiskLevel: domain.RiskLow}
}

func failingPreflight() *domain.PreflightResult {
	return &domain.PreflightResult{
		ID: "pf-1", JobID: "job-1", OverallPassed: false, RiskLevel: domain.RiskHigh,
		Checks: []domain.CheckResult{{Name: "compliance", Passed: false, Reason: "banned phrase"}},
	}
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), passingPreflight(), Options{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.ExecutionStatusSuccess, rec.Status)
	assert.Equal(t, "pf-1", rec.PreflightID)
	assert.Equal(t, "ext-post-1", rec.ExternalPostID)
	assert.NotEmpty(t, rec.ExternalURL)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, testNow, rec.CompletedAt)
	assert.False(t, rec.Forced())
	assert.Equal(t, 1, f.adapter.PublishCalls)

	stored, err := f.execs.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSuccess, stored.Status)
}

func TestExecuteDeniedWithoutPassingPreflight(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), failingPreflight(), Options{})
	require.ErrorIs(t, err, domain.ErrAdmissionDenied)
	assert.Nil(t, rec, "no execution record may exist for a denied job")
	assert.Equal(t, 0, f.adapter.PublishCalls)

	records, err := f.execs.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	events := f.audit.Events("job-1")
	assert.Contains(t, events, domain.AuditAdmissionDenied)
}

func TestExecuteDeniedWithNilPreflight(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	_, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), nil, Options{})
	require.ErrorIs(t, err, domain.ErrAdmissionDenied)
}

func TestExecuteForceOverrideBypassesFailedPreflight(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), failingPreflight(),
		Options{Force: &ForceOverride{By: "ops@example.com", Reason: "incident comms"}})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.ExecutionStatusSuccess, rec.Status)
	assert.True(t, rec.Forced())
	assert.Equal(t, "ops@example.com", rec.ForcedBy)
	assert.Equal(t, "incident comms", rec.ForceReason)
	assert.Empty(t, rec.PreflightID, "forced records are not bound to the failed preflight")

	events := f.audit.Events("job-1")
	assert.Contains(t, events, domain.AuditForceOverride)
}

func TestExecuteForceOverrideRequiresCompletePair(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	job := testJob(domain.ChannelFacebook)

	_, err := f.engine.Execute(context.Background(), job, failingPreflight(), Options{Force: &ForceOverride{By: "ops"}})
	require.ErrorIs(t, err, domain.ErrAdmissionDenied)

	_, err = f.engine.Execute(context.Background(), job, failingPreflight(), Options{Force: &ForceOverride{Reason: "incident"}})
	require.ErrorIs(t, err, domain.ErrAdmissionDenied)

	assert.Equal(t, 0, f.adapter.PublishCalls)
}

func TestExecuteForceIgnoredWhenPreflightPasses(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), passingPreflight(),
		Options{Force: &ForceOverride{By: "ops", Reason: "just in case"}})
	require.NoError(t, err)
	assert.False(t, rec.Forced(), "an admitted job records a normal execution")
	assert.Equal(t, "pf-1", rec.PreflightID)
}

func TestExecuteSingleFlight(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	job := testJob(domain.ChannelFacebook)

	// First execution sticks in executing via a transient failure.
	f.adapter.PublishErrs = []error{domain.ErrChannelUnavailable}
	rec, err := f.engine.Execute(context.Background(), job, passingPreflight(), Options{})
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionStatusExecuting, rec.Status)

	_, err = f.engine.Execute(context.Background(), job, passingPreflight(), Options{})
	require.ErrorIs(t, err, domain.ErrInvalidExecutionState)
	assert.Equal(t, 1, f.adapter.PublishCalls, "second execution must not reach the adapter")
}

func TestExecuteTransientFailureSchedulesRetry(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	f.adapter.PublishErrs = []error{fmt.Errorf("%w: status 503", domain.ErrChannelUnavailable)}

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), passingPreflight(), Options{})
	require.NoError(t, err, "a transient failure with retries left is not operator-visible")

	assert.Equal(t, domain.ExecutionStatusExecuting, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, testNow.Add(time.Minute), rec.NextAttemptAt, "first backoff step is one minute")
	assert.Contains(t, rec.LastError, "503")

	events := f.audit.Events("job-1")
	assert.Contains(t, events, domain.AuditRetryScheduled)
}

func TestExecuteRetriesExhaustedAfterThreeTransientFailures(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	f.adapter.PublishErrs = []error{
		domain.ErrChannelUnavailable,
		domain.ErrChannelUnavailable,
		domain.ErrChannelUnavailable,
	}
	job := testJob(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), job, passingPreflight(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, testNow.Add(1*time.Minute), rec.NextAttemptAt)

	require.NoError(t, f.engine.Attempt(context.Background(), job, rec))
	require.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, testNow.Add(5*time.Minute), rec.NextAttemptAt, "second backoff step is five minutes")

	err = f.engine.Attempt(context.Background(), job, rec)
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, domain.ExecutionStatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.True(t, rec.NextAttemptAt.IsZero(), "a terminal record schedules nothing")
	assert.Equal(t, 3, f.adapter.PublishCalls)

	events := f.audit.Events("job-1")
	assert.Contains(t, events, domain.AuditRetriesExhausted)
}

func TestExecuteRecoversOnSecondAttempt(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	f.adapter.PublishErrs = []error{domain.ErrChannelUnavailable, nil}
	job := testJob(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), job, passingPreflight(), Options{})
	require.NoError(t, err)

	require.NoError(t, f.engine.Attempt(context.Background(), job, rec))
	assert.Equal(t, domain.ExecutionStatusSuccess, rec.Status)
	assert.Equal(t, 1, rec.RetryCount, "the count records failed attempts, not total attempts")
	assert.Equal(t, "ext-post-1", rec.ExternalPostID)
}

func TestExecutePermanentFailureNeverRetries(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	f.adapter.PublishErrs = []error{fmt.Errorf("%w: invalid credentials", domain.ErrChannelRejected)}

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), passingPreflight(), Options{})
	require.ErrorIs(t, err, domain.ErrChannelRejected)

	assert.Equal(t, domain.ExecutionStatusFailed, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.True(t, rec.NextAttemptAt.IsZero())
	assert.Equal(t, 1, f.adapter.PublishCalls)
}

func TestExecuteUnknownAdapterFailsPermanently(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), testJob(domain.ChannelEmail), passingPreflight(), Options{})
	require.ErrorIs(t, err, domain.ErrChannelRejected)
	assert.Equal(t, domain.ExecutionStatusFailed, rec.Status)
}

func TestAttemptRejectsNonExecutingRecord(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)
	job := testJob(domain.ChannelFacebook)

	rec, err := f.engine.Execute(context.Background(), job, passingPreflight(), Options{})
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionStatusSuccess, rec.Status)

	err = f.engine.Attempt(context.Background(), job, rec)
	require.ErrorIs(t, err, domain.ErrInvalidExecutionState)
}

func TestExecuteAuditTrailOrder(t *testing.T) {
	f := newFixture(domain.ChannelFacebook)

	_, err := f.engine.Execute(context.Background(), testJob(domain.ChannelFacebook), passingPreflight(), Options{})
	require.NoError(t, err)

	events := f.audit.Events("job-1")
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, domain.AuditExecutionCreated, events[0])
	assert.Equal(t, domain.AuditStateTransition, events[1])
	assert.Equal(t, domain.AuditStateTransition, events[2])
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, domain.IsTransient(fmt.Errorf("wrap: %w", domain.ErrChannelUnavailable)))
	assert.False(t, domain.IsTransient(domain.ErrChannelRejected))
	assert.False(t, domain.IsTransient(errors.New("something else")))
}
