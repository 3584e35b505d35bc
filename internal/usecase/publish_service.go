package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/execution"
	"publish-engine/internal/preflight"
	"publish-engine/internal/rollback"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// fatigueWindow is the trailing window over which successful publishes count
// against a channel's fatigue limit.
const fatigueWindow = 24 * time.Hour

// PublishService orchestrates the admission and execution pipeline: it owns
// signal acquisition, fatigue derivation and result persistence, and delegates
// the rule evaluation and state machines to the engines.
type PublishService struct {
	jobs       domain.JobRepository
	preflights domain.PreflightRepository
	execs      domain.ExecutionRepository
	rollbacks  domain.RollbackRepository
	audit      domain.AuditRepository
	signals    domain.SignalProvider
	checker    *preflight.Engine
	executor   *execution.Engine
	reverser   *rollback.Engine
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewPublishService creates a new PublishService instance.
func NewPublishService(
	jobs domain.JobRepository,
	preflights domain.PreflightRepository,
	execs domain.ExecutionRepository,
	rollbacks domain.RollbackRepository,
	audit domain.AuditRepository,
	signals domain.SignalProvider,
	checker *preflight.Engine,
	executor *execution.Engine,
	reverser *rollback.Engine,
	logger *slog.Logger,
) *PublishService {
	return &PublishService{
		jobs:       jobs,
		preflights: preflights,
		execs:      execs,
		rollbacks:  rollbacks,
		audit:      audit,
		signals:    signals,
		checker:    checker,
		executor:   executor,
		reverser:   reverser,
		logger:     logger.With("component", "publish-service"),
		tracer:     otel.Tracer("publish-engine-usecase"),
		now:        time.Now,
	}
}

// WithClock overrides the service's time source.
func (s *PublishService) WithClock(now func() time.Time) *PublishService {
	s.now = now
	return s
}

// SubmitJob validates and persists a new publish job.
func (s *PublishService) SubmitJob(ctx context.Context, job *domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "service.SubmitJob")
	defer span.End()

	if err := job.Validate(); err != nil {
		return err
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = s.now()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.channel", string(job.Channel)))

	if err := s.jobs.Save(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save job to repository")
		return err
	}

	s.appendAudit(ctx, &domain.AuditEntry{
		JobID:  job.ID,
		Event:  domain.AuditJobSubmitted,
		Detail: fmt.Sprintf("channel=%s scheduled_at=%s", job.Channel, job.ScheduledAt.Format(time.RFC3339)),
	})
	return nil
}

// Preflight evaluates the admission rule set against a job and persists the
// result. Each call produces a fresh result; earlier rows remain as history.
func (s *PublishService) Preflight(ctx context.Context, jobID string) (*domain.PreflightResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.Preflight")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from repository")
		return nil, err
	}

	signals, err := s.signalsFor(ctx, job)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := s.checker.Evaluate(ctx, job, signals)
	if err := s.preflights.Save(ctx, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save preflight result to repository")
		return nil, err
	}
	return result, nil
}

// Execute runs a fresh preflight and, if admitted (or forced), performs the
// first publish attempt. The preflight bound to the execution is always
// current; stale results are never reused across the admission boundary.
func (s *PublishService) Execute(ctx context.Context, jobID string, force *execution.ForceOverride) (*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from repository")
		return nil, err
	}

	result, err := s.Preflight(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rec, err := s.executor.Execute(ctx, job, result, execution.Options{Force: force})
	if err != nil {
		span.RecordError(err)
	}
	return rec, err
}

// Attempt performs one scheduled re-attempt for a due executing record.
func (s *PublishService) Attempt(ctx context.Context, rec *domain.ExecutionRecord) error {
	ctx, span := s.tracer.Start(ctx, "service.Attempt")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", rec.ID))

	job, err := s.jobs.Get(ctx, rec.JobID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return s.executor.Attempt(ctx, job, rec)
}

// RetryExecution starts a fresh execution for a terminally failed one. The new
// execution passes through the full admission gate again; conditions that
// changed since the failure are honored.
func (s *PublishService) RetryExecution(ctx context.Context, executionID string, force *execution.ForceOverride) (*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.RetryExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	rec, err := s.execs.Get(ctx, executionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rec.Status != domain.ExecutionStatusFailed {
		span.SetStatus(codes.Error, "execution not in failed state")
		return nil, fmt.Errorf("%w: cannot retry execution %s in status %s",
			domain.ErrInvalidExecutionState, rec.ID, rec.Status)
	}

	return s.Execute(ctx, rec.JobID, force)
}

// RequestRollback issues a compensating retract against a successful execution.
func (s *PublishService) RequestRollback(ctx context.Context, executionID, requestedBy, reason string) (*domain.RollbackRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.RequestRollback")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	rb, err := s.reverser.Rollback(ctx, executionID, requestedBy, reason)
	if err != nil {
		span.RecordError(err)
	}
	return rb, err
}

// GetJob retrieves one job.
func (s *PublishService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from repository")
	}
	return job, err
}

// ListJobs lists all jobs, optionally filtered by client id.
func (s *PublishService) ListJobs(ctx context.Context, clientID string) ([]*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListJobs")
	defer span.End()

	jobs, err := s.jobs.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list jobs from repository")
		return nil, err
	}
	if clientID == "" {
		return jobs, nil
	}
	filtered := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.ClientID == clientID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

// GetExecution retrieves one execution record.
func (s *PublishService) GetExecution(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", id))

	rec, err := s.execs.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get execution record from repository")
	}
	return rec, err
}

// ListExecutionsByJob lists the execution history for a job.
func (s *PublishService) ListExecutionsByJob(ctx context.Context, jobID string) ([]*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListExecutionsByJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	records, err := s.execs.ListByJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list execution records from repository")
	}
	return records, err
}

// ListPreflightsByJob lists the preflight history for a job.
func (s *PublishService) ListPreflightsByJob(ctx context.Context, jobID string) ([]*domain.PreflightResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListPreflightsByJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	results, err := s.preflights.ListByJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list preflight results from repository")
	}
	return results, err
}

// ListRollbacksByExecution lists the rollback history for an execution.
func (s *PublishService) ListRollbacksByExecution(ctx context.Context, executionID string) ([]*domain.RollbackRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListRollbacksByExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	records, err := s.rollbacks.ListByExecution(ctx, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list rollback records from repository")
	}
	return records, err
}

// ListAuditByJob lists the audit trail for a job in append order.
func (s *PublishService) ListAuditByJob(ctx context.Context, jobID string) ([]*domain.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListAuditByJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	entries, err := s.audit.ListByJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list audit entries from repository")
	}
	return entries, err
}

// signalsFor fetches the admission signals for a job's client and overlays
// the fatigue count derived from the persisted execution history. When the
// provider is unreachable the conservative fallback denies by default.
func (s *PublishService) signalsFor(ctx context.Context, job *domain.Job) (domain.Signals, error) {
	signals, err := s.signals.Fetch(ctx, job.ClientID, job.WorkspaceID)
	if err != nil {
		s.logger.Warn("signal provider unavailable, using conservative fallback",
			"job_id", job.ID, "error", err)
		signals = domain.ConservativeSignals()
	}

	since := s.now().Add(-fatigueWindow)
	count, err := s.execs.CountRecentSuccesses(ctx, job.ClientID, job.Channel, since)
	if err != nil {
		return domain.Signals{}, fmt.Errorf("failed to count recent successes for job %s: %w", job.ID, err)
	}
	if signals.RecentExecutionCounts == nil {
		signals.RecentExecutionCounts = make(map[domain.Channel]int)
	}
	signals.RecentExecutionCounts[job.Channel] = count
	return signals, nil
}

func (s *PublishService) appendAudit(ctx context.Context, entry *domain.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = s.now()
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry", "event", entry.Event, "error", err)
	}
}
