package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxTransientFailures is the retry bound: after this many failed transient
// attempts the record is terminally failed.
const maxTransientFailures = 3

// retryBackoff holds the delay before re-attempt n (1-indexed by the current
// retry count). The first attempt runs immediately.
var retryBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// ForceOverride identifies the actor bypassing a failed admission, with their
// reason. Both fields are required together so the gate can never be bypassed
// without an attributable actor.
type ForceOverride struct {
	By     string
	Reason string
}

// Options carries optional execution parameters.
type Options struct {
	Force *ForceOverride
}

// Engine drives the publish state machine: it admits (or force-admits) a job,
// invokes the matching channel adapter and records the outcome. Backoff is
// implemented as scheduled re-attempts, never as a held sleep; the dispatcher
// re-enters due records via Attempt.
type Engine struct {
	registry *domain.CapabilityRegistry
	adapters map[domain.Channel]domain.ChannelAdapter
	execs    domain.ExecutionRepository
	audit    domain.AuditRepository
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine creates an execution engine.
func NewEngine(
	registry *domain.CapabilityRegistry,
	adapters map[domain.Channel]domain.ChannelAdapter,
	execs domain.ExecutionRepository,
	audit domain.AuditRepository,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		adapters: adapters,
		execs:    execs,
		audit:    audit,
		logger:   logger.With("component", "execution-engine"),
		tracer:   otel.Tracer("publish-engine-execution"),
		now:      time.Now,
	}
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Execute admits the job and performs the first publish attempt.
//
// Admission requires a passing preflight result, or a complete force override.
// Without either, no execution record is created and ErrAdmissionDenied is
// returned. The returned record reflects the state after the first attempt; a
// transient failure leaves it executing with a scheduled re-attempt and a nil
// error, since transient failures are not operator-visible until exhausted.
func (e *Engine) Execute(ctx context.Context, job *domain.Job, pf *domain.PreflightResult, opts Options) (*domain.ExecutionRecord, error) {
	ctx, span := e.tracer.Start(ctx, "execution.Execute",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.channel", string(job.Channel)),
		))
	defer span.End()

	admitted := pf != nil && pf.OverallPassed

	forced := false
	if !admitted {
		if opts.Force != nil {
			if opts.Force.By == "" || opts.Force.Reason == "" {
				return nil, fmt.Errorf("%w: force override requires both actor and reason", domain.ErrAdmissionDenied)
			}
			forced = true
		} else {
			e.appendAudit(ctx, &domain.AuditEntry{
				JobID:  job.ID,
				Event:  domain.AuditAdmissionDenied,
				Detail: admissionDetail(pf),
			})
			span.SetStatus(codes.Error, "admission denied")
			return nil, fmt.Errorf("%w: preflight did not pass for job %s", domain.ErrAdmissionDenied, job.ID)
		}
	}

	// Single-flight: refuse to create a second in-flight record for the job.
	if inFlight, err := e.execs.FindInFlight(ctx, job.ID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to check in-flight executions for job %s: %w", job.ID, err)
	} else if inFlight != nil {
		return nil, fmt.Errorf("%w: execution %s already in flight for job %s",
			domain.ErrInvalidExecutionState, inFlight.ID, job.ID)
	}

	rec := &domain.ExecutionRecord{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Channel:   job.Channel,
		ClientID:  job.ClientID,
		Status:    domain.ExecutionStatusPending,
		CreatedAt: e.now(),
	}
	if forced {
		rec.ForcedBy = opts.Force.By
		rec.ForceReason = opts.Force.Reason
	} else {
		rec.PreflightID = pf.ID
	}

	if err := e.execs.Save(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save execution record: %w", err)
	}
	e.appendAudit(ctx, &domain.AuditEntry{
		JobID:       job.ID,
		ExecutionID: rec.ID,
		Event:       domain.AuditExecutionCreated,
		Detail:      fmt.Sprintf("channel=%s", job.Channel),
	})
	if forced {
		metrics.ForceOverridesTotal.WithLabelValues(string(job.Channel)).Inc()
		e.appendAudit(ctx, &domain.AuditEntry{
			JobID:       job.ID,
			ExecutionID: rec.ID,
			Event:       domain.AuditForceOverride,
			Actor:       opts.Force.By,
			Detail:      opts.Force.Reason,
		})
		e.logger.Warn("admission bypassed by force override",
			"job_id", job.ID, "forced_by", opts.Force.By, "reason", opts.Force.Reason)
	}

	if err := e.transition(ctx, rec, domain.ExecutionStatusExecuting); err != nil {
		return rec, err
	}

	// Consult the registry before any network call; a channel known not to
	// support execution is a permanent failure.
	capability, err := e.registry.Lookup(job.Channel)
	if err != nil {
		return rec, e.failPermanent(ctx, rec, err)
	}
	if !capability.SupportsExecution {
		return rec, e.failPermanent(ctx, rec,
			fmt.Errorf("%w: channel %s does not support execution", domain.ErrChannelRejected, job.Channel))
	}

	return rec, e.attempt(ctx, job, rec)
}

// Attempt performs one scheduled re-attempt for an executing record. The
// dispatcher calls this once the record's next-attempt time is due.
func (e *Engine) Attempt(ctx context.Context, job *domain.Job, rec *domain.ExecutionRecord) error {
	ctx, span := e.tracer.Start(ctx, "execution.Attempt",
		trace.WithAttributes(
			attribute.String("execution.id", rec.ID),
			attribute.Int("execution.retry_count", rec.RetryCount),
		))
	defer span.End()

	if rec.Status != domain.ExecutionStatusExecuting {
		return fmt.Errorf("%w: cannot attempt execution %s in status %s",
			domain.ErrInvalidExecutionState, rec.ID, rec.Status)
	}
	return e.attempt(ctx, job, rec)
}

// attempt performs exactly one adapter call and applies the outcome.
func (e *Engine) attempt(ctx context.Context, job *domain.Job, rec *domain.ExecutionRecord) error {
	adapter, ok := e.adapters[job.Channel]
	if !ok {
		return e.failPermanent(ctx, rec,
			fmt.Errorf("%w: no adapter registered for channel %s", domain.ErrChannelRejected, job.Channel))
	}

	e.logger.Info("publishing", "job_id", job.ID, "execution_id", rec.ID,
		"channel", job.Channel, "retry_count", rec.RetryCount)

	res, err := adapter.Publish(ctx, job)
	if err == nil {
		rec.ExternalPostID = res.ExternalPostID
		rec.ExternalURL = res.ExternalURL
		rec.NextAttemptAt = time.Time{}
		rec.CompletedAt = e.now()
		if err := e.transition(ctx, rec, domain.ExecutionStatusSuccess); err != nil {
			return err
		}
		metrics.ExecutionsTotal.WithLabelValues(string(rec.Channel), string(rec.Status)).Inc()
		e.logger.Info("publish succeeded", "execution_id", rec.ID, "external_post_id", res.ExternalPostID)
		return nil
	}

	if domain.IsTransient(err) {
		return e.handleTransient(ctx, rec, err)
	}
	return e.failPermanent(ctx, rec, err)
}

// handleTransient increments the retry count and either schedules the next
// attempt or fails the record once the bound is reached.
func (e *Engine) handleTransient(ctx context.Context, rec *domain.ExecutionRecord, cause error) error {
	rec.RetryCount++
	rec.LastError = cause.Error()

	if rec.RetryCount >= maxTransientFailures {
		rec.LastError = fmt.Sprintf("%s: %s", domain.ErrRetriesExhausted, cause)
		rec.NextAttemptAt = time.Time{}
		rec.CompletedAt = e.now()
		if err := e.transition(ctx, rec, domain.ExecutionStatusFailed); err != nil {
			return err
		}
		metrics.ExecutionsTotal.WithLabelValues(string(rec.Channel), string(rec.Status)).Inc()
		e.appendAudit(ctx, &domain.AuditEntry{
			JobID:       rec.JobID,
			ExecutionID: rec.ID,
			Event:       domain.AuditRetriesExhausted,
			Detail:      rec.LastError,
		})
		e.logger.Error("retries exhausted", "execution_id", rec.ID, "error", cause)
		return fmt.Errorf("%w: execution %s failed after %d transient attempts: %s",
			domain.ErrRetriesExhausted, rec.ID, rec.RetryCount, cause)
	}

	delay := retryBackoff[rec.RetryCount-1]
	rec.NextAttemptAt = e.now().Add(delay)
	if err := e.execs.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}
	metrics.ExecutionRetriesTotal.WithLabelValues(string(rec.Channel)).Inc()
	e.appendAudit(ctx, &domain.AuditEntry{
		JobID:       rec.JobID,
		ExecutionID: rec.ID,
		Event:       domain.AuditRetryScheduled,
		Detail:      fmt.Sprintf("retry %d in %s: %s", rec.RetryCount, delay, cause),
	})
	e.logger.Warn("transient publish failure, retry scheduled",
		"execution_id", rec.ID, "retry_count", rec.RetryCount, "delay", delay, "error", cause)
	return nil
}

// failPermanent moves the record to failed without retry.
func (e *Engine) failPermanent(ctx context.Context, rec *domain.ExecutionRecord, cause error) error {
	rec.LastError = cause.Error()
	rec.NextAttemptAt = time.Time{}
	rec.CompletedAt = e.now()
	if err := e.transition(ctx, rec, domain.ExecutionStatusFailed); err != nil {
		return err
	}
	metrics.ExecutionsTotal.WithLabelValues(string(rec.Channel), string(rec.Status)).Inc()
	e.logger.Error("permanent publish failure", "execution_id", rec.ID, "error", cause)
	return cause
}

// transition applies a state-machine edge, persists the record and appends
// the transition to the audit trail.
func (e *Engine) transition(ctx context.Context, rec *domain.ExecutionRecord, to domain.ExecutionStatus) error {
	from := rec.Status
	if err := rec.Transition(to); err != nil {
		return err
	}
	if err := e.execs.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}
	e.appendAudit(ctx, &domain.AuditEntry{
		JobID:       rec.JobID,
		ExecutionID: rec.ID,
		Event:       domain.AuditStateTransition,
		Detail:      fmt.Sprintf("%s -> %s", from, to),
	})
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, entry *domain.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = e.now()
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("failed to append audit entry", "event", entry.Event, "error", err)
	}
}

func admissionDetail(pf *domain.PreflightResult) string {
	if pf == nil {
		return "no preflight result supplied"
	}
	failed := make([]string, 0, len(pf.Checks))
	for _, c := range pf.Checks {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return fmt.Sprintf("failed checks: %v", failed)
}
