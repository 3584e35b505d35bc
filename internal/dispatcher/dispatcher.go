package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/usecase"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher drives the background side of the pipeline on a fixed poll
// cycle: it starts due jobs that have never executed and re-enters executing
// records whose backoff has elapsed. Every unit of work is guarded by a
// per-job claim, so any number of dispatcher replicas can run concurrently
// without double publishing.
type Dispatcher struct {
	service *usecase.PublishService
	jobs    domain.JobRepository
	execs   domain.ExecutionRepository
	claimer domain.Claimer
	cron    *cron.Cron
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a dispatcher polling at the given interval.
func New(
	service *usecase.PublishService,
	jobs domain.JobRepository,
	execs domain.ExecutionRepository,
	claimer domain.Claimer,
	interval time.Duration,
	logger *slog.Logger,
) (*Dispatcher, error) {
	d := &Dispatcher{
		service: service,
		jobs:    jobs,
		execs:   execs,
		claimer: claimer,
		cron:    cron.New(),
		logger:  logger.With("component", "dispatcher"),
		tracer:  otel.Tracer("publish-engine-dispatcher"),
		now:     time.Now,
	}

	if _, err := d.cron.AddFunc(fmt.Sprintf("@every %s", interval), d.runCycle); err != nil {
		return nil, fmt.Errorf("failed to schedule dispatch cycle: %w", err)
	}
	return d, nil
}

// WithClock overrides the dispatcher's time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Start runs the poll loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	d.cron.Start()
	<-ctx.Done()
	d.logger.Info("dispatcher stopping...")
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	d.logger.Info("dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) runCycle() {
	ctx, span := d.tracer.Start(context.Background(), "dispatcher.Cycle")
	defer span.End()

	d.Cycle(ctx)
}

// Cycle performs one poll pass: due first attempts, then due re-attempts.
// Per-item failures are logged and never abort the pass.
func (d *Dispatcher) Cycle(ctx context.Context) {
	now := d.now()

	d.dispatchDueJobs(ctx, now)
	d.dispatchDueRetries(ctx, now)
}

// dispatchDueJobs starts jobs whose scheduled time has arrived and that have
// no execution history yet. A job that already ran, in any outcome, is never
// restarted here; a failed job returns through the operator retry path.
func (d *Dispatcher) dispatchDueJobs(ctx context.Context, now time.Time) {
	due, err := d.jobs.ListDue(ctx, now)
	if err != nil {
		d.logger.Error("failed to list due jobs", "error", err)
		return
	}

	for _, job := range due {
		history, err := d.execs.ListByJob(ctx, job.ID)
		if err != nil {
			d.logger.Error("failed to list executions for due job", "job_id", job.ID, "error", err)
			continue
		}
		if len(history) > 0 {
			continue
		}
		d.withClaim(ctx, job.ID, func(ctx context.Context) {
			// Re-check under the claim; another replica may have started it
			// between the scan and the acquisition.
			history, err := d.execs.ListByJob(ctx, job.ID)
			if err != nil {
				d.logger.Error("failed to list executions for due job", "job_id", job.ID, "error", err)
				return
			}
			if len(history) > 0 {
				return
			}

			d.logger.Info("starting due job", "job_id", job.ID, "channel", job.Channel)
			if _, err := d.service.Execute(ctx, job.ID, nil); err != nil {
				if errors.Is(err, domain.ErrAdmissionDenied) {
					d.logger.Info("due job denied by preflight", "job_id", job.ID, "error", err)
					return
				}
				d.logger.Error("failed to execute due job", "job_id", job.ID, "error", err)
			}
		})
	}
}

// dispatchDueRetries re-enters executing records whose next attempt is due.
func (d *Dispatcher) dispatchDueRetries(ctx context.Context, now time.Time) {
	due, err := d.execs.ListDueRetries(ctx, now)
	if err != nil {
		d.logger.Error("failed to list due retries", "error", err)
		return
	}

	for _, rec := range due {
		rec := rec
		d.withClaim(ctx, rec.JobID, func(ctx context.Context) {
			// Re-read under the claim; the record may have progressed.
			current, err := d.execs.Get(ctx, rec.ID)
			if err != nil {
				d.logger.Error("failed to get execution for retry", "execution_id", rec.ID, "error", err)
				return
			}
			if !current.RetryDue(d.now()) {
				return
			}

			d.logger.Info("re-attempting execution",
				"execution_id", current.ID, "job_id", current.JobID, "retry_count", current.RetryCount)
			if err := d.service.Attempt(ctx, current); err != nil {
				if errors.Is(err, domain.ErrRetriesExhausted) {
					d.logger.Warn("execution retries exhausted", "execution_id", current.ID, "error", err)
					return
				}
				d.logger.Error("re-attempt failed", "execution_id", current.ID, "error", err)
			}
		})
	}
}

// withClaim runs fn while holding the single-flight claim for a job. A claim
// held elsewhere skips the work silently; that is the expected multi-replica
// outcome, not an error.
func (d *Dispatcher) withClaim(ctx context.Context, jobID string, fn func(ctx context.Context)) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.WithClaim",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	claim, err := d.claimer.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrClaimNotAcquired) {
			d.logger.Debug("job claimed elsewhere, skipping", "job_id", jobID)
			return
		}
		span.RecordError(err)
		d.logger.Error("failed to claim job", "job_id", jobID, "error", err)
		return
	}
	defer func() {
		if err := claim.Release(ctx); err != nil {
			d.logger.Warn("failed to release job claim", "job_id", jobID, "error", err)
		}
	}()

	fn(ctx)
}
