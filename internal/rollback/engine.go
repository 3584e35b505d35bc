package rollback

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

// Engine issues compensating actions against successful executions. The
// capability registry is consulted before any adapter call: a channel that
// does not support rollback yields an unsupported record with zero network
// calls, which is a normal outcome and not an error.
type Engine struct {
	registry  *domain.CapabilityRegistry
	adapters  map[domain.Channel]domain.ChannelAdapter
	execs     domain.ExecutionRepository
	rollbacks domain.RollbackRepository
	audit     domain.AuditRepository
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEngine creates a rollback engine.
func NewEngine(
	registry *domain.CapabilityRegistry,
	adapters map[domain.Channel]domain.ChannelAdapter,
	execs domain.ExecutionRepository,
	rollbacks domain.RollbackRepository,
	audit domain.AuditRepository,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry:  registry,
		adapters:  adapters,
		execs:     execs,
		rollbacks: rollbacks,
		audit:     audit,
		logger:    logger.With("component", "rollback-engine"),
		tracer:    otel.Tracer("publish-engine-rollback"),
		now:       time.Now,
	}
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rollback requests a compensating retract against a successful execution.
//
// A second request against an already rolled-back execution fails with
// ErrInvalidExecutionState rather than re-invoking the adapter. An adapter
// failure leaves the execution record in success so the rollback may be
// retried with a fresh request.
func (e *Engine) Rollback(ctx context.Context, executionID, requestedBy, reason string) (*domain.RollbackRecord, error) {
	ctx, span := e.tracer.Start(ctx, "rollback.Rollback",
		trace.WithAttributes(attribute.String("execution.id", executionID)))
	defer span.End()

	if requestedBy == "" || reason == "" {
		return nil, fmt.Errorf("rollback requires both requester and reason")
	}

	rec, err := e.execs.Get(ctx, executionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rec.Status != domain.ExecutionStatusSuccess {
		span.SetStatus(codes.Error, "execution not in success state")
		return nil, fmt.Errorf("%w: cannot roll back execution %s in status %s",
			domain.ErrInvalidExecutionState, rec.ID, rec.Status)
	}

	rb := &domain.RollbackRecord{
		ID:          uuid.NewString(),
		ExecutionID: rec.ID,
		JobID:       rec.JobID,
		Channel:     rec.Channel,
		RequestedBy: requestedBy,
		Reason:      reason,
		Status:      domain.RollbackStatusPending,
		RequestedAt: e.now(),
	}
	if err := e.rollbacks.Save(ctx, rb); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save rollback record: %w", err)
	}
	e.appendAudit(ctx, rec, domain.AuditRollbackRequest, requestedBy, reason)

	capability, err := e.registry.Lookup(rec.Channel)
	if err != nil {
		return nil, err
	}
	if !capability.SupportsRollback {
		rb.Status = domain.RollbackStatusUnsupported
		rb.CompletedAt = e.now()
		if err := e.rollbacks.Save(ctx, rb); err != nil {
			return nil, fmt.Errorf("failed to save rollback record: %w", err)
		}
		metrics.RollbacksTotal.WithLabelValues(string(rec.Channel), string(rb.Status)).Inc()
		e.appendAudit(ctx, rec, domain.AuditRollbackOutcome, requestedBy,
			fmt.Sprintf("unsupported: channel %s does not permit retraction", rec.Channel))
		e.logger.Info("rollback unsupported for channel",
			"execution_id", rec.ID, "channel", rec.Channel)
		return rb, nil
	}

	adapter, ok := e.adapters[rec.Channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %s", rec.Channel)
	}

	if err := adapter.Retract(ctx, rec.ExternalPostID); err != nil {
		rb.Status = domain.RollbackStatusFailed
		rb.Error = err.Error()
		rb.CompletedAt = e.now()
		if saveErr := e.rollbacks.Save(ctx, rb); saveErr != nil {
			return nil, fmt.Errorf("failed to save rollback record: %w", saveErr)
		}
		metrics.RollbacksTotal.WithLabelValues(string(rec.Channel), string(rb.Status)).Inc()
		e.appendAudit(ctx, rec, domain.AuditRollbackOutcome, requestedBy, "failed: "+err.Error())
		span.RecordError(err)
		e.logger.Error("retract failed, execution remains success",
			"execution_id", rec.ID, "error", err)
		return rb, fmt.Errorf("retract failed for execution %s: %w", rec.ID, err)
	}

	rb.Status = domain.RollbackStatusSuccess
	rb.CompletedAt = e.now()
	if err := e.rollbacks.Save(ctx, rb); err != nil {
		return nil, fmt.Errorf("failed to save rollback record: %w", err)
	}

	if err := rec.Transition(domain.ExecutionStatusRolledBack); err != nil {
		return rb, err
	}
	if err := e.execs.Save(ctx, rec); err != nil {
		return rb, fmt.Errorf("failed to save execution record: %w", err)
	}

	metrics.RollbacksTotal.WithLabelValues(string(rec.Channel), string(rb.Status)).Inc()
	e.appendAudit(ctx, rec, domain.AuditRollbackOutcome, requestedBy, "success")
	e.logger.Info("rollback succeeded", "execution_id", rec.ID, "rollback_id", rb.ID)
	return rb, nil
}

func (e *Engine) appendAudit(ctx context.Context, rec *domain.ExecutionRecord, event domain.AuditEvent, actor, detail string) {
	entry := &domain.AuditEntry{
		ID:          uuid.NewString(),
		JobID:       rec.JobID,
		ExecutionID: rec.ID,
		Event:       event,
		Actor:       actor,
		Detail:      detail,
		At:          e.now(),
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("failed to append audit entry", "event", event, "error", err)
	}
}
