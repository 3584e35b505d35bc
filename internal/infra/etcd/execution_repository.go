package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"publish-engine/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type executionRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewExecutionRepository creates a repository for execution records backed by
// etcd. Keys are flat (/publisher/executions/{id}) so records can be fetched
// by id alone; job-scoped queries scan the prefix.
func NewExecutionRepository(client *clientv3.Client, logger *slog.Logger) domain.ExecutionRepository {
	return &executionRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("publish-engine-etcd-executions"),
	}
}

// Save persists one execution record.
func (r *executionRepository) Save(ctx context.Context, record *domain.ExecutionRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveExecution")
	defer span.End()

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal execution record %s to JSON: %w", record.ID, err)
	}

	key := path.Join(ExecutionDir, record.ID)
	span.SetAttributes(
		attribute.String("execution.id", record.ID),
		attribute.String("job.id", record.JobID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put execution record to etcd")
		return fmt.Errorf("failed to save execution record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// Get retrieves one execution record by id.
func (r *executionRepository) Get(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", id))

	key := path.Join(ExecutionDir, id)
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get execution record from etcd")
		return nil, fmt.Errorf("failed to get execution record %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrExecutionNotFound
	}

	var record domain.ExecutionRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution record %s from JSON: %w", id, err)
	}
	return &record, nil
}

// ListByJob retrieves all execution records for a job.
func (r *executionRepository) ListByJob(ctx context.Context, jobID string) ([]*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListExecutionsByJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	records, err := r.scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]*domain.ExecutionRecord, 0, len(records))
	for _, rec := range records {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindInFlight returns the pending/executing record for a job, or nil.
func (r *executionRepository) FindInFlight(ctx context.Context, jobID string) (*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.FindInFlight")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	records, err := r.scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, rec := range records {
		if rec.JobID == jobID && rec.InFlight() {
			return rec, nil
		}
	}
	return nil, nil
}

// ListDueRetries returns executing records whose next attempt is due.
func (r *executionRepository) ListDueRetries(ctx context.Context, now time.Time) ([]*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListDueRetries")
	defer span.End()

	records, err := r.scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	due := make([]*domain.ExecutionRecord, 0)
	for _, rec := range records {
		if rec.RetryDue(now) {
			due = append(due, rec)
		}
	}
	span.SetAttributes(attribute.Int("records_due", len(due)))
	return due, nil
}

// CountRecentSuccesses counts successful executions for a client+channel
// since the given time, derived from the persisted history.
func (r *executionRepository) CountRecentSuccesses(ctx context.Context, clientID string, ch domain.Channel, since time.Time) (int, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.CountRecentSuccesses")
	defer span.End()
	span.SetAttributes(
		attribute.String("client.id", clientID),
		attribute.String("channel", string(ch)),
	)

	records, err := r.scan(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	count := 0
	for _, rec := range records {
		if rec.ClientID != clientID || rec.Channel != ch {
			continue
		}
		// Rolled-back executions still published within the window.
		if rec.Status != domain.ExecutionStatusSuccess && rec.Status != domain.ExecutionStatusRolledBack {
			continue
		}
		if rec.CompletedAt.After(since) {
			count++
		}
	}
	span.SetAttributes(attribute.Int("count", count))
	return count, nil
}

func (r *executionRepository) scan(ctx context.Context) ([]*domain.ExecutionRecord, error) {
	resp, err := r.client.Get(ctx, ExecutionDir, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records from etcd: %w", err)
	}
	records := make([]*domain.ExecutionRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record domain.ExecutionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal execution record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}
