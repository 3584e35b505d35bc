package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"publish-engine/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type rollbackRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRollbackRepository creates a repository for rollback records backed by
// etcd. Keys are structured as /publisher/rollbacks/{executionID}/{recordID}.
func NewRollbackRepository(client *clientv3.Client, logger *slog.Logger) domain.RollbackRepository {
	return &rollbackRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("publish-engine-etcd-rollbacks"),
	}
}

// Save persists one rollback record.
func (r *rollbackRepository) Save(ctx context.Context, record *domain.RollbackRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveRollback")
	defer span.End()

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal rollback record %s to JSON: %w", record.ID, err)
	}

	key := path.Join(RollbackDir, record.ExecutionID, record.ID)
	span.SetAttributes(
		attribute.String("rollback.id", record.ID),
		attribute.String("execution.id", record.ExecutionID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put rollback record to etcd")
		return fmt.Errorf("failed to save rollback record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// ListByExecution retrieves all rollback records for an execution, newest first.
func (r *rollbackRepository) ListByExecution(ctx context.Context, executionID string) ([]*domain.RollbackRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListRollbacks")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	prefix := path.Join(RollbackDir, executionID) + "/"
	resp, err := r.client.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list rollback records from etcd")
		return nil, fmt.Errorf("failed to list rollback records for execution %s from etcd: %w", executionID, err)
	}

	records := make([]*domain.RollbackRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record domain.RollbackRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal rollback record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}
