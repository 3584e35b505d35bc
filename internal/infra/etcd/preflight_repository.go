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

type preflightRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewPreflightRepository creates a repository for preflight results backed by
// etcd. Keys are structured as /publisher/preflights/{jobID}/{resultID}.
func NewPreflightRepository(client *clientv3.Client, logger *slog.Logger) domain.PreflightRepository {
	return &preflightRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("publish-engine-etcd-preflights"),
	}
}

// Save persists one preflight result.
func (r *preflightRepository) Save(ctx context.Context, result *domain.PreflightResult) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SavePreflight")
	defer span.End()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal preflight result %s to JSON: %w", result.ID, err)
	}

	key := path.Join(PreflightDir, result.JobID, result.ID)
	span.SetAttributes(
		attribute.String("preflight.id", result.ID),
		attribute.String("job.id", result.JobID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(resultJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put preflight result to etcd")
		return fmt.Errorf("failed to save preflight result %s to etcd: %w", result.ID, err)
	}
	return nil
}

// ListByJob retrieves all preflight results for a job, newest first.
func (r *preflightRepository) ListByJob(ctx context.Context, jobID string) ([]*domain.PreflightResult, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListPreflights")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	prefix := path.Join(PreflightDir, jobID) + "/"
	resp, err := r.client.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list preflight results from etcd")
		return nil, fmt.Errorf("failed to list preflight results for job %s from etcd: %w", jobID, err)
	}

	results := make([]*domain.PreflightResult, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var result domain.PreflightResult
		if err := json.Unmarshal(kv.Value, &result); err != nil {
			r.logger.Warn("failed to unmarshal preflight result from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		results = append(results, &result)
	}
	return results, nil
}
