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

type jobRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewJobRepository creates a repository for jobs backed by etcd.
func NewJobRepository(client *clientv3.Client, logger *slog.Logger) domain.JobRepository {
	return &jobRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("publish-engine-etcd-jobs"),
	}
}

// Save persists the job to etcd.
func (r *jobRepository) Save(ctx context.Context, job *domain.Job) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveJob")
	defer span.End()

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job to JSON: %w", err)
	}

	key := path.Join(JobDir, job.ID)
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(jobJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put job to etcd")
		return fmt.Errorf("failed to save job %s to etcd: %w", job.ID, err)
	}
	return nil
}

// Get retrieves one job from etcd.
func (r *jobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	key := path.Join(JobDir, id)
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from etcd")
		return nil, fmt.Errorf("failed to get job %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrJobNotFound
	}

	var job domain.Job
	if err := json.Unmarshal(resp.Kvs[0].Value, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s from JSON: %w", id, err)
	}
	return &job, nil
}

// List retrieves all jobs from etcd.
func (r *jobRepository) List(ctx context.Context) ([]*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListJobs")
	defer span.End()

	resp, err := r.client.Get(ctx, JobDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list jobs from etcd")
		return nil, fmt.Errorf("failed to list jobs from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	jobs := make([]*domain.Job, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var job domain.Job
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			r.logger.Warn("failed to unmarshal job from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// ListDue returns jobs whose scheduled time is at or before now.
func (r *jobRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	due := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}
