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

type auditRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewAuditRepository creates the append-only audit trail backed by etcd.
// Keys are structured as /publisher/audit/{jobID}/{entryID}; entries are
// never updated or deleted.
func NewAuditRepository(client *clientv3.Client, logger *slog.Logger) domain.AuditRepository {
	return &auditRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("publish-engine-etcd-audit"),
	}
}

// Append writes one audit entry.
func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.AppendAudit")
	defer span.End()

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal audit entry %s to JSON: %w", entry.ID, err)
	}

	key := path.Join(AuditDir, entry.JobID, entry.ID)
	span.SetAttributes(
		attribute.String("audit.event", string(entry.Event)),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(entryJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put audit entry to etcd")
		return fmt.Errorf("failed to append audit entry %s to etcd: %w", entry.ID, err)
	}
	return nil
}

// ListByJob retrieves the audit trail for a job in append order.
func (r *auditRepository) ListByJob(ctx context.Context, jobID string) ([]*domain.AuditEntry, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListAudit")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	prefix := path.Join(AuditDir, jobID) + "/"
	resp, err := r.client.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list audit entries from etcd")
		return nil, fmt.Errorf("failed to list audit entries for job %s from etcd: %w", jobID, err)
	}

	entries := make([]*domain.AuditEntry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var entry domain.AuditEntry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			r.logger.Warn("failed to unmarshal audit entry from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
