package domain

import (
	"context"
	"time"
)

// AuditEvent names an entry kind in the append-only audit trail.
type AuditEvent string

const (
	AuditJobSubmitted     AuditEvent = "job_submitted"
	AuditAdmissionDenied  AuditEvent = "admission_denied"
	AuditForceOverride    AuditEvent = "force_override"
	AuditExecutionCreated AuditEvent = "execution_created"
	AuditStateTransition  AuditEvent = "state_transition"
	AuditRetryScheduled   AuditEvent = "retry_scheduled"
	AuditRetriesExhausted AuditEvent = "retries_exhausted"
	AuditRollbackRequest  AuditEvent = "rollback_requested"
	AuditRollbackOutcome  AuditEvent = "rollback_outcome"
)

// AuditEntry is one line of the append-only audit trail. Entries are never
// updated or deleted.
type AuditEntry struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	ExecutionID string     `json:"execution_id,omitempty"`
	Event       AuditEvent `json:"event"`
	Actor       string     `json:"actor,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	At          time.Time  `json:"at"`
}

// AuditRepository appends to and reads the audit trail.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByJob(ctx context.Context, jobID string) ([]*AuditEntry, error)
}
