package domain

import (
	"context"
	"time"
)

// RollbackStatus defines the state of a compensating-action request.
type RollbackStatus string

const (
	RollbackStatusPending RollbackStatus = "pending"
	RollbackStatusSuccess RollbackStatus = "success"
	// RollbackStatusUnsupported is a normal, expected outcome for channels
	// that do not permit programmatic retraction. Not an error.
	RollbackStatusUnsupported RollbackStatus = "unsupported"
	RollbackStatusFailed      RollbackStatus = "failed"
)

// RollbackRecord is a request to compensate a successful execution by
// retracting the published item.
type RollbackRecord struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	JobID       string         `json:"job_id"`
	Channel     Channel        `json:"channel"`
	RequestedBy string         `json:"requested_by"`
	Reason      string         `json:"reason"`
	Status      RollbackStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// RollbackRepository persists rollback records.
type RollbackRepository interface {
	Save(ctx context.Context, record *RollbackRecord) error
	ListByExecution(ctx context.Context, executionID string) ([]*RollbackRecord, error)
}
