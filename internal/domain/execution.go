package domain

import (
	"context"
	"fmt"
	"time"
)

// ExecutionStatus defines the state of a publish attempt.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusExecuting  ExecutionStatus = "executing"
	ExecutionStatusSuccess    ExecutionStatus = "success"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusRolledBack ExecutionStatus = "rolled_back"
)

// legalTransitions defines the only edges the execution state machine allows:
// pending -> executing -> {success | failed}; success -> rolled_back.
var legalTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:   {ExecutionStatusExecuting},
	ExecutionStatusExecuting: {ExecutionStatusSuccess, ExecutionStatusFailed},
	ExecutionStatusSuccess:   {ExecutionStatusRolledBack},
}

// ExecutionRecord is the outcome of attempting to publish one job. Retries
// update the same record; a fresh record is only created for a manual retry
// of a terminal failure.
type ExecutionRecord struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	PreflightID    string          `json:"preflight_id,omitempty"`
	Channel        Channel         `json:"channel"`
	ClientID       string          `json:"client_id"`
	Status         ExecutionStatus `json:"status"`
	ExternalPostID string          `json:"external_post_id,omitempty"`
	ExternalURL    string          `json:"external_url,omitempty"`
	RetryCount     int             `json:"retry_count"`
	NextAttemptAt  time.Time       `json:"next_attempt_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	ForcedBy       string          `json:"forced_by,omitempty"`
	ForceReason    string          `json:"force_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
}

// Forced reports whether this record was created via a force override.
func (r *ExecutionRecord) Forced() bool {
	return r.ForcedBy != "" && r.ForceReason != ""
}

// InFlight reports whether the record occupies the per-job single-flight slot.
func (r *ExecutionRecord) InFlight() bool {
	return r.Status == ExecutionStatusPending || r.Status == ExecutionStatusExecuting
}

// Terminal reports whether the record reached a final state.
func (r *ExecutionRecord) Terminal() bool {
	switch r.Status {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusRolledBack:
		return true
	}
	return false
}

// Transition moves the record to a new status, enforcing the state machine.
func (r *ExecutionRecord) Transition(to ExecutionStatus) error {
	for _, next := range legalTransitions[r.Status] {
		if next == to {
			r.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, r.Status, to)
}

// RetryDue reports whether a scheduled re-attempt is due at the given time.
func (r *ExecutionRecord) RetryDue(now time.Time) bool {
	return r.Status == ExecutionStatusExecuting &&
		!r.NextAttemptAt.IsZero() && !r.NextAttemptAt.After(now)
}

// ExecutionRepository persists and queries execution records.
type ExecutionRepository interface {
	Save(ctx context.Context, record *ExecutionRecord) error
	Get(ctx context.Context, id string) (*ExecutionRecord, error)
	ListByJob(ctx context.Context, jobID string) ([]*ExecutionRecord, error)
	// FindInFlight returns the pending/executing record for a job, or nil.
	FindInFlight(ctx context.Context, jobID string) (*ExecutionRecord, error)
	// ListDueRetries returns executing records whose next attempt is due.
	ListDueRetries(ctx context.Context, now time.Time) ([]*ExecutionRecord, error)
	// CountRecentSuccesses counts successful executions for a client+channel
	// since the given time. Fatigue counts are always derived from this
	// history, never kept as a separate live counter.
	CountRecentSuccesses(ctx context.Context, clientID string, ch Channel, since time.Time) (int, error)
}
