package domain

import (
	"context"
	"errors"
)

// ErrClaimNotAcquired is returned when a job's single-flight claim is already
// held by another dispatcher. The job is simply skipped for this cycle.
var ErrClaimNotAcquired = errors.New("claim not acquired")

// Claim represents an acquired single-flight claim on one job.
type Claim interface {
	// Release releases the claim.
	Release(ctx context.Context) error
}

// Claimer acquires the per-job single-flight claim. Claim must be a
// non-blocking attempt: if the claim is already held it returns
// ErrClaimNotAcquired rather than waiting.
type Claimer interface {
	Claim(ctx context.Context, jobID string) (Claim, error)
}
