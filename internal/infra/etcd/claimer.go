package etcd

import (
	"context"
	"fmt"
	"time"

	"publish-engine/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// ClaimSessionTTL bounds how long a crashed dispatcher can hold a job claim
// before the lease expires and the job becomes claimable again.
const ClaimSessionTTL = 30 // seconds

// etcdClaim implements domain.Claim on top of an etcd mutex.
type etcdClaim struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	jobID   string
}

// Release releases the claim and closes the session, revoking the lease.
func (c *etcdClaim) Release(ctx context.Context) error {
	defer func() {
		if c.session != nil {
			_ = c.session.Close()
		}
	}()

	if err := c.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to release claim on job %s: %w", c.jobID, err)
	}
	return nil
}

// etcdClaimer implements domain.Claimer with one etcd session per attempt.
// If the session's lease expires the claim is released automatically, so a
// crashed dispatcher never holds a job forever.
type etcdClaimer struct {
	client *clientv3.Client
}

// NewClaimer creates a claimer backed by etcd mutexes under ClaimDir.
func NewClaimer(client *clientv3.Client) domain.Claimer {
	return &etcdClaimer{client: client}
}

// Claim makes a non-blocking attempt to acquire the single-flight claim for
// a job. A claim already held elsewhere yields domain.ErrClaimNotAcquired.
func (c *etcdClaimer) Claim(ctx context.Context, jobID string) (domain.Claim, error) {
	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(ClaimSessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for job %s claim: %w", jobID, err)
	}

	mutex := concurrency.NewMutex(session, ClaimDir+jobID)

	tryCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	if err := mutex.TryLock(tryCtx); err != nil {
		_ = session.Close()
		if err == context.DeadlineExceeded || err == concurrency.ErrLocked {
			return nil, domain.ErrClaimNotAcquired
		}
		return nil, fmt.Errorf("failed to try acquiring claim on job %s: %w", jobID, err)
	}

	return &etcdClaim{
		mutex:   mutex,
		session: session,
		jobID:   jobID,
	}, nil
}
