// Package domaintest provides in-memory fakes for the engine's repository and
// collaborator interfaces. They are deliberately unsynchronized beyond a
// single mutex; tests exercise behavior, not storage concurrency.
package domaintest

import (
	"context"
	"sync"
	"time"

	"publish-engine/internal/domain"
)

// JobRepo is an in-memory domain.JobRepository.
type JobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *JobRepo) Save(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepo) Get(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *JobRepo) List(_ context.Context) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (r *JobRepo) ListDue(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	jobs, _ := r.List(ctx)
	due := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

// PreflightRepo is an in-memory domain.PreflightRepository.
type PreflightRepo struct {
	mu      sync.Mutex
	results []*domain.PreflightResult
}

func NewPreflightRepo() *PreflightRepo {
	return &PreflightRepo{}
}

func (r *PreflightRepo) Save(_ context.Context, result *domain.PreflightResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *result
	r.results = append(r.results, &cp)
	return nil
}

func (r *PreflightRepo) ListByJob(_ context.Context, jobID string) ([]*domain.PreflightResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.PreflightResult, 0)
	for _, res := range r.results {
		if res.JobID == jobID {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ExecRepo is an in-memory domain.ExecutionRepository.
type ExecRepo struct {
	mu      sync.Mutex
	records map[string]*domain.ExecutionRecord
}

func NewExecRepo() *ExecRepo {
	return &ExecRepo{records: make(map[string]*domain.ExecutionRecord)}
}

func (r *ExecRepo) Save(_ context.Context, record *domain.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.ID] = &cp
	return nil
}

func (r *ExecRepo) Get(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *ExecRepo) ListByJob(_ context.Context, jobID string) ([]*domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ExecutionRecord, 0)
	for _, rec := range r.records {
		if rec.JobID == jobID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ExecRepo) FindInFlight(_ context.Context, jobID string) (*domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.JobID == jobID && rec.InFlight() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ExecRepo) ListDueRetries(_ context.Context, now time.Time) ([]*domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ExecutionRecord, 0)
	for _, rec := range r.records {
		if rec.RetryDue(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ExecRepo) CountRecentSuccesses(_ context.Context, clientID string, ch domain.Channel, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.ClientID != clientID || rec.Channel != ch {
			continue
		}
		if rec.Status != domain.ExecutionStatusSuccess && rec.Status != domain.ExecutionStatusRolledBack {
			continue
		}
		if rec.CompletedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// RollbackRepo is an in-memory domain.RollbackRepository.
type RollbackRepo struct {
	mu      sync.Mutex
	records []*domain.RollbackRecord
}

func NewRollbackRepo() *RollbackRepo {
	return &RollbackRepo{}
}

func (r *RollbackRepo) Save(_ context.Context, record *domain.RollbackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	for i, existing := range r.records {
		if existing.ID == record.ID {
			r.records[i] = &cp
			return nil
		}
	}
	r.records = append(r.records, &cp)
	return nil
}

func (r *RollbackRepo) ListByExecution(_ context.Context, executionID string) ([]*domain.RollbackRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.RollbackRecord, 0)
	for _, rec := range r.records {
		if rec.ExecutionID == executionID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AuditRepo is an in-memory domain.AuditRepository.
type AuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Append(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *AuditRepo) ListByJob(_ context.Context, jobID string) ([]*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditEntry, 0)
	for _, e := range r.entries {
		if e.JobID == jobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Events returns every recorded event kind for a job, in append order.
func (r *AuditRepo) Events(jobID string) []domain.AuditEvent {
	entries, _ := r.ListByJob(context.Background(), jobID)
	out := make([]domain.AuditEvent, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

// StubAdapter is a scripted domain.ChannelAdapter. Each Publish call consumes
// the next error from PublishErrs (nil past the end means success); Retract
// consumes RetractErrs the same way.
type StubAdapter struct {
	mu sync.Mutex

	PublishErrs []error
	RetractErrs []error
	Result      domain.PublishResult

	PublishCalls int
	RetractCalls int
	Retracted    []string
}

func (a *StubAdapter) Publish(_ context.Context, _ *domain.Job) (*domain.PublishResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.PublishCalls
	a.PublishCalls++
	if idx < len(a.PublishErrs) && a.PublishErrs[idx] != nil {
		return nil, a.PublishErrs[idx]
	}
	res := a.Result
	if res.ExternalPostID == "" {
		res.ExternalPostID = "ext-post-1"
		res.ExternalURL = "https://channel.example/ext-post-1"
	}
	return &res, nil
}

func (a *StubAdapter) Retract(_ context.Context, externalPostID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.RetractCalls
	a.RetractCalls++
	a.Retracted = append(a.Retracted, externalPostID)
	if idx < len(a.RetractErrs) && a.RetractErrs[idx] != nil {
		return a.RetractErrs[idx]
	}
	return nil
}

// StubSignalProvider is a scripted domain.SignalProvider.
type StubSignalProvider struct {
	Signals domain.Signals
	Err     error
	Calls   int
}

func (p *StubSignalProvider) Fetch(_ context.Context, _, _ string) (domain.Signals, error) {
	p.Calls++
	if p.Err != nil {
		return domain.Signals{}, p.Err
	}
	return p.Signals, nil
}

// StubClaimer is a domain.Claimer whose claims always succeed unless the job
// is listed in Held.
type StubClaimer struct {
	mu       sync.Mutex
	Held     map[string]bool
	Claims   []string
	Releases []string
}

func NewStubClaimer() *StubClaimer {
	return &StubClaimer{Held: make(map[string]bool)}
}

func (c *StubClaimer) Claim(_ context.Context, jobID string) (domain.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Held[jobID] {
		return nil, domain.ErrClaimNotAcquired
	}
	c.Claims = append(c.Claims, jobID)
	return &stubClaim{claimer: c, jobID: jobID}, nil
}

type stubClaim struct {
	claimer *StubClaimer
	jobID   string
}

func (c *stubClaim) Release(_ context.Context) error {
	c.claimer.mu.Lock()
	defer c.claimer.mu.Unlock()
	c.claimer.Releases = append(c.claimer.Releases, c.jobID)
	return nil
}

// FixedClock returns a clock function pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// PassingSignals returns signal values that clear every admission check for a
// job with no recent execution history.
func PassingSignals() domain.Signals {
	return domain.Signals{
		ConfidenceScore:       80,
		ScalingFrozen:         false,
		CapacityUtilization:   40,
		RecentExecutionCounts: map[domain.Channel]int{},
	}
}
