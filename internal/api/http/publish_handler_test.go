package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/domain/domaintest"
	"publish-engine/internal/execution"
	"publish-engine/internal/preflight"
	"publish-engine/internal/rollback"
	"publish-engine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server   *httptest.Server
	service  *usecase.PublishService
	adapter  *domaintest.StubAdapter
	provider *domaintest.StubSignalProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()
	registry := domain.NewCapabilityRegistry()
	jobs := domaintest.NewJobRepo()
	execs := domaintest.NewExecRepo()
	prefs := domaintest.NewPreflightRepo()
	rbs := domaintest.NewRollbackRepo()
	audit := domaintest.NewAuditRepo()
	adapter := &domaintest.StubAdapter{}
	provider := &domaintest.StubSignalProvider{Signals: domaintest.PassingSignals()}

	adapters := make(map[domain.Channel]domain.ChannelAdapter)
	for _, ch := range domain.Channels() {
		adapters[ch] = adapter
	}

	clock := domaintest.FixedClock(testNow)
	service := usecase.NewPublishService(
		jobs, prefs, execs, rbs, audit,
		provider,
		preflight.NewEngine(registry, logger),
		execution.NewEngine(registry, adapters, execs, audit, logger).WithClock(clock),
		rollback.NewEngine(registry, adapters, execs, rbs, audit, logger).WithClock(clock),
		logger,
	).WithClock(clock)

	mux := http.NewServeMux()
	NewPublishHandler(service, logger).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{server: server, service: service, adapter: adapter, provider: provider}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func submitRequest() SubmitJobRequest {
	return SubmitJobRequest{
		ClientID:    "client-1",
		WorkspaceID: "ws-1",
		Channel:     "facebook",
		Content:     "launch post",
		ScheduledAt: testNow.Add(-time.Minute),
	}
}

func TestSubmitJobEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/jobs", submitRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	job := decode[domain.Job](t, resp)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.ChannelFacebook, job.Channel)
}

func TestSubmitJobValidation(t *testing.T) {
	f := newFixture(t)

	req := submitRequest()
	req.Channel = "telegram"
	resp := f.post(t, "/jobs", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req = submitRequest()
	req.Content = ""
	resp = f.post(t, "/jobs", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/jobs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestPreflightEndpoint(t *testing.T) {
	f := newFixture(t)
	job := decode[domain.Job](t, f.post(t, "/jobs", submitRequest()))

	resp := f.post(t, "/jobs/"+job.ID+"/preflight", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[domain.PreflightResult](t, resp)
	assert.True(t, result.OverallPassed)
	assert.Len(t, result.Checks, 7)
}

func TestExecuteEndpoint(t *testing.T) {
	f := newFixture(t)
	job := decode[domain.Job](t, f.post(t, "/jobs", submitRequest()))

	resp := f.post(t, "/jobs/"+job.ID+"/execute", ExecuteRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec := decode[domain.ExecutionRecord](t, resp)
	assert.Equal(t, domain.ExecutionStatusSuccess, rec.Status)
	assert.NotEmpty(t, rec.ExternalPostID)
}

func TestExecuteDeniedReturnsConflict(t *testing.T) {
	f := newFixture(t)
	req := submitRequest()
	req.Content = "guaranteed results for everyone"
	job := decode[domain.Job](t, f.post(t, "/jobs", req))

	resp := f.post(t, "/jobs/"+job.ID+"/execute", ExecuteRequest{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestExecuteForceRequiresCompletePair(t *testing.T) {
	f := newFixture(t)
	req := submitRequest()
	req.Content = "guaranteed results for everyone"
	job := decode[domain.Job](t, f.post(t, "/jobs", req))

	resp := f.post(t, "/jobs/"+job.ID+"/execute",
		map[string]any{"force": map[string]string{"by": "ops"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "a partial force pair fails validation")
	resp.Body.Close()

	resp = f.post(t, "/jobs/"+job.ID+"/execute",
		ExecuteRequest{Force: &ForceOverrideRequest{By: "ops", Reason: "incident comms"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decode[domain.ExecutionRecord](t, resp)
	assert.True(t, rec.Forced())
}

func TestRollbackEndpoint(t *testing.T) {
	f := newFixture(t)
	job := decode[domain.Job](t, f.post(t, "/jobs", submitRequest()))
	rec := decode[domain.ExecutionRecord](t, f.post(t, "/jobs/"+job.ID+"/execute", ExecuteRequest{}))

	resp := f.post(t, "/executions/"+rec.ID+"/rollback",
		RollbackRequest{RequestedBy: "ops@example.com", Reason: "wrong campaign"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rb := decode[domain.RollbackRecord](t, resp)
	assert.Equal(t, domain.RollbackStatusSuccess, rb.Status)

	// A second rollback of the same execution conflicts.
	resp = f.post(t, "/executions/"+rec.ID+"/rollback",
		RollbackRequest{RequestedBy: "ops@example.com", Reason: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRollbackValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/executions/exec-1/rollback", RollbackRequest{RequestedBy: "ops"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRetryEndpointRequiresFailedExecution(t *testing.T) {
	f := newFixture(t)
	job := decode[domain.Job](t, f.post(t, "/jobs", submitRequest()))
	rec := decode[domain.ExecutionRecord](t, f.post(t, "/jobs/"+job.ID+"/execute", ExecuteRequest{}))

	resp := f.post(t, "/executions/"+rec.ID+"/retry", ExecuteRequest{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t)
	job := decode[domain.Job](t, f.post(t, "/jobs", submitRequest()))
	rec := decode[domain.ExecutionRecord](t, f.post(t, "/jobs/"+job.ID+"/execute", ExecuteRequest{}))

	execs := decode[[]domain.ExecutionRecord](t, f.get(t, "/jobs/"+job.ID+"/executions"))
	require.Len(t, execs, 1)
	assert.Equal(t, rec.ID, execs[0].ID)

	prefs := decode[[]domain.PreflightResult](t, f.get(t, "/jobs/"+job.ID+"/preflights"))
	assert.Len(t, prefs, 1)

	audit := decode[[]domain.AuditEntry](t, f.get(t, "/jobs/"+job.ID+"/audit"))
	assert.NotEmpty(t, audit)

	single := decode[domain.ExecutionRecord](t, f.get(t, "/executions/"+rec.ID))
	assert.Equal(t, rec.ID, single.ID)
}

func TestListJobsFilter(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/jobs", submitRequest()).Body.Close()

	other := submitRequest()
	other.ClientID = "client-2"
	f.post(t, "/jobs", other).Body.Close()

	all := decode[[]domain.Job](t, f.get(t, "/jobs"))
	assert.Len(t, all, 2)

	mine := decode[[]domain.Job](t, f.get(t, "/jobs?client_id=client-2"))
	require.Len(t, mine, 1)
	assert.Equal(t, "client-2", mine[0].ClientID)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, f.server.URL+"/jobs/some-id", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestExecuteTransientFailureReturnsRecord(t *testing.T) {
	f := newFixture(t)
	f.adapter.PublishErrs = []error{fmt.Errorf("%w: status 503", domain.ErrChannelUnavailable)}
	job := decode[domain.Job](t, f.post(t, "/jobs", submitRequest()))

	resp := f.post(t, "/jobs/"+job.ID+"/execute", ExecuteRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec := decode[domain.ExecutionRecord](t, resp)
	assert.Equal(t, domain.ExecutionStatusExecuting, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.False(t, rec.NextAttemptAt.IsZero())
}
