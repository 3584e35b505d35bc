package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"publish-engine/internal/domain"
	"publish-engine/internal/metrics"
	"publish-engine/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PublishHandler exposes the operator surface for jobs, executions and
// rollbacks over HTTP.
type PublishHandler struct {
	service  *usecase.PublishService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewPublishHandler creates a new PublishHandler and initializes the validator.
func NewPublishHandler(service *usecase.PublishService, logger *slog.Logger) *PublishHandler {
	return &PublishHandler{
		service:  service,
		logger:   logger.With("component", "publish-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("publish-engine-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the publish routes on the http.ServeMux.
func (h *PublishHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/jobs", h.instrument("/jobs", http.HandlerFunc(h.handleJobs)))
	mux.Handle("/jobs/", h.instrument("/jobs/{id}", http.HandlerFunc(h.handleJobs)))
	mux.Handle("/executions/", h.instrument("/executions/{id}", http.HandlerFunc(h.handleExecutions)))
}

func (h *PublishHandler) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

// handleJobs dispatches the /jobs path space:
//
//	POST /jobs                   submit a job
//	GET  /jobs                   list jobs (optionally ?client_id=)
//	GET  /jobs/{id}              fetch one job
//	POST /jobs/{id}/preflight    evaluate admission without executing
//	POST /jobs/{id}/execute      admit and execute (optional force override)
//	GET  /jobs/{id}/executions   execution history
//	GET  /jobs/{id}/preflights   preflight history
//	GET  /jobs/{id}/audit        audit trail
func (h *PublishHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 1 || pathParts[0] != "jobs" {
		http.NotFound(w, r)
		return
	}

	var jobID, action string
	if len(pathParts) > 1 {
		jobID = pathParts[1]
	}
	if len(pathParts) > 2 {
		action = pathParts[2]
	}

	switch r.Method {
	case http.MethodGet:
		switch {
		case jobID == "" && action == "":
			h.handleListJobs(w, r)
		case jobID != "" && action == "":
			h.handleGetJob(w, r, jobID)
		case jobID != "" && action == "executions":
			h.handleListExecutions(w, r, jobID)
		case jobID != "" && action == "preflights":
			h.handleListPreflights(w, r, jobID)
		case jobID != "" && action == "audit":
			h.handleListAudit(w, r, jobID)
		default:
			http.NotFound(w, r)
		}
	case http.MethodPost:
		switch {
		case jobID == "" && action == "":
			h.handleSubmitJob(w, r)
		case jobID != "" && action == "preflight":
			h.handlePreflight(w, r, jobID)
		case jobID != "" && action == "execute":
			h.handleExecute(w, r, jobID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleExecutions dispatches the /executions path space:
//
//	GET  /executions/{id}           fetch one execution record
//	POST /executions/{id}/retry     start a fresh execution for a failed one
//	POST /executions/{id}/rollback  request a compensating retract
//	GET  /executions/{id}/rollbacks rollback history
func (h *PublishHandler) handleExecutions(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 2 || pathParts[0] != "executions" {
		http.NotFound(w, r)
		return
	}

	executionID := pathParts[1]
	var action string
	if len(pathParts) > 2 {
		action = pathParts[2]
	}

	switch r.Method {
	case http.MethodGet:
		switch action {
		case "":
			h.handleGetExecution(w, r, executionID)
		case "rollbacks":
			h.handleListRollbacks(w, r, executionID)
		default:
			http.NotFound(w, r)
		}
	case http.MethodPost:
		switch action {
		case "retry":
			h.handleRetry(w, r, executionID)
		case "rollback":
			h.handleRollback(w, r, executionID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PublishHandler) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SubmitJob")
	defer span.End()

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.validateRequest(w, span, req) {
		return
	}

	job := req.ToDomainJob()
	span.SetAttributes(attribute.String("job.channel", string(job.Channel)))

	if err := h.service.SubmitJob(ctx, job); err != nil {
		h.writeError(w, span, "error submitting job", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, job)
}

func (h *PublishHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListJobs")
	defer span.End()

	jobs, err := h.service.ListJobs(ctx, r.URL.Query().Get("client_id"))
	if err != nil {
		h.writeError(w, span, "error listing jobs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *PublishHandler) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := h.service.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, span, "error getting job", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *PublishHandler) handlePreflight(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Preflight")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	result, err := h.service.Preflight(ctx, jobID)
	if err != nil {
		h.writeError(w, span, "error evaluating preflight", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *PublishHandler) handleExecute(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	req, ok := h.decodeExecuteRequest(w, r, span)
	if !ok {
		return
	}

	rec, err := h.service.Execute(ctx, jobID, req.ToForceOverride())
	if err != nil && rec == nil {
		h.writeError(w, span, "error executing job", err)
		return
	}
	// A record with an error means the attempt ran and failed; the record
	// itself carries the outcome the operator needs.
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *PublishHandler) handleListExecutions(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListExecutions")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	records, err := h.service.ListExecutionsByJob(ctx, jobID)
	if err != nil {
		h.writeError(w, span, "error listing executions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *PublishHandler) handleListPreflights(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListPreflights")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	results, err := h.service.ListPreflightsByJob(ctx, jobID)
	if err != nil {
		h.writeError(w, span, "error listing preflights", err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *PublishHandler) handleListAudit(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListAudit")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	entries, err := h.service.ListAuditByJob(ctx, jobID)
	if err != nil {
		h.writeError(w, span, "error listing audit trail", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *PublishHandler) handleGetExecution(w http.ResponseWriter, r *http.Request, executionID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	rec, err := h.service.GetExecution(ctx, executionID)
	if err != nil {
		h.writeError(w, span, "error getting execution", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *PublishHandler) handleRetry(w http.ResponseWriter, r *http.Request, executionID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.RetryExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	req, ok := h.decodeExecuteRequest(w, r, span)
	if !ok {
		return
	}

	rec, err := h.service.RetryExecution(ctx, executionID, req.ToForceOverride())
	if err != nil && rec == nil {
		h.writeError(w, span, "error retrying execution", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *PublishHandler) handleRollback(w http.ResponseWriter, r *http.Request, executionID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Rollback")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.validateRequest(w, span, req) {
		return
	}

	rb, err := h.service.RequestRollback(ctx, executionID, req.RequestedBy, req.Reason)
	if err != nil && rb == nil {
		h.writeError(w, span, "error requesting rollback", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rb)
}

func (h *PublishHandler) handleListRollbacks(w http.ResponseWriter, r *http.Request, executionID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListRollbacks")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	records, err := h.service.ListRollbacksByExecution(ctx, executionID)
	if err != nil {
		h.writeError(w, span, "error listing rollbacks", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// decodeExecuteRequest reads the optional execute/retry body. An empty body
// means no force override.
func (h *PublishHandler) decodeExecuteRequest(w http.ResponseWriter, r *http.Request, span trace.Span) (*ExecuteRequest, bool) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if req.Force != nil && !h.validateRequest(w, span, *req.Force) {
		return nil, false
	}
	return &req, true
}

// validateRequest runs struct validation and writes the 400 response itself.
func (h *PublishHandler) validateRequest(w http.ResponseWriter, span trace.Span, req any) bool {
	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors,
				"Field '"+err.Field()+"' failed on the '"+err.Tag()+"' tag.",
			)
		}
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": validationErrors,
		})
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP status codes.
func (h *PublishHandler) writeError(w http.ResponseWriter, span trace.Span, msg string, err error) {
	span.RecordError(err)
	h.logger.Warn(msg, "error", err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrExecutionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAdmissionDenied),
		errors.Is(err, domain.ErrInvalidExecutionState),
		errors.Is(err, domain.ErrInvalidStateTransition):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		span.SetStatus(codes.Error, msg)
		h.writeJSON(w, status, map[string]string{"error": "Internal server error"})
		return
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *PublishHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response body", "error", err)
	}
}
