package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"publish-engine/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// httpProvider implements domain.SignalProvider against the operational
// signal aggregation service. Callers fall back to conservative signals when
// Fetch fails; this provider only reports the failure.
type httpProvider struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHTTPProvider creates a signal provider reading from the given base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *slog.Logger) domain.SignalProvider {
	return &httpProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "signal-provider"),
		tracer:  otel.Tracer("publish-engine-signals"),
	}
}

// Fetch retrieves the current signal snapshot for a client workspace.
func (p *httpProvider) Fetch(ctx context.Context, clientID, workspaceID string) (domain.Signals, error) {
	ctx, span := p.tracer.Start(ctx, "signals.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("client.id", clientID),
		attribute.String("workspace.id", workspaceID),
	)

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("workspace_id", workspaceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/signals?"+q.Encode(), nil)
	if err != nil {
		return domain.Signals{}, fmt.Errorf("failed to create signals request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signals request failed")
		return domain.Signals{}, fmt.Errorf("failed to fetch signals for client %s: %w", clientID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("signal provider returned status %d for client %s", resp.StatusCode, clientID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "signals request failed")
		return domain.Signals{}, err
	}

	var signals domain.Signals
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256*1024)).Decode(&signals); err != nil {
		span.RecordError(err)
		return domain.Signals{}, fmt.Errorf("failed to decode signals for client %s: %w", clientID, err)
	}

	p.logger.Debug("fetched signals",
		"client_id", clientID,
		"confidence_score", signals.ConfidenceScore,
		"active_warnings", len(signals.ActiveWarnings),
	)
	return signals, nil
}
