package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"publish-engine/internal/domain"
)

// restAdapter implements domain.ChannelAdapter against one channel's REST
// publishing API. All nine channels speak the same shape through their
// integration facades, so a single adapter type parameterized by channel and
// base URL covers them; the engine never sees a channel-specific type.
type restAdapter struct {
	channel domain.Channel
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewRESTAdapter creates an adapter for one channel. The HTTP client timeout
// bounds every publish/retract call; an expired call classifies as transient.
func NewRESTAdapter(channel domain.Channel, baseURL string, timeout time.Duration, logger *slog.Logger) domain.ChannelAdapter {
	return &restAdapter{
		channel: channel,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "channel-adapter", "channel", string(channel)),
	}
}

type publishRequest struct {
	ClientID    string    `json:"client_id"`
	WorkspaceID string    `json:"workspace_id"`
	Content     string    `json:"content"`
	MediaRefs   []string  `json:"media_refs,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type publishResponse struct {
	PostID string `json:"post_id"`
	URL    string `json:"url"`
}

// Publish sends the job's content to the channel API.
func (a *restAdapter) Publish(ctx context.Context, job *domain.Job) (*domain.PublishResult, error) {
	body, err := json.Marshal(publishRequest{
		ClientID:    job.ClientID,
		WorkspaceID: job.WorkspaceID,
		Content:     job.Content,
		MediaRefs:   job.MediaRefs,
		ScheduledAt: job.ScheduledAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/posts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := a.classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var out publishResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: undecodable publish response: %v", domain.ErrChannelRejected, err)
	}
	if out.PostID == "" {
		return nil, fmt.Errorf("%w: publish response missing post id", domain.ErrChannelRejected)
	}

	a.logger.Info("published to channel", "job_id", job.ID, "post_id", out.PostID)
	return &domain.PublishResult{
		ExternalPostID: out.PostID,
		ExternalURL:    out.URL,
	}, nil
}

// Retract deletes a previously published item from the channel.
func (a *restAdapter) Retract(ctx context.Context, externalPostID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/posts/"+externalPostID, nil)
	if err != nil {
		return fmt.Errorf("failed to create retract request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return a.classifyTransport(err)
	}
	defer resp.Body.Close()

	// An already-deleted post makes the retraction a no-op, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		a.logger.Warn("retract target already gone", "post_id", externalPostID)
		return nil
	}
	if err := a.classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	a.logger.Info("retracted from channel", "post_id", externalPostID)
	return nil
}

// classifyTransport maps a transport-level error. Timeouts and connection
// failures are transient.
func (a *restAdapter) classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s request timed out: %v", domain.ErrChannelUnavailable, a.channel, err)
	}
	return fmt.Errorf("%w: %s request failed: %v", domain.ErrChannelUnavailable, a.channel, err)
}

// classifyStatus maps an HTTP status to the engine's failure taxonomy:
// 5xx and 429 are transient, auth failures and other 4xx are permanent.
func (a *restAdapter) classifyStatus(code int) error {
	switch {
	case code >= 500 || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned status %d", domain.ErrChannelUnavailable, a.channel, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: invalid credentials for %s (status %d)", domain.ErrChannelRejected, a.channel, code)
	case code >= 400:
		return fmt.Errorf("%w: %s rejected the request (status %d)", domain.ErrChannelRejected, a.channel, code)
	}
	return nil
}
