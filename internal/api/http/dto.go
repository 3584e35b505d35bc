package http

import (
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/execution"
)

// SubmitJobRequest is the Data Transfer Object for submitting a publish job.
type SubmitJobRequest struct {
	ClientID    string    `json:"client_id" validate:"required,min=1,max=128"`
	WorkspaceID string    `json:"workspace_id" validate:"required,min=1,max=128"`
	Channel     string    `json:"channel" validate:"required,oneof=facebook instagram tiktok linkedin youtube google_business reddit email x"`
	Content     string    `json:"content" validate:"required,min=1,max=10000"`
	MediaRefs   []string  `json:"media_refs,omitempty" validate:"omitempty,dive,min=1"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// ToDomainJob converts a SubmitJobRequest DTO to a domain.Job object.
func (r *SubmitJobRequest) ToDomainJob() *domain.Job {
	return &domain.Job{
		ClientID:    r.ClientID,
		WorkspaceID: r.WorkspaceID,
		Channel:     domain.Channel(r.Channel),
		Content:     r.Content,
		MediaRefs:   r.MediaRefs,
		ScheduledAt: r.ScheduledAt,
	}
}

// ForceOverrideRequest carries an explicit admission bypass. Both fields are
// required together; validation rejects a partial pair.
type ForceOverrideRequest struct {
	By     string `json:"by" validate:"required,min=1,max=128"`
	Reason string `json:"reason" validate:"required,min=1,max=1000"`
}

// ExecuteRequest is the DTO for starting (or force-starting) an execution.
type ExecuteRequest struct {
	Force *ForceOverrideRequest `json:"force,omitempty" validate:"omitempty"`
}

// ToForceOverride converts the optional force block to the engine's type.
func (r *ExecuteRequest) ToForceOverride() *execution.ForceOverride {
	if r.Force == nil {
		return nil
	}
	return &execution.ForceOverride{By: r.Force.By, Reason: r.Force.Reason}
}

// RollbackRequest is the DTO for requesting a compensating retract.
type RollbackRequest struct {
	RequestedBy string `json:"requested_by" validate:"required,min=1,max=128"`
	Reason      string `json:"reason" validate:"required,min=1,max=1000"`
}
