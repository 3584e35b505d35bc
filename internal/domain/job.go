package domain

import (
	"context"
	"fmt"
	"time"
)

// Channel identifies an external publishing destination.
type Channel string

const (
	ChannelFacebook       Channel = "facebook"
	ChannelInstagram      Channel = "instagram"
	ChannelTikTok         Channel = "tiktok"
	ChannelLinkedIn       Channel = "linkedin"
	ChannelYouTube        Channel = "youtube"
	ChannelGoogleBusiness Channel = "google_business"
	ChannelReddit         Channel = "reddit"
	ChannelEmail          Channel = "email"
	ChannelX              Channel = "x"
)

// Channels returns every channel known to the engine, in registry order.
func Channels() []Channel {
	return []Channel{
		ChannelFacebook,
		ChannelInstagram,
		ChannelTikTok,
		ChannelLinkedIn,
		ChannelYouTube,
		ChannelGoogleBusiness,
		ChannelReddit,
		ChannelEmail,
		ChannelX,
	}
}

// Job represents a unit of publishable work handed over by the upstream
// scheduler. It is immutable once created; the engine never mutates its content.
type Job struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	WorkspaceID string    `json:"workspace_id"`
	Channel     Channel   `json:"channel"`
	Content     string    `json:"content"`
	MediaRefs   []string  `json:"media_refs,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks if the job definition is valid.
func (j *Job) Validate() error {
	if j.ClientID == "" {
		return fmt.Errorf("job client id cannot be empty")
	}
	if j.WorkspaceID == "" {
		return fmt.Errorf("job workspace id cannot be empty")
	}
	if j.Content == "" {
		return fmt.Errorf("job content cannot be empty")
	}
	if j.ScheduledAt.IsZero() {
		return fmt.Errorf("job scheduled time cannot be zero")
	}
	known := false
	for _, ch := range Channels() {
		if j.Channel == ch {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("invalid channel: %s", j.Channel)
	}
	return nil
}

// JobRepository defines the interface for persisting and retrieving jobs.
type JobRepository interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
	// ListDue returns jobs whose scheduled time is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*Job, error)
}
