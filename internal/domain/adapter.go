package domain

import "context"

// PublishResult carries the external references returned by a channel.
type PublishResult struct {
	ExternalPostID string `json:"external_post_id"`
	ExternalURL    string `json:"external_url"`
}

// ChannelAdapter is the uniform contract every channel integration exposes.
// Publish and Retract are the only operations in the engine that perform
// network I/O; implementations must bound them with a timeout and classify
// failures as ErrChannelUnavailable (transient) or ErrChannelRejected
// (permanent). Engine code never branches on a channel name; it only does a
// registry lookup and an adapter dispatch.
type ChannelAdapter interface {
	Publish(ctx context.Context, job *Job) (*PublishResult, error)
	Retract(ctx context.Context, externalPostID string) error
}
