package domain

import "fmt"

// ChannelCapability describes what the engine may do against one channel.
// Entries are static configuration, read-only at runtime.
type ChannelCapability struct {
	Channel            Channel `json:"channel"`
	SupportsExecution  bool    `json:"supports_execution"`
	SupportsRollback   bool    `json:"supports_rollback"`
	FatigueLimitPer24h int     `json:"fatigue_limit_per_24h"`
}

// CapabilityRegistry is the static per-channel capability table. Preflight
// reads fatigue limits from it; execution and rollback consult the support
// flags before any adapter call is made.
type CapabilityRegistry struct {
	caps map[Channel]ChannelCapability
}

// NewCapabilityRegistry builds the registry with the default seed data.
func NewCapabilityRegistry() *CapabilityRegistry {
	seed := []ChannelCapability{
		{Channel: ChannelFacebook, SupportsExecution: true, SupportsRollback: true, FatigueLimitPer24h: 3},
		{Channel: ChannelInstagram, SupportsExecution: true, SupportsRollback: false, FatigueLimitPer24h: 5},
		{Channel: ChannelTikTok, SupportsExecution: true, SupportsRollback: false, FatigueLimitPer24h: 5},
		{Channel: ChannelLinkedIn, SupportsExecution: true, SupportsRollback: true, FatigueLimitPer24h: 2},
		{Channel: ChannelYouTube, SupportsExecution: true, SupportsRollback: true, FatigueLimitPer24h: 1},
		{Channel: ChannelGoogleBusiness, SupportsExecution: true, SupportsRollback: true, FatigueLimitPer24h: 2},
		{Channel: ChannelReddit, SupportsExecution: true, SupportsRollback: true, FatigueLimitPer24h: 3},
		{Channel: ChannelEmail, SupportsExecution: true, SupportsRollback: false, FatigueLimitPer24h: 2},
		{Channel: ChannelX, SupportsExecution: true, SupportsRollback: true, FatigueLimitPer24h: 10},
	}

	caps := make(map[Channel]ChannelCapability, len(seed))
	for _, c := range seed {
		caps[c.Channel] = c
	}
	return &CapabilityRegistry{caps: caps}
}

// Lookup returns the capability entry for a channel.
func (r *CapabilityRegistry) Lookup(ch Channel) (ChannelCapability, error) {
	entry, ok := r.caps[ch]
	if !ok {
		return ChannelCapability{}, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	return entry, nil
}

// All returns every capability entry, in registry order.
func (r *CapabilityRegistry) All() []ChannelCapability {
	out := make([]ChannelCapability, 0, len(r.caps))
	for _, ch := range Channels() {
		if entry, ok := r.caps[ch]; ok {
			out = append(out, entry)
		}
	}
	return out
}
