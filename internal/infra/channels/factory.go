package channels

import (
	"fmt"
	"log/slog"
	"time"

	"publish-engine/internal/domain"
)

// BuildAdapters creates one REST adapter per known channel from the configured
// base URLs. Every channel in the capability registry must have a URL; a
// missing entry is a startup error rather than a runtime surprise.
func BuildAdapters(baseURLs map[string]string, timeout time.Duration, logger *slog.Logger) (map[domain.Channel]domain.ChannelAdapter, error) {
	adapters := make(map[domain.Channel]domain.ChannelAdapter, len(domain.Channels()))
	for _, ch := range domain.Channels() {
		baseURL, ok := baseURLs[string(ch)]
		if !ok || baseURL == "" {
			return nil, fmt.Errorf("no API base URL configured for channel %s", ch)
		}
		adapters[ch] = NewRESTAdapter(ch, baseURL, timeout, logger)
	}
	return adapters, nil
}
