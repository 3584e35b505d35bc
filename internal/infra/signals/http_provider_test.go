package signals

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"publish-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSuccess(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"client_id":    r.URL.Query().Get("client_id"),
			"workspace_id": r.URL.Query().Get("workspace_id"),
		}
		json.NewEncoder(w).Encode(domain.Signals{
			ActiveWarnings:      []domain.ActiveWarning{{Severity: domain.SeverityWarning, Message: "elevated error rate"}},
			ConfidenceScore:     72,
			CapacityUtilization: 40,
			BlockedChannels:     []domain.Channel{domain.ChannelTikTok},
		})
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, time.Second, slog.Default())
	signals, err := provider.Fetch(context.Background(), "client-1", "ws-1")
	require.NoError(t, err)

	assert.Equal(t, "client-1", gotQuery["client_id"])
	assert.Equal(t, "ws-1", gotQuery["workspace_id"])
	assert.Equal(t, 72, signals.ConfidenceScore)
	assert.Equal(t, 40, signals.CapacityUtilization)
	require.Len(t, signals.ActiveWarnings, 1)
	assert.Equal(t, "elevated error rate", signals.ActiveWarnings[0].Message)
	assert.True(t, signals.ChannelBlocked(domain.ChannelTikTok))
	assert.False(t, signals.HasCriticalWarning())
}

func TestFetchNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, time.Second, slog.Default())
	_, err := provider.Fetch(context.Background(), "client-1", "ws-1")
	require.Error(t, err)
}

func TestFetchConnectionFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	provider := NewHTTPProvider(srv.URL, time.Second, slog.Default())
	_, err := provider.Fetch(context.Background(), "client-1", "ws-1")
	require.Error(t, err)
}

func TestFetchUndecodableBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, time.Second, slog.Default())
	_, err := provider.Fetch(context.Background(), "client-1", "ws-1")
	require.Error(t, err)
}
