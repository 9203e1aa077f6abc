package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/healthsync/internal/providers"
)

func newTestProvider(serverURL string) *Provider {
	return New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     serverURL + "/oauth/token",
		APIBaseURL:   serverURL + "/api/v3",
	})
}

func TestProviderAuthCodeURLUsesCommaScopes(t *testing.T) {
	provider := New(Config{ClientID: "client-id"})

	parsed, err := url.Parse(provider.AuthCodeURL("state-token", "https://app.example.com/connect/strava/callback"))
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "read,activity:read_all", query.Get("scope"))
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "https://app.example.com/connect/strava/callback", query.Get("redirect_uri"))
}

func TestProviderExchangeUsesExpiresAt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		values, err := url.ParseQuery(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "client-secret", values.Get("client_secret"))
		assert.Equal(t, "auth-code", values.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"access_token":  "access",
			"refresh_token": "refresh",
			"expires_at":    1710000000,
			"expires_in":    21600,
			"athlete":       map[string]any{"id": 42},
		})
	}))
	defer server.Close()

	tokens, err := newTestProvider(server.URL).ExchangeCode(context.Background(), "auth-code", "https://app.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1710000000, 0).UTC(), tokens.ExpiresAt)
	assert.Equal(t, "refresh", tokens.RefreshToken)
	assert.Equal(t, "read,activity:read_all", tokens.Scope)
}

func TestProviderRefreshInvalidTokenIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"Bad Request","errors":[{"resource":"RefreshToken","field":"refresh_token","code":"invalid"}]}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrProviderAuth))

	var providerErr *providers.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "RefreshToken.refresh_token.invalid", providerErr.Code)
	assert.Equal(t, "Bad Request", providerErr.Description)
}

func TestProviderRefreshMissingExpiryIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"access","refresh_token":"refresh"}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Refresh(context.Background(), "refresh")
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrMalformedProviderResponse))
}

func TestProviderFetchActivitiesPaginates(t *testing.T) {
	dateRange, err := providers.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		time.UTC,
	)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/athlete/activities", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, fmt.Sprint(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC).Unix()), r.URL.Query().Get("before"))

		count := 0
		switch r.URL.Query().Get("page") {
		case "1":
			count = activityPageSize
		case "2":
			count = 3
		}
		activities := make([]map[string]any, 0, count)
		for index := 0; index < count; index++ {
			activities = append(activities, map[string]any{
				"id":         index + 1,
				"sport_type": "Run",
				"start_date": "2024-03-01T15:00:00Z",
				"timezone":   "(GMT-08:00) America/Los_Angeles",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activities)
	}))
	defer server.Close()

	activities, err := newTestProvider(server.URL).FetchActivities(context.Background(), "access", "user-1", dateRange)
	require.NoError(t, err)
	assert.Len(t, activities, activityPageSize+3)

	first, ok := activities[0].(Activity)
	require.True(t, ok)
	assert.Equal(t, "America/Los_Angeles", first.ZoneName())
	assert.Equal(t, "Run", first.Sport())
}

func TestProviderFetchActivitiesUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Authorization Error","errors":[{"resource":"Athlete","field":"access_token","code":"invalid"}]}`)
	}))
	defer server.Close()

	dateRange := providers.LastDays(time.Now(), 1, time.UTC)
	_, err := newTestProvider(server.URL).FetchActivities(context.Background(), "access", "user-1", dateRange)
	require.Error(t, err)

	var providerErr *providers.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusUnauthorized, providerErr.Status)
	assert.Equal(t, providers.KindAuth, providerErr.Kind)
}
