// Package providers defines the capability set every health data provider implements and the
// shared token, date-range, and error types the provider variants exchange with the rest of the system.
package providers

import (
	"context"
	"time"
)

// TokenSet is the validated result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// Endpoints names the endpoints a provider's sync pipeline can call.
// Primary is the single endpoint used as the freshness proxy for the whole provider.
type Endpoints struct {
	Primary    string
	Activities string
	Sleep      string
}

// NativeActivity is a provider-specific activity record awaiting normalization.
type NativeActivity interface {
	ProviderID() string
	NativeID() string
}

// NativeSleep is a provider-specific sleep record awaiting normalization.
type NativeSleep interface {
	ProviderID() string
	NativeID() string
}

// Protocol is implemented once per provider.
type Protocol interface {
	ID() string
	AuthCodeURL(state string, redirectURI string) string
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
	FetchActivities(ctx context.Context, accessToken string, userID string, dateRange DateRange) ([]NativeActivity, error)
	Endpoints() Endpoints
}

// SleepFetcher is implemented by providers that expose sleep data.
type SleepFetcher interface {
	FetchSleep(ctx context.Context, accessToken string, dateRange DateRange) ([]NativeSleep, error)
}

// ValidateTokenSet rejects incomplete token responses before they reach storage.
func ValidateTokenSet(provider string, operation string, tokens TokenSet, requireRefreshToken bool) error {
	if tokens.AccessToken == "" {
		return MalformedResponse(provider, operation, "access_token", nil)
	}
	if tokens.ExpiresAt.IsZero() {
		return MalformedResponse(provider, operation, "expires_in", nil)
	}
	if requireRefreshToken && tokens.RefreshToken == "" {
		return MalformedResponse(provider, operation, "refresh_token", nil)
	}
	return nil
}
