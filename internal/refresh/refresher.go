// Package refresh hands out valid provider access tokens, refreshing expiring credentials
// at most once per (user, provider) no matter how many callers ask concurrently.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/store"
)

const (
	// DefaultBuffer is how long before expiry a credential is refreshed.
	DefaultBuffer = 5 * time.Minute
	// DefaultRefreshTimeout bounds one provider refresh call.
	DefaultRefreshTimeout = 20 * time.Second
)

// CredentialState is the refresh lifecycle position of a stored credential.
type CredentialState string

const (
	StateValid        CredentialState = "valid"
	StateExpiringSoon CredentialState = "expiring_soon"
	StateInvalid      CredentialState = "invalid"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// ProtocolLookup resolves provider ids to protocols.
type ProtocolLookup interface {
	Lookup(id string) (providers.Protocol, error)
}

// Recorder receives refresh outcomes.
type Recorder interface {
	RecordRefresh(providerID string, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordRefresh(string, string) {}

// Options tunes a TokenRefresher. Zero values select defaults.
type Options struct {
	Buffer         time.Duration
	RefreshTimeout time.Duration
	Clock          Clock
	Logger         *zap.Logger
	Recorder       Recorder
}

// TokenRefresher returns usable access tokens and owns the per-credential refresh lock.
type TokenRefresher struct {
	credentials    store.CredentialStore
	connections    store.ConnectionStore
	protocols      ProtocolLookup
	buffer         time.Duration
	refreshTimeout time.Duration
	clock          Clock
	logger         *zap.Logger
	recorder       Recorder
	flights        singleflight.Group
}

// NewTokenRefresher constructs a TokenRefresher.
func NewTokenRefresher(credentials store.CredentialStore, connections store.ConnectionStore, protocols ProtocolLookup, options Options) *TokenRefresher {
	if options.Buffer <= 0 {
		options.Buffer = DefaultBuffer
	}
	if options.RefreshTimeout <= 0 {
		options.RefreshTimeout = DefaultRefreshTimeout
	}
	if options.Clock == nil {
		options.Clock = systemClock{}
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.Recorder == nil {
		options.Recorder = noopRecorder{}
	}
	return &TokenRefresher{
		credentials:    credentials,
		connections:    connections,
		protocols:      protocols,
		buffer:         options.Buffer,
		refreshTimeout: options.RefreshTimeout,
		clock:          options.Clock,
		logger:         options.Logger,
		recorder:       options.Recorder,
	}
}

// StateOf classifies a credential against the refresh buffer.
func (refresher *TokenRefresher) StateOf(credential store.OAuthCredential) CredentialState {
	if credential.Invalid() {
		return StateInvalid
	}
	if credential.ExpiresAt().Sub(refresher.clock.Now()) > refresher.buffer {
		return StateValid
	}
	return StateExpiringSoon
}

// GetValidAccessToken returns an access token good for at least the buffer duration.
// A valid credential is returned without any provider call. Concurrent callers for an
// expiring credential share a single refresh; each waits only as long as its own context allows.
func (refresher *TokenRefresher) GetValidAccessToken(ctx context.Context, userID string, providerID string) (string, error) {
	credential, err := refresher.load(ctx, userID, providerID)
	if err != nil {
		return "", err
	}
	if refresher.StateOf(credential) == StateValid {
		return credential.AccessToken, nil
	}

	flightKey := userID + "\x00" + providerID
	results := refresher.flights.DoChan(flightKey, func() (any, error) {
		flightContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), refresher.refreshTimeout)
		defer cancel()
		return refresher.refresh(flightContext, userID, providerID)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("token_refresher.wait.%s: %w: %w", providerID, ErrTransientRefresh, ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

func (refresher *TokenRefresher) load(ctx context.Context, userID string, providerID string) (store.OAuthCredential, error) {
	credential, err := refresher.credentials.Get(ctx, userID, providerID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return store.OAuthCredential{}, fmt.Errorf("token_refresher.%s: %w", providerID, ErrNotConnected)
		}
		return store.OAuthCredential{}, err
	}
	if credential.Invalid() {
		return store.OAuthCredential{}, fmt.Errorf("token_refresher.%s: %w", providerID, ErrNeedsReauthorization)
	}
	return credential, nil
}

// refresh runs inside the flight. It re-reads the credential so a refresh completed by an
// earlier flight is not repeated.
func (refresher *TokenRefresher) refresh(ctx context.Context, userID string, providerID string) (string, error) {
	credential, err := refresher.load(ctx, userID, providerID)
	if err != nil {
		return "", err
	}
	if refresher.StateOf(credential) == StateValid {
		return credential.AccessToken, nil
	}
	if credential.RefreshToken == "" {
		return "", refresher.invalidate(ctx, credential, errors.New("no refresh token stored"))
	}

	protocol, err := refresher.protocols.Lookup(providerID)
	if err != nil {
		return "", err
	}

	tokens, err := protocol.Refresh(ctx, credential.RefreshToken)
	if err != nil {
		switch providers.KindOf(err) {
		case providers.KindAuth:
			return "", refresher.invalidate(ctx, credential, err)
		case providers.KindMalformed:
			refresher.recorder.RecordRefresh(providerID, "malformed")
			refresher.logger.Warn("refresh response rejected",
				zap.String("code", "token_refresher.malformed_response"),
				zap.String("provider", providerID),
				zap.Error(err),
			)
			return "", fmt.Errorf("token_refresher.refresh.%s: %w", providerID, err)
		default:
			refresher.recorder.RecordRefresh(providerID, "transient")
			refresher.logger.Warn("refresh failed",
				zap.String("code", "token_refresher.transient"),
				zap.String("provider", providerID),
				zap.Error(err),
			)
			return "", fmt.Errorf("token_refresher.refresh.%s: %w: %w", providerID, ErrTransientRefresh, err)
		}
	}

	if err := refresher.credentials.Put(ctx, store.OAuthCredential{
		UserID:       userID,
		ProviderID:   providerID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAtMs:  tokens.ExpiresAt.UnixMilli(),
		Scope:        tokens.Scope,
		Status:       store.CredentialActive,
		UpdatedAtMs:  refresher.clock.Now().UnixMilli(),
	}); err != nil {
		refresher.recorder.RecordRefresh(providerID, "storage_error")
		return "", err
	}
	refresher.recorder.RecordRefresh(providerID, "refreshed")
	refresher.logger.Debug("credential refreshed",
		zap.String("provider", providerID),
		zap.Time("expires_at", tokens.ExpiresAt),
	)
	return tokens.AccessToken, nil
}

// invalidate records a terminal refresh failure: the credential is kept but marked invalid
// and the connection is flagged for reconnect.
func (refresher *TokenRefresher) invalidate(ctx context.Context, credential store.OAuthCredential, cause error) error {
	refresher.recorder.RecordRefresh(credential.ProviderID, "needs_reauthorization")
	refresher.logger.Warn("credential needs reauthorization",
		zap.String("code", "token_refresher.needs_reauthorization"),
		zap.String("provider", credential.ProviderID),
		zap.Error(cause),
	)
	if err := refresher.credentials.Put(ctx, store.OAuthCredential{
		UserID:      credential.UserID,
		ProviderID:  credential.ProviderID,
		Status:      store.CredentialInvalid,
		UpdatedAtMs: refresher.clock.Now().UnixMilli(),
	}); err != nil {
		return err
	}
	if err := refresher.connections.MarkNeedsReconnect(ctx, credential.UserID, credential.ProviderID, true); err != nil && !errors.Is(err, store.ErrConnectionNotFound) {
		return err
	}
	return fmt.Errorf("token_refresher.refresh.%s: %w: %w", credential.ProviderID, ErrNeedsReauthorization, cause)
}
