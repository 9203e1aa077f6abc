// Package store persists OAuth credentials, provider connections, and sync freshness state.
package store

import (
	"context"
	"time"
)

// CredentialStatus tracks whether a stored credential can still be refreshed.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialInvalid CredentialStatus = "invalid"
)

// OAuthCredential is the token pair and expiry for one (user, provider).
type OAuthCredential struct {
	UserID       string
	ProviderID   string
	AccessToken  string
	RefreshToken string
	ExpiresAtMs  int64
	Scope        string
	Status       CredentialStatus
	UpdatedAtMs  int64
}

// ExpiresAt converts the stored epoch milliseconds into a time.
func (credential OAuthCredential) ExpiresAt() time.Time {
	return time.UnixMilli(credential.ExpiresAtMs).UTC()
}

// Invalid reports whether a terminal refresh failure was recorded.
func (credential OAuthCredential) Invalid() bool {
	return credential.Status == CredentialInvalid
}

// ProviderConnection records that a user linked a provider, independent of credential health.
type ProviderConnection struct {
	UserID         string
	ProviderID     string
	ConnectedAt    time.Time
	NeedsReconnect bool
}

// CredentialStore manages per-user, per-provider credentials.
type CredentialStore interface {
	Get(ctx context.Context, userID string, providerID string) (OAuthCredential, error)
	// Put upserts the credential; zero-valued fields keep their stored values.
	Put(ctx context.Context, credential OAuthCredential) error
	Delete(ctx context.Context, userID string, providerID string) error
}

// ConnectionStore manages provider membership records.
type ConnectionStore interface {
	ListConnections(ctx context.Context, userID string) ([]ProviderConnection, error)
	UpsertConnection(ctx context.Context, connection ProviderConnection) error
	MarkNeedsReconnect(ctx context.Context, userID string, providerID string, needsReconnect bool) error
	RemoveConnection(ctx context.Context, userID string, providerID string) error
}

// SyncStateStore tracks when each provider endpoint was last called.
type SyncStateStore interface {
	LastCalledAt(ctx context.Context, userID string, providerID string, endpointID string) (time.Time, bool, error)
	MarkCalled(ctx context.Context, userID string, providerID string, endpointID string, calledAt time.Time) error
	ClearSyncState(ctx context.Context, userID string, providerID string) error
}

// Store bundles every persistence concern served by a single backend.
type Store interface {
	CredentialStore
	ConnectionStore
	SyncStateStore
}

func mergeCredential(existing OAuthCredential, update OAuthCredential) OAuthCredential {
	merged := existing
	if update.AccessToken != "" {
		merged.AccessToken = update.AccessToken
	}
	if update.RefreshToken != "" {
		merged.RefreshToken = update.RefreshToken
	}
	if update.ExpiresAtMs != 0 {
		merged.ExpiresAtMs = update.ExpiresAtMs
	}
	if update.Scope != "" {
		merged.Scope = update.Scope
	}
	if update.Status != "" {
		merged.Status = update.Status
	}
	if update.UpdatedAtMs != 0 {
		merged.UpdatedAtMs = update.UpdatedAtMs
	}
	return merged
}

func validateCredentialKey(userID string, providerID string) error {
	if userID == "" {
		return errMissingUserID
	}
	if providerID == "" {
		return errMissingProviderID
	}
	return nil
}
