package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store intended for tests and dev.
type MemoryStore struct {
	mutex       sync.Mutex
	credentials map[pairKey]OAuthCredential
	connections map[pairKey]ProviderConnection
	syncStates  map[endpointKey]time.Time
}

type pairKey struct {
	userID     string
	providerID string
}

type endpointKey struct {
	userID     string
	providerID string
	endpointID string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[pairKey]OAuthCredential),
		connections: make(map[pairKey]ProviderConnection),
		syncStates:  make(map[endpointKey]time.Time),
	}
}

// Get returns the stored credential or ErrCredentialNotFound.
func (store *MemoryStore) Get(ctx context.Context, userID string, providerID string) (OAuthCredential, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	credential, ok := store.credentials[pairKey{userID: userID, providerID: providerID}]
	if !ok {
		return OAuthCredential{}, ErrCredentialNotFound
	}
	return credential, nil
}

// Put upserts a credential with merge semantics.
func (store *MemoryStore) Put(ctx context.Context, credential OAuthCredential) error {
	if err := validateCredentialKey(credential.UserID, credential.ProviderID); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := pairKey{userID: credential.UserID, providerID: credential.ProviderID}
	existing, ok := store.credentials[key]
	if !ok {
		if credential.AccessToken == "" {
			return errMissingAccessToken
		}
		if credential.Status == "" {
			credential.Status = CredentialActive
		}
		store.credentials[key] = credential
		return nil
	}
	store.credentials[key] = mergeCredential(existing, credential)
	return nil
}

// Delete removes a credential. Deleting a missing credential is not an error.
func (store *MemoryStore) Delete(ctx context.Context, userID string, providerID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.credentials, pairKey{userID: userID, providerID: providerID})
	return nil
}

// ListConnections returns the user's connections ordered by provider id.
func (store *MemoryStore) ListConnections(ctx context.Context, userID string) ([]ProviderConnection, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	connections := make([]ProviderConnection, 0)
	for key, connection := range store.connections {
		if key.userID == userID {
			connections = append(connections, connection)
		}
	}
	sort.Slice(connections, func(left, right int) bool {
		return connections[left].ProviderID < connections[right].ProviderID
	})
	return connections, nil
}

// UpsertConnection replaces any existing connection for the same pair.
func (store *MemoryStore) UpsertConnection(ctx context.Context, connection ProviderConnection) error {
	if err := validateCredentialKey(connection.UserID, connection.ProviderID); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.connections[pairKey{userID: connection.UserID, providerID: connection.ProviderID}] = connection
	return nil
}

// MarkNeedsReconnect flags or clears the reconnect state of an existing connection.
func (store *MemoryStore) MarkNeedsReconnect(ctx context.Context, userID string, providerID string, needsReconnect bool) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := pairKey{userID: userID, providerID: providerID}
	connection, ok := store.connections[key]
	if !ok {
		return ErrConnectionNotFound
	}
	connection.NeedsReconnect = needsReconnect
	store.connections[key] = connection
	return nil
}

// RemoveConnection deletes the connection record.
func (store *MemoryStore) RemoveConnection(ctx context.Context, userID string, providerID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.connections, pairKey{userID: userID, providerID: providerID})
	return nil
}

// LastCalledAt reports when the endpoint was last called, if ever.
func (store *MemoryStore) LastCalledAt(ctx context.Context, userID string, providerID string, endpointID string) (time.Time, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	calledAt, ok := store.syncStates[endpointKey{userID: userID, providerID: providerID, endpointID: endpointID}]
	return calledAt, ok, nil
}

// MarkCalled records the call time for an endpoint.
func (store *MemoryStore) MarkCalled(ctx context.Context, userID string, providerID string, endpointID string, calledAt time.Time) error {
	if err := validateCredentialKey(userID, providerID); err != nil {
		return err
	}
	if endpointID == "" {
		return errMissingEndpointID
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.syncStates[endpointKey{userID: userID, providerID: providerID, endpointID: endpointID}] = calledAt.UTC()
	return nil
}

// ClearSyncState forgets every endpoint timestamp for the pair.
func (store *MemoryStore) ClearSyncState(ctx context.Context, userID string, providerID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for key := range store.syncStates {
		if key.userID == userID && key.providerID == providerID {
			delete(store.syncStates, key)
		}
	}
	return nil
}
