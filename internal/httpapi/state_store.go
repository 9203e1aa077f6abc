package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a user has to finish a provider consent screen.
const DefaultStateTTL = 10 * time.Minute

var (
	// ErrStateNotFound indicates the state was never issued or was already consumed.
	ErrStateNotFound = errors.New("connect_state.not_found")
	// ErrStateExpired indicates the state outlived its TTL before the callback arrived.
	ErrStateExpired = errors.New("connect_state.expired")
)

// PendingConnect is what a state value is bound to.
type PendingConnect struct {
	UserID     string
	ProviderID string
}

// StateStore issues one-time OAuth state values.
type StateStore interface {
	Issue(ctx context.Context, pending PendingConnect) (string, error)
	// Consume returns the bound connect request and invalidates the state.
	Consume(ctx context.Context, state string) (PendingConnect, error)
}

type stateEntry struct {
	pending   PendingConnect
	expiresAt time.Time
}

type memoryStateStore struct {
	mutex     sync.Mutex
	entries   map[string]stateEntry
	ttl       time.Duration
	now       func() time.Time
	tokenSize int
}

// NewMemoryStateStore constructs an in-memory StateStore. Non-positive TTLs use DefaultStateTTL.
func NewMemoryStateStore(ttl time.Duration) StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &memoryStateStore{
		entries:   make(map[string]stateEntry),
		ttl:       ttl,
		now:       time.Now,
		tokenSize: 32,
	}
}

func (store *memoryStateStore) Issue(ctx context.Context, pending PendingConnect) (string, error) {
	token, err := store.randomToken()
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[token] = stateEntry{pending: pending, expiresAt: store.now().Add(store.ttl)}
	return token, nil
}

func (store *memoryStateStore) Consume(ctx context.Context, state string) (PendingConnect, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	defer store.purgeExpiredLocked()

	entry, ok := store.entries[state]
	if !ok {
		return PendingConnect{}, ErrStateNotFound
	}
	delete(store.entries, state)
	if store.now().After(entry.expiresAt) {
		return PendingConnect{}, ErrStateExpired
	}
	return entry.pending, nil
}

func (store *memoryStateStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for token, entry := range store.entries {
		if now.After(entry.expiresAt) {
			delete(store.entries, token)
		}
	}
}

func (store *memoryStateStore) randomToken() (string, error) {
	buffer := make([]byte, store.tokenSize)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
