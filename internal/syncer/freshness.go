package syncer

import (
	"context"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/store"
)

// DefaultStalenessWindow is how long a provider stays fresh after its primary endpoint was called.
const DefaultStalenessWindow = 24 * time.Hour

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

// FreshnessGate judges a provider by the last call to its single primary endpoint.
type FreshnessGate struct {
	syncState store.SyncStateStore
	protocols ProtocolLookup
	window    time.Duration
	clock     Clock
}

// NewFreshnessGate constructs a FreshnessGate. Non-positive windows use DefaultStalenessWindow.
func NewFreshnessGate(syncState store.SyncStateStore, protocols ProtocolLookup, window time.Duration, clock Clock) *FreshnessGate {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &FreshnessGate{syncState: syncState, protocols: protocols, window: window, clock: clock}
}

// IsFresh reports whether the primary endpoint was called no longer than the window ago.
func (gate *FreshnessGate) IsFresh(ctx context.Context, userID string, providerID string) (bool, error) {
	protocol, err := gate.protocols.Lookup(providerID)
	if err != nil {
		return false, err
	}
	lastCalledAt, found, err := gate.syncState.LastCalledAt(ctx, userID, providerID, protocol.Endpoints().Primary)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return gate.clock.Now().Sub(lastCalledAt) <= gate.window, nil
}
