package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/store"
)

// SyncAller runs a full sync for a user.
type SyncAller interface {
	SyncAll(ctx context.Context, userID string) (SyncReport, error)
}

// AutoSyncScheduler is the all-or-nothing session-start gate in front of SyncAll.
type AutoSyncScheduler struct {
	connections store.ConnectionStore
	freshness   *FreshnessGate
	syncer      SyncAller
	logger      *zap.Logger
}

// NewAutoSyncScheduler constructs an AutoSyncScheduler.
func NewAutoSyncScheduler(connections store.ConnectionStore, freshness *FreshnessGate, syncer SyncAller, logger *zap.Logger) *AutoSyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoSyncScheduler{connections: connections, freshness: freshness, syncer: syncer, logger: logger}
}

// ShouldAutoSync is true when any connected provider's primary endpoint is stale or was never
// called. With no connections, or all providers fresh, it is false. Connections to providers
// that are no longer configured are ignored.
func (scheduler *AutoSyncScheduler) ShouldAutoSync(ctx context.Context, userID string) (bool, error) {
	connections, err := scheduler.connections.ListConnections(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("auto_sync.list_connections: %w", err)
	}
	for _, connection := range connections {
		fresh, err := scheduler.freshness.IsFresh(ctx, userID, connection.ProviderID)
		if err != nil {
			if errors.Is(err, providers.ErrUnknownProvider) {
				continue
			}
			return false, fmt.Errorf("auto_sync.freshness.%s: %w", connection.ProviderID, err)
		}
		if !fresh {
			return true, nil
		}
	}
	return false, nil
}

// RunOnSessionStart invokes SyncAll only when the gate is open. ran reports whether it did.
func (scheduler *AutoSyncScheduler) RunOnSessionStart(ctx context.Context, userID string) (report SyncReport, ran bool, err error) {
	open, err := scheduler.ShouldAutoSync(ctx, userID)
	if err != nil {
		return SyncReport{}, false, err
	}
	if !open {
		scheduler.logger.Debug("auto sync skipped; all providers fresh")
		return SyncReport{}, false, nil
	}
	report, err = scheduler.syncer.SyncAll(ctx, userID)
	if err != nil {
		return SyncReport{}, true, err
	}
	return report, true, nil
}
