// Package syncer runs provider sync pipelines concurrently and gates automatic syncs on freshness.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tyemirov/healthsync/internal/normalize"
	"github.com/tyemirov/healthsync/internal/observability"
	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/refresh"
	"github.com/tyemirov/healthsync/internal/sink"
	"github.com/tyemirov/healthsync/internal/store"
)

const (
	// DefaultPipelineTimeout bounds one provider pipeline.
	DefaultPipelineTimeout = 30 * time.Second
	// DefaultLookbackDays is the inclusive number of calendar days fetched per sync.
	DefaultLookbackDays = 7
)

// TokenSource hands out valid access tokens.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID string, providerID string) (string, error)
}

// Fetcher pulls provider-native records for a date range.
type Fetcher interface {
	Fetch(ctx context.Context, protocol providers.Protocol, accessToken string, userID string, dateRange providers.DateRange) (providers.Batch, error)
}

// Normalizer converts a fetched batch into canonical records.
type Normalizer interface {
	Normalize(providerID string, batch providers.Batch, dateRange providers.DateRange) (normalize.Result, error)
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Connections store.ConnectionStore
	SyncState   store.SyncStateStore
	Protocols   ProtocolLookup
	Tokens      TokenSource
	Fetcher     Fetcher
	Normalizer  Normalizer
	Sink        sink.RecordSink
}

// Options tunes an Orchestrator. Zero values select defaults.
type Options struct {
	PipelineTimeout time.Duration
	StalenessWindow time.Duration
	LookbackDays    int
	MaxConcurrent   int
	Location        *time.Location
	Clock           Clock
	Logger          *zap.Logger
	Metrics         observability.MetricsRecorder
}

// Orchestrator runs fetch-normalize-persist pipelines, one per connected provider.
type Orchestrator struct {
	dependencies    Dependencies
	freshness       *FreshnessGate
	pipelineTimeout time.Duration
	lookbackDays    int
	maxConcurrent   int
	location        *time.Location
	clock           Clock
	logger          *zap.Logger
	metrics         observability.MetricsRecorder
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(dependencies Dependencies, options Options) *Orchestrator {
	if options.PipelineTimeout <= 0 {
		options.PipelineTimeout = DefaultPipelineTimeout
	}
	if options.LookbackDays <= 0 {
		options.LookbackDays = DefaultLookbackDays
	}
	if options.Location == nil {
		options.Location = time.UTC
	}
	if options.Clock == nil {
		options.Clock = systemClock{}
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.Metrics == nil {
		options.Metrics = observability.NopMetrics{}
	}
	return &Orchestrator{
		dependencies:    dependencies,
		freshness:       NewFreshnessGate(dependencies.SyncState, dependencies.Protocols, options.StalenessWindow, options.Clock),
		pipelineTimeout: options.PipelineTimeout,
		lookbackDays:    options.LookbackDays,
		maxConcurrent:   options.MaxConcurrent,
		location:        options.Location,
		clock:           options.Clock,
		logger:          options.Logger,
		metrics:         options.Metrics,
	}
}

// Freshness exposes the gate shared with the AutoSyncScheduler.
func (orchestrator *Orchestrator) Freshness() *FreshnessGate {
	return orchestrator.freshness
}

// SyncAll syncs every stale connected provider concurrently. Pipeline failures are reported
// per provider; the returned error is reserved for failing to load the connections.
func (orchestrator *Orchestrator) SyncAll(ctx context.Context, userID string) (SyncReport, error) {
	report := SyncReport{UserID: userID, StartedAt: orchestrator.clock.Now()}
	connections, err := orchestrator.dependencies.Connections.ListConnections(ctx, userID)
	if err != nil {
		return SyncReport{}, fmt.Errorf("sync.list_connections: %w", err)
	}

	report.Results = make([]ProviderResult, len(connections))
	group, groupContext := errgroup.WithContext(ctx)
	if orchestrator.maxConcurrent > 0 {
		group.SetLimit(orchestrator.maxConcurrent)
	}
	for index, connection := range connections {
		index, providerID := index, connection.ProviderID
		fresh, freshnessErr := orchestrator.freshness.IsFresh(ctx, userID, providerID)
		switch {
		case freshnessErr != nil:
			report.Results[index] = orchestrator.finish(providerID, ProviderResult{
				ProviderID: providerID,
				Status:     StatusFailed,
				Error:      freshnessErr.Error(),
			}, orchestrator.clock.Now())
			continue
		case fresh:
			report.Results[index] = ProviderResult{ProviderID: providerID, Status: StatusSkipped}
			orchestrator.metrics.RecordSync(providerID, string(StatusSkipped), 0, 0)
			continue
		}
		group.Go(func() error {
			report.Results[index] = orchestrator.runPipeline(groupContext, userID, providerID)
			return nil
		})
	}
	_ = group.Wait()

	report.FinishedAt = orchestrator.clock.Now()
	return report, nil
}

// SyncProvider runs one provider's pipeline regardless of freshness.
func (orchestrator *Orchestrator) SyncProvider(ctx context.Context, userID string, providerID string) (SyncReport, error) {
	if _, err := orchestrator.dependencies.Protocols.Lookup(providerID); err != nil {
		return SyncReport{}, err
	}
	report := SyncReport{UserID: userID, StartedAt: orchestrator.clock.Now()}
	report.Results = []ProviderResult{orchestrator.runPipeline(ctx, userID, providerID)}
	report.FinishedAt = orchestrator.clock.Now()
	return report, nil
}

func (orchestrator *Orchestrator) runPipeline(ctx context.Context, userID string, providerID string) ProviderResult {
	startedAt := orchestrator.clock.Now()
	pipelineContext, cancel := context.WithTimeout(ctx, orchestrator.pipelineTimeout)
	defer cancel()

	result := orchestrator.pipeline(pipelineContext, userID, providerID)
	if result.Status == StatusFailed && errors.Is(pipelineContext.Err(), context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("sync.timeout: pipeline exceeded %s: %s", orchestrator.pipelineTimeout, result.Error)
	}
	return orchestrator.finish(providerID, result, startedAt)
}

func (orchestrator *Orchestrator) finish(providerID string, result ProviderResult, startedAt time.Time) ProviderResult {
	duration := orchestrator.clock.Now().Sub(startedAt)
	result.DurationMs = duration.Milliseconds()
	orchestrator.metrics.RecordSync(providerID, string(result.Status), result.RecordsProcessed, duration)
	fields := []zap.Field{
		zap.String("provider", providerID),
		zap.String("status", string(result.Status)),
		zap.Int("records", result.RecordsProcessed),
	}
	switch result.Status {
	case StatusSuccess:
		orchestrator.logger.Info("provider sync finished", fields...)
	default:
		orchestrator.logger.Warn("provider sync finished", append(fields, zap.String("code", "sync."+string(result.Status)), zap.String("error", result.Error))...)
	}
	return result
}

func (orchestrator *Orchestrator) pipeline(ctx context.Context, userID string, providerID string) ProviderResult {
	result := ProviderResult{ProviderID: providerID}
	fail := func(status Status, err error) ProviderResult {
		result.Status = status
		result.Error = err.Error()
		var providerErr *providers.ProviderError
		if errors.As(err, &providerErr) && providerErr.RetryAfter > 0 {
			result.RetryAfterSeconds = int64(providerErr.RetryAfter / time.Second)
		}
		return result
	}

	protocol, err := orchestrator.dependencies.Protocols.Lookup(providerID)
	if err != nil {
		return fail(StatusFailed, err)
	}

	accessToken, err := orchestrator.dependencies.Tokens.GetValidAccessToken(ctx, userID, providerID)
	if err != nil {
		if errors.Is(err, refresh.ErrNeedsReauthorization) || errors.Is(err, refresh.ErrNotConnected) {
			return fail(StatusAuthRequired, err)
		}
		return fail(StatusFailed, err)
	}

	dateRange := providers.LastDays(orchestrator.clock.Now(), orchestrator.lookbackDays, orchestrator.location)
	batch, err := orchestrator.dependencies.Fetcher.Fetch(ctx, protocol, accessToken, userID, dateRange)
	if err != nil {
		return fail(StatusFailed, err)
	}
	result.RecordsProcessed = batch.RecordCount()

	normalized, err := orchestrator.dependencies.Normalizer.Normalize(providerID, batch, dateRange)
	if err != nil {
		return fail(StatusFailed, err)
	}
	result.RecordsDropped = normalized.Dropped
	orchestrator.metrics.RecordDropped(providerID, normalized.Dropped)

	sinkErr := orchestrator.dependencies.Sink.Write(ctx, sink.Batch{
		UserID:     userID,
		ProviderID: providerID,
		Activities: normalized.Activities,
		Sleep:      normalized.Sleep,
	})
	if sinkErr != nil && !errors.Is(sinkErr, sink.ErrPartialWrite) {
		return fail(StatusFailed, sinkErr)
	}

	calledAt := orchestrator.clock.Now()
	for _, endpointID := range batch.EndpointsCalled {
		if err := orchestrator.dependencies.SyncState.MarkCalled(ctx, userID, providerID, endpointID, calledAt); err != nil {
			return fail(StatusFailed, err)
		}
	}

	switch {
	case batch.SleepErr != nil:
		return fail(StatusPartialFailure, fmt.Errorf("sync.sleep: %w", batch.SleepErr))
	case sinkErr != nil:
		return fail(StatusPartialFailure, sinkErr)
	}
	result.Status = StatusSuccess
	return result
}
