package syncer

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tyemirov/healthsync/internal/normalize"
	"github.com/tyemirov/healthsync/internal/observability"
	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/records"
	"github.com/tyemirov/healthsync/internal/refresh"
	"github.com/tyemirov/healthsync/internal/sink"
	"github.com/tyemirov/healthsync/internal/store"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type nativeItem struct {
	provider string
	id       string
}

func (item nativeItem) ProviderID() string { return item.provider }

func (item nativeItem) NativeID() string { return item.id }

type fakeProtocol struct {
	id            string
	refreshCalls  atomic.Int32
	fetchCalls    atomic.Int32
	activityIDs   []string
	sleepIDs      []string
	activitiesErr error
	sleepErr      error
	blockFetch    bool
}

func (protocol *fakeProtocol) ID() string { return protocol.id }

func (protocol *fakeProtocol) AuthCodeURL(state string, redirectURI string) string { return "" }

func (protocol *fakeProtocol) ExchangeCode(ctx context.Context, code string, redirectURI string) (providers.TokenSet, error) {
	return providers.TokenSet{}, nil
}

func (protocol *fakeProtocol) Refresh(ctx context.Context, refreshToken string) (providers.TokenSet, error) {
	protocol.refreshCalls.Add(1)
	return providers.TokenSet{AccessToken: protocol.id + "-access-new", ExpiresAt: now.Add(8 * time.Hour)}, nil
}

func (protocol *fakeProtocol) FetchActivities(ctx context.Context, accessToken string, userID string, dateRange providers.DateRange) ([]providers.NativeActivity, error) {
	protocol.fetchCalls.Add(1)
	if protocol.blockFetch {
		<-ctx.Done()
		return nil, providers.TransportError(protocol.id, "activities", ctx.Err())
	}
	if protocol.activitiesErr != nil {
		return nil, protocol.activitiesErr
	}
	activities := make([]providers.NativeActivity, 0, len(protocol.activityIDs))
	for _, id := range protocol.activityIDs {
		activities = append(activities, nativeItem{provider: protocol.id, id: id})
	}
	return activities, nil
}

func (protocol *fakeProtocol) FetchSleep(ctx context.Context, accessToken string, dateRange providers.DateRange) ([]providers.NativeSleep, error) {
	if protocol.sleepErr != nil {
		return nil, protocol.sleepErr
	}
	sleep := make([]providers.NativeSleep, 0, len(protocol.sleepIDs))
	for _, id := range protocol.sleepIDs {
		sleep = append(sleep, nativeItem{provider: protocol.id, id: id})
	}
	return sleep, nil
}

func (protocol *fakeProtocol) Endpoints() providers.Endpoints {
	return providers.Endpoints{Primary: protocol.id + "_activities", Activities: protocol.id + "_activities", Sleep: protocol.id + "_sleep"}
}

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(providerID string, batch providers.Batch, dateRange providers.DateRange) (normalize.Result, error) {
	var result normalize.Result
	for _, native := range batch.Activities {
		result.Activities = append(result.Activities, records.ActivityRecord{
			ID:           records.CanonicalID(providerID, native.NativeID()),
			Type:         records.ActivityWalking,
			StartTimeUTC: now,
			Timezone:     "UTC",
			Source:       providerID,
			OriginalID:   native.NativeID(),
		})
	}
	for _, native := range batch.Sleep {
		result.Sleep = append(result.Sleep, records.SleepRecord{
			LogID:      records.CanonicalID(providerID, native.NativeID()),
			Source:     providerID,
			OriginalID: native.NativeID(),
			StartTime:  now.Add(-8 * time.Hour),
			EndTime:    now,
		})
	}
	return result, nil
}

type harness struct {
	memory       *store.MemoryStore
	sink         *sink.MemorySink
	metrics      *observability.CounterMetrics
	orchestrator *Orchestrator
}

func newHarness(t *testing.T, options Options, protocols ...*fakeProtocol) harness {
	t.Helper()
	memory := store.NewMemoryStore()
	registered := make([]providers.Protocol, 0, len(protocols))
	for _, protocol := range protocols {
		registered = append(registered, protocol)
	}
	registry := providers.NewRegistry(registered...)
	clock := fixedClock{timestamp: now}
	refresher := refresh.NewTokenRefresher(memory, memory, registry, refresh.Options{Clock: clock, Logger: zaptest.NewLogger(t)})
	memorySink := sink.NewMemorySink()
	metrics := observability.NewCounterMetrics()

	options.Clock = clock
	options.Logger = zaptest.NewLogger(t)
	options.Metrics = metrics
	orchestrator := NewOrchestrator(Dependencies{
		Connections: memory,
		SyncState:   memory,
		Protocols:   registry,
		Tokens:      refresher,
		Fetcher:     providers.NewDataClient(),
		Normalizer:  passthroughNormalizer{},
		Sink:        memorySink,
	}, options)
	return harness{memory: memory, sink: memorySink, metrics: metrics, orchestrator: orchestrator}
}

func connect(t *testing.T, memory *store.MemoryStore, providerID string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := memory.Put(ctx, store.OAuthCredential{
		UserID:       "user-1",
		ProviderID:   providerID,
		AccessToken:  providerID + "-access-old",
		RefreshToken: providerID + "-refresh",
		ExpiresAtMs:  expiresAt.UnixMilli(),
	}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	if err := memory.UpsertConnection(ctx, store.ProviderConnection{UserID: "user-1", ProviderID: providerID, ConnectedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
}

func TestSyncAllRefreshesOnlyTheExpiringProvider(t *testing.T) {
	alpha := &fakeProtocol{id: "alpha", activityIDs: []string{"a1", "a2"}, sleepIDs: []string{"s1"}}
	beta := &fakeProtocol{id: "beta", activityIDs: []string{"b1"}}
	h := newHarness(t, Options{}, alpha, beta)
	connect(t, h.memory, "alpha", now.Add(2*time.Minute))
	connect(t, h.memory, "beta", now.Add(2*time.Hour))

	report, err := h.orchestrator.SyncAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected two results, got %+v", report.Results)
	}
	alphaResult, _ := report.Result("alpha")
	betaResult, _ := report.Result("beta")
	if alphaResult.Status != StatusSuccess || alphaResult.RecordsProcessed != 3 {
		t.Fatalf("unexpected alpha result %+v", alphaResult)
	}
	if betaResult.Status != StatusSuccess || betaResult.RecordsProcessed != 1 {
		t.Fatalf("unexpected beta result %+v", betaResult)
	}
	if calls := alpha.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one alpha refresh, got %d", calls)
	}
	if calls := beta.refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected no beta refresh, got %d", calls)
	}
	stored, _ := h.memory.Get(context.Background(), "user-1", "alpha")
	if stored.AccessToken != "alpha-access-new" || stored.ExpiresAtMs != now.Add(8*time.Hour).UnixMilli() {
		t.Fatalf("expected alpha credential refreshed, got %+v", stored)
	}
	if got := len(h.sink.Activities("user-1")); got != 3 {
		t.Fatalf("expected 3 persisted activities, got %d", got)
	}
	for _, endpointID := range []string{"alpha_activities", "alpha_sleep", "beta_activities", "beta_sleep"} {
		providerID := strings.SplitN(endpointID, "_", 2)[0]
		calledAt, found, _ := h.memory.LastCalledAt(context.Background(), "user-1", providerID, endpointID)
		if !found || !calledAt.Equal(now) {
			t.Fatalf("expected %s marked at %v, got %v found=%v", endpointID, now, calledAt, found)
		}
	}
	if count := h.metrics.Count("sync.alpha.success"); count != 1 {
		t.Fatalf("expected success metric, got %d", count)
	}
}

func TestSyncAllIsolatesProviderFailures(t *testing.T) {
	failing := &fakeProtocol{id: "alpha", activitiesErr: &providers.ProviderError{
		Provider:   "alpha",
		Operation:  "activities",
		Status:     http.StatusTooManyRequests,
		Kind:       providers.KindRateLimited,
		RetryAfter: 90 * time.Second,
	}}
	healthy := &fakeProtocol{id: "beta", activityIDs: []string{"b1"}}
	revoked := &fakeProtocol{id: "gamma"}
	h := newHarness(t, Options{}, failing, healthy, revoked)
	connect(t, h.memory, "alpha", now.Add(time.Hour))
	connect(t, h.memory, "beta", now.Add(time.Hour))
	connect(t, h.memory, "gamma", now.Add(time.Hour))
	if err := h.memory.Put(context.Background(), store.OAuthCredential{UserID: "user-1", ProviderID: "gamma", Status: store.CredentialInvalid}); err != nil {
		t.Fatalf("invalidate gamma: %v", err)
	}

	report, err := h.orchestrator.SyncAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	failed, _ := report.Result("alpha")
	if failed.Status != StatusFailed || failed.RetryAfterSeconds != 90 || failed.Error == "" {
		t.Fatalf("unexpected alpha result %+v", failed)
	}
	succeeded, _ := report.Result("beta")
	if succeeded.Status != StatusSuccess {
		t.Fatalf("expected beta success, got %+v", succeeded)
	}
	authRequired, _ := report.Result("gamma")
	if authRequired.Status != StatusAuthRequired {
		t.Fatalf("expected gamma auth_required, got %+v", authRequired)
	}
	if _, found, _ := h.memory.LastCalledAt(context.Background(), "user-1", "alpha", "alpha_activities"); found {
		t.Fatalf("failed provider must not be marked fresh")
	}
	if calls := revoked.fetchCalls.Load(); calls != 0 {
		t.Fatalf("expected no fetch for invalid credential, got %d", calls)
	}
}

func TestSyncAllSkipsFreshProviders(t *testing.T) {
	alpha := &fakeProtocol{id: "alpha", activityIDs: []string{"a1"}}
	beta := &fakeProtocol{id: "beta", activityIDs: []string{"b1"}}
	h := newHarness(t, Options{}, alpha, beta)
	connect(t, h.memory, "alpha", now.Add(time.Hour))
	connect(t, h.memory, "beta", now.Add(time.Hour))
	if err := h.memory.MarkCalled(context.Background(), "user-1", "alpha", "alpha_activities", now.Add(-time.Hour)); err != nil {
		t.Fatalf("mark called: %v", err)
	}

	report, err := h.orchestrator.SyncAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	skipped, _ := report.Result("alpha")
	if skipped.Status != StatusSkipped {
		t.Fatalf("expected alpha skipped, got %+v", skipped)
	}
	if calls := alpha.fetchCalls.Load(); calls != 0 {
		t.Fatalf("expected no fetch for fresh provider, got %d", calls)
	}
	synced, _ := report.Result("beta")
	if synced.Status != StatusSuccess {
		t.Fatalf("expected beta success, got %+v", synced)
	}

	manual, err := h.orchestrator.SyncProvider(context.Background(), "user-1", "alpha")
	if err != nil {
		t.Fatalf("sync provider failed: %v", err)
	}
	if manual.Results[0].Status != StatusSuccess || alpha.fetchCalls.Load() != 1 {
		t.Fatalf("expected manual sync to ignore freshness, got %+v", manual.Results)
	}
}

func TestSyncAllReportsSleepFailureAsPartial(t *testing.T) {
	alpha := &fakeProtocol{
		id:          "alpha",
		activityIDs: []string{"a1"},
		sleepErr:    providers.TransportError("alpha", "sleep", errors.New("connection reset")),
	}
	h := newHarness(t, Options{}, alpha)
	connect(t, h.memory, "alpha", now.Add(time.Hour))

	report, err := h.orchestrator.SyncAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	result := report.Results[0]
	if result.Status != StatusPartialFailure || result.RecordsProcessed != 1 {
		t.Fatalf("expected partial failure with one record, got %+v", result)
	}
	if len(h.sink.Activities("user-1")) != 1 {
		t.Fatalf("expected activities persisted despite sleep failure")
	}
	if _, found, _ := h.memory.LastCalledAt(context.Background(), "user-1", "alpha", "alpha_sleep"); found {
		t.Fatalf("failed sleep endpoint must not be marked")
	}
	if _, found, _ := h.memory.LastCalledAt(context.Background(), "user-1", "alpha", "alpha_activities"); !found {
		t.Fatalf("expected activities endpoint marked")
	}
}

func TestSyncAllAbandonsSlowPipeline(t *testing.T) {
	slow := &fakeProtocol{id: "alpha", blockFetch: true}
	fast := &fakeProtocol{id: "beta", activityIDs: []string{"b1"}}
	h := newHarness(t, Options{PipelineTimeout: 20 * time.Millisecond}, slow, fast)
	connect(t, h.memory, "alpha", now.Add(time.Hour))
	connect(t, h.memory, "beta", now.Add(time.Hour))

	report, err := h.orchestrator.SyncAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	timedOut, _ := report.Result("alpha")
	if timedOut.Status != StatusFailed || !strings.Contains(timedOut.Error, "sync.timeout") {
		t.Fatalf("expected timeout failure, got %+v", timedOut)
	}
	completed, _ := report.Result("beta")
	if completed.Status != StatusSuccess {
		t.Fatalf("expected beta success, got %+v", completed)
	}
}

func TestSyncAllWithoutConnections(t *testing.T) {
	h := newHarness(t, Options{}, &fakeProtocol{id: "alpha"})
	report, err := h.orchestrator.SyncAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	if len(report.Results) != 0 || report.UserID != "user-1" {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestSyncProviderRejectsUnknownProvider(t *testing.T) {
	h := newHarness(t, Options{}, &fakeProtocol{id: "alpha"})
	if _, err := h.orchestrator.SyncProvider(context.Background(), "user-1", "missing"); !errors.Is(err, providers.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	report, err := h.orchestrator.SyncProvider(context.Background(), "user-1", "alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Results[0].Status != StatusAuthRequired {
		t.Fatalf("expected auth_required for unconnected provider, got %+v", report.Results[0])
	}
}
