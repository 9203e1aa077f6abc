package sink

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tyemirov/healthsync/internal/records"
	"github.com/tyemirov/healthsync/internal/store"
)

func sampleBatch() Batch {
	startedAt := time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC)
	return Batch{
		UserID:     "user-1",
		ProviderID: "fitbit",
		Activities: []records.ActivityRecord{
			{
				ID:                 records.CanonicalID("fitbit", "101"),
				Type:               records.ActivityRunning,
				StartTimeUTC:       startedAt,
				Timezone:           "UTC",
				DurationMovingSec:  1750,
				DurationElapsedSec: 1800,
				DistanceMeters:     5200,
				Source:             "fitbit",
				OriginalID:         "101",
			},
		},
		Sleep: []records.SleepRecord{
			{
				LogID:        records.CanonicalID("fitbit", "77"),
				Source:       "fitbit",
				OriginalID:   "77",
				StartTime:    startedAt.Add(-8 * time.Hour),
				EndTime:      startedAt,
				DurationMs:   28800000,
				StageMinutes: records.StageMinutes{Deep: 80},
			},
		},
	}
}

type failingSink struct{}

func (failingSink) Write(ctx context.Context, batch Batch) error {
	return errors.New("destination down")
}

type capturingWriter struct {
	mutex    sync.Mutex
	messages []kafka.Message
}

func (writer *capturingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	writer.messages = append(writer.messages, msgs...)
	return nil
}

func TestMemorySinkWritesAreIdempotent(t *testing.T) {
	memory := NewMemorySink()
	batch := sampleBatch()
	for attempt := 0; attempt < 2; attempt++ {
		if err := memory.Write(context.Background(), batch); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if activities := memory.Activities("user-1"); len(activities) != 1 {
		t.Fatalf("expected one activity after replay, got %d", len(activities))
	}
	if sleep := memory.Sleep("user-1"); len(sleep) != 1 {
		t.Fatalf("expected one sleep record after replay, got %d", len(sleep))
	}
	if memory.Writes() != 2 {
		t.Fatalf("expected two writes, got %d", memory.Writes())
	}
}

func TestFanOutReportsPartialWrites(t *testing.T) {
	memory := NewMemorySink()
	err := NewFanOut(memory, failingSink{}, nil).Write(context.Background(), sampleBatch())
	if !errors.Is(err, ErrPartialWrite) {
		t.Fatalf("expected ErrPartialWrite, got %v", err)
	}
	if len(memory.Activities("user-1")) != 1 {
		t.Fatalf("healthy destination must still receive the batch")
	}

	err = NewFanOut(failingSink{}, failingSink{}).Write(context.Background(), sampleBatch())
	if err == nil || errors.Is(err, ErrPartialWrite) {
		t.Fatalf("expected total failure without ErrPartialWrite, got %v", err)
	}

	if err := NewFanOut().Write(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("empty fan-out must succeed, got %v", err)
	}
}

func TestDatabaseSinkUpserts(t *testing.T) {
	databaseURL := "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "records.db"))
	databaseSink, err := NewDatabaseSink(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	batch := sampleBatch()
	if err := databaseSink.Write(context.Background(), batch); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	batch.Activities[0].DistanceMeters = 5300
	if err := databaseSink.Write(context.Background(), batch); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	activities, err := databaseSink.Activities(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("expected one activity, got %d", len(activities))
	}
	if activities[0].DistanceMeters != 5300 || activities[0].Type != records.ActivityRunning {
		t.Fatalf("expected updated activity, got %+v", activities[0])
	}
	if !activities[0].StartTimeUTC.Equal(batch.Activities[0].StartTimeUTC) {
		t.Fatalf("unexpected start time %v", activities[0].StartTimeUTC)
	}
	count, err := databaseSink.CountSleep(context.Background(), "user-1")
	if err != nil || count != 1 {
		t.Fatalf("expected one sleep row, got %d (%v)", count, err)
	}
}

func TestKafkaSinkPublishesOneMessagePerRecord(t *testing.T) {
	writer := &capturingWriter{}
	if err := NewKafkaSink(writer, "health.records").Write(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(writer.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(writer.messages))
	}
	for _, message := range writer.messages {
		if message.Topic != "health.records" {
			t.Fatalf("unexpected topic %q", message.Topic)
		}
	}
	first := writer.messages[0]
	if string(first.Key) != "user-1" {
		t.Fatalf("expected user key, got %q", first.Key)
	}
	var event recordEvent
	if err := json.Unmarshal(first.Value, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.EventType != eventActivityNormalized || event.Activity == nil || event.Activity.OriginalID != "101" {
		t.Fatalf("unexpected event %+v", event)
	}

	if err := NewKafkaSink(writer, "health.records").Write(context.Background(), Batch{UserID: "user-1"}); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}
	if len(writer.messages) != 2 {
		t.Fatalf("empty batch must not publish")
	}
}

func TestNewKafkaWriterLeavesTopicToMessages(t *testing.T) {
	writer := NewKafkaWriter(KafkaConfig{Brokers: []string{"broker-1:9092"}})
	defer func() { _ = writer.Close() }()

	if writer.Topic != "" {
		t.Fatalf("expected topic-less writer, got %q", writer.Topic)
	}
	if writer.Addr.String() != "broker-1:9092" {
		t.Fatalf("unexpected brokers %q", writer.Addr.String())
	}
	if _, ok := writer.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected hash balancer, got %T", writer.Balancer)
	}
	if writer.BatchTimeout != defaultKafkaBatchTimeout || writer.WriteTimeout != defaultKafkaWriteTimeout {
		t.Fatalf("unexpected timeouts batch=%v write=%v", writer.BatchTimeout, writer.WriteTimeout)
	}
}

func TestDatabaseSinkCloseReleasesOnlyOwnedPool(t *testing.T) {
	ctx := context.Background()
	owned, err := NewDatabaseSink(ctx, "sqlite://"+filepath.ToSlash(filepath.Join(t.TempDir(), "owned.db")))
	if err != nil {
		t.Fatalf("open owned sink: %v", err)
	}
	ownedDB, _ := owned.db.DB()
	if err := owned.Close(); err != nil {
		t.Fatalf("close owned sink: %v", err)
	}
	if err := ownedDB.PingContext(ctx); err == nil {
		t.Fatalf("expected owned pool closed")
	}

	credentialStore, err := store.NewDatabaseStore(ctx, "sqlite://"+filepath.ToSlash(filepath.Join(t.TempDir(), "shared.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = credentialStore.Close() }()
	shared, err := NewDatabaseSinkWithDB(ctx, credentialStore.DB(), credentialStore.Driver())
	if err != nil {
		t.Fatalf("open shared sink: %v", err)
	}
	if err := shared.Close(); err != nil {
		t.Fatalf("close shared sink: %v", err)
	}
	sharedDB, _ := credentialStore.DB().DB()
	if err := sharedDB.PingContext(ctx); err != nil {
		t.Fatalf("expected shared pool to stay open: %v", err)
	}
}

func TestBuildPostgresBatchQueuesEveryRecord(t *testing.T) {
	pending := buildPostgresBatch(sampleBatch())
	if pending.Len() != 2 {
		t.Fatalf("expected 2 queued statements, got %d", pending.Len())
	}
}
