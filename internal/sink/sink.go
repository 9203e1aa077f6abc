// Package sink hands normalized records to downstream storage and streams.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tyemirov/healthsync/internal/records"
)

// ErrPartialWrite marks a fan-out where at least one destination accepted the batch.
var ErrPartialWrite = errors.New("record_sink.partial_write")

// Batch is the normalized output of one provider pipeline.
type Batch struct {
	UserID     string
	ProviderID string
	Activities []records.ActivityRecord
	Sleep      []records.SleepRecord
}

// Empty reports whether the batch carries no records.
func (batch Batch) Empty() bool {
	return len(batch.Activities) == 0 && len(batch.Sleep) == 0
}

// RecordSink accepts normalized records. Writes are upserts keyed by canonical id,
// so replaying a batch leaves the destination unchanged.
type RecordSink interface {
	Write(ctx context.Context, batch Batch) error
}

// FanOut writes each batch to every destination.
type FanOut struct {
	sinks []RecordSink
}

// NewFanOut combines sinks. Nil sinks are skipped.
func NewFanOut(sinks ...RecordSink) *FanOut {
	fanOut := &FanOut{}
	for _, destination := range sinks {
		if destination != nil {
			fanOut.sinks = append(fanOut.sinks, destination)
		}
	}
	return fanOut
}

// Write implements RecordSink. When some destinations fail the error wraps ErrPartialWrite;
// when all fail it does not.
func (fanOut *FanOut) Write(ctx context.Context, batch Batch) error {
	var failures []error
	for _, destination := range fanOut.sinks {
		if err := destination.Write(ctx, batch); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	joined := errors.Join(failures...)
	if len(failures) < len(fanOut.sinks) {
		return fmt.Errorf("%w: %w", ErrPartialWrite, joined)
	}
	return joined
}

// MemorySink keeps records in memory, keyed by user and canonical id.
type MemorySink struct {
	mutex      sync.Mutex
	activities map[string]map[string]records.ActivityRecord
	sleep      map[string]map[string]records.SleepRecord
	writes     int
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		activities: make(map[string]map[string]records.ActivityRecord),
		sleep:      make(map[string]map[string]records.SleepRecord),
	}
}

// Write implements RecordSink.
func (memory *MemorySink) Write(ctx context.Context, batch Batch) error {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	memory.writes++
	if memory.activities[batch.UserID] == nil {
		memory.activities[batch.UserID] = make(map[string]records.ActivityRecord)
	}
	if memory.sleep[batch.UserID] == nil {
		memory.sleep[batch.UserID] = make(map[string]records.SleepRecord)
	}
	for _, activity := range batch.Activities {
		memory.activities[batch.UserID][activity.ID] = activity
	}
	for _, sleep := range batch.Sleep {
		memory.sleep[batch.UserID][sleep.LogID] = sleep
	}
	return nil
}

// Activities returns the user's activities ordered by start time then id.
func (memory *MemorySink) Activities(userID string) []records.ActivityRecord {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	activities := make([]records.ActivityRecord, 0, len(memory.activities[userID]))
	for _, activity := range memory.activities[userID] {
		activities = append(activities, activity)
	}
	sort.Slice(activities, func(left, right int) bool {
		if activities[left].StartTimeUTC.Equal(activities[right].StartTimeUTC) {
			return activities[left].ID < activities[right].ID
		}
		return activities[left].StartTimeUTC.Before(activities[right].StartTimeUTC)
	})
	return activities
}

// Sleep returns the user's sleep records ordered by start time.
func (memory *MemorySink) Sleep(userID string) []records.SleepRecord {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	sleep := make([]records.SleepRecord, 0, len(memory.sleep[userID]))
	for _, entry := range memory.sleep[userID] {
		sleep = append(sleep, entry)
	}
	sort.Slice(sleep, func(left, right int) bool {
		return sleep[left].StartTime.Before(sleep[right].StartTime)
	})
	return sleep
}

// Writes counts Write calls.
func (memory *MemorySink) Writes() int {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	return memory.writes
}
