// Package observability records sync, refresh, and connect outcomes.
package observability

import (
	"fmt"
	"sync"
	"time"
)

// MetricsRecorder receives outcome events from the refresher, orchestrator, and connect flow.
type MetricsRecorder interface {
	RecordRefresh(providerID string, outcome string)
	RecordSync(providerID string, status string, records int, duration time.Duration)
	RecordDropped(providerID string, count int)
	RecordConnect(providerID string, outcome string)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) RecordRefresh(string, string)                  {}
func (NopMetrics) RecordSync(string, string, int, time.Duration) {}
func (NopMetrics) RecordDropped(string, int)                     {}
func (NopMetrics) RecordConnect(string, string)                  {}

// CounterMetrics implements MetricsRecorder with in-memory counts keyed "area.provider.outcome".
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// RecordRefresh implements MetricsRecorder.
func (recorder *CounterMetrics) RecordRefresh(providerID string, outcome string) {
	recorder.add(fmt.Sprintf("refresh.%s.%s", providerID, outcome), 1)
}

// RecordSync implements MetricsRecorder.
func (recorder *CounterMetrics) RecordSync(providerID string, status string, records int, duration time.Duration) {
	recorder.add(fmt.Sprintf("sync.%s.%s", providerID, status), 1)
	recorder.add(fmt.Sprintf("records.%s", providerID), int64(records))
}

// RecordDropped implements MetricsRecorder.
func (recorder *CounterMetrics) RecordDropped(providerID string, count int) {
	recorder.add(fmt.Sprintf("dropped.%s", providerID), int64(count))
}

// RecordConnect implements MetricsRecorder.
func (recorder *CounterMetrics) RecordConnect(providerID string, outcome string) {
	recorder.add(fmt.Sprintf("connect.%s.%s", providerID, outcome), 1)
}

func (recorder *CounterMetrics) add(event string, delta int64) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event] += delta
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}
