package syncer

import (
	"time"
)

// Status is the outcome of one provider pipeline.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusAuthRequired   Status = "auth_required"
	StatusSkipped        Status = "skipped"
	StatusFailed         Status = "failed"
)

// ProviderResult is one provider's entry in a SyncReport.
type ProviderResult struct {
	ProviderID        string `json:"provider_id"`
	Status            Status `json:"status"`
	RecordsProcessed  int    `json:"records_processed"`
	RecordsDropped    int    `json:"records_dropped,omitempty"`
	Error             string `json:"error,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

// SyncReport is the audit trail of one sync attempt.
type SyncReport struct {
	UserID     string           `json:"user_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []ProviderResult `json:"results"`
}

// Result returns the entry for providerID.
func (report SyncReport) Result(providerID string) (ProviderResult, bool) {
	for _, result := range report.Results {
		if result.ProviderID == providerID {
			return result, true
		}
	}
	return ProviderResult{}, false
}
