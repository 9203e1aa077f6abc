// Package records defines the canonical activity and sleep shapes produced by normalization.
package records

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType is the canonical activity vocabulary shared by every provider.
type ActivityType string

const (
	ActivityWalking    ActivityType = "walking"
	ActivityRunning    ActivityType = "running"
	ActivityHiking     ActivityType = "hiking"
	ActivitySwimming   ActivityType = "swimming"
	ActivityCycling    ActivityType = "cycling"
	ActivityRowing     ActivityType = "rowing"
	ActivityElliptical ActivityType = "elliptical"
	ActivityYoga       ActivityType = "yoga"
	ActivityStrength   ActivityType = "strength"
)

// recordNamespace seeds UUIDv5 identifiers so (source, originalId) always maps to the same id.
var recordNamespace = uuid.MustParse("6f1c2f8e-3b7a-5d2e-9c41-8a0e5b7d4f13")

// ActivityRecord is the provider-agnostic activity.
type ActivityRecord struct {
	ID                  string       `json:"id"`
	Type                ActivityType `json:"type"`
	StartTimeUTC        time.Time    `json:"start_time_utc"`
	Timezone            string       `json:"timezone"`
	DurationMovingSec   int64        `json:"duration_moving_sec"`
	DurationElapsedSec  int64        `json:"duration_elapsed_sec"`
	DistanceMeters      float64      `json:"distance_meters"`
	ElevationGainMeters float64      `json:"elevation_gain_meters"`
	Steps               int64        `json:"steps"`
	Calories            float64      `json:"calories"`
	AverageHeartRateBPM float64      `json:"average_heart_rate_bpm"`
	Source              string       `json:"source"`
	OriginalID          string       `json:"original_id"`
}

// EndTimeUTC returns the elapsed end of the activity.
func (record ActivityRecord) EndTimeUTC() time.Time {
	return record.StartTimeUTC.Add(time.Duration(record.DurationElapsedSec) * time.Second)
}

// StageMinutes holds per-stage sleep totals. Missing stages are zero.
type StageMinutes struct {
	Deep  int `json:"deep"`
	Light int `json:"light"`
	REM   int `json:"rem"`
	Wake  int `json:"wake"`
}

// SleepRecord is the provider-agnostic sleep session.
type SleepRecord struct {
	LogID             string       `json:"log_id"`
	Source            string       `json:"source"`
	OriginalID        string       `json:"original_id"`
	StartTime         time.Time    `json:"start_time"`
	EndTime           time.Time    `json:"end_time"`
	DurationMs        int64        `json:"duration_ms"`
	EfficiencyPercent int          `json:"efficiency_percent"`
	StageMinutes      StageMinutes `json:"stage_minutes"`
}

// CanonicalID derives the stable identifier for a provider-native record.
func CanonicalID(source string, originalID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(source+":"+originalID)).String()
}
