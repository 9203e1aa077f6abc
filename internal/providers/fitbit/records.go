package fitbit

import (
	"strconv"
)

// Activity is one entry of the Fitbit activity log list.
type Activity struct {
	LogID            int64   `json:"logId"`
	ActivityName     string  `json:"activityName"`
	ActivityTypeID   int64   `json:"activityTypeId"`
	StartTime        string  `json:"startTime"`
	DurationMs       int64   `json:"duration"`
	ActiveDurationMs int64   `json:"activeDuration"`
	Distance         float64 `json:"distance"`
	DistanceUnit     string  `json:"distanceUnit"`
	ElevationGain    float64 `json:"elevationGain"`
	Steps            int64   `json:"steps"`
	Calories         float64 `json:"calories"`
	AverageHeartRate float64 `json:"averageHeartRate"`
}

// ProviderID implements providers.NativeActivity.
func (activity Activity) ProviderID() string {
	return ProviderID
}

// NativeID implements providers.NativeActivity.
func (activity Activity) NativeID() string {
	return strconv.FormatInt(activity.LogID, 10)
}

// StageSummary is one stage bucket of a sleep log's levels.summary.
type StageSummary struct {
	Minutes int `json:"minutes"`
}

// Sleep is one Fitbit sleep log. Stage logs carry deep/light/rem/wake, classic logs asleep/restless/awake.
type Sleep struct {
	LogID       int64  `json:"logId"`
	DateOfSleep string `json:"dateOfSleep"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	DurationMs  int64  `json:"duration"`
	Efficiency  int    `json:"efficiency"`
	Type        string `json:"type"`
	Levels      struct {
		Summary map[string]StageSummary `json:"summary"`
	} `json:"levels"`
	// Timezone is the zone used to interpret the offset-less StartTime and EndTime.
	Timezone string `json:"-"`
}

// ProviderID implements providers.NativeSleep.
func (sleep Sleep) ProviderID() string {
	return ProviderID
}

// NativeID implements providers.NativeSleep.
func (sleep Sleep) NativeID() string {
	return strconv.FormatInt(sleep.LogID, 10)
}

// StageMinutes returns the minutes recorded for a stage, zero when absent.
func (sleep Sleep) StageMinutes(stage string) int {
	return sleep.Levels.Summary[stage].Minutes
}
