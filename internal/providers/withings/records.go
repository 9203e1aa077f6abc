package withings

import (
	"strconv"
	"time"
)

// WorkoutData holds the measured values of a workout. Durations are seconds, distances meters.
type WorkoutData struct {
	Calories       float64 `json:"calories"`
	Steps          int64   `json:"steps"`
	Distance       float64 `json:"distance"`
	Elevation      float64 `json:"elevation"`
	HRAverage      float64 `json:"hr_average"`
	PauseDuration  int64   `json:"pause_duration"`
	ManualDistance float64 `json:"manual_distance"`
	ManualCalories float64 `json:"manual_calories"`
}

// Workout is one entry of the getworkouts series.
type Workout struct {
	ID        int64       `json:"id"`
	Category  int         `json:"category"`
	Timezone  string      `json:"timezone"`
	StartDate int64       `json:"startdate"`
	EndDate   int64       `json:"enddate"`
	Date      string      `json:"date"`
	Data      WorkoutData `json:"data"`
}

// ProviderID implements providers.NativeActivity.
func (workout Workout) ProviderID() string {
	return ProviderID
}

// NativeID implements providers.NativeActivity.
func (workout Workout) NativeID() string {
	return strconv.FormatInt(workout.ID, 10)
}

// Start returns the workout start instant.
func (workout Workout) Start() time.Time {
	return time.Unix(workout.StartDate, 0).UTC()
}

// SleepData holds summary durations in seconds; efficiency is a 0..1 ratio.
type SleepData struct {
	DeepSleepDuration  int64   `json:"deepsleepduration"`
	LightSleepDuration int64   `json:"lightsleepduration"`
	REMSleepDuration   int64   `json:"remsleepduration"`
	WakeupDuration     int64   `json:"wakeupduration"`
	SleepEfficiency    float64 `json:"sleep_efficiency"`
	TotalSleepTime     int64   `json:"total_sleep_time"`
}

// SleepSummary is one night of the sleep getsummary series.
type SleepSummary struct {
	ID        int64     `json:"id"`
	Timezone  string    `json:"timezone"`
	StartDate int64     `json:"startdate"`
	EndDate   int64     `json:"enddate"`
	Date      string    `json:"date"`
	Data      SleepData `json:"data"`
}

// ProviderID implements providers.NativeSleep.
func (summary SleepSummary) ProviderID() string {
	return ProviderID
}

// NativeID implements providers.NativeSleep.
func (summary SleepSummary) NativeID() string {
	return strconv.FormatInt(summary.ID, 10)
}
