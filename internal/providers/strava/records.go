package strava

import (
	"strconv"
	"strings"
	"time"
)

// Activity is a Strava summary activity.
type Activity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	SportType          string  `json:"sport_type"`
	Type               string  `json:"type"`
	StartDate          string  `json:"start_date"`
	Timezone           string  `json:"timezone"`
	MovingTime         int64   `json:"moving_time"`
	ElapsedTime        int64   `json:"elapsed_time"`
	Distance           float64 `json:"distance"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
	AverageHeartrate   float64 `json:"average_heartrate"`
	Kilojoules         float64 `json:"kilojoules"`
	Calories           float64 `json:"calories"`
}

// ProviderID implements providers.NativeActivity.
func (activity Activity) ProviderID() string {
	return ProviderID
}

// NativeID implements providers.NativeActivity.
func (activity Activity) NativeID() string {
	return strconv.FormatInt(activity.ID, 10)
}

// StartTime parses the UTC start_date.
func (activity Activity) StartTime() (time.Time, error) {
	return time.Parse(time.RFC3339, activity.StartDate)
}

// ZoneName strips the "(GMT-08:00) " prefix Strava puts before the IANA name.
func (activity Activity) ZoneName() string {
	zone := strings.TrimSpace(activity.Timezone)
	if index := strings.LastIndex(zone, ") "); index >= 0 {
		zone = zone[index+2:]
	}
	return zone
}

// Sport returns sport_type, falling back to the legacy type field.
func (activity Activity) Sport() string {
	if activity.SportType != "" {
		return activity.SportType
	}
	return activity.Type
}
