package normalize

import (
	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/providers/strava"
	"github.com/tyemirov/healthsync/internal/records"
)

// stravaSportTypes maps Strava sport_type values.
var stravaSportTypes = map[string]records.ActivityType{
	"Walk":             records.ActivityWalking,
	"Run":              records.ActivityRunning,
	"TrailRun":         records.ActivityRunning,
	"VirtualRun":       records.ActivityRunning,
	"Hike":             records.ActivityHiking,
	"Swim":             records.ActivitySwimming,
	"Ride":             records.ActivityCycling,
	"MountainBikeRide": records.ActivityCycling,
	"GravelRide":       records.ActivityCycling,
	"EBikeRide":        records.ActivityCycling,
	"VirtualRide":      records.ActivityCycling,
	"Rowing":           records.ActivityRowing,
	"Elliptical":       records.ActivityElliptical,
	"Yoga":             records.ActivityYoga,
	"WeightTraining":   records.ActivityStrength,
}

// StravaMapper maps Strava summary activities. Strava contributes no sleep.
type StravaMapper struct{}

// ProviderID implements Mapper.
func (StravaMapper) ProviderID() string {
	return strava.ProviderID
}

// Activity implements Mapper. Strava reports kilojoules of work for rides; without a calories
// field that figure is used as the kcal estimate.
func (StravaMapper) Activity(native providers.NativeActivity, dateRange providers.DateRange) (records.ActivityRecord, error) {
	activity, ok := native.(strava.Activity)
	if !ok {
		return records.ActivityRecord{}, wrongType(strava.ProviderID, native)
	}
	activityType, known := stravaSportTypes[activity.Sport()]
	if !known {
		return records.ActivityRecord{}, unknownType(strava.ProviderID, activity.Sport())
	}
	startedAt, err := activity.StartTime()
	if err != nil {
		return records.ActivityRecord{}, unmappable(strava.ProviderID, "start_date", err)
	}
	zone := activity.ZoneName()
	if zone == "" {
		zone = dateRange.Location().String()
	}
	calories := activity.Calories
	if calories == 0 {
		calories = activity.Kilojoules
	}
	return records.ActivityRecord{
		ID:                  records.CanonicalID(strava.ProviderID, activity.NativeID()),
		Type:                activityType,
		StartTimeUTC:        startedAt.UTC(),
		Timezone:            zone,
		DurationMovingSec:   activity.MovingTime,
		DurationElapsedSec:  activity.ElapsedTime,
		DistanceMeters:      activity.Distance,
		ElevationGainMeters: activity.TotalElevationGain,
		Calories:            calories,
		AverageHeartRateBPM: activity.AverageHeartrate,
		Source:              strava.ProviderID,
		OriginalID:          activity.NativeID(),
	}, nil
}

// Sleep implements Mapper.
func (StravaMapper) Sleep(native providers.NativeSleep, dateRange providers.DateRange) (records.SleepRecord, error) {
	return records.SleepRecord{}, wrongType(strava.ProviderID, native)
}
