package normalize

import (
	"strings"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/providers/fitbit"
	"github.com/tyemirov/healthsync/internal/records"
)

const (
	metersPerKilometer = 1000.0
	metersPerMile      = 1609.344
	metersPerFoot      = 0.3048
)

// fitbitActivityNames maps lowercased Fitbit activity log names.
var fitbitActivityNames = map[string]records.ActivityType{
	"walk":              records.ActivityWalking,
	"walking":           records.ActivityWalking,
	"run":               records.ActivityRunning,
	"running":           records.ActivityRunning,
	"treadmill":         records.ActivityRunning,
	"hike":              records.ActivityHiking,
	"hiking":            records.ActivityHiking,
	"swim":              records.ActivitySwimming,
	"swimming":          records.ActivitySwimming,
	"bike":              records.ActivityCycling,
	"outdoor bike":      records.ActivityCycling,
	"spinning":          records.ActivityCycling,
	"rowing machine":    records.ActivityRowing,
	"rowing":            records.ActivityRowing,
	"elliptical":        records.ActivityElliptical,
	"yoga":              records.ActivityYoga,
	"weights":           records.ActivityStrength,
	"weight lifting":    records.ActivityStrength,
	"strength training": records.ActivityStrength,
}

// FitbitMapper maps Fitbit activity logs and sleep logs.
type FitbitMapper struct{}

// ProviderID implements Mapper.
func (FitbitMapper) ProviderID() string {
	return fitbit.ProviderID
}

// Activity implements Mapper. startTime carries the device's UTC offset, which becomes the record zone.
func (FitbitMapper) Activity(native providers.NativeActivity, dateRange providers.DateRange) (records.ActivityRecord, error) {
	activity, ok := native.(fitbit.Activity)
	if !ok {
		return records.ActivityRecord{}, wrongType(fitbit.ProviderID, native)
	}
	activityType, known := fitbitActivityNames[strings.ToLower(strings.TrimSpace(activity.ActivityName))]
	if !known {
		return records.ActivityRecord{}, unknownType(fitbit.ProviderID, activity.ActivityName)
	}
	startedAt, err := time.Parse(time.RFC3339, activity.StartTime)
	if err != nil {
		return records.ActivityRecord{}, unmappable(fitbit.ProviderID, "startTime", err)
	}

	elapsed := millisToSeconds(activity.DurationMs)
	moving := millisToSeconds(activity.ActiveDurationMs)
	if moving == 0 {
		moving = elapsed
	}
	distance, elevation := fitbitDistance(activity)
	return records.ActivityRecord{
		ID:                  records.CanonicalID(fitbit.ProviderID, activity.NativeID()),
		Type:                activityType,
		StartTimeUTC:        startedAt.UTC(),
		Timezone:            offsetZoneName(startedAt),
		DurationMovingSec:   moving,
		DurationElapsedSec:  elapsed,
		DistanceMeters:      distance,
		ElevationGainMeters: elevation,
		Steps:               activity.Steps,
		Calories:            activity.Calories,
		AverageHeartRateBPM: activity.AverageHeartRate,
		Source:              fitbit.ProviderID,
		OriginalID:          activity.NativeID(),
	}, nil
}

func fitbitDistance(activity fitbit.Activity) (float64, float64) {
	switch strings.ToLower(activity.DistanceUnit) {
	case "mile", "miles":
		return activity.Distance * metersPerMile, activity.ElevationGain * metersPerFoot
	default:
		return activity.Distance * metersPerKilometer, activity.ElevationGain
	}
}

// Sleep implements Mapper. Classic logs report asleep/restless/awake, folded into light and wake.
func (FitbitMapper) Sleep(native providers.NativeSleep, dateRange providers.DateRange) (records.SleepRecord, error) {
	sleep, ok := native.(fitbit.Sleep)
	if !ok {
		return records.SleepRecord{}, wrongType(fitbit.ProviderID, native)
	}
	zone := zoneOf(sleep.Timezone, dateRange)
	startedAt, err := fitbit.ParseLocalTime(sleep.StartTime, zone)
	if err != nil {
		return records.SleepRecord{}, unmappable(fitbit.ProviderID, "startTime", err)
	}
	endedAt, err := fitbit.ParseLocalTime(sleep.EndTime, zone)
	if err != nil {
		return records.SleepRecord{}, unmappable(fitbit.ProviderID, "endTime", err)
	}

	stages := records.StageMinutes{
		Deep:  sleep.StageMinutes("deep"),
		Light: sleep.StageMinutes("light"),
		REM:   sleep.StageMinutes("rem"),
		Wake:  sleep.StageMinutes("wake"),
	}
	if sleep.Type == "classic" {
		stages.Light = sleep.StageMinutes("asleep")
		stages.Wake = sleep.StageMinutes("restless") + sleep.StageMinutes("awake")
	}
	return records.SleepRecord{
		LogID:             records.CanonicalID(fitbit.ProviderID, sleep.NativeID()),
		Source:            fitbit.ProviderID,
		OriginalID:        sleep.NativeID(),
		StartTime:         startedAt.UTC(),
		EndTime:           endedAt.UTC(),
		DurationMs:        sleep.DurationMs,
		EfficiencyPercent: sleep.Efficiency,
		StageMinutes:      stages,
	}, nil
}
