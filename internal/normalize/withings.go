package normalize

import (
	"math"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/providers/withings"
	"github.com/tyemirov/healthsync/internal/records"
)

// withingsCategories maps Withings workout category codes.
var withingsCategories = map[int]records.ActivityType{
	1:   records.ActivityWalking,
	2:   records.ActivityRunning,
	3:   records.ActivityHiking,
	6:   records.ActivityCycling,
	7:   records.ActivitySwimming,
	16:  records.ActivityStrength,
	18:  records.ActivityElliptical,
	28:  records.ActivityYoga,
	187: records.ActivityRowing,
}

// WithingsMapper maps Withings workouts and sleep summaries.
type WithingsMapper struct{}

// ProviderID implements Mapper.
func (WithingsMapper) ProviderID() string {
	return withings.ProviderID
}

// Activity implements Mapper. Manual distance and calories win over measured values when set.
func (WithingsMapper) Activity(native providers.NativeActivity, dateRange providers.DateRange) (records.ActivityRecord, error) {
	workout, ok := native.(withings.Workout)
	if !ok {
		return records.ActivityRecord{}, wrongType(withings.ProviderID, native)
	}
	activityType, known := withingsCategories[workout.Category]
	if !known {
		return records.ActivityRecord{}, unknownType(withings.ProviderID, workout.Category)
	}
	if workout.StartDate == 0 {
		return records.ActivityRecord{}, unmappable(withings.ProviderID, "startdate", nil)
	}

	elapsed := workout.EndDate - workout.StartDate
	if elapsed < 0 {
		elapsed = 0
	}
	moving := elapsed - workout.Data.PauseDuration
	if moving < 0 {
		moving = 0
	}
	distance := workout.Data.Distance
	if workout.Data.ManualDistance > 0 {
		distance = workout.Data.ManualDistance
	}
	calories := workout.Data.Calories
	if workout.Data.ManualCalories > 0 {
		calories = workout.Data.ManualCalories
	}
	zone := workout.Timezone
	if zone == "" {
		zone = dateRange.Location().String()
	}
	return records.ActivityRecord{
		ID:                  records.CanonicalID(withings.ProviderID, workout.NativeID()),
		Type:                activityType,
		StartTimeUTC:        workout.Start(),
		Timezone:            zone,
		DurationMovingSec:   moving,
		DurationElapsedSec:  elapsed,
		DistanceMeters:      distance,
		ElevationGainMeters: workout.Data.Elevation,
		Steps:               workout.Data.Steps,
		Calories:            calories,
		AverageHeartRateBPM: workout.Data.HRAverage,
		Source:              withings.ProviderID,
		OriginalID:          workout.NativeID(),
	}, nil
}

// Sleep implements Mapper.
func (WithingsMapper) Sleep(native providers.NativeSleep, dateRange providers.DateRange) (records.SleepRecord, error) {
	summary, ok := native.(withings.SleepSummary)
	if !ok {
		return records.SleepRecord{}, wrongType(withings.ProviderID, native)
	}
	if summary.StartDate == 0 || summary.EndDate == 0 {
		return records.SleepRecord{}, unmappable(withings.ProviderID, "startdate", nil)
	}
	startedAt := time.Unix(summary.StartDate, 0).UTC()
	endedAt := time.Unix(summary.EndDate, 0).UTC()
	return records.SleepRecord{
		LogID:             records.CanonicalID(withings.ProviderID, summary.NativeID()),
		Source:            withings.ProviderID,
		OriginalID:        summary.NativeID(),
		StartTime:         startedAt,
		EndTime:           endedAt,
		DurationMs:        endedAt.Sub(startedAt).Milliseconds(),
		EfficiencyPercent: int(math.Round(summary.Data.SleepEfficiency * 100)),
		StageMinutes: records.StageMinutes{
			Deep:  secondsToMinutes(summary.Data.DeepSleepDuration),
			Light: secondsToMinutes(summary.Data.LightSleepDuration),
			REM:   secondsToMinutes(summary.Data.REMSleepDuration),
			Wake:  secondsToMinutes(summary.Data.WakeupDuration),
		},
	}, nil
}

func secondsToMinutes(seconds int64) int {
	return int(seconds / 60)
}
