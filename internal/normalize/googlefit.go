package normalize

import (
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
	"github.com/tyemirov/healthsync/internal/providers/googlefit"
	"github.com/tyemirov/healthsync/internal/records"
)

// googleFitActivityCodes maps Google Fit activity type codes.
var googleFitActivityCodes = map[int64]records.ActivityType{
	7:   records.ActivityWalking,
	93:  records.ActivityWalking,
	94:  records.ActivityWalking,
	8:   records.ActivityRunning,
	56:  records.ActivityRunning,
	57:  records.ActivityRunning,
	58:  records.ActivityRunning,
	35:  records.ActivityHiking,
	82:  records.ActivitySwimming,
	83:  records.ActivitySwimming,
	84:  records.ActivitySwimming,
	1:   records.ActivityCycling,
	14:  records.ActivityCycling,
	15:  records.ActivityCycling,
	16:  records.ActivityCycling,
	17:  records.ActivityCycling,
	18:  records.ActivityCycling,
	19:  records.ActivityCycling,
	103: records.ActivityRowing,
	104: records.ActivityRowing,
	25:  records.ActivityElliptical,
	100: records.ActivityYoga,
	80:  records.ActivityStrength,
	113: records.ActivityStrength,
}

// GoogleFitMapper maps Google Fit sessions. Google Fit contributes no sleep.
type GoogleFitMapper struct{}

// ProviderID implements Mapper.
func (GoogleFitMapper) ProviderID() string {
	return googlefit.ProviderID
}

// Activity implements Mapper.
func (GoogleFitMapper) Activity(native providers.NativeActivity, dateRange providers.DateRange) (records.ActivityRecord, error) {
	session, ok := native.(googlefit.Session)
	if !ok {
		return records.ActivityRecord{}, wrongType(googlefit.ProviderID, native)
	}
	activityType, known := googleFitActivityCodes[session.ActivityType]
	if !known {
		return records.ActivityRecord{}, unknownType(googlefit.ProviderID, session.ActivityType)
	}
	if session.ID == "" || session.StartTimeMillis == 0 {
		return records.ActivityRecord{}, unmappable(googlefit.ProviderID, "session", nil)
	}

	elapsed := millisToSeconds(session.EndTimeMillis - session.StartTimeMillis)
	if elapsed < 0 {
		elapsed = 0
	}
	moving := millisToSeconds(session.ActiveTimeMillis)
	if moving == 0 {
		moving = elapsed
	}
	zone := session.Timezone
	if zone == "" {
		zone = dateRange.Location().String()
	}
	return records.ActivityRecord{
		ID:                 records.CanonicalID(googlefit.ProviderID, session.ID),
		Type:               activityType,
		StartTimeUTC:       time.UnixMilli(session.StartTimeMillis).UTC(),
		Timezone:           zone,
		DurationMovingSec:  moving,
		DurationElapsedSec: elapsed,
		DistanceMeters:     session.DistanceMeters,
		Steps:              session.Steps,
		Calories:           session.Calories,
		Source:             googlefit.ProviderID,
		OriginalID:         session.ID,
	}, nil
}

// Sleep implements Mapper.
func (GoogleFitMapper) Sleep(native providers.NativeSleep, dateRange providers.DateRange) (records.SleepRecord, error) {
	return records.SleepRecord{}, wrongType(googlefit.ProviderID, native)
}
