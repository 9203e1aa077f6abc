package fitbit

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/tyemirov/healthsync/internal/providers"
)

const (
	activityPageSize = 100
	// fitbitLocalLayout is the offset-less timestamp Fitbit uses for sleep logs.
	fitbitLocalLayout = "2006-01-02T15:04:05.000"
)

type activityListResponse struct {
	Activities []Activity `json:"activities"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

type sleepRangeResponse struct {
	Sleep []Sleep `json:"sleep"`
}

// FetchActivities implements providers.Protocol using offset pagination over the activity log list.
// Fitbit always answers for the authorized user ("-"), so userID is not sent.
func (p *Provider) FetchActivities(ctx context.Context, accessToken string, userID string, dateRange providers.DateRange) ([]providers.NativeActivity, error) {
	activities := make([]providers.NativeActivity, 0)
	endExclusive := dateRange.EndExclusive()
	for offset := 0; ; offset += activityPageSize {
		params := url.Values{
			"afterDate": {dateRange.StartDay().Add(-time.Second).Format("2006-01-02T15:04:05")},
			"sort":      {"asc"},
			"limit":     {strconv.Itoa(activityPageSize)},
			"offset":    {strconv.Itoa(offset)},
		}
		endpoint := p.config.APIBaseURL + "/1/user/-/activities/list.json?" + params.Encode()
		response, err := providers.GetJSON(ctx, p.httpClient, ProviderID, "fetch_activities", endpoint, accessToken)
		if err != nil {
			return nil, err
		}
		if !response.OK() {
			return nil, apiError("fetch_activities", response)
		}
		var page activityListResponse
		if err := json.Unmarshal(response.Body, &page); err != nil {
			return nil, providers.DecodeFailure(ProviderID, "fetch_activities", response.Status, err)
		}

		pastRange := false
		for _, activity := range page.Activities {
			activities = append(activities, activity)
			if startedAt, parseErr := time.Parse(time.RFC3339, activity.StartTime); parseErr == nil && !startedAt.Before(endExclusive) {
				pastRange = true
			}
		}
		if pastRange || page.Pagination.Next == "" || len(page.Activities) < activityPageSize {
			return activities, nil
		}
	}
}

// FetchSleep implements providers.SleepFetcher.
func (p *Provider) FetchSleep(ctx context.Context, accessToken string, dateRange providers.DateRange) ([]providers.NativeSleep, error) {
	endpoint := p.config.APIBaseURL + "/1.2/user/-/sleep/date/" + dateRange.StartDate() + "/" + dateRange.EndDate() + ".json"
	response, err := providers.GetJSON(ctx, p.httpClient, ProviderID, "fetch_sleep", endpoint, accessToken)
	if err != nil {
		return nil, err
	}
	if !response.OK() {
		return nil, apiError("fetch_sleep", response)
	}
	var payload sleepRangeResponse
	if err := json.Unmarshal(response.Body, &payload); err != nil {
		return nil, providers.DecodeFailure(ProviderID, "fetch_sleep", response.Status, err)
	}
	zone := dateRange.Location().String()
	sleep := make([]providers.NativeSleep, 0, len(payload.Sleep))
	for _, entry := range payload.Sleep {
		entry.Timezone = zone
		sleep = append(sleep, entry)
	}
	return sleep, nil
}

// ParseLocalTime interprets a Fitbit sleep timestamp in the given zone.
func ParseLocalTime(value string, zone *time.Location) (time.Time, error) {
	if zone == nil {
		zone = time.UTC
	}
	if parsed, err := time.ParseInLocation(fitbitLocalLayout, value, zone); err == nil {
		return parsed, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, zone)
}
