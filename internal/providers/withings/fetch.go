package withings

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tyemirov/healthsync/internal/providers"
)

const sleepDataFields = "deepsleepduration,lightsleepduration,remsleepduration,wakeupduration,sleep_efficiency,total_sleep_time"

type workoutsBody struct {
	Series []Workout `json:"series"`
	More   bool      `json:"more"`
	Offset int       `json:"offset"`
}

type sleepBody struct {
	Series []SleepSummary `json:"series"`
	More   bool           `json:"more"`
	Offset int            `json:"offset"`
}

// FetchActivities implements providers.Protocol following the more/offset cursor.
func (p *Provider) FetchActivities(ctx context.Context, accessToken string, userID string, dateRange providers.DateRange) ([]providers.NativeActivity, error) {
	activities := make([]providers.NativeActivity, 0)
	offset := 0
	for {
		form := url.Values{
			"action":       {"getworkouts"},
			"startdateymd": {dateRange.StartDate()},
			"enddateymd":   {dateRange.EndDate()},
		}
		if offset > 0 {
			form.Set("offset", strconv.Itoa(offset))
		}
		var body workoutsBody
		if err := p.call(ctx, "fetch_activities", p.config.APIBaseURL+"/v2/measure", accessToken, form, &body); err != nil {
			return nil, err
		}
		for _, workout := range body.Series {
			activities = append(activities, workout)
		}
		if !body.More || body.Offset <= offset {
			return activities, nil
		}
		offset = body.Offset
	}
}

// FetchSleep implements providers.SleepFetcher.
func (p *Provider) FetchSleep(ctx context.Context, accessToken string, dateRange providers.DateRange) ([]providers.NativeSleep, error) {
	sleep := make([]providers.NativeSleep, 0)
	offset := 0
	for {
		form := url.Values{
			"action":       {"getsummary"},
			"startdateymd": {dateRange.StartDate()},
			"enddateymd":   {dateRange.EndDate()},
			"data_fields":  {sleepDataFields},
		}
		if offset > 0 {
			form.Set("offset", strconv.Itoa(offset))
		}
		var body sleepBody
		if err := p.call(ctx, "fetch_sleep", p.config.APIBaseURL+"/v2/sleep", accessToken, form, &body); err != nil {
			return nil, err
		}
		for _, summary := range body.Series {
			sleep = append(sleep, summary)
		}
		if !body.More || body.Offset <= offset {
			return sleep, nil
		}
		offset = body.Offset
	}
}
