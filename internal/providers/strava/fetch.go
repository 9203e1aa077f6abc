package strava

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/tyemirov/healthsync/internal/providers"
)

const activityPageSize = 100

// FetchActivities implements providers.Protocol with page/per_page pagination over the
// epoch window covering the date range.
func (p *Provider) FetchActivities(ctx context.Context, accessToken string, userID string, dateRange providers.DateRange) ([]providers.NativeActivity, error) {
	activities := make([]providers.NativeActivity, 0)
	for page := 1; ; page++ {
		params := url.Values{
			"after":    {strconv.FormatInt(dateRange.StartDay().Unix()-1, 10)},
			"before":   {strconv.FormatInt(dateRange.EndExclusive().Unix(), 10)},
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(activityPageSize)},
		}
		endpoint := p.config.APIBaseURL + "/athlete/activities?" + params.Encode()
		response, err := providers.GetJSON(ctx, p.httpClient, ProviderID, "fetch_activities", endpoint, accessToken)
		if err != nil {
			return nil, err
		}
		if !response.OK() {
			return nil, apiError("fetch_activities", response)
		}
		var pageActivities []Activity
		if err := json.Unmarshal(response.Body, &pageActivities); err != nil {
			return nil, providers.DecodeFailure(ProviderID, "fetch_activities", response.Status, err)
		}
		for _, activity := range pageActivities {
			activities = append(activities, activity)
		}
		if len(pageActivities) < activityPageSize {
			return activities, nil
		}
	}
}
