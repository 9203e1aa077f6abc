package googlefit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/fitness/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tyemirov/healthsync/internal/providers"
)

const (
	dataTypeSteps    = "com.google.step_count.delta"
	dataTypeCalories = "com.google.calories.expended"
	dataTypeDistance = "com.google.distance.delta"

	activityTypeSleep = 72
)

func (p *Provider) service(ctx context.Context, accessToken string) (*fitness.Service, error) {
	authorized := &http.Client{
		Timeout: p.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   p.httpClient.Transport,
		},
	}
	options := []option.ClientOption{option.WithHTTPClient(authorized)}
	if p.config.APIBaseURL != "" {
		options = append(options, option.WithEndpoint(p.config.APIBaseURL))
	}
	return fitness.NewService(ctx, options...)
}

// FetchActivities implements providers.Protocol: sessions are listed page by page, then joined
// with a session-bucketed aggregate of steps, calories and distance.
func (p *Provider) FetchActivities(ctx context.Context, accessToken string, userID string, dateRange providers.DateRange) ([]providers.NativeActivity, error) {
	service, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, providers.TransportError(ProviderID, "fetch_activities", err)
	}

	start := dateRange.StartDay()
	end := dateRange.EndExclusive()
	sessions := make([]*fitness.Session, 0)
	pageToken := ""
	for {
		call := service.Users.Sessions.List("me").
			StartTime(start.UTC().Format(time.RFC3339)).
			EndTime(end.UTC().Format(time.RFC3339)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		response, err := call.Do()
		if err != nil {
			return nil, apiError("fetch_activities", err)
		}
		for _, session := range response.Session {
			if session == nil || isSleepSession(session.ActivityType) {
				continue
			}
			sessions = append(sessions, session)
		}
		if response.NextPageToken == "" || response.NextPageToken == pageToken {
			break
		}
		pageToken = response.NextPageToken
	}
	if len(sessions) == 0 {
		return []providers.NativeActivity{}, nil
	}

	totals, err := p.aggregateBySession(ctx, service, start, end)
	if err != nil {
		return nil, err
	}

	zone := dateRange.Location().String()
	activities := make([]providers.NativeActivity, 0, len(sessions))
	for _, session := range sessions {
		native := Session{
			ID:               session.Id,
			Name:             session.Name,
			ActivityType:     session.ActivityType,
			StartTimeMillis:  session.StartTimeMillis,
			EndTimeMillis:    session.EndTimeMillis,
			ActiveTimeMillis: session.ActiveTimeMillis,
			Timezone:         zone,
		}
		if sessionTotals, ok := totals[session.Id]; ok {
			native.Steps = sessionTotals.Steps
			native.Calories = sessionTotals.Calories
			native.DistanceMeters = sessionTotals.DistanceMeters
		}
		activities = append(activities, native)
	}
	return activities, nil
}

type aggregateTotals struct {
	Steps          int64
	Calories       float64
	DistanceMeters float64
}

func (p *Provider) aggregateBySession(ctx context.Context, service *fitness.Service, start time.Time, end time.Time) (map[string]aggregateTotals, error) {
	request := &fitness.AggregateRequest{
		AggregateBy: []*fitness.AggregateBy{
			{DataTypeName: dataTypeSteps},
			{DataTypeName: dataTypeCalories},
			{DataTypeName: dataTypeDistance},
		},
		BucketBySession: &fitness.BucketBySession{},
		StartTimeMillis: start.UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	}
	response, err := service.Users.Dataset.Aggregate("me", request).Context(ctx).Do()
	if err != nil {
		return nil, apiError("aggregate", err)
	}

	totals := make(map[string]aggregateTotals, len(response.Bucket))
	for _, bucket := range response.Bucket {
		if bucket == nil || bucket.Session == nil {
			continue
		}
		sessionTotals := totals[bucket.Session.Id]
		for _, dataset := range bucket.Dataset {
			if dataset == nil {
				continue
			}
			for _, point := range dataset.Point {
				if point == nil {
					continue
				}
				for _, value := range point.Value {
					if value == nil {
						continue
					}
					switch point.DataTypeName {
					case dataTypeSteps:
						sessionTotals.Steps += value.IntVal
					case dataTypeCalories:
						sessionTotals.Calories += value.FpVal
					case dataTypeDistance:
						sessionTotals.DistanceMeters += value.FpVal
					}
				}
			}
		}
		totals[bucket.Session.Id] = sessionTotals
	}
	return totals, nil
}

func isSleepSession(activityType int64) bool {
	return activityType == activityTypeSleep || (activityType >= 109 && activityType <= 112)
}

func apiError(operation string, err error) error {
	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		providerErr := &providers.ProviderError{
			Provider:    ProviderID,
			Operation:   operation,
			Status:      googleErr.Code,
			Description: googleErr.Message,
			Kind:        providers.ClassifyStatus(googleErr.Code),
			Err:         err,
		}
		if len(googleErr.Errors) > 0 {
			providerErr.Code = googleErr.Errors[0].Reason
		}
		if googleErr.Header != nil {
			providerErr.RetryAfter = providers.ParseRetryAfter(googleErr.Header.Get("Retry-After"))
		}
		return providerErr
	}
	return providers.TransportError(ProviderID, operation, err)
}
