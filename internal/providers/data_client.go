package providers

import (
	"context"
)

// Batch is everything fetched from one provider for one date range.
type Batch struct {
	Activities      []NativeActivity
	Sleep           []NativeSleep
	EndpointsCalled []string
	// SleepErr is set when activities were fetched but the sleep endpoint failed.
	SleepErr error
}

// RecordCount returns the number of provider-native records in the batch.
func (batch Batch) RecordCount() int {
	return len(batch.Activities) + len(batch.Sleep)
}

// DataClient fetches provider-native records through any registered Protocol.
type DataClient struct{}

// NewDataClient constructs a DataClient.
func NewDataClient() DataClient {
	return DataClient{}
}

// Fetch pulls activities, then sleep when the protocol supports it.
// An activities failure aborts the fetch; a sleep failure is reported on the batch.
func (DataClient) Fetch(ctx context.Context, protocol Protocol, accessToken string, userID string, dateRange DateRange) (Batch, error) {
	endpoints := protocol.Endpoints()
	activities, err := protocol.FetchActivities(ctx, accessToken, userID, dateRange)
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{
		Activities:      activities,
		EndpointsCalled: []string{endpoints.Activities},
	}
	sleepFetcher, ok := protocol.(SleepFetcher)
	if !ok || endpoints.Sleep == "" {
		return batch, nil
	}
	sleep, sleepErr := sleepFetcher.FetchSleep(ctx, accessToken, dateRange)
	if sleepErr != nil {
		batch.SleepErr = sleepErr
		return batch, nil
	}
	batch.Sleep = sleep
	batch.EndpointsCalled = append(batch.EndpointsCalled, endpoints.Sleep)
	return batch, nil
}
