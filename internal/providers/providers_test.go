package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type stubProtocol struct {
	id            string
	activities    []NativeActivity
	activitiesErr error
}

func (stub stubProtocol) ID() string { return stub.id }

func (stub stubProtocol) AuthCodeURL(state string, redirectURI string) string { return "" }

func (stub stubProtocol) ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenSet, error) {
	return TokenSet{}, nil
}

func (stub stubProtocol) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	return TokenSet{}, nil
}

func (stub stubProtocol) FetchActivities(ctx context.Context, accessToken string, userID string, dateRange DateRange) ([]NativeActivity, error) {
	return stub.activities, stub.activitiesErr
}

func (stub stubProtocol) Endpoints() Endpoints {
	return Endpoints{Primary: "activities", Activities: "activities", Sleep: "sleep"}
}

type sleepingProtocol struct {
	stubProtocol
	sleep    []NativeSleep
	sleepErr error
}

func (stub sleepingProtocol) FetchSleep(ctx context.Context, accessToken string, dateRange DateRange) ([]NativeSleep, error) {
	return stub.sleep, stub.sleepErr
}

type nativeRecord struct{ id string }

func (record nativeRecord) ProviderID() string { return "stub" }
func (record nativeRecord) NativeID() string   { return record.id }

func TestProviderErrorMapsKindsToSentinels(t *testing.T) {
	testCases := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{kind: KindAuth, sentinel: ErrProviderAuth},
		{kind: KindTransient, sentinel: ErrTransientFetch},
		{kind: KindRateLimited, sentinel: ErrTransientFetch},
		{kind: KindMalformed, sentinel: ErrMalformedProviderResponse},
	}
	for _, testCase := range testCases {
		err := joinWithPipeline(&ProviderError{Provider: "stub", Operation: "refresh", Kind: testCase.kind})
		if !errors.Is(err, testCase.sentinel) {
			t.Fatalf("expected %s to match %v", testCase.kind, testCase.sentinel)
		}
	}

	rejected := &ProviderError{Kind: KindRejected}
	if errors.Is(rejected, ErrTransientFetch) || errors.Is(rejected, ErrProviderAuth) {
		t.Fatalf("rejected errors must not match transient or auth")
	}
	if rejected.Terminal() {
		t.Fatalf("rejected errors are not terminal")
	}
}

func joinWithPipeline(err error) error {
	return errors.Join(errors.New("pipeline"), err)
}

func TestClassifyStatus(t *testing.T) {
	testCases := map[int]ErrorKind{
		http.StatusUnauthorized:        KindAuth,
		http.StatusForbidden:           KindAuth,
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusBadGateway:          KindTransient,
		http.StatusBadRequest:          KindRejected,
		http.StatusUnprocessableEntity: KindRejected,
	}
	for status, expected := range testCases {
		if kind := ClassifyStatus(status); kind != expected {
			t.Fatalf("status %d: expected %s, got %s", status, expected, kind)
		}
	}
	if kind := ClassifyOAuthError(http.StatusBadRequest, "invalid_grant"); kind != KindAuth {
		t.Fatalf("expected invalid_grant to be auth, got %s", kind)
	}
	for _, code := range []string{"invalid_client", "unauthorized_client"} {
		if kind := ClassifyOAuthError(http.StatusUnauthorized, code); kind != KindRejected {
			t.Fatalf("expected %s to be rejected, got %s", code, kind)
		}
	}
	if kind := ClassifyOAuthError(http.StatusBadRequest, "invalid_request"); kind != KindRejected {
		t.Fatalf("expected invalid_request to fall back to status, got %s", kind)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if value := ParseRetryAfter("17"); value != 17*time.Second {
		t.Fatalf("expected 17s, got %v", value)
	}
	if value := ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"); value != 0 {
		t.Fatalf("expected http-date to be ignored, got %v", value)
	}
}

func TestValidateTokenSet(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour)
	if err := ValidateTokenSet("stub", "exchange", TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: expiresAt}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateTokenSet("stub", "exchange", TokenSet{AccessToken: "a", ExpiresAt: expiresAt}, true)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Code != "missing_refresh_token" {
		t.Fatalf("expected missing_refresh_token, got %v", err)
	}
	if err := ValidateTokenSet("stub", "refresh", TokenSet{AccessToken: "a", ExpiresAt: expiresAt}, false); err != nil {
		t.Fatalf("refresh may omit refresh token: %v", err)
	}
	if err := ValidateTokenSet("stub", "refresh", TokenSet{AccessToken: "a"}, false); !errors.Is(err, ErrMalformedProviderResponse) {
		t.Fatalf("expected malformed for missing expiry, got %v", err)
	}
}

func TestDateRangeBounds(t *testing.T) {
	location, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	dateRange, err := NewDateRange(
		time.Date(2024, 3, 1, 15, 0, 0, 0, location),
		time.Date(2024, 3, 3, 1, 0, 0, 0, location),
		location,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dateRange.StartDate() != "2024-03-01" || dateRange.EndDate() != "2024-03-03" {
		t.Fatalf("unexpected dates %s..%s", dateRange.StartDate(), dateRange.EndDate())
	}
	if !dateRange.EndExclusive().Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, location)) {
		t.Fatalf("unexpected exclusive end %v", dateRange.EndExclusive())
	}

	// 03:30 UTC on the 4th is still the 3rd in New York.
	lateEvening := time.Date(2024, 3, 4, 3, 30, 0, 0, time.UTC)
	if !dateRange.ContainsDay(lateEvening, nil) {
		t.Fatalf("expected instant to fall on the last local day")
	}
	if dateRange.ContainsDay(lateEvening, time.UTC) {
		t.Fatalf("expected instant read in UTC to fall outside the range")
	}

	if _, err := NewDateRange(time.Now(), time.Now().AddDate(0, 0, -2), time.UTC); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
}

func TestLastDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	dateRange := LastDays(now, 7, time.UTC)
	if dateRange.StartDate() != "2024-03-04" || dateRange.EndDate() != "2024-03-10" {
		t.Fatalf("unexpected range %s..%s", dateRange.StartDate(), dateRange.EndDate())
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(stubProtocol{id: "withings"}, stubProtocol{id: "fitbit"})
	if ids := registry.IDs(); len(ids) != 2 || ids[0] != "fitbit" || ids[1] != "withings" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := registry.Lookup("fitbit"); err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if _, err := registry.Lookup("garmin"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestDataClientFetch(t *testing.T) {
	dateRange := LastDays(time.Now(), 3, time.UTC)
	client := NewDataClient()

	withoutSleep := stubProtocol{id: "stub", activities: []NativeActivity{nativeRecord{id: "a"}}}
	batch, err := client.Fetch(context.Background(), withoutSleep, "token", "user-1", dateRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.RecordCount() != 1 || len(batch.EndpointsCalled) != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	withSleep := sleepingProtocol{stubProtocol: withoutSleep, sleep: []NativeSleep{nativeRecord{id: "s"}}}
	batch, err = client.Fetch(context.Background(), withSleep, "token", "user-1", dateRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.RecordCount() != 2 || len(batch.EndpointsCalled) != 2 || batch.EndpointsCalled[1] != "sleep" {
		t.Fatalf("unexpected batch %+v", batch)
	}

	failingSleep := sleepingProtocol{stubProtocol: withoutSleep, sleepErr: errors.New("sleep down")}
	batch, err = client.Fetch(context.Background(), failingSleep, "token", "user-1", dateRange)
	if err != nil {
		t.Fatalf("sleep failure must not fail the batch: %v", err)
	}
	if batch.SleepErr == nil || len(batch.EndpointsCalled) != 1 {
		t.Fatalf("expected sleep error on batch, got %+v", batch)
	}

	failingActivities := stubProtocol{id: "stub", activitiesErr: &ProviderError{Kind: KindTransient}}
	if _, err := client.Fetch(context.Background(), failingActivities, "token", "user-1", dateRange); !errors.Is(err, ErrTransientFetch) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
