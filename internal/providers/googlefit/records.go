package googlefit

// Session is a Google Fit session joined with its per-session aggregates.
type Session struct {
	ID               string
	Name             string
	ActivityType     int64
	StartTimeMillis  int64
	EndTimeMillis    int64
	ActiveTimeMillis int64
	Steps            int64
	Calories         float64
	DistanceMeters   float64
	// Timezone is the calendar zone the session was fetched for; Fit sessions carry none.
	Timezone string
}

// ProviderID implements providers.NativeActivity.
func (session Session) ProviderID() string {
	return ProviderID
}

// NativeID implements providers.NativeActivity.
func (session Session) NativeID() string {
	return session.ID
}
