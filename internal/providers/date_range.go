package providers

import (
	"errors"
	"time"
)

const dayLayout = "2006-01-02"

var errInvertedDateRange = errors.New("provider.date_range.inverted")

// DateRange is an inclusive span of provider-local calendar days.
type DateRange struct {
	start    time.Time
	end      time.Time
	location *time.Location
}

// NewDateRange truncates both bounds to calendar days in location.
func NewDateRange(start time.Time, end time.Time, location *time.Location) (DateRange, error) {
	if location == nil {
		location = time.UTC
	}
	startDay := truncateToDay(start.In(location))
	endDay := truncateToDay(end.In(location))
	if endDay.Before(startDay) {
		return DateRange{}, errInvertedDateRange
	}
	return DateRange{start: startDay, end: endDay, location: location}, nil
}

// LastDays returns the range of the given number of days ending on the day containing now.
func LastDays(now time.Time, days int, location *time.Location) DateRange {
	if days < 1 {
		days = 1
	}
	dateRange, _ := NewDateRange(now.AddDate(0, 0, -(days-1)), now, location)
	return dateRange
}

// Location returns the calendar's time zone.
func (dateRange DateRange) Location() *time.Location {
	if dateRange.location == nil {
		return time.UTC
	}
	return dateRange.location
}

// StartDay returns midnight of the first day.
func (dateRange DateRange) StartDay() time.Time {
	return dateRange.start
}

// EndDay returns midnight of the last day.
func (dateRange DateRange) EndDay() time.Time {
	return dateRange.end
}

// EndExclusive returns midnight following the last day.
func (dateRange DateRange) EndExclusive() time.Time {
	return dateRange.end.AddDate(0, 0, 1)
}

// StartDate formats the first day as YYYY-MM-DD.
func (dateRange DateRange) StartDate() string {
	return dateRange.start.Format(dayLayout)
}

// EndDate formats the last day as YYYY-MM-DD.
func (dateRange DateRange) EndDate() string {
	return dateRange.end.Format(dayLayout)
}

// ContainsDay reports whether the calendar day of instant, read in zone, falls within the range.
// A nil zone reads the instant in the range's own location.
func (dateRange DateRange) ContainsDay(instant time.Time, zone *time.Location) bool {
	if zone == nil {
		zone = dateRange.Location()
	}
	local := instant.In(zone)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, dateRange.Location())
	return !day.Before(dateRange.start) && !day.After(dateRange.end)
}

func truncateToDay(instant time.Time) time.Time {
	return time.Date(instant.Year(), instant.Month(), instant.Day(), 0, 0, 0, 0, instant.Location())
}
