package recognition

import (
	"time"
)

// DateBasis selects which job date a recognition posting is dated on
type DateBasis string

const (
	DateBasisActualArrival   DateBasis = "ACTUAL_ARRIVAL"
	DateBasisActualDeparture DateBasis = "ACTUAL_DEPARTURE"
	DateBasisJobBookingDate  DateBasis = "JOB_BOOKING_DATE"
	DateBasisJobCreationDate DateBasis = "JOB_CREATION_DATE"
	DateBasisUserSpecified   DateBasis = "USER_SPECIFIED"
)

// IsValid checks if the basis is known
func (b DateBasis) IsValid() bool {
	_, ok := DateSources[b]
	return ok
}

// String returns the string representation of DateBasis
func (b DateBasis) String() string {
	return string(b)
}

// JobDates are the date fields a job document exposes
type JobDates struct {
	ActualArrival   *time.Time `json:"actual_arrival,omitempty"`
	Arrival         *time.Time `json:"arrival,omitempty"`
	ActualDeparture *time.Time `json:"actual_departure,omitempty"`
	Departure       *time.Time `json:"departure,omitempty"`
	BookingDate     *time.Time `json:"booking_date,omitempty"`
	JobOpenDate     *time.Time `json:"job_open_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	// UserSpecified is the explicit recognition date override
	UserSpecified *time.Time `json:"user_specified,omitempty"`
}

// DateResult is a resolved recognition date with the basis it came from
type DateResult struct {
	Basis DateBasis `json:"basis"`
	Date  time.Time `json:"date"`
}

// dateSource is a named accessor into JobDates
type dateSource struct {
	name string
	get  func(JobDates) *time.Time
}

func createdAt(d JobDates) *time.Time {
	if d.CreatedAt.IsZero() {
		return nil
	}
	return &d.CreatedAt
}

// DateSources maps each basis to its source fields in priority order
var DateSources = map[DateBasis][]dateSource{
	DateBasisActualArrival: {
		{name: "actual_arrival", get: func(d JobDates) *time.Time { return d.ActualArrival }},
		{name: "arrival", get: func(d JobDates) *time.Time { return d.Arrival }},
	},
	DateBasisActualDeparture: {
		{name: "actual_departure", get: func(d JobDates) *time.Time { return d.ActualDeparture }},
		{name: "departure", get: func(d JobDates) *time.Time { return d.Departure }},
	},
	DateBasisJobBookingDate: {
		{name: "booking_date", get: func(d JobDates) *time.Time { return d.BookingDate }},
		{name: "job_open_date", get: func(d JobDates) *time.Time { return d.JobOpenDate }},
	},
	DateBasisJobCreationDate: {
		{name: "created_at", get: createdAt},
	},
	DateBasisUserSpecified: {
		{name: "user_specified", get: func(d JobDates) *time.Time { return d.UserSpecified }},
	},
}

// ResolveDate returns the calendar date for a basis. It never falls back to
// the current date: a missing source yields a *DateResolutionError.
func ResolveDate(basis DateBasis, dates JobDates) (time.Time, error) {
	sources, ok := DateSources[basis]
	if !ok {
		return time.Time{}, &DateResolutionError{Basis: basis}
	}
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.name)
		if t := src.get(dates); t != nil && !t.IsZero() {
			return DateOnly(*t), nil
		}
	}
	return time.Time{}, &DateResolutionError{Basis: basis, Sources: names}
}

// DateOnly keeps the calendar date of a timestamp in its own location, as UTC midnight
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
