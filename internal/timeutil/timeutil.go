package timeutil

import (
	"errors"
	"fmt"
	"time"

	"taskminder/internal/model"
)

var (
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrInvalidDateParts = errors.New("invalid date parts")
)

// DisplayFormat is the wall-clock format shown in every notification.
const DisplayFormat = "02.01.2006 15:04"

// LoadZone resolves an IANA zone name. An empty name means UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// ToAbsoluteInstant converts wall-clock parts in the given IANA zone to
// the equivalent UTC instant. The zone offset is resolved for that
// calendar date, so DST transitions are honored. Parts are validated,
// not normalized: February 30th is an error, not March 2nd.
func ToAbsoluteInstant(year int, month time.Month, day, hour, minute int, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	if month < time.January || month > time.December {
		return time.Time{}, fmt.Errorf("%w: month %d", ErrInvalidDateParts, int(month))
	}
	if day < 1 || day > daysIn(year, month) {
		return time.Time{}, fmt.Errorf("%w: day %d of %s %d", ErrInvalidDateParts, day, month, year)
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("%w: hour %d", ErrInvalidDateParts, hour)
	}
	if minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: minute %d", ErrInvalidDateParts, minute)
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc).UTC(), nil
}

// FormatForDisplay renders an instant as local wall-clock time in the
// given zone.
func FormatForDisplay(t time.Time, zone string) (string, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format(DisplayFormat), nil
}

// NextOccurrence advances a due instant by one recurrence period.
//
// Fixed-duration rules (hourly, custom minutes) add an exact duration.
// Calendar rules (daily, weekly, monthly, yearly) add calendar units in
// the given zone, so the local wall-clock time is preserved across DST
// transitions. Monthly and yearly advances clamp an overflowing
// day-of-month to the last day of the target month: Jan 31 + 1 month is
// Feb 28 (or 29), not Mar 2/3.
func NextOccurrence(prev time.Time, rule model.Repeat, everyMinutes int, zone string) (time.Time, error) {
	switch rule {
	case model.RepeatHourly:
		return prev.Add(time.Hour), nil
	case model.RepeatCustom:
		if everyMinutes < 1 {
			return time.Time{}, fmt.Errorf("custom repeat needs a positive minute interval, got %d", everyMinutes)
		}
		return prev.Add(time.Duration(everyMinutes) * time.Minute), nil
	}

	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	local := prev.In(loc)

	var next time.Time
	switch rule {
	case model.RepeatDaily:
		next = local.AddDate(0, 0, 1)
	case model.RepeatWeekly:
		next = local.AddDate(0, 0, 7)
	case model.RepeatMonthly:
		next = addMonthsClamped(local, 1)
	case model.RepeatYearly:
		next = addMonthsClamped(local, 12)
	default:
		return time.Time{}, fmt.Errorf("no recurrence for rule %q", rule)
	}
	return next.UTC(), nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	// Anchor on the 1st so the month arithmetic itself cannot overflow,
	// then clamp the day to what the target month actually has.
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	day := t.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), day, hh, mm, ss, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in a month; day 0 of the next
// month normalizes to the last day of this one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
