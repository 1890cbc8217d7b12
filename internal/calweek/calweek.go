// Package calweek implements commercial-week calendar arithmetic.
//
// The commercial calendar follows ISO-8601 week numbering: weeks start on
// Monday and week 1 is the week containing the year's first Thursday. Days
// within a week are numbered 1..6 for Monday..Saturday and 0 for the Sunday
// that closes the week, so a rendered week reads [Mon .. Sat, Sun].
package calweek

import "time"

// Day numbers as stored on time entries.
const (
	DaySunday    = 0
	DayMonday    = 1
	DayTuesday   = 2
	DayWednesday = 3
	DayThursday  = 4
	DayFriday    = 5
	DaySaturday  = 6
)

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayName returns the English weekday name for a day number 0..6.
func DayName(day int) string {
	if day < 0 || day > 6 {
		return ""
	}
	return dayNames[day]
}

// FirstDayOfWeek1 returns the Monday starting commercial week 1 of year.
// January 4 always belongs to week 1, so week 1 starts on the Monday on or
// before it. The result falls within [Dec 29 of year-1, Jan 4 of year].
func FirstDayOfWeek1(year int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	back := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -back)
}

// LastWeekNumber returns the number of the final commercial week of year,
// which is always 52 or 53. December 28 always belongs to the last week.
func LastWeekNumber(year int) int {
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

// LastDayOfLastWeek returns the Saturday of the final commercial week of
// year, i.e. the last numbered weekday before the closing Sunday that hands
// over to week 1 of year+1.
func LastDayOfLastWeek(year int) time.Time {
	return FirstDayOfWeek1(year + 1).AddDate(0, 0, -2)
}

// DateFor resolves (year, week, day) to a concrete date. Day numbers 1..6
// map to Monday..Saturday of the week; day 0 maps to the Sunday following
// that Saturday. Week and day are not range-checked beyond the modulo; the
// validation layer owns those rules.
func DateFor(year, week, day int) time.Time {
	offset := (day + 6) % 7
	return FirstDayOfWeek1(year).AddDate(0, 0, (week-1)*7+offset)
}

// YearWeekOf returns the commercial (year, week) pair containing date.
func YearWeekOf(date time.Time) (int, int) {
	return date.ISOWeek()
}

// Contains reports whether date falls inside the given commercial week.
func Contains(year, week int, date time.Time) bool {
	start := DateFor(year, week, DayMonday)
	end := DateFor(year, week, DaySunday)
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(start) && !d.After(end)
}
