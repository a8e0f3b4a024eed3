package snapshot

import (
	"fmt"
	"time"
)

// Accepted ISO layouts, most specific first. GreedyBear emits plain dates for
// days_seen and either dates or naive timestamps for first/last seen.
var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseDate parses an ISO date or timestamp into UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
}

// FormatDate renders t as a plain ISO date when it has no time-of-day and as
// an ISO timestamp otherwise, so values round-trip through ParseDate.
func FormatDate(t time.Time) string {
	t = t.UTC()
	if t.Equal(Day(t)) {
		return t.Format(time.DateOnly)
	}
	return t.Format("2006-01-02T15:04:05.999999")
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from earlier to
// later (negative when later precedes earlier).
func DaysBetween(earlier, later time.Time) int {
	return int(Day(later).Sub(Day(earlier)).Hours() / 24)
}
