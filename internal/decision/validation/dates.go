package validation

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
	"02-01-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"02 JAN 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"20060102",
	// US month-first, tried only after the day-first layouts fail.
	"01/02/2006",
}

// ParseDate parses the date formats documents commonly print. Times are
// returned at midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// ParseMRZDate parses a YYMMDD date. pivot decides the century: two-digit
// years above pivot's two-digit year belong to the previous century. Pass
// the current time for birth dates and now+50y for expiry dates.
func ParseMRZDate(yymmdd string, pivot time.Time) (time.Time, error) {
	t, err := time.Parse("060102", yymmdd)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid MRZ date %q", yymmdd)
	}
	// time.Parse maps 69-99 to 19xx and 00-68 to 20xx; re-anchor on pivot.
	year := pivot.Year()/100*100 + t.Year()%100
	if year > pivot.Year() {
		year -= 100
	}
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
