// utils/timeofday.go
package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidStartingHour is returned for hours not shaped like "2pm" or "11:35am".
var ErrInvalidStartingHour = errors.New("invalid starting hour")

var startingHourPattern = regexp.MustCompile(`^([1-9]|1[0-2])(:([0-5][0-9]))?(am|pm)$`)

// Timezone abbreviations accepted in settings and admin edits.
var timezoneAbbreviations = map[string]string{
	"ET":  "America/New_York",
	"CT":  "America/Chicago",
	"MT":  "America/Denver",
	"PT":  "America/Los_Angeles",
	"UTC": "UTC",
}

// NormalizeStartingHour returns the canonical "h:mmam" form, e.g. "2pm" -> "2:00pm".
func NormalizeStartingHour(input string) (string, error) {
	cleaned := strings.ToLower(strings.Join(strings.Fields(input), ""))
	m := startingHourPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidStartingHour, input)
	}
	minutes := m[3]
	if minutes == "" {
		minutes = "00"
	}
	return m[1] + ":" + minutes + m[4], nil
}

// ParseStartingHour converts a 12-hour clock string into a 24-hour hour and minute.
func ParseStartingHour(input string) (hour, minute int, err error) {
	normalized, err := NormalizeStartingHour(input)
	if err != nil {
		return 0, 0, err
	}
	m := startingHourPattern.FindStringSubmatch(normalized)
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[3])
	switch {
	case m[4] == "am" && hour == 12:
		hour = 0
	case m[4] == "pm" && hour != 12:
		hour += 12
	}
	return hour, minute, nil
}

// LoadTimezone accepts an IANA name or one of ET/CT/MT/PT/UTC.
func LoadTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	if iana, ok := timezoneAbbreviations[strings.ToUpper(name)]; ok {
		name = iana
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// StartInstant places the starting hour on the local calendar day of "day",
// then moves daysAfter calendar days forward keeping the wall-clock time.
func StartInstant(day time.Time, startingHour string, loc *time.Location, daysAfter int) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	hour, minute, err := ParseStartingHour(startingHour)
	if err != nil {
		return time.Time{}, err
	}
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+daysAfter, hour, minute, 0, 0, loc), nil
}
