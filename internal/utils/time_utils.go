package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseStringTime parses duration strings such as "500ms", "10s", "20M", "48h" or "2d".
// Everything except the day suffix is handled by time.ParseDuration.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.TrimSpace(strings.ToLower(timeString))
	if timeString == "" {
		return 0, fmt.Errorf("empty time string")
	}
	if cutString, found := strings.CutSuffix(timeString, "d"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", timeString, err)
		}
		return time.Duration(number) * 24 * time.Hour, nil
	}
	duration, err := time.ParseDuration(timeString)
	if err != nil {
		return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
	}
	return duration, nil
}

// ParseStringTimeOr returns fallback when timeString is empty or malformed.
func ParseStringTimeOr(timeString string, fallback time.Duration) time.Duration {
	duration, err := ParseStringTime(timeString)
	if err != nil || duration <= 0 {
		return fallback
	}
	return duration
}

// DateKey returns the calendar date of t in UTC as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
