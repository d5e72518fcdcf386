package utils

import (
	"testing"
	"time"
)

func TestParseStringTime(t *testing.T) {
	tests := []struct {
		timeString string
		expected   time.Duration
	}{
		{"10s", 10 * time.Second},
		{"20M", 20 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 2 * time.Hour * 24},
		{"500ms", 500 * time.Millisecond},
		{"1m30s", 90 * time.Second},
	}

	for _, test := range tests {
		result, err := ParseStringTime(test.timeString)
		if err != nil {
			t.Errorf("ParseStringTime(%s): unexpected error %v", test.timeString, err)
			continue
		}
		if result != test.expected {
			t.Errorf("ParseStringTime(%s): expected %v, got %v", test.timeString, test.expected, result)
		}
	}
}

func TestParseStringTimeInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "xd", "10q"} {
		if _, err := ParseStringTime(input); err == nil {
			t.Errorf("ParseStringTime(%q): expected error", input)
		}
	}
}

func TestParseStringTimeOr(t *testing.T) {
	if got := ParseStringTimeOr("", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %v", got)
	}
	if got := ParseStringTimeOr("-5s", time.Second); got != time.Second {
		t.Errorf("expected fallback for negative duration, got %v", got)
	}
	if got := ParseStringTimeOr("3s", time.Second); got != 3*time.Second {
		t.Errorf("expected 3s, got %v", got)
	}
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2026-10-17 01:00 at UTC+9 is still 2026-10-16 in UTC.
	ts := time.Date(2026, 10, 17, 1, 0, 0, 0, loc)
	if got := DateKey(ts); got != "2026-10-16" {
		t.Errorf("expected 2026-10-16, got %s", got)
	}
}
