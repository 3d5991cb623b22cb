package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseTimestamp accepts the RFC 3339 variants APIs usually emit and falls back to
// dateparse for looser formats. The result is always UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q as timestamp: %w", s, err)
	}
	return t.UTC(), nil
}

// ParseDay resolves "today", "yesterday" or a date in any format ParseTimestamp
// understands to a UTC calendar day.
func ParseDay(s string, now time.Time) (time.Time, error) {
	now = now.UTC()
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	}
	return ParseTimestamp(s)
}
