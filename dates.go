package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// parseDate tries each layout in order. Results are normalized to a UTC
// calendar date.
func parseDate(value string, layouts []string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return dateOnly(parsed), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %s", value)
}

// parseDateOrNull is the permissive variant used for record dates: an
// unparseable value becomes the zero time instead of dropping the row.
func parseDateOrNull(value string, layouts []string) time.Time {
	parsed, err := parseDate(value, layouts)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func dateOnly(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	y, m, d := value.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthStart(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format("2006-01-02")
}
