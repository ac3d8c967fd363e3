package eventstore

import (
	"strings"
	"time"
)

// layouts without an offset are read in the source location.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// NormalizeDate returns the instant in UTC. A typed instant wins over text;
// text without an offset is interpreted in loc; anything unusable becomes now.
func NormalizeDate(t time.Time, text string, loc *time.Location, now time.Time) time.Time {
	if !t.IsZero() {
		return t.UTC()
	}
	if parsed, ok := ParseDate(text, loc); ok {
		return parsed
	}
	return now.UTC()
}

// ParseDate parses an ISO-8601 or "YYYY-MM-DD HH:MM:SS" timestamp into UTC.
func ParseDate(text string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
