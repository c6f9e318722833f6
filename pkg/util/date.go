package util

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTime accepts RFC3339, RFC3339Nano, a bare date (2006-01-02) or unix
// seconds. The result is UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseWindow parses optional window bounds. Empty strings yield nil so
// callers keep their defaults.
func ParseWindow(from, to string) (*time.Time, *time.Time, error) {
	var f, t *time.Time
	if from != "" {
		v, ok := ParseTime(from)
		if !ok {
			return nil, nil, fmt.Errorf("invalid from %q", from)
		}
		f = &v
	}
	if to != "" {
		v, ok := ParseTime(to)
		if !ok {
			return nil, nil, fmt.Errorf("invalid to %q", to)
		}
		t = &v
	}
	if f != nil && t != nil && !f.Before(*t) {
		return nil, nil, fmt.Errorf("from %s must be before to %s", f.Format(time.RFC3339), t.Format(time.RFC3339))
	}
	return f, t, nil
}
