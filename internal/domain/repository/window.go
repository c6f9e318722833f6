package repository

import (
	"fmt"
	"time"
)

// Window is a half-open [From, To) time range for store queries.
type Window struct {
	From time.Time
	To   time.Time
}

// NormalizeWindow fills missing bounds: To defaults to now truncated to the
// hour and From to lookback before To.
func NormalizeWindow(from, to *time.Time, lookback time.Duration, now time.Time) (Window, error) {
	w := Window{To: now.UTC().Truncate(time.Hour)}
	if to != nil {
		w.To = to.UTC()
	}
	w.From = w.To.Add(-lookback)
	if from != nil {
		w.From = from.UTC()
	}
	if !w.From.Before(w.To) {
		return Window{}, fmt.Errorf("invalid window: from %s is not before to %s",
			w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return w, nil
}
