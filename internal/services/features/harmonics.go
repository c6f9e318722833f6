package features

import (
	"math"
	"time"

	"GridCast/internal/domain/models"
)

// Harmonics returns sin/cos of 2πk·phase for k=1,2 over the daily, weekly
// and annual cycles, in models.HarmonicNames order. Phases are taken in UTC.
func Harmonics(t time.Time) [models.HarmonicCount]float64 {
	t = t.UTC()
	dayFrac := (float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600) / 24

	// Monday starts the week.
	weekday := (int(t.Weekday()) + 6) % 7
	phases := [3]float64{
		dayFrac,
		(float64(weekday) + dayFrac) / 7,
		(float64(t.YearDay()-1) + dayFrac) / 365,
	}

	var out [models.HarmonicCount]float64
	i := 0
	for _, p := range phases {
		for k := 1; k <= 2; k++ {
			angle := 2 * math.Pi * float64(k) * p
			out[i] = math.Sin(angle)
			out[i+1] = math.Cos(angle)
			i += 2
		}
	}
	return out
}
