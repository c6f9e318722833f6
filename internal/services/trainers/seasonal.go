package trainers

import (
	"context"
	"time"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"

	"gonum.org/v1/gonum/floats"
)

// Seasonal decomposes price into the harmonic terms plus a linear trend in
// time since the start of the training window. It reads only the timestamp
// harmonics, so it never lacks inputs.
//
// Hyperparameters:
//   - alpha: L2 penalty (default 1e-4).
//   - trend: 1 fits the trend term, 0 drops it (default 1).
type Seasonal struct {
	opts Options
}

var _ domsvc.Trainer = (*Seasonal)(nil)

// trendScale expresses elapsed time in years to keep the trend column near
// the harmonic scale.
const trendScale = float64(365 * 24 * time.Hour)

func NewSeasonal(opts Options) *Seasonal { return &Seasonal{opts: opts} }

func (s *Seasonal) Type() models.ModelType { return models.ModelSeasonal }

func (s *Seasonal) DefaultHyperparameters() map[string]float64 {
	return map[string]float64{"alpha": 1e-4, "trend": 1}
}

func seasonalRow(v models.FeatureVector, origin time.Time, trend bool) []float64 {
	out := make([]float64, models.HarmonicCount, models.HarmonicCount+1)
	copy(out, v.Harmonics[:])
	if trend {
		out = append(out, float64(v.Timestamp.Sub(origin))/trendScale)
	}
	return out
}

func (s *Seasonal) Fit(ctx context.Context, rows []models.FeatureVector, hp map[string]float64) (*models.ModelParameters, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	rows, y := labelled(rows)
	if err := checkRows(s.Type(), len(rows), s.opts); err != nil {
		return nil, err
	}
	hp = mergeHyper(s.DefaultHyperparameters(), hp)
	trend := hp["trend"] != 0
	origin := rows[0].Timestamp.Truncate(time.Second)

	x := make([][]float64, len(rows))
	for i := range rows {
		x[i] = seasonalRow(rows[i], origin, trend)
	}
	b0, beta, err := solveRidge(x, y, nil, hp["alpha"])
	if err != nil {
		return nil, &models.ModelFitError{Model: s.Type(), Err: err}
	}

	inputs := append([]string(nil), models.HarmonicNames[:]...)
	if trend {
		inputs = append(inputs, "trend")
	}
	p := newParams(s.Type(), rows, hp, inputs)
	p.Coefficients["intercept"] = []float64{b0}
	p.Coefficients["beta"] = beta
	p.Coefficients["origin"] = []float64{float64(origin.Unix())}
	return p, nil
}

func (s *Seasonal) Predict(p *models.ModelParameters, row models.FeatureVector) (float64, error) {
	if err := checkType(p, s.Type()); err != nil {
		return 0, err
	}
	trend := p.Hyper("trend", 1) != 0
	want := models.HarmonicCount
	if trend {
		want++
	}
	b0, err := coef(p, "intercept", 1)
	if err != nil {
		return 0, err
	}
	beta, err := coef(p, "beta", want)
	if err != nil {
		return 0, err
	}
	origin, err := seasonalOrigin(p)
	if err != nil {
		return 0, err
	}
	x := seasonalRow(row, origin, trend)
	return finiteOrErr(s.Type(), b0[0]+floats.Dot(beta, x))
}

// seasonalOrigin restores the trend origin. Fit truncates it to whole seconds
// so the stored value is exact.
func seasonalOrigin(p *models.ModelParameters) (time.Time, error) {
	origin, err := coef(p, "origin", 1)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(origin[0]), 0).UTC(), nil
}
