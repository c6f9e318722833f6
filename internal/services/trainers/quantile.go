package trainers

import (
	"context"
	"math"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"

	"gonum.org/v1/gonum/floats"
)

// Quantile is linear quantile regression fit by iteratively reweighted least
// squares. With tau above 0.5 under-forecasts cost more than over-forecasts.
//
// Hyperparameters:
//   - tau: target quantile in (0,1) (default 0.5).
//   - alpha: L2 penalty keeping each weighted solve well posed (default 0.1).
//   - max_iter: IRLS iteration cap (default 50).
type Quantile struct {
	opts Options
}

var _ domsvc.Trainer = (*Quantile)(nil)

const (
	irlsDelta     = 1e-4
	irlsTolerance = 1e-6
)

func NewQuantile(opts Options) *Quantile { return &Quantile{opts: opts} }

func (q *Quantile) Type() models.ModelType { return models.ModelQuantile }

func (q *Quantile) DefaultHyperparameters() map[string]float64 {
	return map[string]float64{"tau": 0.5, "alpha": 0.1, "max_iter": 50}
}

func (q *Quantile) Fit(ctx context.Context, rows []models.FeatureVector, hp map[string]float64) (*models.ModelParameters, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	rows, y := labelled(rows)
	if err := checkRows(q.Type(), len(rows), q.opts); err != nil {
		return nil, err
	}
	hp = mergeHyper(q.DefaultHyperparameters(), hp)
	tau := math.Min(math.Max(hp["tau"], 0.01), 0.99)
	maxIter := int(math.Max(hp["max_iter"], 1))

	inputs := models.InputNames(q.opts.AuxSeries)
	std := fitStandardizer(rows, inputs)
	x := std.matrix(rows)

	b0, beta, err := solveRidge(x, y, nil, hp["alpha"])
	if err != nil {
		return nil, &models.ModelFitError{Model: q.Type(), Err: err}
	}

	weights := make([]float64, len(rows))
	for iter := 0; iter < maxIter; iter++ {
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		for i := range rows {
			r := y[i] - (b0 + floats.Dot(beta, x[i]))
			w := tau
			if r < 0 {
				w = 1 - tau
			}
			weights[i] = w / math.Max(math.Abs(r), irlsDelta)
		}
		nb0, nbeta, err := solveRidge(x, y, weights, hp["alpha"])
		if err != nil {
			return nil, &models.ModelFitError{Model: q.Type(), Err: err}
		}
		change := math.Abs(nb0 - b0)
		for j := range beta {
			change = math.Max(change, math.Abs(nbeta[j]-beta[j]))
		}
		b0, beta = nb0, nbeta
		if change < irlsTolerance {
			break
		}
	}

	p := newParams(q.Type(), rows, hp, inputs)
	std.store(p)
	p.Coefficients["intercept"] = []float64{b0}
	p.Coefficients["beta"] = beta
	return p, nil
}

func (q *Quantile) Predict(p *models.ModelParameters, row models.FeatureVector) (float64, error) {
	return predictLinear(p, q.Type(), row)
}
