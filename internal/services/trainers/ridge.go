package trainers

import (
	"context"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"

	"gonum.org/v1/gonum/floats"
)

// Ridge is L2-regularized linear regression over standardized inputs,
// solved in closed form.
//
// Hyperparameters:
//   - alpha: L2 penalty on the standardized coefficients (default 1).
type Ridge struct {
	opts Options
}

var _ domsvc.Trainer = (*Ridge)(nil)

func NewRidge(opts Options) *Ridge { return &Ridge{opts: opts} }

func (r *Ridge) Type() models.ModelType { return models.ModelRidge }

func (r *Ridge) DefaultHyperparameters() map[string]float64 {
	return map[string]float64{"alpha": 1.0}
}

func (r *Ridge) Fit(ctx context.Context, rows []models.FeatureVector, hp map[string]float64) (*models.ModelParameters, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	rows, y := labelled(rows)
	if err := checkRows(r.Type(), len(rows), r.opts); err != nil {
		return nil, err
	}
	hp = mergeHyper(r.DefaultHyperparameters(), hp)

	inputs := models.InputNames(r.opts.AuxSeries)
	std := fitStandardizer(rows, inputs)
	b0, beta, err := solveRidge(std.matrix(rows), y, nil, hp["alpha"])
	if err != nil {
		return nil, &models.ModelFitError{Model: r.Type(), Err: err}
	}

	p := newParams(r.Type(), rows, hp, inputs)
	std.store(p)
	p.Coefficients["intercept"] = []float64{b0}
	p.Coefficients["beta"] = beta
	return p, nil
}

func (r *Ridge) Predict(p *models.ModelParameters, row models.FeatureVector) (float64, error) {
	return predictLinear(p, r.Type(), row)
}

// predictLinear serves any model stored as standardizer + intercept + beta.
func predictLinear(p *models.ModelParameters, mt models.ModelType, row models.FeatureVector) (float64, error) {
	if err := checkType(p, mt); err != nil {
		return 0, err
	}
	std, err := standardizerFrom(p)
	if err != nil {
		return 0, err
	}
	b0, err := coef(p, "intercept", 1)
	if err != nil {
		return 0, err
	}
	beta, err := coef(p, "beta", len(p.Inputs))
	if err != nil {
		return 0, err
	}
	return finiteOrErr(mt, b0[0]+floats.Dot(beta, std.row(row)))
}
