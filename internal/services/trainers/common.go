package trainers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"GridCast/internal/domain/models"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinTrainingRows is the default minimum number of labelled rows a trainer
// accepts.
const MinTrainingRows = 100

// Options are shared by every trainer.
type Options struct {
	MinRows int
	// AuxSeries names the auxiliary inputs; they extend the feature set.
	AuxSeries []string
}

func (o Options) minRows() int {
	if o.MinRows <= 0 {
		return MinTrainingRows
	}
	return o.MinRows
}

var errSingular = errors.New("normal equations are singular")

// labelled keeps rows with an observed target.
func labelled(rows []models.FeatureVector) ([]models.FeatureVector, []float64) {
	out := make([]models.FeatureVector, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.Target == nil {
			continue
		}
		out = append(out, r)
		y = append(y, *r.Target)
	}
	return out, y
}

func checkRows(mt models.ModelType, n int, opts Options) error {
	if n < opts.minRows() {
		return &models.InsufficientDataError{Stage: "fit " + string(mt), Have: n, Need: opts.minRows()}
	}
	return nil
}

// mergeHyper overlays hp on defaults, ignoring unknown keys.
func mergeHyper(defaults, hp map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range hp {
		if _, ok := defaults[k]; ok {
			out[k] = v
		}
	}
	return out
}

func newParams(mt models.ModelType, rows []models.FeatureVector, hp map[string]float64, inputs []string) *models.ModelParameters {
	return &models.ModelParameters{
		ID:              uuid.NewString(),
		ModelType:       mt,
		Hyperparameters: hp,
		Inputs:          inputs,
		Coefficients:    make(map[string][]float64),
		Window: models.TrainingWindow{
			Start: rows[0].Timestamp,
			End:   rows[len(rows)-1].Timestamp,
			Rows:  len(rows),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func checkType(p *models.ModelParameters, mt models.ModelType) error {
	if p == nil {
		return fmt.Errorf("%s: nil parameters", mt)
	}
	if p.ModelType != mt {
		return fmt.Errorf("%s: parameters are for %s", mt, p.ModelType)
	}
	return nil
}

func coef(p *models.ModelParameters, name string, n int) ([]float64, error) {
	c, ok := p.Coefficients[name]
	if !ok {
		return nil, fmt.Errorf("%s: missing coefficient %q", p.ModelType, name)
	}
	if n >= 0 && len(c) != n {
		return nil, fmt.Errorf("%s: coefficient %q has %d values, want %d", p.ModelType, name, len(c), n)
	}
	return c, nil
}

func finiteOrErr(mt models.ModelType, v float64) (float64, error) {
	if !models.IsFinite(v) {
		return 0, fmt.Errorf("%s: non-finite prediction", mt)
	}
	return v, nil
}

func cancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// standardizer maps named features to zero-mean unit-variance inputs. A
// missing value maps to 0, the training mean.
type standardizer struct {
	names []string
	mean  []float64
	std   []float64
}

func fitStandardizer(rows []models.FeatureVector, names []string) standardizer {
	s := standardizer{
		names: names,
		mean:  make([]float64, len(names)),
		std:   make([]float64, len(names)),
	}
	col := make([]float64, 0, len(rows))
	for j, name := range names {
		col = col[:0]
		for i := range rows {
			if v, ok := rows[i].Lookup(name); ok {
				col = append(col, v)
			}
		}
		s.mean[j], s.std[j] = moments(col)
	}
	return s
}

// moments returns the mean and sample standard deviation of values. The
// standard deviation falls back to 1 when it is undefined or degenerate, and
// the mean to 0 when values is empty.
func moments(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 1
	case 1:
		return values[0], 1
	}
	mean, variance := stat.MeanVariance(values, nil)
	if !(variance > 1e-12) {
		return mean, 1
	}
	return mean, math.Sqrt(variance)
}

func standardizerFrom(p *models.ModelParameters) (standardizer, error) {
	mean, err := coef(p, "mean", len(p.Inputs))
	if err != nil {
		return standardizer{}, err
	}
	std, err := coef(p, "std", len(p.Inputs))
	if err != nil {
		return standardizer{}, err
	}
	return standardizer{names: p.Inputs, mean: mean, std: std}, nil
}

func (s standardizer) store(p *models.ModelParameters) {
	p.Coefficients["mean"] = s.mean
	p.Coefficients["std"] = s.std
}

func (s standardizer) row(v models.FeatureVector) []float64 {
	out := make([]float64, len(s.names))
	for j, name := range s.names {
		if x, ok := v.Lookup(name); ok {
			out[j] = (x - s.mean[j]) / s.std[j]
		}
	}
	return out
}

func (s standardizer) matrix(rows []models.FeatureVector) [][]float64 {
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = s.row(rows[i])
	}
	return out
}

// solveRidge fits y ≈ b0 + X·beta minimizing weighted squared error plus
// lambda·|beta|². The intercept is not penalized. weights may be nil.
func solveRidge(x [][]float64, y, weights []float64, lambda float64) (float64, []float64, error) {
	n := len(x)
	if n == 0 {
		return 0, nil, errSingular
	}
	p := len(x[0]) + 1

	a := make([]float64, p*p)
	rhs := make([]float64, p)
	row := make([]float64, p)
	for i := 0; i < n; i++ {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		row[0] = 1
		copy(row[1:], x[i])
		for r := 0; r < p; r++ {
			wr := w * row[r]
			rhs[r] += wr * y[i]
			for c := r; c < p; c++ {
				a[r*p+c] += wr * row[c]
			}
		}
	}
	for r := 1; r < p; r++ {
		a[r*p+r] += lambda
	}
	// NewSymDense reads the upper triangle only.
	xtx := mat.NewSymDense(p, a)
	xty := mat.NewVecDense(p, rhs)

	var chol mat.Cholesky
	if ok := chol.Factorize(xtx); !ok {
		return 0, nil, errSingular
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, xty); err != nil {
		// Ill-conditioning is reported but the solution is still usable;
		// the finiteness checks below catch real failures.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, nil, fmt.Errorf("cholesky solve: %w", err)
		}
	}
	out := make([]float64, p-1)
	for a := 1; a < p; a++ {
		out[a-1] = beta.AtVec(a)
		if !models.IsFinite(out[a-1]) {
			return 0, nil, errSingular
		}
	}
	b0 := beta.AtVec(0)
	if !models.IsFinite(b0) {
		return 0, nil, errSingular
	}
	return b0, out, nil
}
