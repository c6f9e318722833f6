package trainers

import (
	"context"
	"math"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"

	"gonum.org/v1/gonum/floats"
)

// Sequence is a recurrent proxy: an exponential-smoothing cell runs over the
// trailing price window and a ridge readout projects the final state forward.
// Rows without a window fall back to the training mean of each state input.
//
// Hyperparameters:
//   - window: trailing hours consumed, capped by the feature window (default 24).
//   - alpha: smoothing factor of the cell in (0,1] (default 0.5).
//   - l2: ridge penalty on the readout (default 1).
type Sequence struct {
	opts Options
}

var _ domsvc.Trainer = (*Sequence)(nil)

var sequenceInputs = []string{"seq_level", "seq_last", "seq_slope", "daily_sin_1", "daily_cos_1"}

func NewSequence(opts Options) *Sequence { return &Sequence{opts: opts} }

func (s *Sequence) Type() models.ModelType { return models.ModelSequence }

func (s *Sequence) DefaultHyperparameters() map[string]float64 {
	return map[string]float64{"window": 24, "alpha": 0.5, "l2": 1.0}
}

// state runs the cell over the last w prices and returns the named inputs.
// NaN marks a missing value.
func sequenceState(row models.FeatureVector, w int, alpha float64) []float64 {
	out := []float64{math.NaN(), math.NaN(), math.NaN(), row.Harmonics[0], row.Harmonics[1]}
	win := row.PriceWindow
	if len(win) > w {
		win = win[len(win)-w:]
	}
	if len(win) == 0 {
		return out
	}
	level := win[0]
	for _, v := range win[1:] {
		level = alpha*v + (1-alpha)*level
	}
	last := win[len(win)-1]
	out[0] = level
	out[1] = last
	if len(win) > 1 {
		out[2] = (last - win[0]) / float64(len(win)-1)
	} else {
		out[2] = 0
	}
	return out
}

func (s *Sequence) Fit(ctx context.Context, rows []models.FeatureVector, hp map[string]float64) (*models.ModelParameters, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	rows, y := labelled(rows)
	if err := checkRows(s.Type(), len(rows), s.opts); err != nil {
		return nil, err
	}
	hp = mergeHyper(s.DefaultHyperparameters(), hp)
	w, alpha := s.shape(hp)

	raw := make([][]float64, len(rows))
	for i := range rows {
		raw[i] = sequenceState(rows[i], w, alpha)
	}

	k := len(sequenceInputs)
	mean := make([]float64, k)
	std := make([]float64, k)
	col := make([]float64, 0, len(raw))
	for j := 0; j < k; j++ {
		col = col[:0]
		for i := range raw {
			if v := raw[i][j]; !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		mean[j], std[j] = moments(col)
	}
	x := make([][]float64, len(raw))
	for i := range raw {
		x[i] = scaleState(raw[i], mean, std)
	}

	b0, beta, err := solveRidge(x, y, nil, hp["l2"])
	if err != nil {
		return nil, &models.ModelFitError{Model: s.Type(), Err: err}
	}

	p := newParams(s.Type(), rows, hp, sequenceInputs)
	p.Coefficients["mean"] = mean
	p.Coefficients["std"] = std
	p.Coefficients["intercept"] = []float64{b0}
	p.Coefficients["beta"] = beta
	return p, nil
}

func (s *Sequence) Predict(p *models.ModelParameters, row models.FeatureVector) (float64, error) {
	if err := checkType(p, s.Type()); err != nil {
		return 0, err
	}
	k := len(sequenceInputs)
	mean, err := coef(p, "mean", k)
	if err != nil {
		return 0, err
	}
	std, err := coef(p, "std", k)
	if err != nil {
		return 0, err
	}
	b0, err := coef(p, "intercept", 1)
	if err != nil {
		return 0, err
	}
	beta, err := coef(p, "beta", k)
	if err != nil {
		return 0, err
	}
	w, alpha := s.shape(p.Hyperparameters)
	x := scaleState(sequenceState(row, w, alpha), mean, std)
	return finiteOrErr(s.Type(), b0[0]+floats.Dot(beta, x))
}

func (s *Sequence) shape(hp map[string]float64) (int, float64) {
	w := int(hp["window"])
	if w < 1 {
		w = 24
	}
	alpha := hp["alpha"]
	if alpha <= 0 || alpha > 1 {
		alpha = 0.5
	}
	return w, alpha
}

func scaleState(raw, mean, std []float64) []float64 {
	out := make([]float64, len(raw))
	for j, v := range raw {
		if !math.IsNaN(v) {
			out[j] = (v - mean[j]) / std[j]
		}
	}
	return out
}
