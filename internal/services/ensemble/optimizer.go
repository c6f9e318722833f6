// Package ensemble learns convex blending weights over base model
// predictions.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"
	"GridCast/internal/services/evaluation"
	"GridCast/pkg/config"

	"gonum.org/v1/gonum/floats"
)

// Config controls the coordinate descent.
type Config struct {
	MaxIterations int
	// Tolerance is the smallest step tried and the sMAPE margin treated as
	// a tie.
	Tolerance         float64
	InitialStep       float64
	BacktrackingRatio float64
	Seed              uint64
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:     500,
		Tolerance:         1e-6,
		InitialStep:       0.1,
		BacktrackingRatio: 0.5,
		Seed:              42,
	}
}

func ConfigFrom(c *config.Config) Config {
	out := DefaultConfig()
	out.MaxIterations = c.Ensemble.MaxIterations
	out.Tolerance = c.Ensemble.Tolerance
	out.InitialStep = c.Ensemble.InitialStep
	out.Seed = c.Pipeline.Seed
	return out
}

// Optimizer runs pairwise coordinate descent on the weight simplex: each move
// shifts mass from one model to another, so weights stay non-negative and
// sum to one. The step halves whenever a full sweep finds no improvement.
type Optimizer struct {
	cfg Config
}

var _ domsvc.EnsembleOptimizer = (*Optimizer)(nil)

func NewOptimizer(cfg Config) *Optimizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	if cfg.InitialStep <= 0 || cfg.InitialStep > 1 {
		cfg.InitialStep = DefaultConfig().InitialStep
	}
	if cfg.BacktrackingRatio <= 0 || cfg.BacktrackingRatio >= 1 {
		cfg.BacktrackingRatio = DefaultConfig().BacktrackingRatio
	}
	return &Optimizer{cfg: cfg}
}

var errNoPredictions = errors.New("ensemble: no base predictions")

// roundoff absorbs summation error when comparing a blend to a vertex.
const roundoff = 1e-9

// Optimize returns weights minimizing validation sMAPE. predictions is
// indexed [model][sample].
func (o *Optimizer) Optimize(predictions [][]float64, targets []float64) (models.EnsembleResult, error) {
	m := len(predictions)
	if m == 0 {
		return models.EnsembleResult{}, errNoPredictions
	}
	if len(targets) == 0 {
		return models.EnsembleResult{}, fmt.Errorf("ensemble: empty validation targets")
	}
	for k, p := range predictions {
		if len(p) != len(targets) {
			return models.EnsembleResult{}, fmt.Errorf("ensemble: model %d has %d predictions for %d targets", k, len(p), len(targets))
		}
	}

	base := make([]float64, m)
	minBase := math.Inf(1)
	for k, p := range predictions {
		base[k] = evaluation.SMAPE(p, targets)
		minBase = math.Min(minBase, base[k])
	}

	objective := func(w []float64) float64 {
		return evaluation.SMAPE(Combine(w, predictions), targets)
	}

	uniform := make([]float64, m)
	for k := range uniform {
		uniform[k] = 1 / float64(m)
	}
	w := append([]float64(nil), uniform...)
	cur := objective(w)

	rng := rand.New(rand.NewPCG(o.cfg.Seed, o.cfg.Seed^0x9e3779b97f4a7c15))
	step := o.cfg.InitialStep
	iterations := 0
	cand := make([]float64, m)
	for iterations < o.cfg.MaxIterations && step >= o.cfg.Tolerance && m > 1 {
		iterations++
		improved := false
		for _, to := range rng.Perm(m) {
			for _, from := range rng.Perm(m) {
				if from == to || w[from] == 0 {
					continue
				}
				delta := math.Min(step, w[from])
				copy(cand, w)
				cand[from] -= delta
				cand[to] += delta
				if v := objective(cand); v < cur-1e-12 {
					copy(w, cand)
					cur = v
					improved = true
				}
			}
		}
		if !improved {
			step *= o.cfg.BacktrackingRatio
		}
	}
	converged := m == 1 || step < o.cfg.Tolerance

	// Vertices and the uniform blend guard the descent; among points tied
	// within tolerance the most even blend wins.
	candidates := [][]float64{w, uniform}
	scores := []float64{cur, objective(uniform)}
	for k := 0; k < m; k++ {
		v := make([]float64, m)
		v[k] = 1
		candidates = append(candidates, v)
		scores = append(scores, base[k])
	}
	best := math.Inf(1)
	for _, s := range scores {
		best = math.Min(best, s)
	}
	limit := math.Max(best, math.Min(best+o.cfg.Tolerance, minBase+roundoff))
	pick := -1
	for i, s := range scores {
		if s > limit {
			continue
		}
		if pick < 0 || floats.Norm(candidates[i], 2) < floats.Norm(candidates[pick], 2)-1e-15 {
			pick = i
		}
	}

	return models.EnsembleResult{
		Weights:    normalize(candidates[pick]),
		SMAPE:      scores[pick],
		BaseSMAPE:  base,
		Iterations: iterations,
		Converged:  converged,
	}, nil
}

// Combine returns the weighted sum of predictions per sample.
func Combine(weights []float64, predictions [][]float64) []float64 {
	if len(predictions) == 0 {
		return nil
	}
	out := make([]float64, len(predictions[0]))
	for k, p := range predictions {
		if weights[k] == 0 {
			continue
		}
		floats.AddScaled(out, weights[k], p)
	}
	return out
}

// Blend applies named weights to named point predictions, renormalizing over
// the models present. Terms are summed in BaseModelTypes order so equal
// inputs give bit-identical results.
func Blend(weights map[models.ModelType]float64, preds map[models.ModelType]float64) (float64, bool) {
	var sum, total float64
	for _, mt := range models.BaseModelTypes() {
		w := weights[mt]
		p, ok := preds[mt]
		if !ok || w <= 0 {
			continue
		}
		sum += w * p
		total += w
	}
	if total == 0 {
		return 0, false
	}
	return sum / total, true
}

func normalize(w []float64) []float64 {
	out := make([]float64, len(w))
	var s float64
	for _, v := range w {
		s += math.Max(v, 0)
	}
	for i, v := range w {
		out[i] = math.Max(v, 0) / s
	}
	return out
}
