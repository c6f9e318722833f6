package trainers

import (
	"context"
	"math"
	"sort"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"
)

// GBM is gradient boosting with depth-one trees (stumps) on squared error.
// Each stump splits one standardized feature at a quantile cut point, so the
// fitted model is an additive sum of per-feature step functions.
//
// Hyperparameters:
//   - n_estimators: boosting rounds (default 100).
//   - learning_rate: shrinkage per round (default 0.1).
//   - max_bins: candidate cut points per feature (default 16).
//   - min_leaf: minimum rows on each side of a split (default 5).
type GBM struct {
	opts Options
}

var _ domsvc.Trainer = (*GBM)(nil)

func NewGBM(opts Options) *GBM { return &GBM{opts: opts} }

func (g *GBM) Type() models.ModelType { return models.ModelGBM }

func (g *GBM) DefaultHyperparameters() map[string]float64 {
	return map[string]float64{
		"n_estimators":  100,
		"learning_rate": 0.1,
		"max_bins":      16,
		"min_leaf":      5,
	}
}

type stump struct {
	feature   int
	threshold float64
	left      float64
	right     float64
}

func (g *GBM) Fit(ctx context.Context, rows []models.FeatureVector, hp map[string]float64) (*models.ModelParameters, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	rows, y := labelled(rows)
	if err := checkRows(g.Type(), len(rows), g.opts); err != nil {
		return nil, err
	}
	hp = mergeHyper(g.DefaultHyperparameters(), hp)
	rounds := int(math.Max(hp["n_estimators"], 1))
	rate := hp["learning_rate"]
	maxBins := int(math.Max(hp["max_bins"], 2))
	minLeaf := int(math.Max(hp["min_leaf"], 1))

	inputs := models.InputNames(g.opts.AuxSeries)
	std := fitStandardizer(rows, inputs)
	x := std.matrix(rows)
	n, p := len(rows), len(inputs)

	// bins[j][i] is the bin of row i on feature j; cuts[j][b] is the
	// upper edge of bin b.
	cuts := make([][]float64, p)
	bins := make([][]int, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			col[i] = x[i][j]
		}
		cuts[j] = cutPoints(col, maxBins)
		bins[j] = make([]int, n)
		for i := 0; i < n; i++ {
			bins[j][i] = sort.SearchFloat64s(cuts[j], x[i][j])
		}
	}

	var base float64
	for _, v := range y {
		base += v
	}
	base /= float64(n)

	pred := make([]float64, n)
	resid := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	trees := make([]stump, 0, rounds)
	sums := make([]float64, maxBins+1)
	counts := make([]int, maxBins+1)
	for round := 0; round < rounds; round++ {
		if round%10 == 0 {
			if err := cancelled(ctx); err != nil {
				return nil, err
			}
		}
		var total float64
		for i := range resid {
			resid[i] = y[i] - pred[i]
			total += resid[i]
		}

		best, bestGain := stump{feature: -1}, 0.0
		for j := 0; j < p; j++ {
			nc := len(cuts[j])
			if nc == 0 {
				continue
			}
			for b := 0; b <= nc; b++ {
				sums[b], counts[b] = 0, 0
			}
			for i := 0; i < n; i++ {
				sums[bins[j][i]] += resid[i]
				counts[bins[j][i]]++
			}
			var ls float64
			var lc int
			for b := 0; b < nc; b++ {
				ls += sums[b]
				lc += counts[b]
				rc := n - lc
				if lc < minLeaf || rc < minLeaf {
					continue
				}
				rs := total - ls
				gain := ls*ls/float64(lc) + rs*rs/float64(rc) - total*total/float64(n)
				if gain > bestGain+1e-12 {
					bestGain = gain
					best = stump{
						feature:   j,
						threshold: cuts[j][b],
						left:      rate * ls / float64(lc),
						right:     rate * rs / float64(rc),
					}
				}
			}
		}
		if best.feature < 0 {
			break
		}
		for i := 0; i < n; i++ {
			if x[i][best.feature] <= best.threshold {
				pred[i] += best.left
			} else {
				pred[i] += best.right
			}
		}
		trees = append(trees, best)
	}

	params := newParams(g.Type(), rows, hp, inputs)
	std.store(params)
	params.Coefficients["base"] = []float64{base}
	feature := make([]float64, len(trees))
	threshold := make([]float64, len(trees))
	left := make([]float64, len(trees))
	right := make([]float64, len(trees))
	for k, s := range trees {
		feature[k] = float64(s.feature)
		threshold[k] = s.threshold
		left[k] = s.left
		right[k] = s.right
	}
	params.Coefficients["feature"] = feature
	params.Coefficients["threshold"] = threshold
	params.Coefficients["left"] = left
	params.Coefficients["right"] = right
	return params, nil
}

func (g *GBM) Predict(p *models.ModelParameters, row models.FeatureVector) (float64, error) {
	if err := checkType(p, g.Type()); err != nil {
		return 0, err
	}
	std, err := standardizerFrom(p)
	if err != nil {
		return 0, err
	}
	base, err := coef(p, "base", 1)
	if err != nil {
		return 0, err
	}
	feature, err := coef(p, "feature", -1)
	if err != nil {
		return 0, err
	}
	n := len(feature)
	threshold, err := coef(p, "threshold", n)
	if err != nil {
		return 0, err
	}
	left, err := coef(p, "left", n)
	if err != nil {
		return 0, err
	}
	right, err := coef(p, "right", n)
	if err != nil {
		return 0, err
	}

	x := std.row(row)
	out := base[0]
	for k := 0; k < n; k++ {
		j := int(feature[k])
		if j < 0 || j >= len(x) {
			continue
		}
		if x[j] <= threshold[k] {
			out += left[k]
		} else {
			out += right[k]
		}
	}
	return finiteOrErr(g.Type(), out)
}

// cutPoints returns up to maxBins-1 distinct ascending quantile edges of col.
func cutPoints(col []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	out := make([]float64, 0, maxBins-1)
	for b := 1; b < maxBins; b++ {
		v := sorted[b*len(sorted)/maxBins]
		if len(out) > 0 && v <= out[len(out)-1] {
			continue
		}
		if v >= sorted[len(sorted)-1] {
			break
		}
		out = append(out, v)
	}
	return out
}
