// Package tuning runs randomized hyperparameter search with forward-chaining
// cross-validation.
package tuning

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"
	"GridCast/internal/services/evaluation"
	"GridCast/pkg/config"

	"github.com/google/uuid"
)

// Space maps a hyperparameter name to its candidate values.
type Space map[string][]float64

// DefaultSpaces are the search spaces used when configuration names none.
func DefaultSpaces() map[models.ModelType]Space {
	return map[models.ModelType]Space{
		models.ModelGBM: {
			"n_estimators":  {50, 100, 200},
			"learning_rate": {0.05, 0.1, 0.2},
			"max_bins":      {8, 16, 32},
			"min_leaf":      {5, 10, 20},
		},
		models.ModelRidge: {
			"alpha": {0.01, 0.1, 1, 10, 100},
		},
		models.ModelSequence: {
			"window": {6, 12, 24},
			"alpha":  {0.2, 0.5, 0.8},
			"l2":     {0.1, 1, 10},
		},
		models.ModelQuantile: {
			"tau":      {0.4, 0.5, 0.6},
			"alpha":    {0.01, 0.1, 1},
			"max_iter": {25, 50},
		},
		models.ModelSeasonal: {
			"alpha": {1e-6, 1e-4, 1e-2},
			"trend": {0, 1},
		},
	}
}

type Config struct {
	Trials  int
	Folds   int
	Workers int
	Seed    uint64
	Spaces  map[models.ModelType]Space
}

func DefaultConfig() Config {
	return Config{Trials: 20, Folds: 5, Workers: 4, Seed: 42, Spaces: DefaultSpaces()}
}

// ConfigFrom overlays configured spaces on the defaults per model type.
func ConfigFrom(c *config.Config) Config {
	out := DefaultConfig()
	out.Trials = c.Tuning.Trials
	out.Folds = c.Tuning.Folds
	out.Workers = c.Tuning.Workers
	out.Seed = c.Pipeline.Seed
	for mt, space := range c.Tuning.Spaces {
		out.Spaces[models.ModelType(mt)] = Space(space)
	}
	return out
}

// Request describes one search run.
type Request struct {
	ModelType    models.ModelType
	ModelVersion string
	// Trials overrides Config.Trials when positive.
	Trials int
	// FirstTrial numbers the first trial; history is append-only so callers
	// continue from the stored count.
	FirstTrial int
	// Seed overrides Config.Seed when non-zero.
	Seed uint64
}

// Result holds the trials of one run. Best indexes Trials and is -1 when
// every trial failed.
type Result struct {
	Trials []models.HyperparameterTrial
	Best   int
	Report models.BatchReport
}

// Searcher samples configurations and scores them by mean fold MAE.
type Searcher struct {
	cfg     Config
	minRows int
	lookup  func(models.ModelType) (domsvc.Trainer, bool)
}

// TrainerSource resolves trainers by type.
type TrainerSource interface {
	Get(models.ModelType) (domsvc.Trainer, bool)
}

func NewSearcher(cfg Config, trainers TrainerSource, minRows int) *Searcher {
	def := DefaultConfig()
	if cfg.Trials <= 0 {
		cfg.Trials = def.Trials
	}
	if cfg.Folds < 2 {
		cfg.Folds = def.Folds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Spaces == nil {
		cfg.Spaces = def.Spaces
	}
	if minRows <= 0 {
		minRows = 1
	}
	return &Searcher{cfg: cfg, minRows: minRows, lookup: trainers.Get}
}

// Sample draws n configurations from space in a seed-determined order.
func Sample(space Space, n int, seed uint64) []map[string]float64 {
	keys := make([]string, 0, len(space))
	for k := range space {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]map[string]float64, n)
	for i := range out {
		hp := make(map[string]float64, len(keys))
		for _, k := range keys {
			vals := space[k]
			if len(vals) == 0 {
				continue
			}
			hp[k] = vals[rng.IntN(len(vals))]
		}
		out[i] = hp
	}
	return out
}

// Folds splits n rows into k forward-chaining folds. Fold i trains on the
// first i+1 blocks and validates on block i+1.
func Folds(n, k int) [][2][2]int {
	block := n / (k + 1)
	out := make([][2][2]int, k)
	for i := 0; i < k; i++ {
		end := (i + 1) * block
		valEnd := end + block
		if i == k-1 {
			valEnd = n
		}
		out[i] = [2][2]int{{0, end}, {end, valEnd}}
	}
	return out
}

// Run executes the search. Trials run on a bounded worker pool; folds of a
// trial run concurrently and are aggregated in chronological order.
func (s *Searcher) Run(ctx context.Context, rows []models.FeatureVector, req Request) (Result, error) {
	trainer, ok := s.lookup(req.ModelType)
	if !ok {
		return Result{}, fmt.Errorf("tuning: unknown model type %q", req.ModelType)
	}
	space, ok := s.cfg.Spaces[req.ModelType]
	if !ok || len(space) == 0 {
		return Result{}, fmt.Errorf("tuning: no search space for %q", req.ModelType)
	}

	labelled := make([]models.FeatureVector, 0, len(rows))
	for _, r := range rows {
		if r.Target != nil {
			labelled = append(labelled, r)
		}
	}
	k := s.cfg.Folds
	if need := (k + 1) * s.minRows; len(labelled) < need {
		return Result{}, &models.InsufficientDataError{Stage: "cross-validate " + string(req.ModelType), Have: len(labelled), Need: need}
	}

	n := s.cfg.Trials
	if req.Trials > 0 {
		n = req.Trials
	}
	seed := s.cfg.Seed
	if req.Seed != 0 {
		seed = req.Seed
	}
	version := req.ModelVersion
	if version == "" {
		version = string(req.ModelType)
	}

	configs := Sample(space, n, seed)
	folds := Folds(len(labelled), k)

	type outcome struct {
		trial models.HyperparameterTrial
		err   error
	}
	outcomes := make([]outcome, n)

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Workers)
	for i := range configs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			began := time.Now()
			perf, foldMAE, err := s.crossValidate(ctx, trainer, labelled, folds, configs[i])
			outcomes[i] = outcome{
				trial: models.HyperparameterTrial{
					ID:              uuid.NewString(),
					ModelVersion:    version,
					ModelType:       req.ModelType,
					TrialNumber:     req.FirstTrial + i,
					Hyperparameters: configs[i],
					Performance:     perf,
					FoldMAE:         foldMAE,
					Duration:        time.Since(began),
					Seed:            seed,
					CreatedAt:       time.Now().UTC(),
				},
				err: err,
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Best: -1}
	for i, o := range outcomes {
		key := fmt.Sprintf("trial %d", req.FirstTrial+i)
		if o.err != nil {
			res.Report.Fail(key, o.err)
			continue
		}
		res.Report.Success(key)
		res.Trials = append(res.Trials, o.trial)
	}
	for i, t := range res.Trials {
		if res.Best < 0 || t.Performance.MAE < res.Trials[res.Best].Performance.MAE {
			res.Best = i
		}
	}
	if res.Best >= 0 {
		res.Trials[res.Best].IsBest = true
	}
	return res, nil
}

func (s *Searcher) crossValidate(ctx context.Context, trainer domsvc.Trainer, rows []models.FeatureVector, folds [][2][2]int, hp map[string]float64) (models.TrialPerformance, []float64, error) {
	metrics := make([]models.MetricSet, len(folds))
	errs := make([]error, len(folds))

	var wg sync.WaitGroup
	for i, f := range folds {
		wg.Add(1)
		go func(i int, train, val []models.FeatureVector) {
			defer wg.Done()
			params, err := trainer.Fit(ctx, train, hp)
			if err != nil {
				errs[i] = err
				return
			}
			pred := make([]float64, 0, len(val))
			actual := make([]float64, 0, len(val))
			for _, r := range val {
				v, err := trainer.Predict(params, r)
				if err != nil {
					continue
				}
				pred = append(pred, v)
				actual = append(actual, *r.Target)
			}
			if len(pred) == 0 {
				errs[i] = fmt.Errorf("fold %d: no predictions", i)
				return
			}
			metrics[i] = evaluation.Compute(pred, actual)
		}(i, rows[f[0][0]:f[0][1]], rows[f[1][0]:f[1][1]])
	}
	wg.Wait()

	var perf models.TrialPerformance
	foldMAE := make([]float64, len(folds))
	for i := range folds {
		if errs[i] != nil {
			return models.TrialPerformance{}, nil, fmt.Errorf("fold %d: %w", i, errs[i])
		}
		foldMAE[i] = metrics[i].MAE
		perf.MAE += metrics[i].MAE
		perf.RMSE += metrics[i].RMSE
		perf.MAPE += metrics[i].MAPE
		perf.R2 += metrics[i].R2
	}
	k := float64(len(folds))
	perf.MAE /= k
	perf.RMSE /= k
	perf.MAPE /= k
	perf.R2 /= k
	if math.IsNaN(perf.MAE) {
		return models.TrialPerformance{}, nil, fmt.Errorf("non-finite cross-validated error")
	}
	return perf, foldMAE, nil
}

// Rank returns trial indexes ordered by ascending mean MAE, ties by trial
// number.
func Rank(trials []models.HyperparameterTrial) []int {
	idx := make([]int, len(trials))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := trials[idx[a]], trials[idx[b]]
		if ta.Performance.MAE != tb.Performance.MAE {
			return ta.Performance.MAE < tb.Performance.MAE
		}
		return ta.TrialNumber < tb.TrialNumber
	})
	return idx
}
