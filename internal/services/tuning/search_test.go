package tuning

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"GridCast/internal/domain/models"
	"GridCast/internal/services/features"
	"GridCast/internal/services/trainers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(n int) []models.FeatureVector {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	records := make([]models.TrainingRecord, n)
	for i := range records {
		h := float64(i % 24)
		demand := 30000 + 6000*math.Sin(2*math.Pi*(h-7)/24) + 300*math.Cos(float64(i)*0.37)
		records[i] = models.TrainingRecord{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Price:       models.Float(20 + demand/1500 + 2*math.Sin(float64(i)*0.11)),
			Demand:      models.Float(demand),
			GenGas:      models.Float(demand * 0.7),
			GenWind:     models.Float(demand * 0.3),
			Temperature: models.Float(8 + 4*math.Sin(2*math.Pi*h/24)),
			Valid:       true,
		}
	}
	out, _ := features.NewEngine(features.DefaultConfig()).Derive(records, nil)
	return out
}

func newSearcher(trials int) *Searcher {
	cfg := DefaultConfig()
	cfg.Trials = trials
	cfg.Seed = 7
	return NewSearcher(cfg, trainers.NewRegistry(trainers.Options{}), trainers.MinTrainingRows)
}

func TestFoldsAreForwardChaining(t *testing.T) {
	folds := Folds(600, 5)
	require.Len(t, folds, 5)
	for i, f := range folds {
		train, val := f[0], f[1]
		assert.Equal(t, 0, train[0])
		assert.Equal(t, train[1], val[0], "validation starts where training ends")
		assert.Equal(t, (i+1)*100, train[1])
		assert.Greater(t, val[1], val[0])
	}
	assert.Equal(t, 600, folds[4][1][1])
}

func TestSampleIsSeedDeterministic(t *testing.T) {
	space := DefaultSpaces()[models.ModelGBM]
	a := Sample(space, 10, 3)
	b := Sample(space, 10, 3)
	c := Sample(space, 10, 4)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, hp := range a {
		for k, v := range hp {
			assert.Contains(t, space[k], v)
		}
	}
}

func TestRunMarksExactlyOneBest(t *testing.T) {
	data := rows(720)
	s := newSearcher(4)

	res, err := s.Run(context.Background(), data, Request{ModelType: models.ModelRidge})
	require.NoError(t, err)
	require.Len(t, res.Trials, 4)
	assert.Zero(t, res.Report.Failed)

	best := 0
	for i, tr := range res.Trials {
		assert.Equal(t, i, tr.TrialNumber)
		assert.Equal(t, "ridge", tr.ModelVersion)
		assert.Len(t, tr.FoldMAE, 5)
		if tr.IsBest {
			best++
			for _, other := range res.Trials {
				assert.LessOrEqual(t, tr.Performance.MAE, other.Performance.MAE)
			}
		}
	}
	assert.Equal(t, 1, best)
	assert.True(t, res.Trials[res.Best].IsBest)
}

func TestRunIsAppendOnlyAcrossRuns(t *testing.T) {
	data := rows(720)
	s := newSearcher(3)

	first, err := s.Run(context.Background(), data, Request{ModelType: models.ModelRidge, ModelVersion: "v1"})
	require.NoError(t, err)
	second, err := s.Run(context.Background(), data, Request{ModelType: models.ModelRidge, ModelVersion: "v1", FirstTrial: len(first.Trials), Seed: 8})
	require.NoError(t, err)

	all := append(append([]models.HyperparameterTrial(nil), first.Trials...), second.Trials...)
	require.Len(t, all, 6)
	seen := map[int]bool{}
	ids := map[string]bool{}
	for _, tr := range all {
		assert.False(t, seen[tr.TrialNumber])
		seen[tr.TrialNumber] = true
		assert.False(t, ids[tr.ID])
		ids[tr.ID] = true
	}
}

func TestRankingReproducibleWithSeed(t *testing.T) {
	data := rows(720)
	order := func() []map[string]float64 {
		res, err := newSearcher(5).Run(context.Background(), data, Request{ModelType: models.ModelSeasonal})
		require.NoError(t, err)
		out := make([]map[string]float64, 0, len(res.Trials))
		for _, i := range Rank(res.Trials) {
			out = append(out, res.Trials[i].Hyperparameters)
		}
		return out
	}
	assert.Equal(t, order(), order())
}

func TestRunRejectsShortHistory(t *testing.T) {
	_, err := newSearcher(2).Run(context.Background(), rows(500), Request{ModelType: models.ModelRidge})
	var insufficient *models.InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 600, insufficient.Need)
}

func TestRunUnknownModel(t *testing.T) {
	_, err := newSearcher(1).Run(context.Background(), rows(720), Request{ModelType: models.ModelEnsemble})
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	trials := []models.HyperparameterTrial{
		{TrialNumber: 0, Performance: models.TrialPerformance{MAE: 3}},
		{TrialNumber: 1, Performance: models.TrialPerformance{MAE: 1}},
		{TrialNumber: 2, Performance: models.TrialPerformance{MAE: 1}},
	}
	assert.Equal(t, []int{1, 2, 0}, Rank(trials))
}
