package drift

import (
	"testing"

	"GridCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func TestThresholdBoundaries(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	tests := []struct {
		score   float64
		level   models.DriftLevel
		retrain bool
	}{
		{0, models.DriftLow, false},
		{0.149999, models.DriftLow, false},
		{0.15, models.DriftModerate, false},
		{0.299999, models.DriftModerate, false},
		{0.30, models.DriftHigh, true},
		{1, models.DriftHigh, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, m.Level(tt.score), "score %v", tt.score)
		assert.Equal(t, tt.retrain, m.RequiresRetraining(tt.score), "score %v", tt.score)
	}
}

func TestPerformanceDrift(t *testing.T) {
	base := models.MetricSet{MAE: 10, RMSE: 20, MAPE: 5, Count: 100}

	got, ok := PerformanceDrift(models.MetricSet{MAE: 12, RMSE: 22, MAPE: 6, Count: 10}, base)
	assert.True(t, ok)
	assert.InDelta(t, (0.2+0.1+0.2)/3, got, 1e-12)

	got, _ = PerformanceDrift(models.MetricSet{MAE: 5, RMSE: 10, MAPE: 1, Count: 10}, base)
	assert.Zero(t, got, "improvement is not drift")

	got, _ = PerformanceDrift(models.MetricSet{MAE: 100, RMSE: 200, MAPE: 50, Count: 10}, base)
	assert.Equal(t, 1.0, got)

	_, ok = PerformanceDrift(models.MetricSet{}, base)
	assert.False(t, ok)
}

func TestFeatureDrift(t *testing.T) {
	training := map[string]models.FeatureStat{
		"demand":      {Mean: 30000, Std: 5000, Count: 1000},
		"temperature": {Mean: 10, Std: 2, Count: 1000},
		"only_train":  {Mean: 1, Std: 1, Count: 10},
	}
	recent := map[string]models.FeatureStat{
		"demand":      {Mean: 37500, Std: 5000, Count: 168},
		"temperature": {Mean: 10, Std: 2, Count: 168},
	}
	got, shifts := FeatureDrift(training, recent, 3)
	assert.Len(t, shifts, 2)
	assert.InDelta(t, 0.5, shifts["demand"], 1e-12)
	assert.Zero(t, shifts["temperature"])
	assert.InDelta(t, 0.25, got, 1e-12)
}

func TestEvaluateWeightsComponents(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	in := models.DriftInput{
		ModelVersion: "v3",
		Recent:       models.MetricSet{MAE: 15, RMSE: 30, MAPE: 7.5, Count: 168},
		Overall:      models.MetricSet{MAE: 10, RMSE: 20, MAPE: 5, Count: 1000},
		TrainingStats: map[string]models.FeatureStat{
			"demand": {Mean: 100, Std: 10, Count: 100},
		},
		RecentStats: map[string]models.FeatureStat{
			"demand": {Mean: 100, Std: 10, Count: 100},
		},
	}
	r := m.Evaluate(in)
	assert.Equal(t, "v3", r.ModelVersion)
	assert.InDelta(t, 0.5, r.PerformanceDrift, 1e-12)
	assert.Zero(t, r.FeatureDrift)
	assert.InDelta(t, 0.25, r.DriftScore, 1e-12)
	assert.Equal(t, models.DriftModerate, r.Level)
	assert.False(t, r.RequiresRetraining)
	assert.Equal(t, in.Recent, r.RecentPerformance)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestEvaluateRenormalizesMissingComponent(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	r := m.Evaluate(models.DriftInput{
		Recent:  models.MetricSet{MAE: 14, RMSE: 28, MAPE: 7, Count: 10},
		Overall: models.MetricSet{MAE: 10, RMSE: 20, MAPE: 5, Count: 10},
	})
	assert.InDelta(t, 0.4, r.DriftScore, 1e-12)
	assert.True(t, r.RequiresRetraining)
	assert.Equal(t, models.DriftHigh, r.Level)
}

func TestEvaluateWithoutData(t *testing.T) {
	r := NewMonitor(DefaultConfig()).Evaluate(models.DriftInput{})
	assert.Zero(t, r.DriftScore)
	assert.Equal(t, models.DriftLow, r.Level)
}
