package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecordStoreReplacesByTimestamp(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()

	_, err := s.AppendRecords(ctx, []models.TrainingRecord{
		{Timestamp: t0.Add(time.Hour), Price: models.Float(41), Valid: true},
		{Timestamp: t0, Price: models.Float(40), Valid: true},
	})
	require.NoError(t, err)
	report, err := s.AppendRecords(ctx, []models.TrainingRecord{
		{Timestamp: t0, Price: models.Float(45), Valid: true},
		{Timestamp: t0.Add(2 * time.Hour), Price: models.Float(math.Inf(-1))},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	got, err := s.ListRecords(ctx, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 45.0, *got[0].Price)
	assert.True(t, got[1].Timestamp.After(got[0].Timestamp))

	got, err = s.ListRecords(ctx, t0.Add(time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got, "upper bound is exclusive")
}

func TestMemoryRecordStoreAuxWindow(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()
	require.NoError(t, s.AppendAuxSeries(ctx, models.DailySeries{Name: "gas", Values: map[string]float64{
		"2024-02-29": 3.0, "2024-03-01": 3.1, "2024-03-05": 3.5,
	}}))
	assert.Error(t, s.AppendAuxSeries(ctx, models.DailySeries{Name: "gas", Values: map[string]float64{"bad": 1}}))

	got, err := s.ListAuxSeries(ctx, t0, t0.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]float64{"2024-03-01": 3.1}, got[0].Values)
}

func TestMemoryModelStoreRoundTrip(t *testing.T) {
	s := NewMemoryModelStore()
	ctx := context.Background()

	_, err := s.Active(ctx)
	assert.ErrorIs(t, err, models.ErrNoActiveModel)

	p := &models.ModelParameters{
		ID:           "e1",
		Version:      "v1",
		ModelType:    models.ModelEnsemble,
		Weights:      map[models.ModelType]float64{models.ModelRidge: 0.4, models.ModelGBM: 0.6},
		Coefficients: map[string][]float64{"beta": {1}},
		CreatedAt:    t0,
	}
	require.NoError(t, s.Save(ctx, p))
	assert.Error(t, s.Save(ctx, p), "ids are unique")

	p.Coefficients["beta"][0] = 99
	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Coefficients["beta"][0], "stored copy is detached")
	assert.Equal(t, 0.6, got.Weights[models.ModelGBM])

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	list, err := s.ListByVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.SetActive(ctx, models.ActivePointer{ModelVersion: "v1", EnsembleID: "e1"}))
	ptr, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", ptr.EnsembleID)
}

func TestMemoryTrialStoreSingleBest(t *testing.T) {
	s := NewMemoryTrialStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []models.HyperparameterTrial{
		{ID: "b", ModelVersion: "ridge", TrialNumber: 1, IsBest: true},
		{ID: "a", ModelVersion: "ridge", TrialNumber: 0},
	}))
	require.NoError(t, s.SetBest(ctx, "ridge", "a"))
	require.NoError(t, s.SetBest(ctx, "ridge", "b"))
	assert.ErrorIs(t, s.SetBest(ctx, "ridge", "zzz"), models.ErrNotFound)

	list, err := s.List(ctx, "ridge", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	best := 0
	for _, tr := range list {
		if tr.IsBest {
			best++
			assert.Equal(t, "b", tr.ID)
		}
	}
	assert.Equal(t, 1, best)

	n, err := s.Count(ctx, "ridge")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Best(ctx, "gbm")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemorySnapshotStoreFilter(t *testing.T) {
	s := NewMemorySnapshotStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, []models.PerformanceSnapshot{
		{ID: "3", ModelVersion: "v1", Split: models.SplitLive, CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "1", ModelVersion: "v1", Split: models.SplitVal, CreatedAt: t0},
		{ID: "2", ModelVersion: "v1", Split: models.SplitLive, CreatedAt: t0.Add(time.Hour)},
		{ID: "4", ModelVersion: "v2", Split: models.SplitLive, CreatedAt: t0.Add(time.Hour)},
	}))

	got, err := s.List(ctx, domrepo.SnapshotFilter{ModelVersion: "v1", Split: models.SplitLive})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	got, err = s.List(ctx, domrepo.SnapshotFilter{Since: t0.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)
}
