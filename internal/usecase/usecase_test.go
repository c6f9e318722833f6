package usecase

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	"GridCast/internal/repository"
	"GridCast/internal/services/drift"
	"GridCast/internal/services/ensemble"
	"GridCast/internal/services/features"
	"GridCast/internal/services/tuning"
	pkgmetrics "GridCast/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// hourly returns n records from t0 + offset hours whose price follows demand
// and a daily cycle.
func hourly(offset, n int) []models.TrainingRecord {
	rng := rand.New(rand.NewPCG(uint64(offset)+3, 5))
	out := make([]models.TrainingRecord, n)
	for i := range out {
		k := offset + i
		h := float64(k % 24)
		demand := 30000 + 8000*math.Sin(2*math.Pi*(h-6)/24) + 400*rng.NormFloat64()
		out[i] = models.TrainingRecord{
			Timestamp:   t0.Add(time.Duration(k) * time.Hour),
			Price:       models.Float(20 + demand/1000 + 4*math.Sin(2*math.Pi*h/24) + 0.5*rng.NormFloat64()),
			Demand:      models.Float(demand),
			GenGas:      models.Float(demand * 0.5),
			GenWind:     models.Float(demand * 0.3),
			GenSolar:    models.Float(demand * 0.2),
			Temperature: models.Float(8 + 6*math.Sin(2*math.Pi*h/24)),
			Valid:       true,
		}
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	trained []models.ModelTrainedEvent
	drift   []models.DriftReport
	tuning  []models.TuningCompletedEvent
}

func (p *recordingPublisher) PublishModelTrained(_ context.Context, e models.ModelTrainedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trained = append(p.trained, e)
	return nil
}

func (p *recordingPublisher) PublishDriftReport(_ context.Context, r models.DriftReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drift = append(p.drift, r)
	return nil
}

func (p *recordingPublisher) PublishTuningCompleted(_ context.Context, e models.TuningCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tuning = append(p.tuning, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	records   *repository.MemoryRecordStore
	models    *repository.MemoryModelStore
	trials    *repository.MemoryTrialStore
	snapshots *repository.MemorySnapshotStore
	events    *recordingPublisher
	engine    *features.Engine
	settings  Settings
	now       time.Time
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{
		records:   repository.NewMemoryRecordStore(),
		models:    repository.NewMemoryModelStore(),
		trials:    repository.NewMemoryTrialStore(),
		snapshots: repository.NewMemorySnapshotStore(),
		events:    &recordingPublisher{},
		engine:    features.NewEngine(features.DefaultConfig()),
		settings: Settings{
			MinTrainingRows: 100,
			Lookback:        60 * 24 * time.Hour,
			TrainSplit:      0.70,
			ValSplit:        0.15,
			DriftFeatures:   []string{"price", "demand"},
			RecentWindow:    7 * 24 * time.Hour,
		},
		now: t0.Add(time.Duration(n) * time.Hour),
	}
	f.ingest(t, 0, n)
	return f
}

func (f *fixture) ingest(t *testing.T, offset, n int) {
	t.Helper()
	report, err := f.records.AppendRecords(context.Background(), hourly(offset, n))
	require.NoError(t, err)
	require.Equal(t, n, report.Succeeded)
}

func (f *fixture) clock() func() time.Time {
	return func() time.Time { return f.now }
}

func (f *fixture) pipeline() *TrainingPipeline {
	p := NewTrainingPipeline(f.records, f.models, f.trials, f.snapshots, f.events, pkgmetrics.Nop{},
		f.engine, ensemble.NewOptimizer(ensemble.DefaultConfig()), f.settings, nil)
	p.now = f.clock()
	return p
}

func (f *fixture) train(t *testing.T) *TrainResult {
	t.Helper()
	res, err := f.pipeline().Run(context.Background(), TrainRequest{ModelVersion: "v1"})
	require.NoError(t, err)
	return res
}

func TestTrainingPipelineActivatesEnsemble(t *testing.T) {
	f := newFixture(t, 800)
	res := f.train(t)
	ctx := context.Background()

	assert.Len(t, res.Base, len(models.BaseModelTypes())-len(res.Ensemble.Excluded))
	require.NotEmpty(t, res.Base)

	var sum float64
	for mt, w := range res.Ensemble.Weights {
		assert.GreaterOrEqual(t, w, 0.0, mt)
		assert.Equal(t, res.Base[mt].ID, res.Ensemble.Components[mt])
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-9)

	ensVal := res.Metrics[models.ModelEnsemble][models.SplitVal].SMAPE
	for mt := range res.Base {
		assert.LessOrEqual(t, ensVal, res.Metrics[mt][models.SplitVal].SMAPE+1e-9, mt)
	}
	assert.Greater(t, res.Ensemble.ResidualStd, 0.0)
	assert.Contains(t, res.Ensemble.FeatureStats, "price")

	ptr, err := f.models.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", ptr.ModelVersion)
	assert.Equal(t, res.Ensemble.ID, ptr.EnsembleID)

	stored, err := f.models.ListByVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, stored, len(res.Base)+1)

	snaps, err := f.snapshots.List(ctx, domrepo.SnapshotFilter{ModelVersion: "v1", ModelType: models.ModelEnsemble})
	require.NoError(t, err)
	assert.Len(t, snaps, 3)

	require.Len(t, f.events.trained, 1)
	assert.Equal(t, res.Ensemble.ID, f.events.trained[0].EnsembleID)
	assert.Equal(t, 800, res.Features.Succeeded)
}

func TestTrainingPipelineInsufficientData(t *testing.T) {
	f := newFixture(t, 60)
	_, err := f.pipeline().Run(context.Background(), TrainRequest{})

	var insufficient *models.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 60, insufficient.Have)
	assert.True(t, models.PredictionUnavailable(err))

	_, err = f.models.Active(context.Background())
	assert.ErrorIs(t, err, models.ErrNoActiveModel)
}

func TestTrainingPipelineUsesBestTrial(t *testing.T) {
	f := newFixture(t, 800)
	ctx := context.Background()
	require.NoError(t, f.trials.Append(ctx, []models.HyperparameterTrial{{
		ID:              "trial-1",
		ModelVersion:    string(models.ModelRidge),
		ModelType:       models.ModelRidge,
		Hyperparameters: map[string]float64{"alpha": 7},
	}}))
	require.NoError(t, f.trials.SetBest(ctx, string(models.ModelRidge), "trial-1"))

	res := f.train(t)
	require.Contains(t, res.Base, models.ModelRidge)
	assert.Equal(t, 7.0, res.Base[models.ModelRidge].Hyperparameters["alpha"])
}

// poisonBest stores a best trial whose hyperparameter key is NaN, which makes
// the family fail to fit or predict.
func (f *fixture) poisonBest(t *testing.T, mt models.ModelType, key string) {
	t.Helper()
	ctx := context.Background()
	id := "poisoned-" + string(mt)
	require.NoError(t, f.trials.Append(ctx, []models.HyperparameterTrial{{
		ID:              id,
		ModelVersion:    string(mt),
		ModelType:       mt,
		Hyperparameters: map[string]float64{key: math.NaN()},
	}}))
	require.NoError(t, f.trials.SetBest(ctx, string(mt), id))
}

var nanKeys = map[models.ModelType]string{
	models.ModelGBM:      "learning_rate",
	models.ModelRidge:    "alpha",
	models.ModelSequence: "l2",
	models.ModelQuantile: "alpha",
	models.ModelSeasonal: "alpha",
}

func TestTrainingPipelineExcludesFailedModel(t *testing.T) {
	f := newFixture(t, 800)
	f.poisonBest(t, models.ModelGBM, nanKeys[models.ModelGBM])

	res := f.train(t)
	require.Contains(t, res.Ensemble.Excluded, models.ModelGBM)
	assert.Len(t, res.Ensemble.Excluded, 1)
	assert.NotContains(t, res.Base, models.ModelGBM)
	assert.Len(t, res.Base, len(models.BaseModelTypes())-1)
	assert.Equal(t, 1, res.Models.Failed)

	assert.NotContains(t, res.Ensemble.Weights, models.ModelGBM)
	assert.NotContains(t, res.Ensemble.Components, models.ModelGBM)
	var sum float64
	for _, w := range res.Ensemble.Weights {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-9)

	ptr, err := f.models.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Ensemble.ID, ptr.EnsembleID)
	require.Len(t, f.events.trained, 1)
	assert.Contains(t, f.events.trained[0].Excluded, models.ModelGBM)
}

func TestTrainingPipelineAllModelsFail(t *testing.T) {
	f := newFixture(t, 800)
	for _, mt := range models.BaseModelTypes() {
		f.poisonBest(t, mt, nanKeys[mt])
	}

	_, err := f.pipeline().Run(context.Background(), TrainRequest{ModelVersion: "v1"})
	var degenerate *models.EnsembleDegenerateError
	require.ErrorAs(t, err, &degenerate)
	assert.Len(t, degenerate.Excluded, len(models.BaseModelTypes()))
	assert.True(t, models.PredictionUnavailable(err))

	_, err = f.models.Active(context.Background())
	assert.ErrorIs(t, err, models.ErrNoActiveModel)
	stored, err := f.models.ListByVersion(context.Background(), "v1")
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, f.events.trained)
}

type stubLock struct {
	held     bool
	unlocked int
}

func (l *stubLock) TryLock(context.Context, string, time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *stubLock) Unlock(context.Context, string) error {
	l.held = false
	l.unlocked++
	return nil
}

func TestTrainingPipelineLock(t *testing.T) {
	f := newFixture(t, 60)
	p := f.pipeline()
	lock := &stubLock{held: true}
	p.SetLock(lock)

	_, err := p.Run(context.Background(), TrainRequest{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	lock.held = false
	_, err = p.Run(context.Background(), TrainRequest{})
	require.Error(t, err)
	assert.False(t, lock.held, "released after a failed run")
	assert.Equal(t, 1, lock.unlocked)
}

func TestTuningMarksSingleBestAcrossRuns(t *testing.T) {
	f := newFixture(t, 800)
	ctx := context.Background()
	uc := NewTuningUseCase(f.records, f.trials, f.events, pkgmetrics.Nop{}, f.engine,
		tuning.Config{Trials: 4, Folds: 2, Workers: 2, Seed: 1, Spaces: tuning.DefaultSpaces()}, f.settings, nil)
	uc.now = f.clock()

	first, err := uc.Run(ctx, TuneRequest{ModelType: models.ModelRidge})
	require.NoError(t, err)
	assert.Equal(t, "ridge", first.ModelVersion)
	require.Len(t, first.Trials, 4)

	second, err := uc.Run(ctx, TuneRequest{ModelType: models.ModelRidge, Seed: 9})
	require.NoError(t, err)
	assert.Equal(t, 4, second.Trials[0].TrialNumber)

	history, err := f.trials.List(ctx, "ridge", 0)
	require.NoError(t, err)
	require.Len(t, history, 8)

	bestCount := 0
	minMAE := math.Inf(1)
	for _, tr := range history {
		minMAE = math.Min(minMAE, tr.Performance.MAE)
		if tr.IsBest {
			bestCount++
			assert.Equal(t, second.Best.ID, tr.ID)
		}
	}
	assert.Equal(t, 1, bestCount)
	assert.Equal(t, minMAE, second.Best.Performance.MAE)
	assert.Len(t, f.events.tuning, 2)
}

func TestTuningRequiresModelType(t *testing.T) {
	f := newFixture(t, 10)
	uc := NewTuningUseCase(f.records, f.trials, f.events, pkgmetrics.Nop{}, f.engine, tuning.DefaultConfig(), f.settings, nil)
	_, err := uc.Run(context.Background(), TuneRequest{})
	assert.Error(t, err)
}

func TestEvaluationStoresLiveSnapshot(t *testing.T) {
	f := newFixture(t, 800)
	f.train(t)
	f.ingest(t, 800, 24)
	f.now = t0.Add(824 * time.Hour)

	uc := NewEvaluationUseCase(f.records, f.models, f.snapshots, pkgmetrics.Nop{}, f.engine, nil)
	uc.now = f.clock()
	snap, err := uc.Run(context.Background(), EvaluateRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SplitLive, snap.Split)
	assert.Equal(t, "v1", snap.ModelVersion)
	assert.Equal(t, 24, snap.SampleCount)

	live, err := f.snapshots.List(context.Background(), domrepo.SnapshotFilter{Split: models.SplitLive})
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestEvaluationWithoutActiveModel(t *testing.T) {
	f := newFixture(t, 10)
	uc := NewEvaluationUseCase(f.records, f.models, f.snapshots, pkgmetrics.Nop{}, f.engine, nil)
	_, err := uc.Run(context.Background(), EvaluateRequest{})
	assert.ErrorIs(t, err, models.ErrNoActiveModel)
}

func TestDriftCheckPublishesReport(t *testing.T) {
	f := newFixture(t, 800)
	f.train(t)

	uc := NewDriftUseCase(f.records, f.models, f.snapshots, f.events, pkgmetrics.Nop{}, f.engine,
		drift.NewMonitor(drift.DefaultConfig()), f.settings, nil)
	uc.now = f.clock()

	report, err := uc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", report.ModelVersion)
	assert.Zero(t, report.RecentPerformance.Count, "no live snapshots yet")
	assert.Contains(t, report.FeatureShifts, "demand")
	assert.GreaterOrEqual(t, report.DriftScore, 0.0)
	assert.LessOrEqual(t, report.DriftScore, 1.0)
	require.Len(t, f.events.drift, 1)
}

func TestDriftBaselineExcludesRecentLiveSnapshots(t *testing.T) {
	f := newFixture(t, 800)
	f.train(t)
	ctx := context.Background()

	old := models.NewSnapshot("live-old", "v1", models.ModelEnsemble, models.SplitLive,
		models.MetricSet{MAE: 1, RMSE: 1, MAPE: 1, SMAPE: 1, Count: 24}, f.now.Add(-10*24*time.Hour))
	fresh := models.NewSnapshot("live-new", "v1", models.ModelEnsemble, models.SplitLive,
		models.MetricSet{MAE: 9, RMSE: 9, MAPE: 9, SMAPE: 9, Count: 24}, f.now.Add(-time.Hour))
	require.NoError(t, f.snapshots.Append(ctx, []models.PerformanceSnapshot{old, fresh}))

	uc := NewDriftUseCase(f.records, f.models, f.snapshots, f.events, pkgmetrics.Nop{}, f.engine,
		drift.NewMonitor(drift.DefaultConfig()), f.settings, nil)
	uc.now = f.clock()

	report, err := uc.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24, report.RecentPerformance.Count)
	assert.Equal(t, 9.0, report.RecentPerformance.MAE)

	snaps, err := f.snapshots.List(ctx, domrepo.SnapshotFilter{ModelVersion: "v1", ModelType: models.ModelEnsemble})
	require.NoError(t, err)
	want := 0
	for _, s := range snaps {
		if s.Split == models.SplitVal || s.Split == models.SplitTest {
			want += s.SampleCount
		}
	}
	assert.Equal(t, want+24, report.OverallPerformance.Count, "val, test and the old live snapshot only")
}

func TestDriftCheckWithoutActiveModel(t *testing.T) {
	f := newFixture(t, 10)
	uc := NewDriftUseCase(f.records, f.models, f.snapshots, f.events, pkgmetrics.Nop{}, f.engine,
		drift.NewMonitor(drift.DefaultConfig()), f.settings, nil)
	_, err := uc.Check(context.Background())
	assert.ErrorIs(t, err, models.ErrNoActiveModel)
	assert.Empty(t, f.events.drift)
}

type countingCache struct {
	entries map[string]*models.Forecast
	sets    int
}

func (c *countingCache) Get(_ context.Context, version string, hours int) (*models.Forecast, bool) {
	f, ok := c.entries[fmt.Sprintf("%s/%d", version, hours)]
	return f, ok
}

func (c *countingCache) Set(_ context.Context, f *models.Forecast) {
	c.sets++
	c.entries[fmt.Sprintf("%s/%d", f.ModelVersion, f.Horizon)] = f
}

func TestForecastRecursiveHorizon(t *testing.T) {
	f := newFixture(t, 800)
	f.train(t)
	cache := &countingCache{entries: map[string]*models.Forecast{}}

	uc := NewForecastUseCase(f.records, f.models, pkgmetrics.Nop{}, f.engine, cache, f.settings, nil)
	uc.now = f.clock()

	fc, err := uc.Forecast(context.Background(), 48)
	require.NoError(t, err)
	require.Len(t, fc.Points, 48)
	assert.Equal(t, "v1", fc.ModelVersion)

	last := t0.Add(799 * time.Hour)
	prevWidth := 0.0
	for i, p := range fc.Points {
		assert.Equal(t, last.Add(time.Duration(i+1)*time.Hour), p.Timestamp)
		assert.False(t, math.IsNaN(p.PredictedPrice))
		width := p.ConfidenceUpper - p.ConfidenceLower
		assert.GreaterOrEqual(t, width, prevWidth)
		prevWidth = width
		assert.Greater(t, p.ConfidenceScore, 0.0)
		assert.LessOrEqual(t, p.ConfidenceScore, 1.0)
	}

	again, err := uc.Forecast(context.Background(), 48)
	require.NoError(t, err)
	assert.Same(t, fc, again)
	assert.Equal(t, 1, cache.sets)
}

func TestForecastStartsAfterLastAcceptedRecord(t *testing.T) {
	f := newFixture(t, 800)
	f.train(t)

	next := hourly(800, 1)
	next[0].Price = nil
	_, err := f.records.AppendRecords(context.Background(), next)
	require.NoError(t, err)

	uc := NewForecastUseCase(f.records, f.models, pkgmetrics.Nop{}, f.engine, nil, f.settings, nil)
	uc.now = f.clock()
	fc, err := uc.Forecast(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, fc.Points, 3)
	assert.Equal(t, t0.Add(801*time.Hour), fc.Points[0].Timestamp)
}

func TestForecastRejectsHorizon(t *testing.T) {
	f := newFixture(t, 10)
	uc := NewForecastUseCase(f.records, f.models, pkgmetrics.Nop{}, f.engine, nil, f.settings, nil)
	for _, h := range []int{0, 169} {
		_, err := uc.Forecast(context.Background(), h)
		assert.ErrorIs(t, err, ErrHorizon, h)
	}
	_, err := uc.Forecast(context.Background(), 24)
	assert.True(t, models.PredictionUnavailable(err))
}

func TestConfidencePoint(t *testing.T) {
	p := ConfidencePoint(t0, 50, 4, 2, 1)
	assert.Equal(t, 42.0, p.ConfidenceLower)
	assert.Equal(t, 58.0, p.ConfidenceUpper)
	assert.InDelta(t, 1/(1+8.0/50), p.ConfidenceScore, 1e-12)

	p = ConfidencePoint(t0, 0.5, 1, 1, 25)
	assert.InDelta(t, math.Sqrt2, p.ConfidenceUpper-0.5, 1e-12)
	assert.InDelta(t, 1/(1+math.Sqrt2), p.ConfidenceScore, 1e-12)
}

func TestIngestReportsRejections(t *testing.T) {
	store := repository.NewMemoryRecordStore()
	uc := NewIngestUseCase(store, pkgmetrics.Nop{}, nil)

	recs := hourly(0, 3)
	recs[1].Price = models.Float(math.NaN())
	report, err := uc.Ingest(context.Background(), models.IngestBatch{
		Records: recs,
		Aux: []models.DailySeries{
			{Name: "gas_price", Values: map[string]float64{"2024-01-01": 30}},
			{Name: "broken", Values: map[string]float64{"01/02/2024": 1}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Failed)

	keys := make([]string, 0, len(report.Items))
	for _, it := range report.Items {
		keys = append(keys, it.Key)
	}
	assert.Contains(t, keys, "aux:broken")
}
