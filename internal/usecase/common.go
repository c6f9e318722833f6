package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	domsvc "GridCast/internal/domain/service"
	"GridCast/internal/services/ensemble"
	"GridCast/internal/services/features"
	"GridCast/internal/services/trainers"
	"GridCast/pkg/config"
	applogger "GridCast/pkg/logger"
)

var (
	// ErrRunInProgress is returned when another process holds the run lock.
	ErrRunInProgress = errors.New("pipeline run already in progress")
	// ErrHorizon rejects a forecast length outside 1..MaxHorizon.
	ErrHorizon = errors.New("forecast horizon out of range")
)

// historyPad is loaded before a scoring window so lags and rolling
// statistics of its first hour are populated.
const historyPad = 8 * 24 * time.Hour

// RunLock serializes batch runs across processes. pkg/cache.Service
// satisfies it.
type RunLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Settings are the pipeline knobs shared by the use cases.
type Settings struct {
	MinTrainingRows int
	Lookback        time.Duration
	TrainSplit      float64
	ValSplit        float64
	TrainerTimeout  time.Duration
	DriftFeatures   []string
	RecentWindow    time.Duration
	MaxHorizon      int
	ZScore          float64
	CacheTTL        time.Duration
	LockTTL         time.Duration
}

// SettingsFrom maps configuration onto Settings.
func SettingsFrom(c *config.Config) Settings {
	return Settings{
		MinTrainingRows: c.Pipeline.MinTrainingRows,
		Lookback:        time.Duration(c.Pipeline.LookbackDays) * 24 * time.Hour,
		TrainSplit:      c.Pipeline.TrainSplit,
		ValSplit:        c.Pipeline.ValSplit,
		TrainerTimeout:  c.Pipeline.TrainerTimeout,
		DriftFeatures:   c.Drift.Features,
		RecentWindow:    c.Drift.RecentWindow,
		MaxHorizon:      c.Forecast.MaxHorizon,
		ZScore:          c.Forecast.ZScore,
		CacheTTL:        c.Forecast.CacheTTL,
		LockTTL:         c.Queue.JobTimeout,
	}
}

func (s Settings) withDefaults() Settings {
	if s.MinTrainingRows <= 0 {
		s.MinTrainingRows = trainers.MinTrainingRows
	}
	if s.Lookback <= 0 {
		s.Lookback = 365 * 24 * time.Hour
	}
	if s.TrainSplit <= 0 || s.ValSplit <= 0 || s.TrainSplit+s.ValSplit >= 1 {
		s.TrainSplit, s.ValSplit = 0.70, 0.15
	}
	if s.TrainerTimeout <= 0 {
		s.TrainerTimeout = 10 * time.Minute
	}
	if s.RecentWindow <= 0 {
		s.RecentWindow = 7 * 24 * time.Hour
	}
	if s.MaxHorizon <= 0 {
		s.MaxHorizon = 168
	}
	if s.ZScore <= 0 {
		s.ZScore = 1.96
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 30 * time.Minute
	}
	return s
}

// loaded is one derived window.
type loaded struct {
	vectors []models.FeatureVector
	aux     []string
	report  models.BatchReport
}

// loadVectors reads records and aux series for w and derives features.
func loadVectors(ctx context.Context, store domrepo.RecordStore, engine *features.Engine, w domrepo.Window) (loaded, error) {
	records, err := store.ListRecords(ctx, w.From, w.To)
	if err != nil {
		return loaded{}, fmt.Errorf("load records: %w", err)
	}
	// Aux lags look back a week before the first hour.
	aux, err := store.ListAuxSeries(ctx, w.From.Add(-historyPad), w.To)
	if err != nil {
		return loaded{}, fmt.Errorf("load aux series: %w", err)
	}
	vectors, report := engine.Derive(records, aux)
	names := make([]string, len(aux))
	for i, s := range aux {
		names[i] = s.Name
	}
	sort.Strings(names)
	return loaded{vectors: vectors, aux: names, report: report}, nil
}

// labelled keeps vectors with an observed price.
func labelled(vectors []models.FeatureVector) []models.FeatureVector {
	out := make([]models.FeatureVector, 0, len(vectors))
	for _, v := range vectors {
		if v.Target != nil {
			out = append(out, v)
		}
	}
	return out
}

func targetsOf(rows []models.FeatureVector) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = *r.Target
	}
	return out
}

// splitChronological cuts rows into train, validation and test blocks in
// time order.
func splitChronological(rows []models.FeatureVector, trainFrac, valFrac float64) (train, val, test []models.FeatureVector) {
	n := len(rows)
	nTrain := int(float64(n) * trainFrac)
	nVal := int(float64(n) * valFrac)
	return rows[:nTrain], rows[nTrain : nTrain+nVal], rows[nTrain+nVal:]
}

// predictRows scores every row, failing on the first prediction error.
func predictRows(t domsvc.Trainer, p *models.ModelParameters, rows []models.FeatureVector) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, r := range rows {
		v, err := t.Predict(p, r)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", r.Timestamp.Format(time.RFC3339), err)
		}
		out[i] = v
	}
	return out, nil
}

// activeEnsemble resolves the active pointer into the ensemble row and its
// base model rows. Components that cannot be loaded are dropped from the
// returned weights.
type activeEnsemble struct {
	ptr        models.ActivePointer
	params     *models.ModelParameters
	components map[models.ModelType]*models.ModelParameters
	weights    map[models.ModelType]float64
}

func loadActive(ctx context.Context, store domrepo.ModelStore, l *applogger.Logger) (*activeEnsemble, error) {
	ptr, err := store.Active(ctx)
	if err != nil {
		return nil, err
	}
	ens, err := store.Get(ctx, ptr.EnsembleID)
	if err != nil {
		return nil, fmt.Errorf("load active ensemble: %w", err)
	}
	out := &activeEnsemble{
		ptr:        ptr,
		params:     ens,
		components: make(map[models.ModelType]*models.ModelParameters, len(ens.Components)),
		weights:    make(map[models.ModelType]float64, len(ens.Weights)),
	}
	for mt, id := range ens.Components {
		if ens.Weights[mt] <= 0 {
			continue
		}
		p, err := store.Get(ctx, id)
		if err != nil {
			l.Warn("active component unavailable", applogger.Model(string(mt)), applogger.Error(err))
			continue
		}
		out.components[mt] = p
		out.weights[mt] = ens.Weights[mt]
	}
	if len(out.components) == 0 {
		excluded := map[models.ModelType]string{}
		for mt := range ens.Components {
			excluded[mt] = "component unavailable"
		}
		return nil, &models.EnsembleDegenerateError{Excluded: excluded}
	}
	return out, nil
}

// predict blends the component predictions for one row.
func (a *activeEnsemble) predict(reg *trainers.Registry, row models.FeatureVector) (float64, error) {
	preds := make(map[models.ModelType]float64, len(a.components))
	for mt, p := range a.components {
		t, ok := reg.Get(mt)
		if !ok {
			continue
		}
		v, err := t.Predict(p, row)
		if err != nil {
			continue
		}
		preds[mt] = v
	}
	y, ok := ensemble.Blend(a.weights, preds)
	if !ok {
		return 0, fmt.Errorf("no component produced a prediction for %s", row.Timestamp.Format(time.RFC3339))
	}
	return y, nil
}
