package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	"GridCast/internal/services/features"
	"GridCast/internal/services/trainers"
	applogger "GridCast/pkg/logger"
)

// ForecastCache stores forecasts keyed by model version and horizon.
type ForecastCache interface {
	Get(ctx context.Context, version string, hours int) (*models.Forecast, bool)
	Set(ctx context.Context, f *models.Forecast)
}

// forecastHistory is loaded before the forecast origin to seed lags.
const forecastHistory = 14 * 24 * time.Hour

// ForecastUseCase produces recursive hourly forecasts from the active
// ensemble.
type ForecastUseCase struct {
	records  domrepo.RecordStore
	models   domrepo.ModelStore
	metrics  domrepo.Metrics
	engine   *features.Engine
	cache    ForecastCache
	settings Settings
	l        *applogger.Logger
	now      func() time.Time
}

func NewForecastUseCase(
	records domrepo.RecordStore,
	modelStore domrepo.ModelStore,
	metrics domrepo.Metrics,
	engine *features.Engine,
	cache ForecastCache,
	settings Settings,
	l *applogger.Logger,
) *ForecastUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &ForecastUseCase{
		records:  records,
		models:   modelStore,
		metrics:  metrics,
		engine:   engine,
		cache:    cache,
		settings: settings.withDefaults(),
		l:        l,
		now:      time.Now,
	}
}

// Forecast predicts the next hours after the last accepted record, priced or
// not; stored hours without a price keep their exogenous inputs. Each
// prediction is fed back as the price of its hour so later hours see it in
// their lags. Exogenous inputs of a future hour repeat the same hour of the
// previous day.
func (uc *ForecastUseCase) Forecast(ctx context.Context, hours int) (*models.Forecast, error) {
	if hours < 1 || hours > uc.settings.MaxHorizon {
		return nil, fmt.Errorf("%w: hours must be between 1 and %d, got %d", ErrHorizon, uc.settings.MaxHorizon, hours)
	}

	active, err := loadActive(ctx, uc.models, uc.l)
	if err != nil {
		uc.metrics.RecordError("forecast")
		return nil, err
	}
	if uc.cache != nil {
		if f, ok := uc.cache.Get(ctx, active.ptr.ModelVersion, hours); ok {
			return f, nil
		}
	}

	started := uc.now()
	f, err := uc.forecast(ctx, active, hours)
	if err != nil {
		uc.metrics.RecordError("forecast")
		return nil, err
	}
	uc.metrics.ObserveStage("forecast", uc.now().Sub(started))
	if uc.cache != nil {
		uc.cache.Set(ctx, f)
	}
	return f, nil
}

func (uc *ForecastUseCase) forecast(ctx context.Context, active *activeEnsemble, hours int) (*models.Forecast, error) {
	to := uc.now().UTC().Truncate(time.Hour).Add(time.Hour)
	from := to.Add(-forecastHistory)
	records, err := uc.records.ListRecords(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	aux, err := uc.records.ListAuxSeries(ctx, from.Add(-historyPad), to.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load aux series: %w", err)
	}

	b := uc.engine.NewBuilder(aux)
	byHour := make(map[int64]models.TrainingRecord, len(records)+hours)
	var last models.TrainingRecord
	for _, rec := range records {
		if !rec.Valid {
			continue
		}
		if _, err := b.Append(rec); err != nil {
			continue
		}
		byHour[rec.Timestamp.Unix()] = rec
		last = rec
	}
	origin, ok := b.Last()
	if !ok {
		return nil, &models.InsufficientDataError{Stage: "forecast", Have: 0, Need: 1}
	}

	reg := trainers.NewRegistry(trainers.Options{AuxSeries: b.AuxNames()})
	sigma := active.params.ResidualStd
	out := &models.Forecast{
		ModelVersion: active.ptr.ModelVersion,
		GeneratedAt:  uc.now().UTC(),
		Horizon:      hours,
		Points:       make([]models.ForecastPoint, 0, hours),
	}
	for h := 1; h <= hours; h++ {
		t := origin.Add(time.Duration(h) * time.Hour)
		src, ok := byHour[t.Add(-24*time.Hour).Unix()]
		if !ok {
			src = last
		}
		rec := src
		rec.Timestamp = t
		rec.Price = nil
		rec.Valid = true

		v, err := b.Append(rec)
		if err != nil {
			return nil, fmt.Errorf("derive hour %d: %w", h, err)
		}
		y, err := active.predict(reg, v)
		if err != nil {
			return nil, &models.EnsembleDegenerateError{Excluded: map[models.ModelType]string{models.ModelEnsemble: err.Error()}}
		}
		b.SetPrice(t, y)
		byHour[t.Unix()] = rec

		out.Points = append(out.Points, ConfidencePoint(t, y, sigma, uc.settings.ZScore, h))
	}
	return out, nil
}

// ConfidencePoint widens the interval with the horizon: the half width is
// z·σ·sqrt(1 + (h-1)/24). The score maps the relative half width into (0, 1].
func ConfidencePoint(t time.Time, y, sigma, z float64, h int) models.ForecastPoint {
	half := z * sigma * math.Sqrt(1+float64(h-1)/24)
	return models.ForecastPoint{
		Timestamp:       t,
		PredictedPrice:  y,
		ConfidenceLower: y - half,
		ConfidenceUpper: y + half,
		ConfidenceScore: 1 / (1 + half/math.Max(math.Abs(y), 1)),
	}
}
