package usecase

import (
	"context"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	"GridCast/internal/services/evaluation"
	"GridCast/internal/services/features"
	"GridCast/internal/services/trainers"
	applogger "GridCast/pkg/logger"

	"github.com/google/uuid"
)

// EvaluateRequest selects the hours to score. Zero bounds default to the
// last day ending at the current hour.
type EvaluateRequest struct {
	From *time.Time
	To   *time.Time
}

// EvaluationUseCase scores the active ensemble against newly observed
// prices and stores the result as a live snapshot.
type EvaluationUseCase struct {
	records   domrepo.RecordStore
	models    domrepo.ModelStore
	snapshots domrepo.SnapshotStore
	metrics   domrepo.Metrics
	engine    *features.Engine
	l         *applogger.Logger
	now       func() time.Time
}

func NewEvaluationUseCase(
	records domrepo.RecordStore,
	modelStore domrepo.ModelStore,
	snapshots domrepo.SnapshotStore,
	metrics domrepo.Metrics,
	engine *features.Engine,
	l *applogger.Logger,
) *EvaluationUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &EvaluationUseCase{
		records:   records,
		models:    modelStore,
		snapshots: snapshots,
		metrics:   metrics,
		engine:    engine,
		l:         l,
		now:       time.Now,
	}
}

func (uc *EvaluationUseCase) Run(ctx context.Context, req EvaluateRequest) (*models.PerformanceSnapshot, error) {
	snap, err := uc.run(ctx, req)
	if err != nil {
		uc.metrics.RecordError("evaluate")
		return nil, err
	}
	return snap, nil
}

func (uc *EvaluationUseCase) run(ctx context.Context, req EvaluateRequest) (*models.PerformanceSnapshot, error) {
	started := uc.now()
	w, err := domrepo.NormalizeWindow(req.From, req.To, 24*time.Hour, started)
	if err != nil {
		return nil, err
	}

	active, err := loadActive(ctx, uc.models, uc.l)
	if err != nil {
		return nil, err
	}
	l := uc.l.With(applogger.Version(active.ptr.ModelVersion))

	data, err := loadVectors(ctx, uc.records, uc.engine, domrepo.Window{From: w.From.Add(-historyPad), To: w.To})
	if err != nil {
		return nil, err
	}

	reg := trainers.NewRegistry(trainers.Options{AuxSeries: data.aux})
	var preds, actual []float64
	for _, v := range data.vectors {
		if v.Timestamp.Before(w.From) || v.Target == nil {
			continue
		}
		y, err := active.predict(reg, v)
		if err != nil {
			l.Warn("skip unscorable hour", applogger.Error(err))
			continue
		}
		preds = append(preds, y)
		actual = append(actual, *v.Target)
	}
	if len(preds) == 0 {
		return nil, &models.InsufficientDataError{Stage: "evaluate", Have: 0, Need: 1}
	}

	m := evaluation.Compute(preds, actual)
	snap := models.NewSnapshot(uuid.NewString(), active.ptr.ModelVersion, models.ModelEnsemble, models.SplitLive, m, uc.now().UTC())
	if err := uc.snapshots.Append(ctx, []models.PerformanceSnapshot{snap}); err != nil {
		return nil, fmt.Errorf("append live snapshot: %w", err)
	}
	uc.metrics.RecordModelSMAPE(string(models.ModelEnsemble), string(models.SplitLive), m.SMAPE)
	uc.metrics.ObserveStage("evaluate", uc.now().Sub(started))

	l.Info("live evaluation stored",
		applogger.Int("samples", m.Count),
		applogger.Float64("mae", m.MAE),
		applogger.Float64("smape", m.SMAPE),
	)
	return &snap, nil
}
