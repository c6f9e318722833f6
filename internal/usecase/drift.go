package usecase

import (
	"context"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	domsvc "GridCast/internal/domain/service"
	"GridCast/internal/services/evaluation"
	"GridCast/internal/services/features"
	applogger "GridCast/pkg/logger"
)

// DriftUseCase compares the recent behavior of the active ensemble with its
// baseline and publishes the report.
type DriftUseCase struct {
	records   domrepo.RecordStore
	models    domrepo.ModelStore
	snapshots domrepo.SnapshotStore
	events    domrepo.EventPublisher
	metrics   domrepo.Metrics
	engine    *features.Engine
	monitor   domsvc.DriftMonitor
	settings  Settings
	l         *applogger.Logger
	now       func() time.Time
}

func NewDriftUseCase(
	records domrepo.RecordStore,
	modelStore domrepo.ModelStore,
	snapshots domrepo.SnapshotStore,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	engine *features.Engine,
	monitor domsvc.DriftMonitor,
	settings Settings,
	l *applogger.Logger,
) *DriftUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &DriftUseCase{
		records:   records,
		models:    modelStore,
		snapshots: snapshots,
		events:    events,
		metrics:   metrics,
		engine:    engine,
		monitor:   monitor,
		settings:  settings.withDefaults(),
		l:         l,
		now:       time.Now,
	}
}

// Check builds the drift input from stored snapshots and recent records.
// Recent is the live performance inside the recent window; the baseline
// aggregates the validation and test snapshots of the version plus live
// snapshots taken before the window.
func (uc *DriftUseCase) Check(ctx context.Context) (models.DriftReport, error) {
	report, err := uc.check(ctx)
	if err != nil {
		uc.metrics.RecordError("drift")
		return models.DriftReport{}, err
	}
	return report, nil
}

func (uc *DriftUseCase) check(ctx context.Context) (models.DriftReport, error) {
	ptr, err := uc.models.Active(ctx)
	if err != nil {
		return models.DriftReport{}, err
	}
	ens, err := uc.models.Get(ctx, ptr.EnsembleID)
	if err != nil {
		return models.DriftReport{}, fmt.Errorf("load active ensemble: %w", err)
	}
	l := uc.l.With(applogger.Version(ptr.ModelVersion))

	now := uc.now().UTC()
	since := now.Add(-uc.settings.RecentWindow)

	snaps, err := uc.snapshots.List(ctx, domrepo.SnapshotFilter{
		ModelVersion: ptr.ModelVersion,
		ModelType:    models.ModelEnsemble,
	})
	if err != nil {
		return models.DriftReport{}, fmt.Errorf("list snapshots: %w", err)
	}
	var recent, overall []models.MetricSet
	for _, s := range snaps {
		switch s.Split {
		case models.SplitVal, models.SplitTest:
			overall = append(overall, s.Metrics())
		case models.SplitLive:
			if s.CreatedAt.Before(since) {
				overall = append(overall, s.Metrics())
			} else {
				recent = append(recent, s.Metrics())
			}
		}
	}

	recentStats, err := uc.recentFeatureStats(ctx, since, now)
	if err != nil {
		return models.DriftReport{}, err
	}

	report := uc.monitor.Evaluate(models.DriftInput{
		ModelVersion:  ptr.ModelVersion,
		Recent:        evaluation.Aggregate(recent...),
		Overall:       evaluation.Aggregate(overall...),
		TrainingStats: ens.FeatureStats,
		RecentStats:   recentStats,
	})
	uc.metrics.RecordDriftScore(report.DriftScore)

	if err := uc.events.PublishDriftReport(ctx, report); err != nil {
		l.Warn("publish drift report", applogger.Error(err))
	}
	l.Info("drift check complete",
		applogger.Float64("drift_score", report.DriftScore),
		applogger.String("level", string(report.Level)),
		applogger.Bool("requires_retraining", report.RequiresRetraining),
	)
	return report, nil
}

func (uc *DriftUseCase) recentFeatureStats(ctx context.Context, from, to time.Time) (map[string]models.FeatureStat, error) {
	data, err := loadVectors(ctx, uc.records, uc.engine, domrepo.Window{From: from.Add(-historyPad), To: to})
	if err != nil {
		return nil, err
	}
	recent := make([]models.FeatureVector, 0, len(data.vectors))
	for _, v := range data.vectors {
		if !v.Timestamp.Before(from) {
			recent = append(recent, v)
		}
	}
	return features.Stats(recent, uc.settings.DriftFeatures), nil
}
