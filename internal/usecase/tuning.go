package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	"GridCast/internal/services/features"
	"GridCast/internal/services/trainers"
	"GridCast/internal/services/tuning"
	applogger "GridCast/pkg/logger"
)

// TuneRequest selects the model family and window of a search run. An empty
// ModelVersion files the trials under the model type, which is where
// training looks up the best configuration.
type TuneRequest struct {
	ModelType    models.ModelType
	ModelVersion string
	Trials       int
	Seed         uint64
	From         *time.Time
	To           *time.Time
}

// TuneResult is the stored outcome of one search run.
type TuneResult struct {
	ModelVersion string
	Trials       []models.HyperparameterTrial
	Best         *models.HyperparameterTrial
	Report       models.BatchReport
}

// TuningUseCase runs the hyperparameter search and maintains the best-trial
// pointer across the whole trial history of a model version.
type TuningUseCase struct {
	records  domrepo.RecordStore
	trials   domrepo.TrialStore
	events   domrepo.EventPublisher
	metrics  domrepo.Metrics
	engine   *features.Engine
	cfg      tuning.Config
	settings Settings
	l        *applogger.Logger
	now      func() time.Time
}

func NewTuningUseCase(
	records domrepo.RecordStore,
	trials domrepo.TrialStore,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	engine *features.Engine,
	cfg tuning.Config,
	settings Settings,
	l *applogger.Logger,
) *TuningUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &TuningUseCase{
		records:  records,
		trials:   trials,
		events:   events,
		metrics:  metrics,
		engine:   engine,
		cfg:      cfg,
		settings: settings.withDefaults(),
		l:        l,
		now:      time.Now,
	}
}

func (uc *TuningUseCase) Run(ctx context.Context, req TuneRequest) (*TuneResult, error) {
	if req.ModelType == "" {
		return nil, fmt.Errorf("tune: model type is required")
	}
	version := req.ModelVersion
	if version == "" {
		version = string(req.ModelType)
	}
	l := uc.l.With(applogger.Version(version), applogger.Model(string(req.ModelType)))
	started := uc.now()

	res, err := uc.run(ctx, req, version, l)
	if err != nil {
		uc.metrics.RecordError("tune")
		l.Error("tuning run failed", applogger.Error(err))
		return res, err
	}
	uc.metrics.ObserveStage("tune", uc.now().Sub(started))
	return res, nil
}

func (uc *TuningUseCase) run(ctx context.Context, req TuneRequest, version string, l *applogger.Logger) (*TuneResult, error) {
	w, err := domrepo.NormalizeWindow(req.From, req.To, uc.settings.Lookback, uc.now())
	if err != nil {
		return nil, err
	}
	data, err := loadVectors(ctx, uc.records, uc.engine, w)
	if err != nil {
		return nil, err
	}
	uc.metrics.RecordRejectedRecords(data.report.Failed)

	existing, err := uc.trials.Count(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("count trials: %w", err)
	}

	reg := trainers.NewRegistry(trainers.Options{MinRows: uc.settings.MinTrainingRows, AuxSeries: data.aux})
	searcher := tuning.NewSearcher(uc.cfg, reg, uc.settings.MinTrainingRows)
	out, err := searcher.Run(ctx, labelled(data.vectors), tuning.Request{
		ModelType:    req.ModelType,
		ModelVersion: version,
		Trials:       req.Trials,
		FirstTrial:   existing,
		Seed:         req.Seed,
	})
	if err != nil {
		return nil, err
	}

	res := &TuneResult{ModelVersion: version, Trials: out.Trials, Report: out.Report}
	if len(out.Trials) == 0 {
		return res, &models.ModelFitError{Model: req.ModelType, Err: errors.New("every trial failed")}
	}
	if err := uc.trials.Append(ctx, out.Trials); err != nil {
		return res, fmt.Errorf("append trials: %w", err)
	}
	uc.metrics.RecordTrials(string(req.ModelType), len(out.Trials))

	best, err := uc.markBest(ctx, version)
	if err != nil {
		return res, err
	}
	res.Best = best
	for i := range res.Trials {
		res.Trials[i].IsBest = res.Trials[i].ID == best.ID
	}

	event := models.TuningCompletedEvent{
		ModelVersion: version,
		ModelType:    req.ModelType,
		Trials:       len(out.Trials),
		Failed:       out.Report.Failed,
		BestTrialID:  best.ID,
		BestMAE:      best.Performance.MAE,
		BestParams:   best.Hyperparameters,
		CompletedAt:  uc.now().UTC(),
	}
	if err := uc.events.PublishTuningCompleted(ctx, event); err != nil {
		l.Warn("publish tuning event", applogger.Error(err))
	}
	l.Info("tuning run complete",
		applogger.Int("trials", len(out.Trials)),
		applogger.Int("failed", out.Report.Failed),
		applogger.Int("history", existing+len(out.Trials)),
		applogger.String("best_trial", best.ID),
		applogger.Float64("best_mae", best.Performance.MAE),
	)
	return res, nil
}

// markBest points the version at its lowest-MAE trial over the full history.
func (uc *TuningUseCase) markBest(ctx context.Context, version string) (*models.HyperparameterTrial, error) {
	history, err := uc.trials.List(ctx, version, 0)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("list trials: %w", models.ErrNotFound)
	}
	best := history[tuning.Rank(history)[0]]
	if err := uc.trials.SetBest(ctx, version, best.ID); err != nil {
		return nil, fmt.Errorf("set best trial: %w", err)
	}
	best.IsBest = true
	return &best, nil
}
