package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	domsvc "GridCast/internal/domain/service"
	"GridCast/internal/services/ensemble"
	"GridCast/internal/services/evaluation"
	"GridCast/internal/services/features"
	"GridCast/internal/services/trainers"
	applogger "GridCast/pkg/logger"

	"github.com/google/uuid"
)

const trainLockKey = "lock:train"

// TrainRequest selects the training window. Zero bounds default to the
// configured lookback ending at the current hour.
type TrainRequest struct {
	From         *time.Time
	To           *time.Time
	ModelVersion string
}

// TrainResult summarizes one training run.
type TrainResult struct {
	ModelVersion string
	Ensemble     *models.ModelParameters
	Base         map[models.ModelType]*models.ModelParameters
	Metrics      map[models.ModelType]map[models.Split]models.MetricSet
	Features     models.BatchReport
	Models       models.BatchReport
	Optimization models.EnsembleResult
}

// ForecastInvalidator drops cached forecasts once a new ensemble is active.
type ForecastInvalidator interface {
	Invalidate(ctx context.Context) error
}

// TrainingPipeline loads records, fits the base models in parallel, learns
// ensemble weights on the validation block and activates the result.
type TrainingPipeline struct {
	records   domrepo.RecordStore
	models    domrepo.ModelStore
	trials    domrepo.TrialStore
	snapshots domrepo.SnapshotStore
	events    domrepo.EventPublisher
	metrics   domrepo.Metrics
	engine    *features.Engine
	optimizer domsvc.EnsembleOptimizer
	lock      RunLock
	cache     ForecastInvalidator
	settings  Settings
	l         *applogger.Logger
	now       func() time.Time
}

func NewTrainingPipeline(
	records domrepo.RecordStore,
	modelStore domrepo.ModelStore,
	trials domrepo.TrialStore,
	snapshots domrepo.SnapshotStore,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	engine *features.Engine,
	optimizer domsvc.EnsembleOptimizer,
	settings Settings,
	l *applogger.Logger,
) *TrainingPipeline {
	if l == nil {
		l = applogger.Nop()
	}
	return &TrainingPipeline{
		records:   records,
		models:    modelStore,
		trials:    trials,
		snapshots: snapshots,
		events:    events,
		metrics:   metrics,
		engine:    engine,
		optimizer: optimizer,
		settings:  settings.withDefaults(),
		l:         l,
		now:       time.Now,
	}
}

// SetLock enables cross-process serialization of training runs.
func (p *TrainingPipeline) SetLock(lock RunLock) { p.lock = lock }

// SetForecastCache registers the cache dropped after activation.
func (p *TrainingPipeline) SetForecastCache(c ForecastInvalidator) { p.cache = c }

type fitOutcome struct {
	params *models.ModelParameters
	preds  map[models.Split][]float64
	err    error
}

// Run executes one training run end to end. A failing base model is
// excluded and recorded; the run fails only when every model fails or the
// window is too small.
func (p *TrainingPipeline) Run(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	if p.lock != nil {
		ok, err := p.lock.TryLock(ctx, trainLockKey, p.settings.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire training lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := p.lock.Unlock(context.WithoutCancel(ctx), trainLockKey); err != nil {
				p.l.Warn("release training lock", applogger.Error(err))
			}
		}()
	}

	started := p.now()
	version := req.ModelVersion
	if version == "" {
		version = started.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	}
	l := p.l.With(applogger.Version(version))

	res, err := p.run(ctx, req, version, l)
	if err != nil {
		p.metrics.RecordError("train")
		l.Error("training run failed", applogger.Error(err))
		return res, err
	}
	p.metrics.ObserveStage("train_total", p.now().Sub(started))
	return res, nil
}

func (p *TrainingPipeline) run(ctx context.Context, req TrainRequest, version string, l *applogger.Logger) (*TrainResult, error) {
	w, err := domrepo.NormalizeWindow(req.From, req.To, p.settings.Lookback, p.now())
	if err != nil {
		return nil, err
	}

	stage := p.now()
	data, err := loadVectors(ctx, p.records, p.engine, w)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage("derive", p.now().Sub(stage))
	p.metrics.RecordRejectedRecords(data.report.Failed)

	res := &TrainResult{
		ModelVersion: version,
		Base:         make(map[models.ModelType]*models.ModelParameters),
		Metrics:      make(map[models.ModelType]map[models.Split]models.MetricSet),
		Features:     data.report,
	}

	rows := labelled(data.vectors)
	train, val, test := splitChronological(rows, p.settings.TrainSplit, p.settings.ValSplit)
	if len(train) < p.settings.MinTrainingRows || len(val) == 0 {
		need := int(float64(p.settings.MinTrainingRows)/p.settings.TrainSplit) + 1
		return res, &models.InsufficientDataError{Stage: "train", Have: len(rows), Need: need}
	}
	l.Info("training window loaded",
		applogger.Time("from", w.From),
		applogger.Time("to", w.To),
		applogger.Int("train_rows", len(train)),
		applogger.Int("val_rows", len(val)),
		applogger.Int("test_rows", len(test)),
		applogger.Int("rejected", data.report.Failed),
	)

	reg := trainers.NewRegistry(trainers.Options{MinRows: p.settings.MinTrainingRows, AuxSeries: data.aux})
	splits := map[models.Split][]models.FeatureVector{
		models.SplitTrain: train,
		models.SplitVal:   val,
		models.SplitTest:  test,
	}

	stage = p.now()
	outcomes := p.fitAll(ctx, reg, splits, l)
	p.metrics.ObserveStage("fit", p.now().Sub(stage))
	if err := ctx.Err(); err != nil {
		return res, err
	}

	excluded := make(map[models.ModelType]string)
	var (
		included []models.ModelType
		valPreds [][]float64
	)
	for _, mt := range models.BaseModelTypes() {
		o := outcomes[mt]
		if o.err != nil {
			excluded[mt] = o.err.Error()
			res.Models.Fail(string(mt), o.err)
			continue
		}
		res.Models.Success(string(mt))
		o.params.Version = version
		res.Base[mt] = o.params
		included = append(included, mt)
		valPreds = append(valPreds, o.preds[models.SplitVal])
	}
	if len(included) == 0 {
		return res, &models.EnsembleDegenerateError{Excluded: excluded}
	}

	stage = p.now()
	opt, err := p.optimizer.Optimize(valPreds, targetsOf(val))
	if err != nil {
		return res, fmt.Errorf("optimize ensemble: %w", err)
	}
	p.metrics.ObserveStage("ensemble", p.now().Sub(stage))
	res.Optimization = opt

	weights := make(map[models.ModelType]float64, len(included))
	components := make(map[models.ModelType]string, len(included))
	for i, mt := range included {
		weights[mt] = opt.Weights[i]
		components[mt] = res.Base[mt].ID
		p.metrics.RecordEnsembleWeight(string(mt), opt.Weights[i])
	}

	at := p.now().UTC()
	var snaps []models.PerformanceSnapshot
	ensPreds := make(map[models.Split][]float64, len(splits))
	for split := range splits {
		matrix := make([][]float64, len(included))
		for i, mt := range included {
			matrix[i] = outcomes[mt].preds[split]
		}
		ensPreds[split] = ensemble.Combine(opt.Weights, matrix)
	}

	scored := append(append([]models.ModelType(nil), included...), models.ModelEnsemble)
	for _, mt := range scored {
		res.Metrics[mt] = make(map[models.Split]models.MetricSet, len(splits))
		for _, split := range []models.Split{models.SplitTrain, models.SplitVal, models.SplitTest} {
			part := splits[split]
			if len(part) == 0 {
				continue
			}
			preds := ensPreds[split]
			if mt != models.ModelEnsemble {
				preds = outcomes[mt].preds[split]
			}
			m := evaluation.Compute(preds, targetsOf(part))
			res.Metrics[mt][split] = m
			snaps = append(snaps, models.NewSnapshot(uuid.NewString(), version, mt, split, m, at))
			p.metrics.RecordModelSMAPE(string(mt), string(split), m.SMAPE)
		}
	}

	ens := &models.ModelParameters{
		ID:           uuid.NewString(),
		Version:      version,
		ModelType:    models.ModelEnsemble,
		Inputs:       models.InputNames(data.aux),
		Weights:      weights,
		Components:   components,
		Excluded:     excluded,
		ResidualStd:  evaluation.ResidualStd(ensPreds[models.SplitVal], targetsOf(val)),
		FeatureStats: features.Stats(train, p.settings.DriftFeatures),
		Window: models.TrainingWindow{
			Start: train[0].Timestamp,
			End:   rows[len(rows)-1].Timestamp,
			Rows:  len(rows),
		},
		CreatedAt: at,
	}
	res.Ensemble = ens

	stage = p.now()
	if err := p.persist(ctx, res, snaps); err != nil {
		return res, err
	}
	p.metrics.ObserveStage("persist", p.now().Sub(stage))

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx); err != nil {
			l.Warn("invalidate forecast cache", applogger.Error(err))
		}
	}

	event := models.ModelTrainedEvent{
		ModelVersion: version,
		EnsembleID:   ens.ID,
		Weights:      weights,
		Excluded:     excluded,
		ValSMAPE:     res.Metrics[models.ModelEnsemble][models.SplitVal].SMAPE,
		TestSMAPE:    res.Metrics[models.ModelEnsemble][models.SplitTest].SMAPE,
		Window:       ens.Window,
		TrainedAt:    at,
	}
	if err := p.events.PublishModelTrained(ctx, event); err != nil {
		// The model is already active; a lost event is not a failed run.
		l.Warn("publish model trained event", applogger.Error(err))
	}

	l.Info("training run complete",
		applogger.String("ensemble_id", ens.ID),
		applogger.Int("models", len(included)),
		applogger.Int("excluded", len(excluded)),
		applogger.Float64("val_smape", event.ValSMAPE),
		applogger.Float64("test_smape", event.TestSMAPE),
	)
	return res, nil
}

// fitAll trains every base model concurrently. Each trainer gets its own
// timeout and stored best hyperparameters when tuning produced any.
func (p *TrainingPipeline) fitAll(ctx context.Context, reg *trainers.Registry, splits map[models.Split][]models.FeatureVector, l *applogger.Logger) map[models.ModelType]fitOutcome {
	all := reg.All()
	results := make([]fitOutcome, len(all))

	var wg sync.WaitGroup
	for i, t := range all {
		wg.Add(1)
		go func(i int, t domsvc.Trainer) {
			defer wg.Done()
			results[i] = p.fitOne(ctx, t, splits, l)
		}(i, t)
	}
	wg.Wait()

	out := make(map[models.ModelType]fitOutcome, len(all))
	for i, t := range all {
		out[t.Type()] = results[i]
	}
	return out
}

func (p *TrainingPipeline) fitOne(ctx context.Context, t domsvc.Trainer, splits map[models.Split][]models.FeatureVector, l *applogger.Logger) (out fitOutcome) {
	mt := t.Type()
	defer func() {
		if r := recover(); r != nil {
			out = fitOutcome{err: &models.ModelFitError{Model: mt, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.settings.TrainerTimeout)
	defer cancel()

	hp := t.DefaultHyperparameters()
	if best, err := p.trials.Best(ctx, string(mt)); err == nil {
		hp = best.Hyperparameters
	} else if !errors.Is(err, models.ErrNotFound) {
		l.Warn("load best trial", applogger.Model(string(mt)), applogger.Error(err))
	}

	began := p.now()
	params, err := t.Fit(ctx, splits[models.SplitTrain], hp)
	if err != nil {
		var fitErr *models.ModelFitError
		if !errors.As(err, &fitErr) {
			err = &models.ModelFitError{Model: mt, Err: err}
		}
		l.Warn("base model excluded", applogger.Model(string(mt)), applogger.Error(err))
		return fitOutcome{err: err}
	}

	preds := make(map[models.Split][]float64, len(splits))
	for split, rows := range splits {
		v, err := predictRows(t, params, rows)
		if err != nil {
			err = &models.ModelFitError{Model: mt, Err: err}
			l.Warn("base model excluded", applogger.Model(string(mt)), applogger.Error(err))
			return fitOutcome{err: err}
		}
		preds[split] = v
	}
	l.Debug("base model fitted", applogger.Model(string(mt)), applogger.Duration("duration", p.now().Sub(began)))
	return fitOutcome{params: params, preds: preds}
}

// persist stores base rows before the ensemble row and flips the active
// pointer last, so a reader never sees a pointer to a missing row.
func (p *TrainingPipeline) persist(ctx context.Context, res *TrainResult, snaps []models.PerformanceSnapshot) error {
	for _, mt := range models.BaseModelTypes() {
		b, ok := res.Base[mt]
		if !ok {
			continue
		}
		if err := p.models.Save(ctx, b); err != nil {
			return fmt.Errorf("save %s model: %w", mt, err)
		}
	}
	if err := p.models.Save(ctx, res.Ensemble); err != nil {
		return fmt.Errorf("save ensemble: %w", err)
	}
	if err := p.snapshots.Append(ctx, snaps); err != nil {
		return fmt.Errorf("append snapshots: %w", err)
	}
	ptr := models.ActivePointer{
		ModelVersion: res.ModelVersion,
		EnsembleID:   res.Ensemble.ID,
		UpdatedAt:    p.now().UTC(),
	}
	if err := p.models.SetActive(ctx, ptr); err != nil {
		return fmt.Errorf("activate ensemble: %w", err)
	}
	return nil
}
