// Package jobs adapts the batch use cases to queue handlers so the server
// can run them on its Redis workers.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"GridCast/internal/domain/models"
	"GridCast/internal/usecase"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/queue"
)

// Job types accepted by the queue.
const (
	TypeTrain    = "train"
	TypeTune     = "tune"
	TypeEvaluate = "evaluate"
	TypeDrift    = "drift"
)

type trainRunner interface {
	Run(ctx context.Context, req usecase.TrainRequest) (*usecase.TrainResult, error)
}

type tuneRunner interface {
	Run(ctx context.Context, req usecase.TuneRequest) (*usecase.TuneResult, error)
}

type evaluateRunner interface {
	Run(ctx context.Context, req usecase.EvaluateRequest) (*models.PerformanceSnapshot, error)
}

type driftChecker interface {
	Check(ctx context.Context) (models.DriftReport, error)
}

// TrainJob runs a training pipeline.
type TrainJob struct {
	uc trainRunner
	l  *applogger.Logger
}

func NewTrainJob(uc trainRunner, l *applogger.Logger) *TrainJob {
	return &TrainJob{uc: uc, l: orNop(l)}
}

func (j *TrainJob) Name() string { return "train-pipeline" }
func (j *TrainJob) Type() string { return TypeTrain }

func (j *TrainJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[models.JobPayload](payload)
	if err != nil {
		return err
	}
	res, err := j.uc.Run(ctx, usecase.TrainRequest{From: p.From, To: p.To, ModelVersion: p.ModelVersion})
	if err != nil {
		return fmt.Errorf("train job: %w", err)
	}
	j.l.Info("train job done", applogger.Version(res.ModelVersion), applogger.String("ensemble_id", res.Ensemble.ID))
	return nil
}

// TuneJob searches hyperparameters for one model family, or for every base
// family when the payload names none. A sweep over every family keeps each
// family's trials under its own version.
type TuneJob struct {
	uc tuneRunner
	l  *applogger.Logger
}

func NewTuneJob(uc tuneRunner, l *applogger.Logger) *TuneJob {
	return &TuneJob{uc: uc, l: orNop(l)}
}

func (j *TuneJob) Name() string { return "hyperparameter-search" }
func (j *TuneJob) Type() string { return TypeTune }

func (j *TuneJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[models.JobPayload](payload)
	if err != nil {
		return err
	}
	types := models.BaseModelTypes()
	version := ""
	if p.ModelType != "" {
		types = []models.ModelType{models.ModelType(p.ModelType)}
		version = p.ModelVersion
	}
	for _, mt := range types {
		res, err := j.uc.Run(ctx, usecase.TuneRequest{
			ModelType:    mt,
			ModelVersion: version,
			Trials:       p.Trials,
			From:         p.From,
			To:           p.To,
		})
		if err != nil {
			return fmt.Errorf("tune job %s: %w", mt, err)
		}
		j.l.Info("tune job done", applogger.Model(string(mt)), applogger.String("best_trial", res.Best.ID))
	}
	return nil
}

// EvaluateJob stores a live snapshot of the active ensemble.
type EvaluateJob struct {
	uc evaluateRunner
	l  *applogger.Logger
}

func NewEvaluateJob(uc evaluateRunner, l *applogger.Logger) *EvaluateJob {
	return &EvaluateJob{uc: uc, l: orNop(l)}
}

func (j *EvaluateJob) Name() string { return "live-evaluation" }
func (j *EvaluateJob) Type() string { return TypeEvaluate }

func (j *EvaluateJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[models.JobPayload](payload)
	if err != nil {
		return err
	}
	snap, err := j.uc.Run(ctx, usecase.EvaluateRequest{From: p.From, To: p.To})
	if err != nil {
		return fmt.Errorf("evaluate job: %w", err)
	}
	j.l.Info("evaluate job done", applogger.Version(snap.ModelVersion), applogger.Float64("smape", snap.SMAPE))
	return nil
}

// DriftJob runs a drift check; the report itself is published by the use
// case.
type DriftJob struct {
	uc driftChecker
	l  *applogger.Logger
}

func NewDriftJob(uc driftChecker, l *applogger.Logger) *DriftJob {
	return &DriftJob{uc: uc, l: orNop(l)}
}

func (j *DriftJob) Name() string { return "drift-check" }
func (j *DriftJob) Type() string { return TypeDrift }

func (j *DriftJob) Handle(ctx context.Context, _ json.RawMessage) error {
	report, err := j.uc.Check(ctx)
	if err != nil {
		return fmt.Errorf("drift job: %w", err)
	}
	j.l.Info("drift job done",
		applogger.Version(report.ModelVersion),
		applogger.Float64("drift_score", report.DriftScore),
		applogger.Bool("requires_retraining", report.RequiresRetraining),
	)
	return nil
}

// All lists the jobs registered on the queue.
func All(train *TrainJob, tune *TuneJob, evaluate *EvaluateJob, drift *DriftJob) []queue.Job {
	return []queue.Job{train, tune, evaluate, drift}
}

func orNop(l *applogger.Logger) *applogger.Logger {
	if l == nil {
		return applogger.Nop()
	}
	return l
}
