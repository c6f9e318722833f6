package repository

import (
	"context"
	"time"

	"GridCast/internal/domain/models"
)

// RecordStore holds the raw hourly records and the auxiliary daily series.
type RecordStore interface {
	// ListRecords returns records with from <= ts < to in ascending order.
	ListRecords(ctx context.Context, from, to time.Time) ([]models.TrainingRecord, error)
	// ListAuxSeries returns every auxiliary series restricted to days in
	// [from, to).
	ListAuxSeries(ctx context.Context, from, to time.Time) ([]models.DailySeries, error)
	// AppendRecords stores valid records and reports rejected ones.
	AppendRecords(ctx context.Context, records []models.TrainingRecord) (models.BatchReport, error)
	AppendAuxSeries(ctx context.Context, series models.DailySeries) error
}

// ModelStore keeps the append-only model history and the active pointer.
type ModelStore interface {
	Save(ctx context.Context, p *models.ModelParameters) error
	// Get returns models.ErrNotFound for an unknown ID.
	Get(ctx context.Context, id string) (*models.ModelParameters, error)
	ListByVersion(ctx context.Context, version string) ([]*models.ModelParameters, error)
	SetActive(ctx context.Context, ptr models.ActivePointer) error
	// Active returns models.ErrNoActiveModel before the first activation.
	Active(ctx context.Context) (models.ActivePointer, error)
}

// TrialStore keeps the append-only trial history. The best trial of a
// model version is held by a pointer, so exactly one trial reads IsBest.
type TrialStore interface {
	Append(ctx context.Context, trials []models.HyperparameterTrial) error
	// List returns trials ordered by trial number with IsBest resolved.
	List(ctx context.Context, version string, limit int) ([]models.HyperparameterTrial, error)
	Count(ctx context.Context, version string) (int, error)
	SetBest(ctx context.Context, version, trialID string) error
	// Best returns models.ErrNotFound when no trial was marked.
	Best(ctx context.Context, version string) (*models.HyperparameterTrial, error)
}

// SnapshotFilter narrows a snapshot listing. Zero fields match everything.
type SnapshotFilter struct {
	ModelVersion string
	ModelType    models.ModelType
	Split        models.Split
	Since        time.Time
}

type SnapshotStore interface {
	Append(ctx context.Context, snaps []models.PerformanceSnapshot) error
	// List returns matching snapshots ordered by creation time.
	List(ctx context.Context, f SnapshotFilter) ([]models.PerformanceSnapshot, error)
}

// EventPublisher notifies downstream schedulers and dashboards.
type EventPublisher interface {
	PublishModelTrained(ctx context.Context, e models.ModelTrainedEvent) error
	PublishDriftReport(ctx context.Context, r models.DriftReport) error
	PublishTuningCompleted(ctx context.Context, e models.TuningCompletedEvent) error
	Close() error
}

// Metrics records pipeline telemetry. Labels are plain strings so the
// recorder stays free of domain types.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	RecordModelSMAPE(model, split string, smape float64)
	RecordEnsembleWeight(model string, weight float64)
	RecordDriftScore(score float64)
	RecordRejectedRecords(n int)
	RecordTrials(model string, n int)
	RecordError(kind string)
}
