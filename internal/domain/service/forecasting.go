package service

import (
	"context"

	"GridCast/internal/domain/models"
)

// FeatureEngine derives feature vectors from raw records.
type FeatureEngine interface {
	Derive(records []models.TrainingRecord, aux []models.DailySeries) ([]models.FeatureVector, models.BatchReport)
}

// Trainer fits and evaluates one base model family. Implementations must be
// deterministic for identical rows and hyperparameters.
type Trainer interface {
	Type() models.ModelType
	DefaultHyperparameters() map[string]float64
	Fit(ctx context.Context, rows []models.FeatureVector, hp map[string]float64) (*models.ModelParameters, error)
	Predict(params *models.ModelParameters, row models.FeatureVector) (float64, error)
}

// EnsembleOptimizer finds simplex weights over base model predictions.
// predictions is indexed [model][sample].
type EnsembleOptimizer interface {
	Optimize(predictions [][]float64, targets []float64) (models.EnsembleResult, error)
}

// DriftMonitor scores the divergence between recent and baseline behavior.
type DriftMonitor interface {
	Evaluate(in models.DriftInput) models.DriftReport
}
