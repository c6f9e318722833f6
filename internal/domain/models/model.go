package models

import "time"

// ModelType names a model family.
type ModelType string

const (
	ModelGBM      ModelType = "gbm"
	ModelRidge    ModelType = "ridge"
	ModelSequence ModelType = "sequence"
	ModelQuantile ModelType = "quantile"
	ModelSeasonal ModelType = "seasonal"
	ModelEnsemble ModelType = "ensemble"
)

// BaseModelTypes returns the five base families in a fixed order. Ensemble
// weight vectors follow this order.
func BaseModelTypes() []ModelType {
	return []ModelType{ModelGBM, ModelRidge, ModelSequence, ModelQuantile, ModelSeasonal}
}

// TrainingWindow describes the rows a model was fit on.
type TrainingWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Rows  int       `json:"rows"`
}

// FeatureStat is a training-time distribution summary used for drift.
type FeatureStat struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// ModelParameters is one trained model version. Rows are append-only; the
// active ensemble is selected through a separate pointer.
type ModelParameters struct {
	ID              string               `json:"id"`
	Version         string               `json:"version"`
	ModelType       ModelType            `json:"model_type"`
	Hyperparameters map[string]float64   `json:"hyperparameters,omitempty"`
	Inputs          []string             `json:"inputs,omitempty"`
	Coefficients    map[string][]float64 `json:"coefficients,omitempty"`

	// Ensemble only.
	Weights    map[ModelType]float64 `json:"weights,omitempty"`
	Components map[ModelType]string  `json:"components,omitempty"`
	Excluded   map[ModelType]string  `json:"excluded,omitempty"`

	ResidualStd  float64                `json:"residual_std"`
	FeatureStats map[string]FeatureStat `json:"feature_stats,omitempty"`
	Window       TrainingWindow         `json:"training_window"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Hyper returns a hyperparameter or def when unset.
func (p *ModelParameters) Hyper(name string, def float64) float64 {
	if v, ok := p.Hyperparameters[name]; ok {
		return v
	}
	return def
}

// ActivePointer selects the ensemble served by forecasts.
type ActivePointer struct {
	ModelVersion string    `json:"model_version"`
	EnsembleID   string    `json:"ensemble_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EnsembleResult is the outcome of a weight optimization. Weights follow the
// order of the prediction matrix rows.
type EnsembleResult struct {
	Weights    []float64 `json:"weights"`
	SMAPE      float64   `json:"smape"`
	BaseSMAPE  []float64 `json:"base_smape"`
	Iterations int       `json:"iterations"`
	Converged  bool      `json:"converged"`
}
