package models

import "time"

// ModelTrainedEvent is published after a training run activates an ensemble.
type ModelTrainedEvent struct {
	ModelVersion string                `json:"model_version"`
	EnsembleID   string                `json:"ensemble_id"`
	Weights      map[ModelType]float64 `json:"weights"`
	Excluded     map[ModelType]string  `json:"excluded,omitempty"`
	ValSMAPE     float64               `json:"val_smape"`
	TestSMAPE    float64               `json:"test_smape"`
	Window       TrainingWindow        `json:"training_window"`
	TrainedAt    time.Time             `json:"trained_at"`
}

// TuningCompletedEvent is published after a search run is stored.
type TuningCompletedEvent struct {
	ModelVersion string             `json:"model_version"`
	ModelType    ModelType          `json:"model_type"`
	Trials       int                `json:"trials"`
	Failed       int                `json:"failed"`
	BestTrialID  string             `json:"best_trial_id,omitempty"`
	BestMAE      float64            `json:"best_mae"`
	BestParams   map[string]float64 `json:"best_hyperparameters,omitempty"`
	CompletedAt  time.Time          `json:"completed_at"`
}
