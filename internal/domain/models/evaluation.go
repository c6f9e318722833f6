package models

import "time"

// Split names a data partition a metric was computed on.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
	SplitLive  Split = "live"
)

// MetricSet carries error metrics over Count samples.
type MetricSet struct {
	MAE   float64 `json:"mae"`
	RMSE  float64 `json:"rmse"`
	MAPE  float64 `json:"mape"`
	SMAPE float64 `json:"smape"`
	R2    float64 `json:"r2"`
	Count int     `json:"count"`
}

// PerformanceSnapshot records one evaluation of one model version.
type PerformanceSnapshot struct {
	ID           string    `json:"id"`
	ModelVersion string    `json:"model_version"`
	ModelType    ModelType `json:"model_type"`
	Split        Split     `json:"split"`
	MAE          float64   `json:"mae"`
	RMSE         float64   `json:"rmse"`
	MAPE         float64   `json:"mape"`
	SMAPE        float64   `json:"smape"`
	SampleCount  int       `json:"sample_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewSnapshot builds a snapshot from a metric set.
func NewSnapshot(id, version string, mt ModelType, split Split, m MetricSet, at time.Time) PerformanceSnapshot {
	return PerformanceSnapshot{
		ID:           id,
		ModelVersion: version,
		ModelType:    mt,
		Split:        split,
		MAE:          m.MAE,
		RMSE:         m.RMSE,
		MAPE:         m.MAPE,
		SMAPE:        m.SMAPE,
		SampleCount:  m.Count,
		CreatedAt:    at,
	}
}

// Metrics converts the snapshot back to a metric set.
func (s PerformanceSnapshot) Metrics() MetricSet {
	return MetricSet{MAE: s.MAE, RMSE: s.RMSE, MAPE: s.MAPE, SMAPE: s.SMAPE, Count: s.SampleCount}
}

// TrialPerformance is the cross-validated mean of one trial.
type TrialPerformance struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
	R2   float64 `json:"r2"`
}

// HyperparameterTrial is one sampled configuration. Append-only; IsBest is
// resolved from the best-trial pointer when read.
type HyperparameterTrial struct {
	ID              string             `json:"id"`
	ModelVersion    string             `json:"model_version"`
	ModelType       ModelType          `json:"model_type"`
	TrialNumber     int                `json:"trial_number"`
	Hyperparameters map[string]float64 `json:"hyperparameters"`
	Performance     TrialPerformance   `json:"performance"`
	FoldMAE         []float64          `json:"fold_mae,omitempty"`
	Duration        time.Duration      `json:"duration"`
	Seed            uint64             `json:"seed"`
	IsBest          bool               `json:"is_best"`
	CreatedAt       time.Time          `json:"created_at"`
}

// DriftLevel buckets a drift score.
type DriftLevel string

const (
	DriftLow      DriftLevel = "Low"
	DriftModerate DriftLevel = "Moderate"
	DriftHigh     DriftLevel = "High"
)

// DriftReport is recomputed on each check and published, never stored as
// its own entity.
type DriftReport struct {
	ModelVersion       string             `json:"model_version"`
	DriftScore         float64            `json:"drift_score"`
	PerformanceDrift   float64            `json:"performance_drift"`
	FeatureDrift       float64            `json:"feature_drift"`
	FeatureShifts      map[string]float64 `json:"feature_shifts,omitempty"`
	Level              DriftLevel         `json:"level"`
	RequiresRetraining bool               `json:"requires_retraining"`
	RecentPerformance  MetricSet          `json:"recent_performance"`
	OverallPerformance MetricSet          `json:"overall_performance"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// ForecastPoint is one hour of a forecast.
type ForecastPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	PredictedPrice  float64   `json:"predicted_price"`
	ConfidenceLower float64   `json:"confidence_lower"`
	ConfidenceUpper float64   `json:"confidence_upper"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// Forecast is the response for a requested horizon.
type Forecast struct {
	ModelVersion string          `json:"model_version"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Horizon      int             `json:"horizon"`
	Points       []ForecastPoint `json:"points"`
}

// DriftInput holds the two metric snapshots and feature summaries compared
// by a drift check.
type DriftInput struct {
	ModelVersion  string
	Recent        MetricSet
	Overall       MetricSet
	TrainingStats map[string]FeatureStat
	RecentStats   map[string]FeatureStat
}
