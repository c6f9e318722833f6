package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	stageDuration  *prometheus.HistogramVec
	modelSMAPE     *prometheus.GaugeVec
	ensembleWeight *prometheus.GaugeVec
	driftScore     prometheus.Gauge
	rejected       prometheus.Counter
	trials         *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg. Tests pass a fresh registry
// so collectors can be registered more than once per process.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridcast_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"stage"},
		),
		modelSMAPE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridcast_model_smape",
				Help: "Last sMAPE per model type and split",
			},
			[]string{"model", "split"},
		),
		ensembleWeight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridcast_ensemble_weight",
				Help: "Weight of each base model in the active ensemble",
			},
			[]string{"model"},
		),
		driftScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridcast_drift_score",
			Help: "Last computed drift score",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "gridcast_rejected_records_total",
			Help: "Records rejected at ingestion or feature derivation",
		}),
		trials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_tuning_trials_total",
				Help: "Hyperparameter trials evaluated",
			},
			[]string{"model"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) RecordModelSMAPE(model, split string, smape float64) {
	r.modelSMAPE.WithLabelValues(model, split).Set(smape)
}

func (r *Recorder) RecordEnsembleWeight(model string, weight float64) {
	r.ensembleWeight.WithLabelValues(model).Set(weight)
}

func (r *Recorder) RecordDriftScore(score float64) {
	r.driftScore.Set(score)
}

func (r *Recorder) RecordRejectedRecords(n int) {
	if n > 0 {
		r.rejected.Add(float64(n))
	}
}

func (r *Recorder) RecordTrials(model string, n int) {
	if n > 0 {
		r.trials.WithLabelValues(model).Add(float64(n))
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveStage(string, time.Duration)       {}
func (Nop) RecordModelSMAPE(string, string, float64) {}
func (Nop) RecordEnsembleWeight(string, float64)     {}
func (Nop) RecordDriftScore(float64)                 {}
func (Nop) RecordRejectedRecords(int)                {}
func (Nop) RecordTrials(string, int)                 {}
func (Nop) RecordError(string)                       {}
