// Package drift scores how far a deployed model has moved from its
// baseline.
package drift

import (
	"math"
	"sort"
	"time"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"
	"GridCast/pkg/config"
)

type Config struct {
	PerformanceWeight float64
	FeatureWeight     float64
	LowThreshold      float64
	RetrainThreshold  float64
	// ShiftScale is the number of training standard deviations a feature
	// mean must move to count as fully drifted.
	ShiftScale float64
}

func DefaultConfig() Config {
	return Config{
		PerformanceWeight: 0.5,
		FeatureWeight:     0.5,
		LowThreshold:      0.15,
		RetrainThreshold:  0.30,
		ShiftScale:        3,
	}
}

func ConfigFrom(c *config.Config) Config {
	out := DefaultConfig()
	out.PerformanceWeight = c.Drift.PerformanceWeight
	out.FeatureWeight = c.Drift.FeatureWeight
	out.LowThreshold = c.Drift.LowThreshold
	out.RetrainThreshold = c.Drift.RetrainThreshold
	return out
}

// Monitor is stateless; Evaluate only reads its input.
type Monitor struct {
	cfg Config
	now func() time.Time
}

var _ domsvc.DriftMonitor = (*Monitor)(nil)

func NewMonitor(cfg Config) *Monitor {
	if cfg.ShiftScale <= 0 {
		cfg.ShiftScale = DefaultConfig().ShiftScale
	}
	return &Monitor{cfg: cfg, now: time.Now}
}

// Evaluate compares recent performance and feature summaries with the
// baseline. A component with no data is left out and the weights are
// renormalized over the rest.
func (m *Monitor) Evaluate(in models.DriftInput) models.DriftReport {
	perf, perfOK := PerformanceDrift(in.Recent, in.Overall)
	feat, shifts := FeatureDrift(in.TrainingStats, in.RecentStats, m.cfg.ShiftScale)
	featOK := len(shifts) > 0

	var score, total float64
	if perfOK {
		score += m.cfg.PerformanceWeight * perf
		total += m.cfg.PerformanceWeight
	}
	if featOK {
		score += m.cfg.FeatureWeight * feat
		total += m.cfg.FeatureWeight
	}
	if total > 0 {
		score /= total
	}

	level := m.Level(score)
	return models.DriftReport{
		ModelVersion:       in.ModelVersion,
		DriftScore:         score,
		PerformanceDrift:   perf,
		FeatureDrift:       feat,
		FeatureShifts:      shifts,
		Level:              level,
		RequiresRetraining: m.RequiresRetraining(score),
		RecentPerformance:  in.Recent,
		OverallPerformance: in.Overall,
		GeneratedAt:        m.now().UTC(),
	}
}

// Level buckets a score: below LowThreshold is Low, below RetrainThreshold
// is Moderate, otherwise High.
func (m *Monitor) Level(score float64) models.DriftLevel {
	switch {
	case score < m.cfg.LowThreshold:
		return models.DriftLow
	case score < m.cfg.RetrainThreshold:
		return models.DriftModerate
	default:
		return models.DriftHigh
	}
}

func (m *Monitor) RequiresRetraining(score float64) bool {
	return score >= m.cfg.RetrainThreshold
}

// PerformanceDrift averages the relative degradation of MAE, RMSE and MAPE,
// each clamped to [0,1]. Improvements count as zero. ok is false when either
// side has no samples.
func PerformanceDrift(recent, baseline models.MetricSet) (float64, bool) {
	if recent.Count == 0 || baseline.Count == 0 {
		return 0, false
	}
	pairs := [][2]float64{
		{recent.MAE, baseline.MAE},
		{recent.RMSE, baseline.RMSE},
		{recent.MAPE, baseline.MAPE},
	}
	var sum float64
	var n int
	for _, p := range pairs {
		r, b := p[0], p[1]
		if b <= 0 {
			if r > 0 {
				sum++
				n++
			}
			continue
		}
		sum += clamp01((r - b) / b)
		n++
	}
	if n == 0 {
		return 0, true
	}
	return sum / float64(n), true
}

// FeatureDrift averages per-feature mean shifts measured in training
// standard deviations and divided by scale, each clamped to [0,1]. Only
// features present on both sides are compared.
func FeatureDrift(training, recent map[string]models.FeatureStat, scale float64) (float64, map[string]float64) {
	names := make([]string, 0, len(training))
	for name, ts := range training {
		if rs, ok := recent[name]; ok && ts.Count > 0 && rs.Count > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 0, nil
	}
	sort.Strings(names)

	shifts := make(map[string]float64, len(names))
	var sum float64
	for _, name := range names {
		ts, rs := training[name], recent[name]
		sd := ts.Std
		if sd <= 0 {
			sd = math.Max(math.Abs(ts.Mean)*0.01, 1e-9)
		}
		s := clamp01(math.Abs(rs.Mean-ts.Mean) / (sd * scale))
		shifts[name] = s
		sum += s
	}
	return sum / float64(len(names)), shifts
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
