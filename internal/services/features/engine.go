package features

import (
	"errors"
	"time"

	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"

	"gonum.org/v1/gonum/stat"
)

// Engine derives feature vectors for whole record batches.
type Engine struct {
	cfg Config
}

var _ domsvc.FeatureEngine = (*Engine)(nil)

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the derivation settings.
func (e *Engine) Config() Config { return e.cfg }

// NewBuilder starts an incremental derivation over aux.
func (e *Engine) NewBuilder(aux []models.DailySeries) *Builder {
	return NewBuilder(e.cfg, aux)
}

// Derive produces one vector per accepted record. Invalid records are
// skipped and malformed ones fail; both are listed in the report and never
// abort the batch.
func (e *Engine) Derive(records []models.TrainingRecord, aux []models.DailySeries) ([]models.FeatureVector, models.BatchReport) {
	b := NewBuilder(e.cfg, aux)
	out := make([]models.FeatureVector, 0, len(records))
	var report models.BatchReport

	for _, rec := range records {
		key := rec.Timestamp.UTC().Format(time.RFC3339)
		if !rec.Valid {
			report.Skip(key, "record flagged invalid")
			continue
		}
		v, err := b.Append(rec)
		if err != nil {
			var fe *models.FeatureDerivationError
			if !errors.As(err, &fe) {
				fe = &models.FeatureDerivationError{Timestamp: rec.Timestamp, Reason: err.Error()}
			}
			report.Fail(key, fe)
			continue
		}
		out = append(out, v)
		report.Success(key)
	}
	return out, report
}

// Stats summarizes the named features over vectors. Features with no
// observed value are omitted.
func Stats(vectors []models.FeatureVector, names []string) map[string]models.FeatureStat {
	out := make(map[string]models.FeatureStat, len(names))
	vals := make([]float64, 0, len(vectors))
	for _, name := range names {
		vals = vals[:0]
		for i := range vectors {
			if v, ok := vectors[i].Lookup(name); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		var mean, std float64
		if len(vals) == 1 {
			mean = vals[0]
		} else {
			mean, std = stat.MeanStdDev(vals, nil)
		}
		out[name] = models.FeatureStat{Mean: mean, Std: std, Count: len(vals)}
	}
	return out
}
