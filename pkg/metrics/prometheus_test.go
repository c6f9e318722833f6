package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)

	r.ObserveStage("train", 2*time.Second)
	r.RecordModelSMAPE("ridge", "val", 12.5)
	r.RecordEnsembleWeight("gbm", 0.7)
	r.RecordDriftScore(0.2)
	r.RecordRejectedRecords(3)
	r.RecordRejectedRecords(0)
	r.RecordTrials("gbm", 4)
	r.RecordError("fit")
	r.RecordError("fit")

	assert.Equal(t, 12.5, testutil.ToFloat64(r.modelSMAPE.WithLabelValues("ridge", "val")))
	assert.Equal(t, 0.7, testutil.ToFloat64(r.ensembleWeight.WithLabelValues("gbm")))
	assert.Equal(t, 0.2, testutil.ToFloat64(r.driftScore))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.rejected))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.trials.WithLabelValues("gbm")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fit")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))
}
