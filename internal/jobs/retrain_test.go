package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"GridCast/internal/domain/models"
	pkgcache "GridCast/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	types    []string
	payloads []models.JobPayload
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload.(models.JobPayload))
	return "job-1", nil
}

func driftMessage(t *testing.T, version string, retrain bool) []byte {
	t.Helper()
	b, err := json.Marshal(models.DriftReport{
		ModelVersion:       version,
		DriftScore:         0.42,
		Level:              models.DriftHigh,
		RequiresRetraining: retrain,
	})
	require.NoError(t, err)
	return b
}

func TestRetrainTriggerQueuesOncePerCooldown(t *testing.T) {
	q := &recordingQueue{}
	lock := pkgcache.NewMemoryCache()
	defer lock.Close()
	trig := NewRetrainTrigger("drift", q, lock, time.Hour, nil)
	trig.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) }

	ctx := context.Background()
	require.NoError(t, trig.Handle(ctx, driftMessage(t, "v1", true)))
	require.NoError(t, trig.Handle(ctx, driftMessage(t, "v1", true)))
	require.NoError(t, trig.Handle(ctx, driftMessage(t, "v2", true)))

	assert.Equal(t, []string{TypeTrain, TypeTrain}, q.types)
	assert.Equal(t, time.UTC, q.payloads[0].RequestedAt.Location())
	assert.Empty(t, q.payloads[0].ModelVersion)
}

func TestRetrainTriggerIgnoresLowDrift(t *testing.T) {
	q := &recordingQueue{}
	lock := pkgcache.NewMemoryCache()
	defer lock.Close()

	require.NoError(t, NewRetrainTrigger("drift", q, lock, time.Hour, nil).Handle(context.Background(), driftMessage(t, "v1", false)))
	assert.Empty(t, q.types)
}

func TestRetrainTriggerReleasesLockOnEnqueueFailure(t *testing.T) {
	q := &recordingQueue{err: errors.New("redis down")}
	lock := pkgcache.NewMemoryCache()
	defer lock.Close()
	trig := NewRetrainTrigger("drift", q, lock, time.Hour, nil)

	require.Error(t, trig.Handle(context.Background(), driftMessage(t, "v1", true)))

	q.err = nil
	require.NoError(t, trig.Handle(context.Background(), driftMessage(t, "v1", true)))
	assert.Len(t, q.types, 1)
}

func TestRetrainTriggerRejectsMalformedReport(t *testing.T) {
	lock := pkgcache.NewMemoryCache()
	defer lock.Close()
	err := NewRetrainTrigger("drift", &recordingQueue{}, lock, time.Hour, nil).Handle(context.Background(), []byte("{"))
	assert.ErrorContains(t, err, "decode drift report")
}
