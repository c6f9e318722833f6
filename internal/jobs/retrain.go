package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/queue"
)

type retrainLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RetrainTrigger consumes published drift reports and queues a training run
// for reports that require one. At most one run is queued per model version
// within the cooldown.
type RetrainTrigger struct {
	topic    string
	jobs     queue.Enqueuer
	lock     retrainLock
	cooldown time.Duration
	l        *applogger.Logger
	now      func() time.Time
}

func NewRetrainTrigger(topic string, jobs queue.Enqueuer, lock retrainLock, cooldown time.Duration, l *applogger.Logger) *RetrainTrigger {
	return &RetrainTrigger{
		topic:    topic,
		jobs:     jobs,
		lock:     lock,
		cooldown: cooldown,
		l:        orNop(l),
		now:      time.Now,
	}
}

func (t *RetrainTrigger) Topic() string { return t.topic }

func (t *RetrainTrigger) Handle(ctx context.Context, data []byte) error {
	var report models.DriftReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("decode drift report: %w", err)
	}
	if !report.RequiresRetraining {
		t.l.Debug("drift below retrain threshold",
			applogger.Version(report.ModelVersion),
			applogger.Float64("drift_score", report.DriftScore),
		)
		return nil
	}

	key := "retrain:" + report.ModelVersion
	ok, err := t.lock.TryLock(ctx, key, t.cooldown)
	if err != nil {
		return fmt.Errorf("retrain lock: %w", err)
	}
	if !ok {
		t.l.Info("retrain already queued", applogger.Version(report.ModelVersion))
		return nil
	}

	id, err := t.jobs.Enqueue(ctx, TypeTrain, models.JobPayload{RequestedAt: t.now().UTC()})
	if err != nil {
		// Release so a redelivery can queue the run.
		if uerr := t.lock.Unlock(context.WithoutCancel(ctx), key); uerr != nil {
			t.l.Warn("retrain unlock failed", applogger.Error(uerr))
		}
		return fmt.Errorf("enqueue retrain: %w", err)
	}
	t.l.Info("retrain queued",
		applogger.Version(report.ModelVersion),
		applogger.String("job_id", id),
		applogger.Float64("drift_score", report.DriftScore),
		applogger.String("level", string(report.Level)),
	)
	return nil
}
