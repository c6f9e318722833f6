package repository

import (
	"context"
	"fmt"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	applogger "GridCast/pkg/logger"
)

// Topics names the Kafka topic per event kind.
type Topics struct {
	ModelTrained string
	DriftReport  string
	Tuning       string
}

// messageWriter is the subset of pkg/kafka.Producer used for events.
type messageWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher publishes pipeline events keyed by model version so
// that events of one version stay ordered on a partition.
type KafkaEventPublisher struct {
	w      messageWriter
	topics Topics
	l      *applogger.Logger
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(w messageWriter, topics Topics, l *applogger.Logger) *KafkaEventPublisher {
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaEventPublisher{w: w, topics: topics, l: l}
}

func (p *KafkaEventPublisher) PublishModelTrained(ctx context.Context, e models.ModelTrainedEvent) error {
	return p.publish(ctx, p.topics.ModelTrained, e.ModelVersion, e)
}

func (p *KafkaEventPublisher) PublishDriftReport(ctx context.Context, r models.DriftReport) error {
	return p.publish(ctx, p.topics.DriftReport, r.ModelVersion, r)
}

func (p *KafkaEventPublisher) PublishTuningCompleted(ctx context.Context, e models.TuningCompletedEvent) error {
	return p.publish(ctx, p.topics.Tuning, e.ModelVersion, e)
}

func (p *KafkaEventPublisher) Close() error {
	return p.w.Close()
}

func (p *KafkaEventPublisher) publish(ctx context.Context, topic, key string, v interface{}) error {
	if topic == "" {
		return nil
	}
	if err := p.w.Publish(ctx, topic, []byte(key), v); err != nil {
		p.l.Error("kafka publish failed", applogger.String("topic", topic), applogger.Version(key), applogger.Error(err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.l.Debug("event published", applogger.String("topic", topic), applogger.Version(key))
	return nil
}

// LogEventPublisher writes events to the log when Kafka is disabled.
type LogEventPublisher struct {
	l *applogger.Logger
}

var _ domrepo.EventPublisher = (*LogEventPublisher)(nil)

func NewLogEventPublisher(l *applogger.Logger) *LogEventPublisher {
	if l == nil {
		l = applogger.Nop()
	}
	return &LogEventPublisher{l: l}
}

func (p *LogEventPublisher) PublishModelTrained(_ context.Context, e models.ModelTrainedEvent) error {
	p.l.Info("model trained",
		applogger.Version(e.ModelVersion),
		applogger.String("ensemble_id", e.EnsembleID),
		applogger.Float64("val_smape", e.ValSMAPE),
		applogger.Float64("test_smape", e.TestSMAPE),
		applogger.Any("weights", e.Weights),
	)
	return nil
}

func (p *LogEventPublisher) PublishDriftReport(_ context.Context, r models.DriftReport) error {
	p.l.Info("drift report",
		applogger.Version(r.ModelVersion),
		applogger.Float64("drift_score", r.DriftScore),
		applogger.String("level", string(r.Level)),
		applogger.Bool("requires_retraining", r.RequiresRetraining),
	)
	return nil
}

func (p *LogEventPublisher) PublishTuningCompleted(_ context.Context, e models.TuningCompletedEvent) error {
	p.l.Info("tuning completed",
		applogger.Version(e.ModelVersion),
		applogger.Model(string(e.ModelType)),
		applogger.Int("trials", e.Trials),
		applogger.Int("failed", e.Failed),
		applogger.Float64("best_mae", e.BestMAE),
	)
	return nil
}

func (p *LogEventPublisher) Close() error { return nil }
