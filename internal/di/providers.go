package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "GridCast/internal/domain/repository"
	"GridCast/internal/handler/api"
	"GridCast/internal/jobs"
	internalrepo "GridCast/internal/repository"
	icache "GridCast/internal/service/cache"
	"GridCast/internal/service/ratelimit"
	"GridCast/internal/service/source"
	"GridCast/internal/services/drift"
	"GridCast/internal/services/ensemble"
	"GridCast/internal/services/features"
	"GridCast/internal/services/tuning"
	"GridCast/internal/usecase"
	pkgcache "GridCast/pkg/cache"
	pkgch "GridCast/pkg/clickhouse"
	"GridCast/pkg/config"
	pkgkafka "GridCast/pkg/kafka"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/metrics"
	"GridCast/pkg/queue"
	"GridCast/pkg/server"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Stores groups the persistence layer chosen by storage.backend.
type Stores struct {
	Records   domrepo.RecordStore
	Models    domrepo.ModelStore
	Trials    domrepo.TrialStore
	Snapshots domrepo.SnapshotStore
}

// Pipeline exposes the batch use cases to the command line.
type Pipeline struct {
	Train    *usecase.TrainingPipeline
	Tune     *usecase.TuningUseCase
	Evaluate *usecase.EvaluationUseCase
	Drift    *usecase.DriftUseCase
	Forecast *usecase.ForecastUseCase
	Ingest   *usecase.IngestUseCase
	Source   *source.Client
	Logger   *applogger.Logger
}

// ProvideLogger creates the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideClickHouseClient connects and applies the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithCompression(cfg.ClickHouse.Compress),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideStores selects ClickHouse or in-process stores.
func ProvideStores(cfg *config.Config, l *applogger.Logger) (*Stores, func(), error) {
	if cfg.Storage.Backend == "memory" {
		l.Warn("using in-memory storage; state is lost on exit")
		return &Stores{
			Records:   internalrepo.NewMemoryRecordStore(),
			Models:    internalrepo.NewMemoryModelStore(),
			Trials:    internalrepo.NewMemoryTrialStore(),
			Snapshots: internalrepo.NewMemorySnapshotStore(),
		}, func() {}, nil
	}

	ch, cleanup, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	records := internalrepo.NewCHRecordStore(ch)
	records.SetLogger(l)
	modelStore := internalrepo.NewCHModelStore(ch)
	modelStore.SetLogger(l)
	l.Info("clickhouse ready", applogger.String("database", ch.Database()))
	return &Stores{
		Records:   records,
		Models:    modelStore,
		Trials:    internalrepo.NewCHTrialStore(ch),
		Snapshots: internalrepo.NewCHSnapshotStore(ch),
	}, cleanup, nil
}

// ProvideRedisClient returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgcache.NewRedisClient(
		pkgcache.WithRedisEndpoint(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache layers a short-lived memory tier over Redis, or falls back to
// memory only. It also serves the training and retrain locks.
func ProvideCache(client *redis.Client) (pkgcache.Service, func()) {
	if client == nil {
		mc := pkgcache.NewMemoryCache(pkgcache.WithMemoryLimits(1000, time.Minute))
		return mc, func() { _ = mc.Close() }
	}
	remote := pkgcache.NewRedisCache(client, "gridcast:cache")
	lc := pkgcache.NewLayeredCache(remote,
		pkgcache.WithLayeredL1(500, 30*time.Second),
	)
	// The client is closed by its own cleanup.
	return lc, func() {}
}

// ProvideKafkaProducer returns nil when Kafka is disabled. With log.collect
// set, repeated warnings and errors are aggregated onto the logs topic.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithKeyedPartitioning(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.Collect {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
			Levels:         []string{"warn", "error"},
		})
	}
	return producer, func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideEventPublisher publishes to Kafka when it is configured and logs
// the events otherwise.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) domrepo.EventPublisher {
	if producer == nil {
		return internalrepo.NewLogEventPublisher(l)
	}
	return internalrepo.NewKafkaEventPublisher(producer, internalrepo.Topics{
		ModelTrained: cfg.Kafka.Topics.ModelTrained,
		DriftReport:  cfg.Kafka.Topics.DriftReport,
		Tuning:       cfg.Kafka.Topics.Tuning,
	}, l)
}

func ProvideFeatureEngine(cfg *config.Config) *features.Engine {
	return features.NewEngine(features.ConfigFrom(cfg))
}

func ProvideSettings(cfg *config.Config) usecase.Settings {
	return usecase.SettingsFrom(cfg)
}

func ProvideForecastCache(svc pkgcache.Service, settings usecase.Settings, l *applogger.Logger) *icache.ForecastCache {
	return icache.NewForecastCache(svc, settings.CacheTTL, l)
}

func ProvideTrainingPipeline(
	stores *Stores,
	events domrepo.EventPublisher,
	rec *metrics.Recorder,
	engine *features.Engine,
	cfg *config.Config,
	settings usecase.Settings,
	lock pkgcache.Service,
	fc *icache.ForecastCache,
	l *applogger.Logger,
) *usecase.TrainingPipeline {
	p := usecase.NewTrainingPipeline(stores.Records, stores.Models, stores.Trials, stores.Snapshots,
		events, rec, engine, ensemble.NewOptimizer(ensemble.ConfigFrom(cfg)), settings, l)
	p.SetLock(lock)
	p.SetForecastCache(fc)
	return p
}

func ProvideTuningUseCase(
	stores *Stores,
	events domrepo.EventPublisher,
	rec *metrics.Recorder,
	engine *features.Engine,
	cfg *config.Config,
	settings usecase.Settings,
	l *applogger.Logger,
) *usecase.TuningUseCase {
	return usecase.NewTuningUseCase(stores.Records, stores.Trials, events, rec, engine, tuning.ConfigFrom(cfg), settings, l)
}

func ProvideEvaluationUseCase(stores *Stores, rec *metrics.Recorder, engine *features.Engine, l *applogger.Logger) *usecase.EvaluationUseCase {
	return usecase.NewEvaluationUseCase(stores.Records, stores.Models, stores.Snapshots, rec, engine, l)
}

func ProvideDriftUseCase(
	stores *Stores,
	events domrepo.EventPublisher,
	rec *metrics.Recorder,
	engine *features.Engine,
	cfg *config.Config,
	settings usecase.Settings,
	l *applogger.Logger,
) *usecase.DriftUseCase {
	return usecase.NewDriftUseCase(stores.Records, stores.Models, stores.Snapshots, events, rec, engine,
		drift.NewMonitor(drift.ConfigFrom(cfg)), settings, l)
}

func ProvideForecastUseCase(
	stores *Stores,
	rec *metrics.Recorder,
	engine *features.Engine,
	fc *icache.ForecastCache,
	settings usecase.Settings,
	l *applogger.Logger,
) *usecase.ForecastUseCase {
	return usecase.NewForecastUseCase(stores.Records, stores.Models, rec, engine, fc, settings, l)
}

func ProvideIngestUseCase(stores *Stores, rec *metrics.Recorder, l *applogger.Logger) *usecase.IngestUseCase {
	return usecase.NewIngestUseCase(stores.Records, rec, l)
}

func ProvideSourceClient(cfg *config.Config, l *applogger.Logger) *source.Client {
	return source.New(source.Config{
		BaseURL:          cfg.Source.BaseURL,
		APIKey:           cfg.Source.APIKey,
		Timeout:          cfg.Source.Timeout,
		AuxSeries:        cfg.Source.AuxSeries,
		RPS:              cfg.Source.RPS,
		FailureThreshold: cfg.Source.FailureThreshold,
		OpenTimeout:      cfg.Source.OpenTimeout,
	}, l)
}

func ProvideJobs(
	train *usecase.TrainingPipeline,
	tune *usecase.TuningUseCase,
	evaluate *usecase.EvaluationUseCase,
	check *usecase.DriftUseCase,
	l *applogger.Logger,
) []queue.Job {
	return jobs.All(
		jobs.NewTrainJob(train, l),
		jobs.NewTuneJob(tune, l),
		jobs.NewEvaluateJob(evaluate, l),
		jobs.NewDriftJob(check, l),
	)
}

// ProvideQueue returns nil when Redis is disabled; job submission then
// answers 503.
func ProvideQueue(cfg *config.Config, client *redis.Client, js []queue.Job, l *applogger.Logger) *queue.RedisQueue {
	if client == nil {
		l.Warn("redis disabled; job queue unavailable")
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:       cfg.Queue.Workers,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    cfg.Queue.RetryDelay,
		MaxRetryDelay: cfg.Queue.MaxDelay,
		JobTimeout:    cfg.Queue.JobTimeout,
	}, client, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
	q.RegisterJobs(js)
	return q
}

var errQueueDisabled = errors.New("job queue disabled: redis is not configured")

type disabledQueue struct{}

func (disabledQueue) Enqueue(context.Context, string, interface{}) (string, error) {
	return "", errQueueDisabled
}

func ProvideHandler(
	cfg *config.Config,
	l *applogger.Logger,
	forecasts *usecase.ForecastUseCase,
	check *usecase.DriftUseCase,
	stores *Stores,
	q *queue.RedisQueue,
) *api.PipelineHandler {
	var enq queue.Enqueuer = disabledQueue{}
	if q != nil {
		enq = q
	}
	h := api.NewPipelineHandler(l, forecasts, check, stores.Models, stores.Trials, stores.Snapshots, enq)
	h.SetLimiter(ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst))
	if q != nil {
		h.SetQueueStats(q)
	}
	return h
}

// ProvideRetrainConsumer subscribes to drift reports and queues training
// runs for reports that require one. It returns nil unless Kafka, the job
// queue and drift.auto_retrain are all enabled.
func ProvideRetrainConsumer(cfg *config.Config, l *applogger.Logger, q *queue.RedisQueue, svc pkgcache.Service) (*pkgkafka.Consumer, error) {
	if !cfg.Drift.AutoRetrain || !cfg.Kafka.Enabled || q == nil {
		return nil, nil
	}
	c, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	c.RegisterHandler(jobs.NewRetrainTrigger(cfg.Kafka.Topics.DriftReport, q, svc, cfg.Drift.RetrainCooldown, l))
	c.WithConsumerHook(pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafkago.Message, data []byte) (context.Context, kafkago.Message, []byte, error) {
			return pkgkafka.WithStartTime(ctx, time.Now()), km, data, nil
		},
		Err: func(ctx context.Context, topic string, km kafkago.Message, _ []byte, err error) {
			fields := []applogger.Field{
				applogger.String("topic", topic),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err),
			}
			if start, ok := pkgkafka.StartTime(ctx); ok {
				fields = append(fields, applogger.Duration("duration_ms", time.Since(start)))
			}
			l.Warn("drift report handling failed", fields...)
		},
	})
	return c, nil
}

func ProvideApp(cfg *config.Config, l *applogger.Logger, h *api.PipelineHandler, q *queue.RedisQueue, consumer *pkgkafka.Consumer) *server.App {
	var workers []server.Worker
	if q != nil {
		workers = append(workers, q)
	}
	if consumer != nil {
		workers = append(workers, consumer)
	}
	return server.New(cfg, l, h, workers...)
}

func ProvidePipeline(
	train *usecase.TrainingPipeline,
	tune *usecase.TuningUseCase,
	evaluate *usecase.EvaluationUseCase,
	check *usecase.DriftUseCase,
	forecasts *usecase.ForecastUseCase,
	ingest *usecase.IngestUseCase,
	src *source.Client,
	l *applogger.Logger,
) *Pipeline {
	return &Pipeline{
		Train:    train,
		Tune:     tune,
		Evaluate: evaluate,
		Drift:    check,
		Forecast: forecasts,
		Ingest:   ingest,
		Source:   src,
		Logger:   l,
	}
}
