package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"GridCast/pkg/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending jobs in a list, delayed retries in a sorted set
// scored by due time and exhausted jobs in a dead letter list. Workers only
// start when a job is registered, so a process without jobs is a producer.
type RedisQueue struct {
	l      *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	prefix string
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Enqueuer = (*RedisQueue)(nil)

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedisQueue(l *logger.Logger, cfg *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	var c QueueConfig
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		l:      l,
		cfg:    c,
		client: client,
		prefix: "gridcast:queue",
		now:    time.Now,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	initQueueMetricsOnce()
	return r
}

func (r *RedisQueue) RegisterJobs(jobs []Job) {
	for _, j := range jobs {
		r.RegisterJob(j)
	}
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.l.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.l.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

func (r *RedisQueue) consumes() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs) > 0
}

// Start pings Redis and, when jobs are registered, launches the workers and
// the retry promoter.
func (r *RedisQueue) Start() error {
	if r.running.Load() {
		return fmt.Errorf("queue already running")
	}
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("queue already running")
	}

	if !r.consumes() {
		r.l.Info("job queue started in producer mode", logger.String("prefix", r.prefix))
		return nil
	}
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.promoteLoop()

	r.l.Info("job queue started", logger.Int("workers", r.cfg.Workers), logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels in-flight jobs and waits for workers until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.l.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	}
}

// Enqueue pushes a message and returns its ID. A consuming queue refuses
// types it has no job for.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	if !r.running.Load() {
		return "", fmt.Errorf("queue not running")
	}
	r.mu.RLock()
	_, known := r.jobs[msgType]
	consumer := len(r.jobs) > 0
	r.mu.RUnlock()
	if consumer && !known {
		return "", fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: r.now().UTC()}
	if err := r.push(ctx, r.key("messages"), msg); err != nil {
		return "", err
	}
	r.l.Info("job enqueued", logger.String("id", msg.ID), logger.String("type", msgType))
	return msg.ID, nil
}

// Stats returns the pending, retrying and dead message counts.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var pending, retrying, dead *redis.IntCmd
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, r.key("messages"))
		retrying = p.ZCard(ctx, r.key("retry"))
		dead = p.LLen(ctx, r.key("dlq"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Retrying: retrying.Val(), Dead: dead.Val()}, nil
}

func (r *RedisQueue) worker() {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, time.Second, r.key("messages")).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
			continue
		default:
			r.l.Error("queue pop failed", logger.Error(err))
			sleep(r.ctx, time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.l.Error("drop undecodable queue message", logger.Error(err))
			continue
		}
		r.processMessage(msg)
	}
}

func (r *RedisQueue) processMessage(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		msg.LastError = "no job registered for type " + msg.Type
		r.deadLetter(msg)
		return
	}

	ctx := r.ctx
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.run(ctx, job, msg.Payload)
	took := time.Since(start)
	jobSeconds.WithLabelValues(msg.Type).Observe(took.Seconds())

	switch {
	case err == nil:
		jobsTotal.WithLabelValues(msg.Type, "ok").Inc()
		r.l.Info("job done", logger.String("id", msg.ID), logger.String("job", job.Name()), logger.Duration("took", took))
	case r.ctx.Err() != nil && errors.Is(err, context.Canceled):
		// Shutdown interrupted the job. It is not retried.
		jobsTotal.WithLabelValues(msg.Type, "cancelled").Inc()
		r.l.Warn("job cancelled by shutdown", logger.String("id", msg.ID), logger.String("job", job.Name()))
	default:
		r.fail(msg, job, err)
	}
}

// run calls the job and turns a panic into an error.
func (r *RedisQueue) run(ctx context.Context, job Job, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.l.Error("job panic", logger.String("job", job.Name()), logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return job.Handle(ctx, payload)
}

func (r *RedisQueue) fail(msg Message, job Job, err error) {
	msg.LastError = err.Error()
	if msg.Attempts >= r.cfg.RetryLimit {
		jobsTotal.WithLabelValues(msg.Type, "dead").Inc()
		r.l.Error("job failed permanently",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		r.deadLetter(msg)
		return
	}

	msg.Attempts++
	due := r.now().Add(r.retryDelay(msg.Attempts))
	jobsTotal.WithLabelValues(msg.Type, "retry").Inc()
	r.l.Warn("job failed; retry scheduled",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Time("retry_at", due),
		logger.Error(err))

	data, merr := json.Marshal(msg)
	if merr != nil {
		r.l.Error("encode retry", logger.Error(merr))
		return
	}
	z := redis.Z{Score: float64(due.Unix()), Member: string(data)}
	if zerr := r.client.ZAdd(context.WithoutCancel(r.ctx), r.key("retry"), z).Err(); zerr != nil {
		r.l.Error("schedule retry", logger.String("id", msg.ID), logger.Error(zerr))
	}
}

// retryDelay is RetryDelay doubled per previous attempt, capped.
func (r *RedisQueue) retryDelay(attempt int) time.Duration {
	d := r.cfg.RetryDelay
	for i := 1; i < attempt && d < r.cfg.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, r.cfg.MaxRetryDelay)
}

func (r *RedisQueue) deadLetter(msg Message) {
	if err := r.push(context.WithoutCancel(r.ctx), r.key("dlq"), msg); err != nil {
		r.l.Error("dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, key, string(data)).Err(); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

// promoteScript moves due retries back to the pending list in one step so
// two promoters cannot both requeue the same message.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

const promoteBatch = 100

func (r *RedisQueue) promoteLoop() {
	defer r.wg.Done()
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			if _, err := r.promoteDue(r.ctx); err != nil && r.ctx.Err() == nil {
				r.l.Error("promote retries", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) promoteDue(ctx context.Context) (int64, error) {
	keys := []string{r.key("retry"), r.key("messages")}
	return promoteScript.Run(ctx, r.client, keys, r.now().Unix(), promoteBatch).Int64()
}

func (r *RedisQueue) key(name string) string {
	return r.prefix + ":" + name
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

var (
	jobsTotal  *prometheus.CounterVec
	jobSeconds *prometheus.HistogramVec
	metricOnce sync.Once
)

func initQueueMetricsOnce() {
	metricOnce.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "gridcast_queue_jobs_total", Help: "Job executions by type and outcome"},
			[]string{"type", "result"},
		)
		jobSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridcast_queue_job_seconds",
				Help:    "Job execution time",
				Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800},
			},
			[]string{"type"},
		)
	})
}
