package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer publishes JSON events. Byte and string values are sent as is.
type Producer struct {
	w     messageWriter
	codec string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: kafka.RequireAll,
		Codec:        kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		Linger:       time.Second,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	var bal kafka.Balancer = &kafka.LeastBytes{}
	if cfg.KeyedPartitioning {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: cfg.RequiredAcks,
		Compression:  cfg.Codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   cfg.BatchBytes,
		BatchTimeout: cfg.Linger,
	}
	return newProducer(w, compressionName(cfg.Codec)), nil
}

func newProducer(w messageWriter, codec string) *Producer {
	initProducerMetricsOnce()
	return &Producer{w: w, codec: codec}
}

// Publish sends one message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	msg, err := encodeMessage(topic, key, value)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.w.WriteMessages(ctx, msg)
	p.observe(topic, len(msg.Value), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishMessage sends an unkeyed message. It lets the producer serve as
// the log collector sink.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}

func encodeMessage(topic string, key []byte, value interface{}) (kafka.Message, error) {
	msg := kafka.Message{Topic: topic, Key: key, Time: time.Now().UTC()}
	switch v := value.(type) {
	case []byte:
		msg.Value = v
	case string:
		msg.Value = []byte(v)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("encode %s payload: %w", topic, err)
		}
		msg.Value = b
		msg.Headers = []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}
	}
	return msg, nil
}

func (p *Producer) observe(topic string, size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, result).Inc()
	producerBytes.WithLabelValues(topic, p.codec).Add(float64(size))
	producerLatency.WithLabelValues(topic).Observe(took.Seconds())
}

var (
	producerMessages *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec
	producerOnce     sync.Once
)

func initProducerMetricsOnce() {
	producerOnce.Do(func() {
		producerMessages = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "gridcast_kafka_producer_messages_total", Help: "Messages published by result"},
			[]string{"topic", "result"},
		)
		producerBytes = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "gridcast_kafka_producer_bytes_total", Help: "Payload bytes published"},
			[]string{"topic", "compression"},
		)
		producerLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "gridcast_kafka_producer_publish_seconds", Help: "Publish latency", Buckets: prometheus.DefBuckets},
			[]string{"topic"},
		)
	})
}
