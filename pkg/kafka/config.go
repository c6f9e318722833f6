package kafka

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig) error

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks kafka.RequiredAcks
	Codec        kafka.Compression
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int64
	Linger       time.Duration
	// KeyedPartitioning hashes message keys so one model version always
	// lands on the same partition.
	KeyedPartitioning bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) error {
		c.Brokers = brokers
		return nil
	}
}

// WithCompression accepts gzip, snappy, lz4, zstd or none.
func WithCompression(name string) ProducerOption {
	return func(c *ProducerConfig) error {
		codec, err := parseCompression(name)
		if err != nil {
			return err
		}
		c.Codec = codec
		return nil
	}
}

// WithRequiredAcks takes -1 (all), 0 or 1.
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) error {
		if acks < -1 || acks > 1 {
			return fmt.Errorf("required acks must be -1, 0 or 1, got %d", acks)
		}
		c.RequiredAcks = kafka.RequiredAcks(acks)
		return nil
	}
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) error {
		if n > 0 {
			c.MaxAttempts = n
		}
		return nil
	}
}

// WithBatching bounds a batch by message count, bytes and linger time.
func WithBatching(size int, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) error {
		if size > 0 {
			c.BatchSize = size
		}
		if bytes > 0 {
			c.BatchBytes = int64(bytes)
		}
		if linger > 0 {
			c.Linger = linger
		}
		return nil
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) error {
		c.WriteTimeout = write
		c.ReadTimeout = read
		return nil
	}
}

func WithKeyedPartitioning(on bool) ProducerOption {
	return func(c *ProducerConfig) error {
		c.KeyedPartitioning = on
		return nil
	}
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unknown kafka compression %q", name)
}

func compressionName(c kafka.Compression) string {
	if c == 0 {
		return "none"
	}
	return c.String()
}
