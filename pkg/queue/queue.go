package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Enqueuer is the producer side of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

type QueueConfig struct {
	Workers int
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	// RetryDelay doubles per attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// JobTimeout bounds one Handle call; zero means none.
	JobTimeout time.Duration
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stats reports queue depths.
type Stats struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}

// ParsePayload decodes a job payload. An empty payload yields the zero T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var out T
	if len(payload) == 0 || string(payload) == "null" {
		return &out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &out, nil
}
