package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{ err error }

func (w failingWriter) WriteMessages(context.Context, ...kafka.Message) error { return w.err }
func (w failingWriter) Close() error                                          { return nil }

func TestProducerEncodesJSONWithHeader(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "gzip")

	event := map[string]any{"model_version": "gbm-1", "val_smape": 4.2}
	require.NoError(t, p.Publish(context.Background(), "gridcast.model.trained", []byte("gbm-1"), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "gridcast.model.trained", msg.Topic)
	assert.Equal(t, []byte("gbm-1"), msg.Key)
	assert.JSONEq(t, `{"model_version":"gbm-1","val_smape":4.2}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "application/json", string(msg.Headers[0].Value))
}

func TestProducerPassesRawBytes(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "none")

	require.NoError(t, p.PublishMessage(context.Background(), "gridcast.logs", []byte("raw")))
	require.Len(t, w.msgs, 1)
	assert.Nil(t, w.msgs[0].Key)
	assert.Equal(t, "raw", string(w.msgs[0].Value))
	assert.Empty(t, w.msgs[0].Headers)
}

func TestProducerWrapsWriteError(t *testing.T) {
	p := newProducer(failingWriter{err: errors.New("leader not available")}, "gzip")
	err := p.Publish(context.Background(), "gridcast.drift.report", nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gridcast.drift.report")
}

func TestProducerRejectsUnencodable(t *testing.T) {
	p := newProducer(&fakeWriter{}, "gzip")
	err := p.Publish(context.Background(), "t", nil, map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestProducerOptions(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err, "brokers are required")

	_, err = NewProducer(WithBrokers([]string{"b:9092"}), WithCompression("brotli"))
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"b:9092"}), WithRequiredAcks(2))
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"b:9092"}), WithCompression("zstd"), WithKeyedPartitioning(true))
	require.NoError(t, err)
	assert.Equal(t, "zstd", p.codec)
	require.NoError(t, p.Close())
}
