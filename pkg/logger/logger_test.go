package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerWritesTypedFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Writer: &buf})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("trained",
		Version("gbm-20260101"),
		Model("gbm"),
		Float64("val_smape", 4.5),
		Duration("took", 1500*time.Millisecond),
		Strings("features", []string{"lag_24", "hour_sin"}),
		Error(errors.New("late data")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "trained", line["message"])
	assert.Equal(t, "gridcast", line["service"])
	assert.Equal(t, "gbm-20260101", line["model_version"])
	assert.Equal(t, "gbm", line["model_type"])
	assert.Equal(t, 4.5, line["val_smape"])
	assert.Equal(t, float64(1500), line["took"])
	assert.Equal(t, []interface{}{"lag_24", "hour_sin"}, line["features"])
	assert.Equal(t, "late data", line["error"])
	assert.Contains(t, line["caller"], "logger/logger_test.go")
}

func TestLoggerWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "debug", Writer: &buf})
	require.NoError(t, err)

	l.With(String("job_id", "j-1")).Debug("running")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "j-1", lines[0]["job_id"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}
