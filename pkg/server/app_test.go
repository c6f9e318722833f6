package server

import (
	"context"
	"errors"
	"testing"

	"GridCast/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWorker struct {
	name     string
	startErr error
	events   *[]string
}

func (w *recordingWorker) Start() error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.events = append(*w.events, "start "+w.name)
	return nil
}

func (w *recordingWorker) Stop(context.Context) error {
	*w.events = append(*w.events, "stop "+w.name)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Metrics.Enabled = false
	return cfg
}

func TestRunStopsWorkersInReverseOrder(t *testing.T) {
	var events []string
	app := New(testConfig(t), nil, nil,
		&recordingWorker{name: "a", events: &events},
		&recordingWorker{name: "b", events: &events},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestRunUnwindsOnWorkerFailure(t *testing.T) {
	var events []string
	boom := errors.New("redis down")
	app := New(testConfig(t), nil, nil,
		&recordingWorker{name: "a", events: &events},
		&recordingWorker{name: "b", events: &events, startErr: boom},
	)

	err := app.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "stop a"}, events)
}
