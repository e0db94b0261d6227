package workers

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWorker struct {
	name     string
	startErr error
	events   *[]string
}

func (w *recordingWorker) Start() error {
	*w.events = append(*w.events, "start "+w.name)
	return w.startErr
}

func (w *recordingWorker) Stop() {
	*w.events = append(*w.events, "stop "+w.name)
}

func (w *recordingWorker) Name() string { return w.name }

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)),
		&recordingWorker{name: "a", events: &events},
		&recordingWorker{name: "b", events: &events},
	)

	require.NoError(t, m.Start())
	m.Stop()

	require.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestManagerStartFailureStopsStarted(t *testing.T) {
	var events []string
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)),
		&recordingWorker{name: "a", events: &events},
		&recordingWorker{name: "b", events: &events, startErr: errors.New("boom")},
		&recordingWorker{name: "c", events: &events},
	)

	require.Error(t, m.Start())
	require.Equal(t, []string{"start a", "start b", "stop a"}, events)
}
