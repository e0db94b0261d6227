package workers

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Worker defines the interface for all background workers
type Worker interface {
	// Start starts the worker
	Start() error

	// Stop gracefully stops the worker and waits for a running job to return
	Stop()

	// Name returns the worker name for logging
	Name() string
}

// NewCron returns a scheduler whose jobs never overlap and whose panics are
// logged instead of crashing the process.
func NewCron(logger *slog.Logger) *cron.Cron {
	l := cronLogger{logger: logger}
	return cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
