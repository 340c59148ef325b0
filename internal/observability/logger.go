package observability

import (
	"log/slog"
	"os"

	"github.com/exercisejudge/judge/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

// JobLogger derives a logger scoped to one job's execution from base, so
// every log line emitted while that job compiles and runs carries its id and
// task for correlation across the worker, Runner, and Sandbox Executor.
func JobLogger(base *slog.Logger, jobID, taskID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("job_id", jobID), slog.String("task_id", taskID))
}
