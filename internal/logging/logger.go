package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithSync returns a logger with sync cycle context fields attached.
// Use this for all logging within a reconcile or rebuild pass.
func WithSync(cycle int64, trigger string) *slog.Logger {
	return slog.With(
		"sync_cycle", cycle,
		"trigger", trigger,
	)
}

// WithMapping returns a logger scoped to a specific mapping operation.
func WithMapping(logger *slog.Logger, mappingID, kind string) *slog.Logger {
	return logger.With(
		"mapping_id", mappingID,
		"kind", kind,
	)
}
