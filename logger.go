package raytrace

import (
	"log/slog"

	"github.com/gogpu/raytrace/internal/rtlog"
)

// SetLogger configures the logger for raytrace and all its sub-packages.
// By default, raytrace produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by raytrace:
//   - [slog.LevelDebug]: internal diagnostics (prebuild sizes, fence values, shader table layout)
//   - [slog.LevelInfo]: lifecycle events (device opened, acceleration structures built, pipeline ready)
//   - [slog.LevelWarn]: non-fatal issues (presentation sink failures)
//   - [slog.LevelError]: device removal and aborted frames
//
// Example:
//
//	raytrace.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	rtlog.Set(l)
}

// Logger returns the current logger used by raytrace.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return rtlog.Logger()
}
