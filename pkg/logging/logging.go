// Package logging builds the slog loggers used across pintsurf.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// New returns a slog.Logger writing to stderr with the provided level string
// (debug, info, warn, error). format may be "json", "text" or "auto"; auto
// picks text on a terminal and JSON otherwise.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if useJSON(w, format) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns logger, or slog.Default when it is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func useJSON(w io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogRunStart logs the beginning of a PINT run
func LogRunStart(logger *slog.Logger, runID string, vertices, networks int, options map[string]any) {
	logger.Info("pint run started",
		"run_id", runID,
		"vertices", vertices,
		"networks", networks,
		"options", options,
	)
}

// LogIteration logs the outcome of one convergence iteration
func LogIteration(logger *slog.Logger, phase string, iteration int, maxDistance float64, moved int) {
	logger.Info("iteration complete",
		"phase", phase,
		"iteration", iteration,
		"max_distance", maxDistance,
		"moved", moved,
	)
}

// LogRunComplete logs successful run completion
func LogRunComplete(logger *slog.Logger, runID, state string, iterations int, duration time.Duration) {
	logger.Info("pint run completed",
		"run_id", runID,
		"state", state,
		"iterations", iterations,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
	)
}

// LogToolStatus logs tool detection and status
func LogToolStatus(logger *slog.Logger, tool string, available bool, version, path string, err error) {
	if available {
		logger.Debug("tool detected",
			"tool", tool,
			"version", version,
			"path", path,
		)
	} else {
		logger.Warn("tool not available",
			"tool", tool,
			"error", err,
		)
	}
}
