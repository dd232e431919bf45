package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// ServiceName is attached to every server log line.
const ServiceName = "floorplan-server"

// SetupLogger creates the server logger: text on stderr for operators and
// JSON lines in logFile for shipping. The log directory is created when
// missing. If the file cannot be opened the logger writes to stderr only.
// The returned cleanup closes the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	stderr := newConsoleHandler(os.Stderr, level)
	noop := func() error { return nil }

	if logFile == "" {
		return newLogger(stderr), noop
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		logger := newLogger(stderr)
		logger.Error("failed to create log directory, using stderr only", "error", err, "file", logFile)
		return logger, noop
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := newLogger(stderr)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return logger, noop
	}

	return newLogger(stderr, newFileHandler(file, level)), file.Close
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return newLogger(newConsoleHandler(stderr, level), newFileHandler(file, level))
}

func newLogger(handlers ...slog.Handler) *slog.Logger {
	return slog.New(slogmulti.Fanout(handlers...)).With("service", ServiceName)
}

// newConsoleHandler prints wall-clock time only; the file keeps full timestamps.
func newConsoleHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})
}

func newFileHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})
}
