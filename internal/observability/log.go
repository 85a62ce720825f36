package observability

import (
	"io"
	"log/slog"
	"math"
)

var noopLogger *slog.Logger

// NoopLogger returns a disabled Logger
func NoopLogger() *slog.Logger {
	return noopLogger
}

// ComponentLogger returns log tagged with a component attribute.
// If log is nil, slog.Default() is used.
func ComponentLogger(log *slog.Logger, component string) *slog.Logger {
	if nil == log {
		log = slog.Default()
	}

	return log.With("component", component)
}

func init() {
	hdlr := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	noopLogger = slog.New(hdlr)
}
