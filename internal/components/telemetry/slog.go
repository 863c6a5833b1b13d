package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// SlogAPI implements API using the log/slog package.
type SlogAPI struct {
	logger *slog.Logger
}

// NewSlogAPI wraps a logger, a nil logger means slog.Default().
func NewSlogAPI(logger *slog.Logger) SlogAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return SlogAPI{logger: logger}
}

func (SlogAPI) formatParams(out *[]any, params []any) {
	for i, p := range params {
		*out = append(
			*out,
			fmt.Sprintf("params.%d", i),
			p,
		)
	}
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	s.logger.Error("broken component", remainingPairs...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	s.logger.Warn("warning", remainingPairs...)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	remainingPairs := []any{}
	s.formatParams(&remainingPairs, params)
	s.logger.Debug(message, remainingPairs...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger.Info("count", "id", id, "n", count)
}

// InitSlog installs the default slog logger, verbose enables debug output
// and json switches the handler to structured json lines.
func InitSlog(verbose, json bool) *slog.Logger {
	return initSlog(os.Stderr, verbose, json)
}

func initSlog(w io.Writer, verbose, json bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
