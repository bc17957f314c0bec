// Package logging builds the process logger. The same logger serves the
// engine's structured logs and the status API's request logs.
package logging

import (
	"io"
	"log/slog"

	"github.com/go-chi/httplog/v2"
)

// Options configures the process logger.
type Options struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level"`
	// JSON selects JSON output instead of the human-readable format.
	JSON bool `mapstructure:"json"`
	// Writer receives log output; nil means stdout.
	Writer io.Writer `mapstructure:"-"`
}

// New returns a logger tagged with service.
func New(service string, opts Options) *httplog.Logger {
	return httplog.NewLogger(service, httplog.Options{
		LogLevel:         httplog.LevelByName(opts.Level),
		JSON:             opts.JSON,
		Concise:          true,
		MessageFieldName: "message",
		Writer:           opts.Writer,
	})
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
