// Package logx wraps log/slog the way alucardeht-may-la-mcp/internal/logger
// does: install one handler on slog.SetDefault at startup, then hand out
// component-scoped loggers to every long-lived goroutine (Syncer,
// Coordinator, watcher, each job).
package logx

import (
	"io"
	"log/slog"
	"os"
)

// Config controls the installed default handler.
type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Output    io.Writer
	AddSource bool
}

// DefaultConfig is text to stderr at info level.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Init installs cfg's handler as the process-wide default.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// For returns a logger scoped to component, e.g. logx.For("syncer").
func For(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
