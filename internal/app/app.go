// Package app wires the CLI surface: logger setup, grid loading, structural
// validation, and the graph summary printed for a valid grid.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/vk/gridflow"
	"github.com/vk/gridflow/hclgrid"
	"github.com/vk/gridflow/internal/ctxlog"
)

// App holds the configured logger and output sink for one CLI invocation.
type App struct {
	logger *slog.Logger
	out    io.Writer
}

// NewApp constructs an App with a logger built from cfg.
func NewApp(cfg *Config, logW, outW io.Writer) *App {
	return &App{
		logger: newLogger(cfg.LogLevel, cfg.LogFormat, logW),
		out:    outW,
	}
}

// newLogger builds the logger for one CLI invocation. The process default is
// left alone so embedding hosts keep theirs.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Run loads the grid at cfg.GridPath, validates it structurally, and prints
// a summary of the graph. Callables are caller-supplied Go functions, so
// execution is only available through the library API; the CLI stops at
// validation.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	grid, err := hclgrid.Load(ctx, cfg.GridPath)
	if err != nil {
		return fmt.Errorf("failed to load grid: %w", err)
	}

	if err := gridflow.ValidateConfig(grid); err != nil {
		return fmt.Errorf("grid validation failed: %w", err)
	}
	a.logger.Info("Grid is valid.",
		"functions", len(grid.Functions),
		"events", len(grid.Events),
		"connections", len(grid.Connections))

	a.printSummary(grid)
	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) printSummary(grid *gridflow.Config) {
	fmt.Fprintf(a.out, "functions: %s\n", joinSorted(names(grid.Functions)))
	fmt.Fprintf(a.out, "events: %s\n", joinSorted(eventNames(grid.Events)))
	fmt.Fprintf(a.out, "roots: %s\n", strings.Join(gridflow.RootNodes(grid), ", "))
	for i, conn := range grid.Connections {
		fmt.Fprintf(a.out, "connection %d: [%s] -> [%s]\n",
			i, strings.Join(conn.From, ", "), strings.Join(conn.To, ", "))
	}
}

func names(m map[string]gridflow.FunctionSpec) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

func eventNames(m map[string]gridflow.EventSpec) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

func joinSorted(names []string) string {
	sort.Strings(names)
	return strings.Join(names, ", ")
}
