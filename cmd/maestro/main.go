// Command maestro runs the multi-agent workflow orchestrator.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Multi-agent workflow orchestration engine",
	Long: `maestro keeps a registry of agents, runs dependency-ordered workflows
across them and publishes every state change on an event bus.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd(), newValidateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger. level is shared with the
// orchestrator so runtime config updates change verbosity.
func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", name, err)
	}
	return l, nil
}
