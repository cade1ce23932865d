// Package cli implements the archivecore command line.
package cli

import (
	"archivecore/internal/app"
	"archivecore/internal/config"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath   string
	SnapshotPath string
	Format       string // "json" | "text"

	logOut io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "archivecore",
		Short: "Persist and query archival record graphs",
		Long: `archivecore saves records through the handler pipelines of the
persistence orchestrator and answers graph queries over the stored records.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.logOut = cmd.ErrOrStderr()
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.SnapshotPath, "snapshot", "", "JSON snapshot file backing the memory storage driver")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(newGraphCommands(opts)...)
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewQueriesCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// withRuntime loads configuration, opens the runtime with its job workers
// running and closes it after fn, draining queued jobs.
func withRuntime(ctx context.Context, opts *RootOptions, fn func(context.Context, *app.Runtime) error) (err error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := ConfigureLogging(opts.logOut, cfg.LogLevel)
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, cfg, app.Options{Logger: logger, SnapshotPath: opts.SnapshotPath})
	if err != nil {
		return err
	}
	rt.Start(ctx)
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, rt)
}

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a text handler writing to w at level (DEBUG,
// INFO, WARN or ERROR) as the default slog logger and returns it.
func ConfigureLogging(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logLevel.Set(lvl)
	if w == nil {
		w = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger, nil
}
