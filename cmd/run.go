package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/TITAN-Softwork-Solutions/Vigil/bootstrap"
	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		input        string
		snapshot     string
		procSnapshot bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detector on a live event stream",
		Long: `Run reads raw events (JSON lines on stdin by default, --input for a file,
msgpack when the file ends in .msgpack) until SIGINT, SIGTERM or the end of
the input, then drains pending events and flushes every sink.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile == "" {
				return config.ErrNoConfigPath
			}
			if !cmd.Flags().Changed("proc-snapshot") {
				procSnapshot = liveInput(input)
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := bootstrap.NewApp(ctx, bootstrap.Options{
				ConfigPath:   opts.configFile,
				Verbose:      opts.verbose,
				InputPath:    input,
				SnapshotPath: snapshot,
				ProcSnapshot: procSnapshot,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			if err := app.Start(ctx); err != nil {
				_ = shutdown(app)
				return fmt.Errorf("failed to start: %w", err)
			}

			reason := app.WaitForShutdown(ctx)
			app.Sugar.Infow("Stopping", "reason", reason)

			return errors.Join(shutdown(app), app.SourceErr())
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Event file to read instead of stdin (.msgpack for msgpack)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Recorded pre-trace snapshot of processes and open handles")
	cmd.Flags().BoolVar(&procSnapshot, "proc-snapshot", true,
		"Seed processes from this host's /proc and resolve unknown pids against it; off for --input files unless set explicitly")

	return cmd
}

// liveInput reports whether input is the live stream on stdin rather than a
// recorded file
func liveInput(input string) bool {
	return input == "" || input == "-"
}

func shutdown(app *bootstrap.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.Shutdown(ctx)
}
