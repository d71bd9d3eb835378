package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/TITAN-Softwork-Solutions/Vigil/bootstrap"
	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/ingest"
	"github.com/TITAN-Softwork-Solutions/Vigil/notify"
	"github.com/spf13/cobra"
)

// ErrScenarioFailed is returned when a replayed scenario does not produce
// the alerts it expects
var ErrScenarioFailed = errors.New("scenario expectations not met")

func newReplayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a recorded scenario through a fresh engine",
		Long: `Replay runs the events of a scenario file through a new engine using the
scenario's recorded signature results and snapshot, prints every alert, and
fails when the scenario lists expected alerts that were not produced.
Without --config the built-in defaults are used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, sugar, err := bootstrap.InitLogger(opts.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg := config.Default()
			if opts.configFile != "" {
				if cfg, err = config.LoadConfig(opts.configFile); err != nil {
					return err
				}
			}

			sc, err := ingest.LoadScenario(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var onAlert func(*core.AlertRecord)
			if !opts.outputJSON {
				console := notify.NewConsoleSink(out)
				onAlert = func(alert *core.AlertRecord) {
					_ = console.Write(context.Background(), alert)
				}
			}

			result, err := ingest.Replay(cmd.Context(), sc, cfg, onAlert, sugar)
			if err != nil {
				return err
			}

			if opts.outputJSON {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				printReplaySummary(out, sc, result)
			}

			if !result.Passed() {
				return fmt.Errorf("%w: %d problem(s)", ErrScenarioFailed, len(result.Problems))
			}
			return nil
		},
	}
	return cmd
}
