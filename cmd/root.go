// Package cmd provides the vigil command-line interface
package cmd

import (
	"encoding/json"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// shutdownTimeout bounds the drain after a signal or end of input
const shutdownTimeout = 30 * time.Second

// Global flags
type rootOptions struct {
	configFile string
	verbose    bool
	outputJSON bool
	noColor    bool
}

// NewRootCmd builds the vigil command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "vigil",
		Short: "Detect untrusted access to protected credential stores",
		Long: `Vigil correlates process and file events and raises an alert when a process
that is not trusted reads a protected location, either directly or through a
handle duplicated from a trusted process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (TOML, YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Debug logging and console alerts")
	rootCmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newReplayCmd(opts))
	rootCmd.AddCommand(newCheckConfigCmd(opts))

	return rootCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
