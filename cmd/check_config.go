package cmd

import (
	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/spf13/cobra"
)

// configReport is the JSON form of check-config
type configReport struct {
	Rules     []config.RuleConfig    `json:"rules"`
	Allowlist config.AllowlistConfig `json:"allowlist"`
	Sinks     []string               `json:"sinks"`
	LogDir    string                 `json:"log_dir"`
	SQLite    string                 `json:"sqlite_path,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
}

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and print the normalized rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile == "" {
				return config.ErrNoConfigPath
			}
			cfg, err := config.LoadConfig(opts.configFile)
			if err != nil {
				return err
			}

			report := buildConfigReport(cfg)
			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printConfigReport(cmd.OutOrStdout(), opts.configFile, report)
			return nil
		},
	}
}

func buildConfigReport(cfg *config.Config) configReport {
	report := configReport{
		Rules:     cfg.Watch.Protected,
		Allowlist: cfg.Allowlist,
		LogDir:    cfg.Sinks.LogDir,
	}
	if report.Rules == nil {
		report.Rules = []config.RuleConfig{}
	}

	report.Sinks = append(report.Sinks, "logfile")
	if !cfg.General.Quiet {
		report.Sinks = append(report.Sinks, "console")
	}
	if cfg.Notify.Enabled {
		report.Sinks = append(report.Sinks, "notification")
	}
	if cfg.Sinks.Webhook.URL != "" {
		report.Sinks = append(report.Sinks, "webhook")
	}
	if cfg.Sinks.Redis.Addr != "" {
		report.Sinks = append(report.Sinks, "redis")
	}
	if cfg.Sinks.SQLite.Enabled {
		report.Sinks = append(report.Sinks, "sqlite")
	}
	if cfg.NeedsSQLite() {
		report.SQLite = cfg.Storage.SQLitePath
	}

	if len(cfg.Watch.Protected) == 0 {
		report.Warnings = append(report.Warnings, "no protected rules: nothing will alert")
	}
	if cfg.Engine.SignatureTable == "" && len(cfg.Allowlist.ProcessNameAllow) == 0 {
		report.Warnings = append(report.Warnings, "no signature table and no process_name_allow: every non-kernel process is untrusted")
	}
	seen := make(map[string]string)
	for _, r := range cfg.Watch.Protected {
		if prev, ok := seen[r.Substring]; ok {
			report.Warnings = append(report.Warnings, "rule "+r.Name+" repeats the substring of "+prev+" and never matches")
			continue
		}
		seen[r.Substring] = r.Name
	}
	return report
}
