package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/TITAN-Softwork-Solutions/Vigil/ingest"
)

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func printConfigReport(w io.Writer, path string, report configReport) {
	successColor.Fprintf(w, "✓ %s is valid\n\n", path)

	printSection(w, "Protected rules")
	if len(report.Rules) == 0 {
		warningColor.Fprintln(w, "  (none)")
	}
	for i, r := range report.Rules {
		fmt.Fprintf(w, "  %2d. %-30s %s\n", i+1, r.Name, infoColor.Sprint(r.Substring))
	}
	fmt.Fprintln(w)

	printSection(w, "Allowlist")
	printField(w, "Signer subjects", strings.Join(report.Allowlist.SignerSubjectAllow, ", "))
	printField(w, "Process names", strings.Join(report.Allowlist.ProcessNameAllow, ", "))
	fmt.Fprintln(w)

	printSection(w, "Output")
	printField(w, "Sinks", strings.Join(report.Sinks, ", "))
	printField(w, "Log directory", report.LogDir)
	printField(w, "SQLite", report.SQLite)

	if len(report.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, warning := range report.Warnings {
			warningColor.Fprintf(w, "! %s\n", warning)
		}
	}
}

func printReplaySummary(w io.Writer, sc *ingest.Scenario, result *ingest.ReplayResult) {
	fmt.Fprintln(w)
	printSection(w, "Scenario "+sc.Name)
	printField(w, "Events", fmt.Sprintf("%d", result.Stats.Sequencer.Released))
	printField(w, "Accesses matched", fmt.Sprintf("%d", result.Stats.Engine.AccessesMatched))
	printField(w, "Alerts", fmt.Sprintf("%d", len(result.Alerts)))
	printField(w, "Suppressed", fmt.Sprintf("%d", result.Stats.Engine.AlertsSuppressed))

	if len(sc.Expect) == 0 {
		return
	}
	if result.Passed() {
		successColor.Fprintf(w, "✓ %d expected alert(s) matched\n", len(sc.Expect))
		return
	}
	for _, p := range result.Problems {
		errorColor.Fprintf(w, "✗ %s\n", p)
	}
}
