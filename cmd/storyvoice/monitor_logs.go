package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/logscan"
	"github.com/spf13/cobra"
)

var monitorLogsCmd = &cobra.Command{
	Use:   "monitor-logs",
	Short: "Inspect narration provider calls in the application log",
	Long: `Reads the tail of the JSON log file (LOG_FILE) and lists narration provider
calls.

Types:
  errors       failed provider calls
  rate-limits  calls the provider rate limited
  slow         calls slower than --slow-ms
  all          every provider call`,
	RunE: runMonitorLogs,
}

var (
	logsType   string
	logsLines  int
	logsStats  bool
	logsSlowMS int64
	logsFile   string
)

func init() {
	rootCmd.AddCommand(monitorLogsCmd)

	monitorLogsCmd.Flags().StringVar(&logsType, "type", string(logscan.FilterErrors), "event type (errors, rate-limits, slow, all)")
	monitorLogsCmd.Flags().IntVar(&logsLines, "lines", logscan.DefaultLines, "number of log lines to scan")
	monitorLogsCmd.Flags().BoolVar(&logsStats, "stats", false, "show summary statistics instead of events")
	monitorLogsCmd.Flags().Int64Var(&logsSlowMS, "slow-ms", logscan.DefaultSlowThreshold, "slow call threshold in milliseconds")
	monitorLogsCmd.Flags().StringVar(&logsFile, "file", "", "log file to scan (defaults to LOG_FILE)")
}

func runMonitorLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		path = config.Load().Logger.File
	}
	if path == "" {
		return fmt.Errorf("%w: set LOG_FILE or pass --file", logscan.ErrNoLogFile)
	}
	if logsLines <= 0 {
		return errors.New("--lines must be positive")
	}

	scanner := logscan.New(path, logsSlowMS)
	out := cmd.OutOrStdout()

	if logsStats {
		stats, err := scanner.Stats(logsLines)
		if err != nil {
			return err
		}
		renderLogStats(out, stats, logsLines)
		return nil
	}

	filter, err := logscan.ParseFilter(logsType)
	if err != nil {
		return err
	}
	entries, err := scanner.Scan(filter, logsLines)
	if err != nil {
		return err
	}
	renderLogEntries(out, filter, entries)
	return nil
}

func renderLogStats(w io.Writer, stats logscan.Stats, lines int) {
	fmt.Fprintf(w, "Narration provider calls in the last %d log lines\n\n", lines)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total calls\t%d\n", stats.Total)
	fmt.Fprintf(tw, "Completed\t%d\n", stats.Completed)
	fmt.Fprintf(tw, "Errors\t%d\n", stats.Errors)
	fmt.Fprintf(tw, "Rate limited\t%d\n", stats.RateLimits)
	fmt.Fprintf(tw, "Slow\t%d\n", stats.Slow)
	fmt.Fprintf(tw, "Avg response\t%.0f ms\n", stats.AvgResponseTimeMS)
	_ = tw.Flush()
}

func renderLogEntries(w io.Writer, filter logscan.Filter, entries []logscan.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No %s events found.\n", filter)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tUSER\tSERVICE\tSTATUS\tMS\tDETAILS")
	for _, e := range entries {
		status := "-"
		if e.StatusCode > 0 {
			status = fmt.Sprint(e.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			e.Time, e.Level, e.UserID, e.ServiceType, status, e.ResponseTimeMS, truncate(e.Details, 80))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d event(s)\n", len(entries))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
