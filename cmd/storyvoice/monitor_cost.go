package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/smallbiznis/storyvoice/internal/alert"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/clock"
	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/migration"
	"github.com/smallbiznis/storyvoice/internal/observability"
	"github.com/smallbiznis/storyvoice/internal/pricing"
	"github.com/smallbiznis/storyvoice/internal/providers"
	"github.com/smallbiznis/storyvoice/internal/usage"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"github.com/smallbiznis/storyvoice/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const monitorCostTimeout = 5 * time.Minute

var monitorCostCmd = &cobra.Command{
	Use:   "monitor-cost",
	Short: "Check narration cost against the configured thresholds",
	Long: `Computes usage statistics for the period, compares the total cost with the
configured threshold and optionally notifies administrators.

Exit status:
  0  cost within threshold
  1  threshold exceeded, administrators notified
  2  configuration or storage error
  3  threshold exceeded, notification not requested`,
	RunE: runMonitorCost,
}

var (
	monitorPeriod string
	monitorNotify bool
)

func init() {
	rootCmd.AddCommand(monitorCostCmd)

	monitorCostCmd.Flags().StringVar(&monitorPeriod, "period", string(usagedomain.PeriodToday), "period to check (today, week, month)")
	monitorCostCmd.Flags().BoolVar(&monitorNotify, "notify", false, "email administrators when the threshold is exceeded")
}

func runMonitorCost(cmd *cobra.Command, args []string) error {
	period, err := usagedomain.ParsePeriod(monitorPeriod)
	if err != nil {
		return fmt.Errorf("invalid --period %q: use today, week or month", monitorPeriod)
	}

	var (
		job alertdomain.Job
		cfg config.Config
	)
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.LoggingModule,
		db.Module,
		migration.Module,
		clock.Module,
		pricing.Module,
		usage.Module,
		providers.Module,
		alert.Module,
		fx.Populate(&job, &cfg),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), monitorCostTimeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	result, err := job.Run(ctx, alertdomain.RunRequest{Period: period, Notify: monitorNotify})
	if err != nil && result.Status != alertdomain.RunStatusAlerted {
		return err
	}

	renderMonitorResult(cmd.OutOrStdout(), result, cfg.DashboardURL)
	if code := exitCodeFor(result.Status); code != exitOK {
		return &exitCodeError{code: code}
	}
	return nil
}

func exitCodeFor(status alertdomain.RunStatus) int {
	switch status {
	case alertdomain.RunStatusAlerted:
		return exitAlerted
	case alertdomain.RunStatusViolation:
		return exitViolation
	default:
		return exitOK
	}
}

func renderMonitorResult(w io.Writer, result alertdomain.RunResult, dashboardURL string) {
	stats := result.Stats
	eval := result.Evaluation

	fmt.Fprintf(w, "Narration cost monitor: %s\n", eval.Period)
	fmt.Fprintf(w, "Window: %s to %s\n\n",
		stats.Start.Format("2006-01-02 15:04"), stats.End.Format("2006-01-02 15:04"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	fmt.Fprintf(tw, "Requests\t%s\n", humanize.Comma(stats.TotalRequests))
	fmt.Fprintf(tw, "Characters\t%s\n", humanize.Comma(stats.TotalCharacters))
	fmt.Fprintf(tw, "Total cost\t$%s\n", humanize.FormatFloat("#,###.##", stats.TotalCost.Dollars()))
	fmt.Fprintf(tw, "Average cost\t$%s\n", humanize.FormatFloat("#,###.####", stats.AverageCost.Dollars()))
	if eval.HasThreshold {
		fmt.Fprintf(tw, "Threshold\t$%s\n", humanize.FormatFloat("#,###.##", eval.Threshold.Dollars()))
		fmt.Fprintf(tw, "Threshold used\t%.1f%%\n", eval.PercentUsed())
	} else {
		fmt.Fprintln(tw, "Threshold\tnot configured")
	}
	_ = tw.Flush()
	fmt.Fprintln(w)

	if !eval.Violated() {
		fmt.Fprintln(w, "OK: cost is within threshold.")
		return
	}

	fmt.Fprintln(w, "VIOLATIONS:")
	for _, v := range eval.Violations {
		fmt.Fprintf(w, "  - %s\n", v.Message)
	}

	switch {
	case result.Dispatch != nil:
		fmt.Fprintf(w, "\nAlert %s: %d delivered, %d failed\n",
			result.Dispatch.DispatchID, result.Dispatch.Delivered(), result.Dispatch.Failed())
		for _, o := range result.Dispatch.Outcomes {
			if !o.Delivered {
				fmt.Fprintf(w, "  ! %s %s: %s\n", o.Channel, o.Recipient, o.Error)
			}
		}
	case result.DispatchError != "":
		fmt.Fprintf(w, "\nAlert dispatch failed: %s\n", result.DispatchError)
	case result.Status == alertdomain.RunStatusViolation:
		fmt.Fprintln(w, "\nRun with --notify to email administrators.")
	}

	if dashboardURL != "" {
		fmt.Fprintf(w, "\nDashboard: %s\n", dashboardURL)
	}
}
