package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/irrigation-cli/internal/config"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/monitoring"
	"github.com/sells-group/irrigation-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect retraining run history",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retraining runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListTrainingRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetTrainingRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs health --

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate retraining health without sending alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := runHealth(ctx, st, cfg.Monitoring)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, report)
	},
}

type healthReport struct {
	Snapshot *monitoring.Snapshot `json:"snapshot"`
	Alerts   []monitoring.Alert   `json:"alerts"`
}

func runHealth(ctx context.Context, runs monitoring.RunLister, mc config.MonitoringConfig) (*healthReport, error) {
	snap, err := monitoring.NewCollector(runs).Collect(ctx, mc.LookbackWindowHours)
	if err != nil {
		return nil, err
	}
	alerts := monitoring.NewAlerter(mc).Evaluate(snap)
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	return &healthReport{Snapshot: snap, Alerts: alerts}, nil
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, succeeded, failed, no_data, cancelled)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsHealthCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.TrainingRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tLABELS\tROWS\tSKIPPED\tACCURACY\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t----\t-------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		acc := "-"
		if r.Status == model.RunStatusSucceeded {
			acc = fmt.Sprintf("%.3f", r.Accuracy)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.LabelSource,
			r.Rows,
			r.Skipped,
			acc,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
