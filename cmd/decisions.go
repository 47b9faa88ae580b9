package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/decisionlog"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Inspect and manage the decision log",
}

// -- decisions list --

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the most recent decisions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := decisionlog.Open(cfg.Data.LogPath)
		if err != nil {
			return err
		}
		recs, skipped, err := log.Records(cmd.Context())
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if limit > 0 && len(recs) > limit {
			recs = recs[len(recs)-limit:]
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "Decision log is empty.")
			return nil
		}

		formatDecisions(os.Stdout, recs)
		if len(skipped) > 0 {
			fmt.Fprintf(os.Stderr, "%d malformed rows skipped.\n", len(skipped))
		}
		return nil
	},
}

// -- decisions import --

var decisionsImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Append an uploaded sensor table to the decision log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := decisionlog.Open(cfg.Data.LogPath)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open upload")
		}
		defer f.Close() //nolint:errcheck

		crop, _ := cmd.Flags().GetString("default-crop")
		if crop == "" {
			crop = cfg.MQTT.DefaultCrop
		}

		res, err := log.Ingest(cmd.Context(), f, decisionlog.IngestOptions{DefaultCrop: crop})
		if err != nil {
			return err
		}
		for _, r := range res.Rejected {
			zap.L().Warn("row rejected", zap.Int("line", r.Line), zap.String("reason", r.Reason))
		}
		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.String("schema", string(res.Schema)),
			zap.Int("appended", res.Appended),
			zap.Int("rejected", len(res.Rejected)),
		)
		return nil
	},
}

// -- decisions export --

var decisionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the decision log as CSV or XLSX with a header row",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		log, err := decisionlog.Open(cfg.Data.LogPath)
		if err != nil {
			return err
		}
		recs, _, err := log.Records(cmd.Context())
		if err != nil {
			return err
		}

		var out io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrap(err, "create export file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return exportDecisions(out, format, recs)
	},
}

// -- decisions clear --

var decisionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record in the decision log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("refusing to clear the decision log without --yes")
		}
		log, err := decisionlog.Open(cfg.Data.LogPath)
		if err != nil {
			return err
		}
		if err := log.Clear(cmd.Context()); err != nil {
			return err
		}
		zap.L().Info("decision log cleared", zap.String("path", log.Path()))
		return nil
	},
}

func init() {
	decisionsListCmd.Flags().Int("limit", 20, "number of most recent decisions to show (0 for all)")
	decisionsImportCmd.Flags().String("default-crop", "", "crop for rows without one (default mqtt.default_crop)")
	decisionsExportCmd.Flags().String("format", "csv", "csv or xlsx")
	decisionsExportCmd.Flags().String("out", "", "output file (default stdout)")
	decisionsClearCmd.Flags().Bool("yes", false, "confirm clearing the log")

	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsImportCmd)
	decisionsCmd.AddCommand(decisionsExportCmd)
	decisionsCmd.AddCommand(decisionsClearCmd)
	rootCmd.AddCommand(decisionsCmd)
}

func exportDecisions(out io.Writer, format string, recs []decisionlog.Record) error {
	switch format {
	case "csv":
		return decisionlog.WriteCSV(out, recs)
	case "xlsx":
		return decisionlog.WriteXLSX(out, recs)
	default:
		return eris.Errorf("unsupported export format %q (csv or xlsx)", format)
	}
}

// formatDecisions writes a tabular list of records to w.
func formatDecisions(out io.Writer, recs []decisionlog.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIMESTAMP\tTEMP\tHUMIDITY\tMOISTURE\tCROP\tPREDICTION")
	_, _ = fmt.Fprintln(w, "---------\t----\t--------\t--------\t----\t----------")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%g\t%g\t%s\t%s\t%d\n",
			r.Timestamp.Format(decisionlog.TimeLayout),
			r.Temperature,
			r.Humidity,
			r.Moisture,
			r.Crop,
			r.Prediction,
		)
	}
	_ = w.Flush()
}
