package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/training"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain the classifier from the decision log",
	Long:  "Fits a fresh classifier on every valid decision log row and atomically replaces the artifact. An empty log leaves the existing artifact untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if src, _ := cmd.Flags().GetString("label-source"); src != "" {
			if !model.LabelSource(src).Valid() {
				return eris.Errorf("--label-source %q must be moisture or logged", src)
			}
			cfg.Training.LabelSource = src
		}

		env, err := initEnv(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Trainer.Retrain(cmd.Context())
		if err != nil {
			return err
		}
		formatRetrainResult(os.Stdout, res)
		return nil
	},
}

// formatRetrainResult writes a short summary of a committed run to out.
func formatRetrainResult(out io.Writer, res *training.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	r := res.Run
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Label source:\t%s\n", r.LabelSource)
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", r.Rows)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", r.Skipped)
	_, _ = fmt.Fprintf(w, "Training accuracy:\t%.3f\n", r.Accuracy)
	_, _ = fmt.Fprintf(w, "Checksum:\t%s\n", r.Checksum)
	for _, s := range res.Skipped {
		_, _ = fmt.Fprintf(w, "  line %d:\t%s\n", s.Line, s.Reason)
	}
	_ = w.Flush()
}

func init() {
	retrainCmd.Flags().String("label-source", "", "override training.label_source (moisture or logged)")
	rootCmd.AddCommand(retrainCmd)
}
