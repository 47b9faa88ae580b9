package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/model"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify one reading and log the decision",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		reading, err := readingFromFlags(cmd, env.Weather)
		if err != nil {
			return err
		}
		rec, err := env.Advisor.Predict(ctx, reading)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(os.Stdout, "%d %s\n", rec.Prediction, rec.Prediction)
		return nil
	},
}

var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Run the full advice flow: predict, log, fertilizer tip, SMS and voice",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		reading, err := readingFromFlags(cmd, env.Weather)
		if err != nil {
			return err
		}
		adv, err := env.Advisor.Advise(ctx, reading)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, adv)
	},
}

// readingFromFlags builds a Reading from the command flags, reporting the
// crop first. Temperature and humidity left unset are filled from the
// weather for --city.
func readingFromFlags(cmd *cobra.Command, w weatherFetcher) (model.Reading, error) {
	flags := cmd.Flags()
	crop, _ := flags.GetString("crop")
	moisture, _ := flags.GetString("moisture")
	city, _ := flags.GetString("city")

	crop = strings.TrimSpace(crop)
	if !encoder.Known(crop) {
		return model.Reading{}, &model.ValidationError{
			Kind: model.KindInvalidCrop, Field: "crop", Value: crop, Reason: "must be one of " + strings.Join(encoder.Crops(), ", "),
		}
	}
	r := model.Reading{Crop: crop}

	haveTemp, haveHum := flags.Changed("temperature"), flags.Changed("humidity")
	if (!haveTemp || !haveHum) && city != "" {
		cond, err := w.Fetch(cmd.Context(), city)
		if err != nil {
			return model.Reading{}, err
		}
		r.Temperature, r.Humidity = cond.TemperatureC, cond.HumidityPct
	} else if !haveTemp || !haveHum {
		return model.Reading{}, eris.Wrap(model.ErrInvalidInput, "--temperature and --humidity are required unless --city is given")
	}
	if haveTemp {
		r.Temperature, _ = flags.GetFloat64("temperature")
	}
	if haveHum {
		r.Humidity, _ = flags.GetFloat64("humidity")
	}

	m, err := model.ParseMoisture(moisture)
	if err != nil {
		// Range errors on temperature and humidity still come first.
		if verr := r.Validate(); verr != nil {
			return model.Reading{}, verr
		}
		return model.Reading{}, &model.ValidationError{
			Kind: model.KindInvalidMoisture, Field: "moisture", Value: moisture, Reason: "must be Wet, Dry, 0 or 1",
		}
	}
	r.Moisture = m
	return r, nil
}

func addReadingFlags(fs *pflag.FlagSet) {
	fs.Float64("temperature", 0, "air temperature in °C (0-60)")
	fs.Float64("humidity", 0, "relative humidity in % (0-100)")
	fs.String("moisture", "", "soil moisture: Wet, Dry, 0 or 1 (required)")
	fs.String("crop", "", "crop: Paddy, Maize, Wheat or Cotton (required)")
	fs.String("city", "", "fill missing temperature/humidity from current weather")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{predictCmd, adviseCmd} {
		addReadingFlags(c.Flags())
		_ = c.MarkFlagRequired("moisture")
		_ = c.MarkFlagRequired("crop")
		rootCmd.AddCommand(c)
	}
}
