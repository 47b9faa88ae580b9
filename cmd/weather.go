package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/irrigation-cli/internal/weather"
)

type weatherFetcher interface {
	Fetch(ctx context.Context, city string) (*weather.Conditions, error)
}

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Show current temperature and humidity for a city",
	RunE: func(cmd *cobra.Command, _ []string) error {
		city, _ := cmd.Flags().GetString("city")
		if city == "" {
			city = cfg.Weather.City
		}

		cond, err := newWeatherSource(cfg).Fetch(cmd.Context(), city)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, cond)
	},
}

func init() {
	weatherCmd.Flags().String("city", "", "city name (default from config)")
	rootCmd.AddCommand(weatherCmd)
}
