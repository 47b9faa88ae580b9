package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/advisor"
	"github.com/sells-group/irrigation-cli/internal/alert"
	"github.com/sells-group/irrigation-cli/internal/classifier"
	"github.com/sells-group/irrigation-cli/internal/config"
	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/fertilizer"
	"github.com/sells-group/irrigation-cli/internal/metrics"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/predictor"
	"github.com/sells-group/irrigation-cli/internal/store"
	"github.com/sells-group/irrigation-cli/internal/training"
	"github.com/sells-group/irrigation-cli/internal/voice"
	"github.com/sells-group/irrigation-cli/internal/weather"
	"github.com/sells-group/irrigation-cli/pkg/openweather"
	"github.com/sells-group/irrigation-cli/pkg/tts"
	"github.com/sells-group/irrigation-cli/pkg/twilio"
)

// appEnv holds the components shared by the commands.
type appEnv struct {
	Log       *decisionlog.Log
	Predictor *predictor.Predictor
	Trainer   *training.Pipeline
	Store     store.Store
	Advisor   *advisor.Advisor
	Weather   *weather.Source
	Tips      *fertilizer.Table
	Metrics   *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv builds every component from c. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	log, err := decisionlog.Open(c.Data.LogPath)
	if err != nil {
		return nil, err
	}

	tips, err := fertilizer.Load(c.Fertilizer.TablePath)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	pred := predictor.New(c.Data.ModelPath)
	trainer := training.New(log, training.Config{
		ModelPath:   c.Data.ModelPath,
		LabelSource: model.LabelSource(c.Training.LabelSource),
		Params: classifier.Params{
			Trees:    c.Training.Trees,
			MaxDepth: c.Training.MaxDepth,
			Seed:     c.Training.Seed,
		},
	},
		training.WithRunRecorder(st),
		training.WithMetrics(m),
		training.WithCommitHook(func(a *classifier.Artifact) {
			if err := pred.Use(a); err != nil {
				zap.L().Warn("retrained artifact rejected by predictor", zap.Error(err))
			}
		}),
	)

	opts := []advisor.Option{advisor.WithTips(tips), advisor.WithMetrics(m)}
	if c.Alert.Enabled {
		opts = append(opts, advisor.WithNotifier(newNotifier(c, m)))
	}
	if c.Voice.Enabled {
		client := tts.NewClient(tts.WithBaseURL(c.Voice.BaseURL))
		opts = append(opts, advisor.WithSpeaker(voice.NewSpeaker(client, c.Voice.Language, c.Voice.OutputPath)))
	}

	return &appEnv{
		Log:       log,
		Predictor: pred,
		Trainer:   trainer,
		Store:     st,
		Advisor:   advisor.New(pred, log, opts...),
		Weather:   newWeatherSource(c),
		Tips:      tips,
		Metrics:   m,
	}, nil
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open training-run store")
	}
	return st, nil
}

func newNotifier(c *config.Config, m *metrics.Metrics) *alert.Notifier {
	var client twilio.Client
	if c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" {
		client = twilio.NewClient(c.Twilio.AccountSID, c.Twilio.AuthToken, twilio.WithBaseURL(c.Twilio.BaseURL))
	} else {
		zap.L().Warn("twilio credentials not set, sms alerts will report failed")
	}
	return alert.NewNotifier(alert.Config{
		AccountSID:  c.Twilio.AccountSID,
		AuthToken:   c.Twilio.AuthToken,
		From:        c.Twilio.From,
		To:          c.Twilio.To,
		MinInterval: c.Alert.MinInterval,
		Burst:       c.Alert.Burst,
	}, client, m)
}

func newWeatherSource(c *config.Config) *weather.Source {
	if c.Weather.Key == "" {
		zap.L().Debug("IRRIGATION_WEATHER_KEY not set, weather lookups disabled")
		return weather.NewSource(nil)
	}
	timeout := time.Duration(c.Weather.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := openweather.NewClient(c.Weather.Key,
		openweather.WithBaseURL(c.Weather.BaseURL),
		openweather.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return weather.NewSource(client)
}
