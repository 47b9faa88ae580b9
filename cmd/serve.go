package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/irrigation-cli/internal/api"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/monitoring"
	"github.com/sells-group/irrigation-cli/internal/predictor"
	"github.com/sells-group/irrigation-cli/internal/sensor"
	"github.com/sells-group/irrigation-cli/internal/training"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the sensor feed, artifact watcher and background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Predictor.Load(); err != nil {
			zap.L().Warn("no usable classifier artifact yet, predictions fail until retrain", zap.Error(err))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewRouter(api.Deps{
				Advisor:        env.Advisor,
				Log:            env.Log,
				Trainer:        env.Trainer,
				Runs:           env.Store,
				Weather:        env.Weather,
				Tips:           env.Tips,
				Metrics:        env.Metrics,
				DefaultCity:    cfg.Weather.City,
				DefaultCrop:    cfg.MQTT.DefaultCrop,
				CORSOrigins:    cfg.Server.CORSOrigins,
				RetrainTimeout: cfg.Training.Timeout,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if cfg.Predictor.Watch {
			g.Go(func() error {
				return env.Predictor.Watch(gctx, predictor.DefaultDebounce)
			})
		}

		if cfg.MQTT.Enabled {
			mcfg := sensor.Config{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				Topic:       cfg.MQTT.Topic,
				QoS:         byte(cfg.MQTT.QoS),
				DefaultCrop: cfg.MQTT.DefaultCrop,
			}
			client, err := sensor.Connect(mcfg)
			if err != nil {
				stop()
				_ = g.Wait()
				return err
			}
			defer client.Disconnect(250)

			feed := sensor.NewFeed(client, mcfg, env.Advisor)
			g.Go(func() error { return feed.Run(gctx) })
		}

		if cfg.Training.Interval > 0 {
			g.Go(func() error {
				retrainEvery(gctx, env.Trainer, cfg.Training.Interval, cfg.Training.Timeout)
				return nil
			})
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

type retrainer interface {
	Retrain(ctx context.Context) (*training.Result, error)
}

// retrainEvery retrains on a fixed interval until ctx is done. Failed runs
// are logged and retried on the next tick. A positive timeout bounds each run.
func retrainEvery(ctx context.Context, t retrainer, every, timeout time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	zap.L().Info("periodic retraining enabled", zap.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retrainOnce(ctx, t, timeout)
			switch {
			case err == nil:
			case errors.Is(err, model.ErrNoTrainingData):
				zap.L().Info("periodic retrain skipped, decision log is empty")
			case ctx.Err() != nil:
				return
			default:
				zap.L().Error("periodic retrain failed", zap.Error(err))
			}
		}
	}
}

func retrainOnce(ctx context.Context, t retrainer, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := t.Retrain(ctx)
	return err
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
