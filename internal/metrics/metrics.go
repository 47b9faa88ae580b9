// Package metrics holds the Prometheus collectors for predictions, the
// decision log, alerts and retraining.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	predictions      *prometheus.CounterVec
	predictionErrors *prometheus.CounterVec
	decisionsLogged  prometheus.Counter
	alerts           *prometheus.CounterVec
	retrainRuns      *prometheus.CounterVec
	retrainDuration  prometheus.Histogram
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_predictions_total",
			Help: "Predictions served, by label.",
		}, []string{"label"}),
		predictionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_prediction_errors_total",
			Help: "Rejected or failed predictions, by error kind.",
		}, []string{"kind"}),
		decisionsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "irrigation_decisions_logged_total",
			Help: "Decision records appended to the log.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_alerts_total",
			Help: "SMS alert attempts, by delivery status.",
		}, []string{"status"}),
		retrainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_retrain_runs_total",
			Help: "Retraining runs, by final status.",
		}, []string{"status"}),
		retrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "irrigation_retrain_duration_seconds",
			Help:    "Wall time of retraining runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(
		m.predictions,
		m.predictionErrors,
		m.decisionsLogged,
		m.alerts,
		m.retrainRuns,
		m.retrainDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Prediction(label string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(label).Inc()
}

func (m *Metrics) PredictionError(kind string) {
	if m == nil {
		return
	}
	m.predictionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecisionsLogged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.decisionsLogged.Add(float64(n))
}

func (m *Metrics) Alert(status string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(status).Inc()
}

// Retrain records one finished run.
func (m *Metrics) Retrain(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.retrainRuns.WithLabelValues(status).Inc()
	m.retrainDuration.Observe(took.Seconds())
}
