package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/config"
)

// minFinishedRuns is how many finished runs the window needs before the
// failure rate is judged.
const minFinishedRuns = 3

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRetrainFailureRate AlertType = "retrain_failure_rate"
	AlertStaleModel         AlertType = "stale_model"
	AlertLowAccuracy        AlertType = "low_accuracy"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.RetrainSucceeded + snap.RetrainFailed
	if finished >= minFinishedRuns && snap.RetrainFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRetrainFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Retrain failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RetrainFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RetrainFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RetrainFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RetrainFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxModelAge > 0 && snap.LastSuccessAt != nil {
		if age := now.Sub(*snap.LastSuccessAt); age > a.cfg.MaxModelAge {
			alerts = append(alerts, Alert{
				Type:     AlertStaleModel,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Classifier last retrained %s ago, older than %s",
					age.Round(time.Minute), a.cfg.MaxModelAge,
				),
				Details: map[string]any{
					"last_success_at": snap.LastSuccessAt,
					"max_age_secs":    a.cfg.MaxModelAge.Seconds(),
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.MinAccuracy > 0 && snap.LastSuccessAt != nil && snap.LastAccuracy < a.cfg.MinAccuracy {
		alerts = append(alerts, Alert{
			Type:     AlertLowAccuracy,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Latest training accuracy %.3f below threshold %.3f",
				snap.LastAccuracy, a.cfg.MinAccuracy,
			),
			Details: map[string]any{
				"accuracy":  snap.LastAccuracy,
				"threshold": a.cfg.MinAccuracy,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
