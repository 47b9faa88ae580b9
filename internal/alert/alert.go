// Package alert sends the irrigation-needed SMS and reports the outcome as
// a status rather than an error.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/irrigation-cli/internal/metrics"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/pkg/twilio"
)

// Status is the outcome of one alert attempt.
type Status string

const (
	StatusDelivered   Status = "delivered"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
)

// Result reports what happened to an alert.
type Result struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// twilioDailyLimit is Twilio's "account exceeded the daily messages limit".
const twilioDailyLimit = 63038

// Config holds recipient details and local throttling.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	// MinInterval is the steady-state spacing between alerts. Zero
	// disables local throttling.
	MinInterval time.Duration
	Burst       int
}

func (c Config) hasCredentials() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && c.To != ""
}

// Notifier sends alerts through Twilio. It never retries: a retried SMS
// risks a duplicate on the farmer's phone.
type Notifier struct {
	cfg     Config
	client  twilio.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewNotifier builds a Notifier. client may be nil when credentials are
// missing; Notify then reports StatusFailed.
func NewNotifier(cfg Config, client twilio.Client, m *metrics.Metrics) *Notifier {
	n := &Notifier{cfg: cfg, client: client, metrics: m}
	if cfg.MinInterval > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), burst)
	}
	return n
}

// Notify sends message to the configured recipient.
func (n *Notifier) Notify(ctx context.Context, message string) Result {
	res := n.notify(ctx, message)
	n.metrics.Alert(string(res.Status))
	log := zap.L().With(zap.String("status", string(res.Status)))
	if res.Status == StatusDelivered {
		log.Info("alert: sms sent", zap.String("sid", res.Detail))
	} else {
		log.Warn("alert: sms not sent", zap.String("detail", res.Detail))
	}
	return res
}

func (n *Notifier) notify(ctx context.Context, message string) Result {
	if !n.cfg.hasCredentials() || n.client == nil {
		return Result{Status: StatusFailed, Detail: "missing twilio credentials"}
	}
	if n.limiter != nil && !n.limiter.Allow() {
		return Result{Status: StatusRateLimited, Detail: "local alert rate limit reached"}
	}

	msg, err := n.client.SendSMS(ctx, n.cfg.From, n.cfg.To, message)
	if err != nil {
		return Classify(err)
	}
	return Result{Status: StatusDelivered, Detail: msg.SID}
}

// Classify maps a send error onto a Result.
func Classify(err error) Result {
	var apiErr *twilio.APIError
	if errors.As(err, &apiErr) && (apiErr.HTTPStatus == 429 || apiErr.Code == twilioDailyLimit) {
		return Result{Status: StatusRateLimited, Detail: apiErr.Error()}
	}
	if strings.Contains(strings.ToLower(err.Error()), "limit") {
		return Result{Status: StatusRateLimited, Detail: err.Error()}
	}
	return Result{Status: StatusFailed, Detail: err.Error()}
}

// Message renders the SMS body for a reading that needs irrigation.
func Message(r model.Reading) string {
	return fmt.Sprintf("Irrigation Alert for %s!\n"+
		"Temperature: %s°C\n"+
		"Humidity: %s%%\n"+
		"Soil moisture: %s\n"+
		"నీటిపోసే అవసరం ఉంది (Irrigation needed).",
		r.Crop, trimFloat(r.Temperature), trimFloat(r.Humidity), r.Moisture)
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
