// Package advisor runs the full decision flow for one Reading: predict,
// log, then attach the fertilizer tip, SMS alert and voice message.
package advisor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/alert"
	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/fertilizer"
	"github.com/sells-group/irrigation-cli/internal/metrics"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// Result messages shown to the farmer.
const (
	MessageNotNeeded   = "నీరు అవసరం లేదు"
	MessageNeeded      = "నీరు అవసరం ఉంది"
	MessageNotNeededEN = "Irrigation not needed"
	MessageNeededEN    = "Irrigation needed"
)

// Predictor classifies a Reading.
type Predictor interface {
	Predict(ctx context.Context, r model.Reading) (model.Label, error)
}

// Recorder persists Decision Records.
type Recorder interface {
	Append(ctx context.Context, rec decisionlog.Record) error
}

// Tips looks up fertilizer advice.
type Tips interface {
	Suggest(crop string) string
}

// Notifier sends the irrigation-needed alert.
type Notifier interface {
	Notify(ctx context.Context, message string) alert.Result
}

// Speaker turns text into a saved audio file.
type Speaker interface {
	Speak(ctx context.Context, text string) (string, error)
}

// VoiceStatus is the outcome of speech synthesis.
type VoiceStatus string

const (
	VoiceSpoken   VoiceStatus = "spoken"
	VoiceFailed   VoiceStatus = "failed"
	VoiceDisabled VoiceStatus = "disabled"
)

// Voice reports the speech step.
type Voice struct {
	Status VoiceStatus `json:"status"`
	Path   string      `json:"path,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// Advice is everything the farmer gets back for one Reading.
type Advice struct {
	Record     decisionlog.Record `json:"record"`
	Label      model.Label        `json:"label"`
	Needed     bool               `json:"irrigation_needed"`
	Message    string             `json:"message"`
	MessageEN  string             `json:"message_en"`
	Fertilizer string             `json:"fertilizer_tip"`
	// Alert is nil when no alert was due or alerting is disabled.
	Alert *alert.Result `json:"alert,omitempty"`
	Voice Voice         `json:"voice"`
}

// Advisor wires the predictor to the log and the advisory collaborators.
type Advisor struct {
	predictor Predictor
	log       Recorder
	tips      Tips
	notifier  Notifier
	speaker   Speaker
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithTips replaces the built-in fertilizer table.
func WithTips(t Tips) Option {
	return func(a *Advisor) { a.tips = t }
}

// WithNotifier enables SMS alerts.
func WithNotifier(n Notifier) Option {
	return func(a *Advisor) { a.notifier = n }
}

// WithSpeaker enables voice output.
func WithSpeaker(s Speaker) Option {
	return func(a *Advisor) { a.speaker = s }
}

// WithMetrics records prediction counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Advisor) { a.metrics = m }
}

// WithClock overrides the timestamp source for Decision Records.
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

// New returns an Advisor. Alerts and voice stay off unless their options
// are given.
func New(p Predictor, log Recorder, opts ...Option) *Advisor {
	a := &Advisor{
		predictor: p,
		log:       log,
		tips:      fertilizer.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Predict classifies r and appends the Decision Record. Nothing is logged
// when prediction fails. A failed append is returned even though the
// prediction itself succeeded.
func (a *Advisor) Predict(ctx context.Context, r model.Reading) (decisionlog.Record, error) {
	label, err := a.predictor.Predict(ctx, r)
	if err != nil {
		a.metrics.PredictionError(string(model.KindOf(err)))
		return decisionlog.Record{}, err
	}

	rec := decisionlog.NewRecord(r, label)
	rec.Timestamp = a.now()
	if err := a.log.Append(ctx, rec); err != nil {
		return decisionlog.Record{}, eris.Wrap(err, "advisor: log decision")
	}
	a.metrics.Prediction(label.String())
	a.metrics.DecisionsLogged(1)
	return rec, nil
}

// Advise runs Predict and then the advisory steps. Alert and voice
// failures are reported in the Advice and never returned as errors.
func (a *Advisor) Advise(ctx context.Context, r model.Reading) (*Advice, error) {
	rec, err := a.Predict(ctx, r)
	if err != nil {
		return nil, err
	}

	adv := &Advice{
		Record:     rec,
		Label:      rec.Prediction,
		Needed:     rec.Prediction == model.LabelNeeded,
		Message:    MessageNotNeeded,
		MessageEN:  MessageNotNeededEN,
		Fertilizer: a.tips.Suggest(r.Crop),
		Voice:      Voice{Status: VoiceDisabled},
	}
	if adv.Needed {
		adv.Message, adv.MessageEN = MessageNeeded, MessageNeededEN
		if a.notifier != nil {
			res := a.notifier.Notify(ctx, alert.Message(r))
			adv.Alert = &res
		}
	}

	if a.speaker != nil {
		path, err := a.speaker.Speak(ctx, adv.Message)
		if err != nil {
			zap.L().Warn("advisor: voice synthesis failed", zap.Error(err))
			adv.Voice = Voice{Status: VoiceFailed, Detail: err.Error()}
		} else {
			adv.Voice = Voice{Status: VoiceSpoken, Path: path}
		}
	}

	zap.L().Info("advisor: decision",
		zap.String("crop", r.Crop),
		zap.Int("label", int(adv.Label)),
		zap.Bool("alerted", adv.Alert != nil),
		zap.String("voice", string(adv.Voice.Status)),
	)
	return adv, nil
}
