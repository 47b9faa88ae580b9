// Package sensor feeds field sensor readings from MQTT through the advisor
// and publishes each decision back to the device.
package sensor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/advisor"
	"github.com/sells-group/irrigation-cli/internal/model"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	adviseTimeout  = 30 * time.Second
)

// Config holds broker and subscription settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is a subscription filter whose second level is the device ID,
	// e.g. "farm/+/reading".
	Topic       string
	QoS         byte
	DefaultCrop string
}

// Advisor runs the decision flow for one reading.
type Advisor interface {
	Advise(ctx context.Context, r model.Reading) (*advisor.Advice, error)
}

// Broker is the part of mqtt.Client the feed uses.
type Broker interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	// Handlers run concurrently. Advice can block on SMS and TTS calls.
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		zap.L().Info("sensor: connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		zap.L().Warn("sensor: connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, eris.Errorf("sensor: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, eris.Wrapf(err, "sensor: connect to %s", cfg.Broker)
	}
	return client, nil
}

// Payload is the JSON a device publishes.
type Payload struct {
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	Moisture    *model.Moisture `json:"moisture"`
	Crop        string          `json:"crop,omitempty"`
}

// Decision is published to farm/{device}/decision.
type Decision struct {
	Device     string          `json:"device"`
	Label      *model.Label    `json:"label,omitempty"`
	Needed     bool            `json:"irrigation_needed"`
	Message    string          `json:"message,omitempty"`
	MessageEN  string          `json:"message_en,omitempty"`
	Fertilizer string          `json:"fertilizer_tip,omitempty"`
	Error      string          `json:"error,omitempty"`
	Kind       model.ErrorKind `json:"kind,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Feed subscribes to sensor readings.
type Feed struct {
	broker  Broker
	cfg     Config
	advisor Advisor
	now     func() time.Time
}

// NewFeed returns a Feed. Subscription starts with Run.
func NewFeed(b Broker, cfg Config, a Advisor) *Feed {
	return &Feed{broker: b, cfg: cfg, advisor: a, now: time.Now}
}

// Run subscribes and processes readings until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	token := f.broker.Subscribe(f.cfg.Topic, f.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		f.Handle(ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return eris.Wrapf(token.Error(), "sensor: subscribe %s", f.cfg.Topic)
	}
	zap.L().Info("sensor: subscribed", zap.String("topic", f.cfg.Topic))

	<-ctx.Done()

	if t := f.broker.Unsubscribe(f.cfg.Topic); !t.WaitTimeout(publishTimeout) {
		zap.L().Warn("sensor: unsubscribe timed out", zap.String("topic", f.cfg.Topic))
	}
	return nil
}

// Handle advises on one message and publishes the decision. Malformed
// payloads and invalid readings are answered with an error decision.
func (f *Feed) Handle(ctx context.Context, topic string, payload []byte) *Decision {
	device := DeviceID(topic)
	log := zap.L().With(zap.String("device", device), zap.String("topic", topic))
	if device == "" {
		log.Warn("sensor: topic has no device id")
		return nil
	}

	d := f.decide(ctx, device, payload)
	if d.Error != "" {
		log.Warn("sensor: reading rejected", zap.String("kind", string(d.Kind)), zap.String("error", d.Error))
	}
	if err := f.publish(d); err != nil {
		log.Warn("sensor: publish decision failed", zap.Error(err))
	}
	return d
}

func (f *Feed) decide(ctx context.Context, device string, payload []byte) *Decision {
	d := &Decision{Device: device, Timestamp: f.now().UTC()}

	reading, err := f.reading(payload)
	if err != nil {
		d.Error, d.Kind = err.Error(), model.KindOf(err)
		return d
	}

	ctx, cancel := context.WithTimeout(ctx, adviseTimeout)
	defer cancel()
	adv, err := f.advisor.Advise(ctx, reading)
	if err != nil {
		d.Error, d.Kind = err.Error(), model.KindOf(err)
		return d
	}

	label := adv.Label
	d.Label = &label
	d.Needed = adv.Needed
	d.Message = adv.Message
	d.MessageEN = adv.MessageEN
	d.Fertilizer = adv.Fertilizer
	return d
}

func (f *Feed) reading(payload []byte) (model.Reading, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.Reading{}, eris.Wrap(model.ErrInvalidInput, "sensor: payload is not json: "+err.Error())
	}
	if p.Temperature == nil || p.Humidity == nil || p.Moisture == nil {
		return model.Reading{}, eris.Wrap(model.ErrInvalidInput, "sensor: temperature, humidity and moisture are required")
	}
	crop := strings.TrimSpace(p.Crop)
	if crop == "" {
		crop = f.cfg.DefaultCrop
	}
	return model.Reading{
		Temperature: *p.Temperature,
		Humidity:    *p.Humidity,
		Moisture:    *p.Moisture,
		Crop:        crop,
	}, nil
}

func (f *Feed) publish(d *Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sensor: marshal decision")
	}
	topic := DecisionTopic(f.cfg.Topic, d.Device)
	token := f.broker.Publish(topic, f.cfg.QoS, false, body)
	if !token.WaitTimeout(publishTimeout) {
		return eris.Errorf("sensor: publish to %s timed out", topic)
	}
	return eris.Wrapf(token.Error(), "sensor: publish to %s", topic)
}

// DeviceID returns the second topic level: farm/{device}/reading.
func DeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// DecisionTopic swaps the device wildcard into filter and replaces the
// last level with "decision".
func DecisionTopic(filter, device string) string {
	parts := strings.Split(filter, "/")
	if len(parts) < 3 {
		return "farm/" + device + "/decision"
	}
	parts[1] = device
	parts[len(parts)-1] = "decision"
	return strings.Join(parts, "/")
}
