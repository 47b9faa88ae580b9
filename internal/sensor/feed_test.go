package sensor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/irrigation-cli/internal/advisor"
	"github.com/sells-group/irrigation-cli/internal/model"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeBroker struct {
	mu           sync.Mutex
	subscribed   string
	handler      mqtt.MessageHandler
	unsubscribed []string
	published    []published
	subErr       error
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed, b.handler = topic, cb
	return doneToken{err: b.subErr}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topics...)
	return doneToken{}
}

func (b *fakeBroker) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{}
}

func (b *fakeBroker) last(t *testing.T) Decision {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.published)
	var d Decision
	require.NoError(t, json.Unmarshal(b.published[len(b.published)-1].payload, &d))
	return d
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingAdvisor struct {
	mu       sync.Mutex
	readings []model.Reading
}

func (a *recordingAdvisor) Advise(_ context.Context, r model.Reading) (*advisor.Advice, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.readings = append(a.readings, r)
	a.mu.Unlock()
	label := model.LabelFromMoisture(r.Moisture)
	adv := &advisor.Advice{Label: label, Needed: label == model.LabelNeeded, Message: advisor.MessageNotNeeded}
	if adv.Needed {
		adv.Message = advisor.MessageNeeded
	}
	return adv, nil
}

var testConfig = Config{Topic: "farm/+/reading", QoS: 1, DefaultCrop: "Paddy"}

func TestHandle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		crop    string
		label   *model.Label
		kind    model.ErrorKind
	}{
		{"dry with crop", `{"temperature":39.5,"humidity":22,"moisture":1,"crop":"Cotton"}`, "Cotton", ptr(model.LabelNeeded), ""},
		{"default crop", `{"temperature":24,"humidity":81,"moisture":"Wet"}`, "Paddy", ptr(model.LabelNotNeeded), ""},
		{"not json", `24,81,0`, "", nil, model.KindInvalidInput},
		{"missing moisture", `{"temperature":24,"humidity":81}`, "", nil, model.KindInvalidInput},
		{"unknown crop", `{"temperature":24,"humidity":81,"moisture":0,"crop":"Rice"}`, "", nil, model.KindInvalidCrop},
		{"out of range", `{"temperature":75,"humidity":81,"moisture":0}`, "", nil, model.KindInvalidTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroker{}
			a := &recordingAdvisor{}
			f := NewFeed(b, testConfig, a)

			f.Handle(context.Background(), "farm/plot-7/reading", []byte(tt.payload))

			require.Len(t, b.published, 1)
			assert.Equal(t, "farm/plot-7/decision", b.published[0].topic)
			assert.Equal(t, byte(1), b.published[0].qos)

			d := b.last(t)
			assert.Equal(t, "plot-7", d.Device)
			assert.Equal(t, tt.label, d.Label)
			assert.Equal(t, tt.kind, d.Kind)
			if tt.label != nil {
				require.Len(t, a.readings, 1)
				assert.Equal(t, tt.crop, a.readings[0].Crop)
				assert.Empty(t, d.Error)
			} else {
				assert.Empty(t, a.readings)
				assert.NotEmpty(t, d.Error)
			}
		})
	}
}

func TestHandle_NoDevice(t *testing.T) {
	b := &fakeBroker{}
	f := NewFeed(b, testConfig, &recordingAdvisor{})
	assert.Nil(t, f.Handle(context.Background(), "reading", []byte(`{}`)))
	assert.Empty(t, b.published)
}

type failingAdvisor struct{}

func (failingAdvisor) Advise(context.Context, model.Reading) (*advisor.Advice, error) {
	return nil, eris.Wrap(model.ErrArtifactLoad, "classifier: open")
}

func TestHandle_AdvisorError(t *testing.T) {
	b := &fakeBroker{}
	f := NewFeed(b, testConfig, failingAdvisor{})
	d := f.Handle(context.Background(), "farm/a/reading", []byte(`{"temperature":24,"humidity":81,"moisture":0}`))
	require.NotNil(t, d)
	assert.Equal(t, model.KindArtifactLoad, d.Kind)
	assert.Nil(t, d.Label)
}

func TestRun(t *testing.T) {
	b := &fakeBroker{}
	a := &recordingAdvisor{}
	f := NewFeed(b, testConfig, a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.handler != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "farm/+/reading", b.subscribed)

	b.handler(nil, fakeMessage{topic: "farm/north/reading", payload: []byte(`{"temperature":30,"humidity":40,"moisture":1}`)})
	assert.Equal(t, "farm/north/decision", b.published[0].topic)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"farm/+/reading"}, b.unsubscribed)
}

func TestRun_SubscribeError(t *testing.T) {
	b := &fakeBroker{subErr: eris.New("not authorized")}
	err := NewFeed(b, testConfig, &recordingAdvisor{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "dev1", DeviceID("farm/dev1/reading"))
	assert.Equal(t, "", DeviceID("farm"))
	assert.Equal(t, "farm/dev1/decision", DecisionTopic("farm/+/reading", "dev1"))
	assert.Equal(t, "site/dev2/decision", DecisionTopic("site/+/sensors", "dev2"))
	assert.Equal(t, "farm/dev3/decision", DecisionTopic("readings", "dev3"))
}

func ptr[T any](v T) *T { return &v }
