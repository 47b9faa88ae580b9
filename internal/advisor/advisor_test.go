package advisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/irrigation-cli/internal/alert"
	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/metrics"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// moisturePredictor labels by soil moisture after validating the reading.
type moisturePredictor struct{ err error }

func (p moisturePredictor) Predict(_ context.Context, r model.Reading) (model.Label, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if p.err != nil {
		return 0, p.err
	}
	return model.LabelFromMoisture(r.Moisture), nil
}

type memLog struct {
	mu   sync.Mutex
	recs []decisionlog.Record
	err  error
}

func (l *memLog) Append(_ context.Context, rec decisionlog.Record) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

type fakeNotifier struct {
	result   alert.Result
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, msg string) alert.Result {
	n.messages = append(n.messages, msg)
	return n.result
}

type fakeSpeaker struct {
	path  string
	err   error
	texts []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) (string, error) {
	s.texts = append(s.texts, text)
	return s.path, s.err
}

var (
	clock     = func() time.Time { return time.Date(2025, 9, 1, 6, 30, 0, 0, time.Local) }
	wetPaddy  = model.Reading{Temperature: 25, Humidity: 80, Moisture: model.MoistureWet, Crop: "Paddy"}
	dryCotton = model.Reading{Temperature: 40, Humidity: 20, Moisture: model.MoistureDry, Crop: "Cotton"}
)

func TestAdvise_NotNeeded(t *testing.T) {
	log := &memLog{}
	n := &fakeNotifier{result: alert.Result{Status: alert.StatusDelivered}}
	a := New(moisturePredictor{}, log, WithNotifier(n), WithClock(clock))

	adv, err := a.Advise(context.Background(), wetPaddy)
	require.NoError(t, err)
	assert.Equal(t, model.LabelNotNeeded, adv.Label)
	assert.False(t, adv.Needed)
	assert.Equal(t, MessageNotNeeded, adv.Message)
	assert.Equal(t, MessageNotNeededEN, adv.MessageEN)
	assert.Equal(t, "Use Urea and DAP in early stages.", adv.Fertilizer)
	assert.Nil(t, adv.Alert)
	assert.Empty(t, n.messages)
	assert.Equal(t, VoiceDisabled, adv.Voice.Status)

	require.Len(t, log.recs, 1)
	assert.Equal(t, clock(), log.recs[0].Timestamp)
	assert.Equal(t, wetPaddy, log.recs[0].Reading())
}

func TestAdvise_NeededSendsAlertAndVoice(t *testing.T) {
	log := &memLog{}
	n := &fakeNotifier{result: alert.Result{Status: alert.StatusDelivered, Detail: "SM1"}}
	s := &fakeSpeaker{path: "out/output.mp3"}
	a := New(moisturePredictor{}, log, WithNotifier(n), WithSpeaker(s), WithClock(clock))

	adv, err := a.Advise(context.Background(), dryCotton)
	require.NoError(t, err)
	assert.True(t, adv.Needed)
	assert.Equal(t, MessageNeeded, adv.Message)
	assert.Equal(t, "Use phosphorus before flowering.", adv.Fertilizer)

	require.NotNil(t, adv.Alert)
	assert.Equal(t, alert.StatusDelivered, adv.Alert.Status)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Cotton")
	assert.Contains(t, n.messages[0], "Temperature: 40°C")

	assert.Equal(t, Voice{Status: VoiceSpoken, Path: "out/output.mp3"}, adv.Voice)
	assert.Equal(t, []string{MessageNeeded}, s.texts)
}

func TestAdvise_CollaboratorFailuresAreStatuses(t *testing.T) {
	log := &memLog{}
	n := &fakeNotifier{result: alert.Result{Status: alert.StatusRateLimited, Detail: "63038"}}
	s := &fakeSpeaker{err: errors.New("tts: unexpected status 503")}
	a := New(moisturePredictor{}, log, WithNotifier(n), WithSpeaker(s))

	adv, err := a.Advise(context.Background(), dryCotton)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusRateLimited, adv.Alert.Status)
	assert.Equal(t, VoiceFailed, adv.Voice.Status)
	assert.Contains(t, adv.Voice.Detail, "503")
	assert.Len(t, log.recs, 1, "decision is logged regardless of alert and voice outcome")
}

func TestAdvise_InvalidInputLogsNothing(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := &memLog{}
	n := &fakeNotifier{}
	a := New(moisturePredictor{}, log, WithNotifier(n), WithMetrics(metrics.New(reg)))

	tests := []struct {
		name    string
		reading model.Reading
		kind    model.ErrorKind
	}{
		{"unknown crop", model.Reading{Temperature: 25, Humidity: 80, Crop: "Barley"}, model.KindInvalidCrop},
		{"too hot", model.Reading{Temperature: 70, Humidity: 80, Crop: "Paddy"}, model.KindInvalidTemperature},
		{"bad moisture", model.Reading{Temperature: 25, Humidity: 80, Moisture: 3, Crop: "Paddy"}, model.KindInvalidMoisture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adv, err := a.Advise(context.Background(), tt.reading)
			require.Error(t, err)
			assert.Nil(t, adv)
			assert.True(t, eris.Is(err, model.ErrInvalidInput))
			assert.Equal(t, tt.kind, model.KindOf(err))
		})
	}
	assert.Empty(t, log.recs)
	assert.Empty(t, n.messages)

	count, err := testutil.GatherAndCount(reg, "irrigation_prediction_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAdvise_ArtifactErrorLogsNothing(t *testing.T) {
	log := &memLog{}
	a := New(moisturePredictor{err: eris.Wrap(model.ErrArtifactLoad, "predictor: open")}, log)

	_, err := a.Advise(context.Background(), wetPaddy)
	require.Error(t, err)
	assert.Equal(t, model.KindArtifactLoad, model.KindOf(err))
	assert.Empty(t, log.recs)
}

func TestAdvise_AppendFailure(t *testing.T) {
	n := &fakeNotifier{}
	a := New(moisturePredictor{}, &memLog{err: errors.New("disk full")}, WithNotifier(n))

	_, err := a.Advise(context.Background(), dryCotton)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, n.messages, "no alert for a decision that was not logged")
}

func TestPredict_CountsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := &memLog{}
	a := New(moisturePredictor{}, log, WithMetrics(metrics.New(reg)))

	for _, r := range []model.Reading{wetPaddy, dryCotton, dryCotton} {
		_, err := a.Predict(context.Background(), r)
		require.NoError(t, err)
	}
	assert.Len(t, log.recs, 3)

	count, err := testutil.GatherAndCount(reg, "irrigation_predictions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAdvise_CustomTips(t *testing.T) {
	a := New(moisturePredictor{}, &memLog{}, WithTips(tipsFunc(func(string) string { return "compost" })))
	adv, err := a.Advise(context.Background(), wetPaddy)
	require.NoError(t, err)
	assert.Equal(t, "compost", adv.Fertilizer)
}

type tipsFunc func(string) string

func (f tipsFunc) Suggest(crop string) string { return f(crop) }
