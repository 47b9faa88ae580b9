package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingValidate(t *testing.T) {
	tests := []struct {
		name     string
		reading  Reading
		wantKind ErrorKind
	}{
		{"valid wet paddy", Reading{25, 80, MoistureWet, "Paddy"}, ""},
		{"valid bounds", Reading{0, 100, MoistureDry, "Cotton"}, ""},
		{"valid upper temp", Reading{60, 0, MoistureDry, "Maize"}, ""},
		{"unknown crop", Reading{25, 80, MoistureWet, "Rice"}, KindInvalidCrop},
		{"temp too high", Reading{70, 50, MoistureWet, "Wheat"}, KindInvalidTemperature},
		{"temp negative", Reading{-1, 50, MoistureWet, "Wheat"}, KindInvalidTemperature},
		{"humidity too high", Reading{30, 101, MoistureWet, "Wheat"}, KindInvalidHumidity},
		{"moisture out of set", Reading{30, 50, 2, "Wheat"}, KindInvalidMoisture},
		{"temp NaN", Reading{math.NaN(), 50, MoistureDry, "Wheat"}, KindInvalidTemperature},
		{"temp +Inf", Reading{math.Inf(1), 50, MoistureDry, "Wheat"}, KindInvalidTemperature},
		{"humidity NaN", Reading{25, math.NaN(), MoistureWet, "Wheat"}, KindInvalidHumidity},
		{"humidity -Inf", Reading{25, math.Inf(-1), MoistureWet, "Wheat"}, KindInvalidHumidity},
		// Crop is checked first even when everything else is invalid.
		{"crop before temp", Reading{99, 500, 7, "Rice"}, KindInvalidCrop},
		{"temp before humidity", Reading{99, 500, 7, "Paddy"}, KindInvalidTemperature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantKind, ve.Kind)
			assert.True(t, errors.Is(err, ErrInvalidInput))
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestReadingFeatures(t *testing.T) {
	f, err := Reading{Temperature: 40, Humidity: 20, Moisture: MoistureDry, Crop: "Cotton"}.Features()
	require.NoError(t, err)
	assert.Equal(t, []float64{40, 20, 1, 3}, f)

	_, err = Reading{Temperature: 70, Humidity: 20, Moisture: MoistureDry, Crop: "Cotton"}.Features()
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestParseMoisture(t *testing.T) {
	tests := []struct {
		in      string
		want    Moisture
		wantErr bool
	}{
		{"0", MoistureWet, false},
		{"1", MoistureDry, false},
		{"1.0", MoistureDry, false},
		{"Wet", MoistureWet, false},
		{" dry ", MoistureDry, false},
		{"2", 0, true},
		{"damp", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMoisture(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestMoistureUnmarshalJSON(t *testing.T) {
	var r Reading
	require.NoError(t, json.Unmarshal([]byte(`{"temperature":25,"humidity":80,"moisture":"Dry","crop":"Paddy"}`), &r))
	assert.Equal(t, MoistureDry, r.Moisture)

	require.NoError(t, json.Unmarshal([]byte(`{"moisture":1.0}`), &r))
	assert.Equal(t, MoistureDry, r.Moisture)

	require.NoError(t, json.Unmarshal([]byte(`{"moisture":0.0}`), &r))
	assert.Equal(t, MoistureWet, r.Moisture)

	require.NoError(t, json.Unmarshal([]byte(`{"moisture":0.5}`), &r))
	assert.False(t, r.Moisture.Valid())

	require.NoError(t, json.Unmarshal([]byte(`{"moisture":3}`), &r))
	assert.Equal(t, Moisture(3), r.Moisture)

	require.NoError(t, json.Unmarshal([]byte(`{"moisture":"soggy"}`), &r))
	assert.False(t, r.Moisture.Valid())
}

func TestLabelFromMoisture(t *testing.T) {
	assert.Equal(t, LabelNeeded, LabelFromMoisture(MoistureDry))
	assert.Equal(t, LabelNotNeeded, LabelFromMoisture(MoistureWet))
	assert.Equal(t, "needed", LabelNeeded.String())
	assert.Equal(t, "not_needed", LabelNotNeeded.String())
}

func TestParseLabel(t *testing.T) {
	l, err := ParseLabel("1")
	require.NoError(t, err)
	assert.Equal(t, LabelNeeded, l)
	l, err = ParseLabel("0.0")
	require.NoError(t, err)
	assert.Equal(t, LabelNotNeeded, l)
	_, err = ParseLabel("yes")
	assert.Error(t, err)
	_, err = ParseLabel("2")
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNoTrainingData, KindOf(eris.Wrap(ErrNoTrainingData, "training: retrain")))
	assert.Equal(t, KindArtifactLoad, KindOf(eris.Wrap(ErrArtifactLoad, "predictor: load")))
	assert.Equal(t, KindExternalService, KindOf(eris.Wrap(ErrExternalService, "weather: fetch")))
	assert.Equal(t, KindRowParse, KindOf(&RowParseError{Line: 3, Reason: "bad"}))
	assert.Equal(t, KindInvalidInput, KindOf(eris.Wrap(ErrInvalidInput, "weather: city is required")))
	assert.Equal(t, KindInternal, KindOf(eris.New("boom")))
}
