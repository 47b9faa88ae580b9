package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/encoder"
)

// Reading bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 60.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
)

// Moisture is the binary soil moisture sensor state.
type Moisture int

const (
	MoistureWet Moisture = 0
	MoistureDry Moisture = 1
)

// Valid reports whether m is Wet or Dry.
func (m Moisture) Valid() bool {
	return m == MoistureWet || m == MoistureDry
}

func (m Moisture) String() string {
	switch m {
	case MoistureWet:
		return "Wet"
	case MoistureDry:
		return "Dry"
	default:
		return "Moisture(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMoisture accepts "0", "1", "0.0", "1.0", "Wet" or "Dry".
func ParseMoisture(s string) (Moisture, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "wet":
		return MoistureWet, nil
	case "dry":
		return MoistureDry, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse moisture %q", s)
	}
	switch f {
	case 0:
		return MoistureWet, nil
	case 1:
		return MoistureDry, nil
	}
	return 0, eris.Errorf("moisture %q is not 0 (Wet) or 1 (Dry)", s)
}

// UnmarshalJSON accepts a number (1 or 1.0) or a "Wet"/"Dry" string.
// Numbers are not range-checked here so that Validate can report
// InvalidMoisture.
func (m *Moisture) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			*m = -1
			return nil
		}
		*m = Moisture(int(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(err, "moisture: expected number or string")
	}
	parsed, err := ParseMoisture(s)
	if err != nil {
		*m = -1
		return nil
	}
	*m = parsed
	return nil
}

// Label is the classifier output.
type Label int

const (
	LabelNotNeeded Label = 0
	LabelNeeded    Label = 1
)

func (l Label) String() string {
	if l == LabelNeeded {
		return "needed"
	}
	return "not_needed"
}

// ParseLabel accepts "0", "1", "0.0" or "1.0".
func ParseLabel(s string) (Label, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse label %q", s)
	}
	switch f {
	case 0:
		return LabelNotNeeded, nil
	case 1:
		return LabelNeeded, nil
	}
	return 0, eris.Errorf("label %q is not 0 or 1", s)
}

// LabelFromMoisture derives the irrigation label from measured soil
// moisture: dry soil needs water.
func LabelFromMoisture(m Moisture) Label {
	if m == MoistureDry {
		return LabelNeeded
	}
	return LabelNotNeeded
}

// Reading describes field conditions for one decision.
type Reading struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Moisture    Moisture `json:"moisture"`
	Crop        string   `json:"crop"`
}

// Validate checks crop, temperature, humidity and moisture, in that order,
// and returns the first failure as a *ValidationError.
func (r Reading) Validate() error {
	if !encoder.Known(r.Crop) {
		return invalid(KindInvalidCrop, "crop", r.Crop, "unknown crop")
	}
	if !within(r.Temperature, MinTemperature, MaxTemperature) {
		return invalid(KindInvalidTemperature, "temperature", r.Temperature, "must be between 0 and 60 °C")
	}
	if !within(r.Humidity, MinHumidity, MaxHumidity) {
		return invalid(KindInvalidHumidity, "humidity", r.Humidity, "must be between 0 and 100 %")
	}
	if !r.Moisture.Valid() {
		return invalid(KindInvalidMoisture, "moisture", int(r.Moisture), "must be 0 (Wet) or 1 (Dry)")
	}
	return nil
}

// within is false for NaN and infinities.
func within(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}

// Features validates r and returns its classifier feature row.
func (r Reading) Features() ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return encoder.Vector(r.Temperature, r.Humidity, int(r.Moisture), r.Crop)
}
