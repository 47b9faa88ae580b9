// Package encoder owns the crop code table and builds the classifier's
// feature vectors. Training and inference both go through Vector, so the
// table and the column order can only drift by editing this file.
package encoder

import (
	"github.com/rotisserie/eris"
)

// Version identifies the crop table. It is stamped into every trained
// artifact and checked again when an artifact is loaded.
const Version = "crops-v1"

// Crop names accepted by the encoder.
const (
	Paddy  = "Paddy"
	Maize  = "Maize"
	Wheat  = "Wheat"
	Cotton = "Cotton"
)

// ErrUnknownCategory is returned for crop names outside the table.
var ErrUnknownCategory = eris.New("encoder: unknown category")

// Columns is the feature order used by the classifier.
var Columns = []string{"temperature", "humidity", "moisture", "crop_code"}

// table is indexed by crop code. Append only: reordering changes codes.
var table = [...]string{Paddy, Maize, Wheat, Cotton}

var codes = func() map[string]int {
	m := make(map[string]int, len(table))
	for code, name := range table {
		m[name] = code
	}
	return m
}()

// Encode maps a crop name to its integer code.
func Encode(crop string) (int, error) {
	code, ok := codes[crop]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownCategory, "crop %q", crop)
	}
	return code, nil
}

// Decode maps an integer code back to its crop name.
func Decode(code int) (string, error) {
	if code < 0 || code >= len(table) {
		return "", eris.Wrapf(ErrUnknownCategory, "crop code %d", code)
	}
	return table[code], nil
}

// Known reports whether crop is in the table.
func Known(crop string) bool {
	_, ok := codes[crop]
	return ok
}

// Crops returns the crop names in code order.
func Crops() []string {
	out := make([]string, len(table))
	copy(out, table[:])
	return out
}

// Vector builds a feature row in Columns order. Callers are expected to
// have range-checked the numeric inputs already.
func Vector(temperature, humidity float64, moisture int, crop string) ([]float64, error) {
	code, err := Encode(crop)
	if err != nil {
		return nil, err
	}
	return []float64{temperature, humidity, float64(moisture), float64(code)}, nil
}
