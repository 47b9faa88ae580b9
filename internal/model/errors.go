package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors shared across the core. Match with errors.Is or eris.Is.
var (
	ErrInvalidInput    = eris.New("invalid input")
	ErrNoTrainingData  = eris.New("no training data")
	ErrArtifactLoad    = eris.New("classifier artifact unavailable")
	ErrExternalService = eris.New("external service error")
)

// ErrorKind names a failure class for callers that render or count errors.
type ErrorKind string

const (
	KindInvalidCrop        ErrorKind = "invalid_crop"
	KindInvalidTemperature ErrorKind = "invalid_temperature"
	KindInvalidHumidity    ErrorKind = "invalid_humidity"
	KindInvalidMoisture    ErrorKind = "invalid_moisture"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindNoTrainingData     ErrorKind = "no_training_data"
	KindArtifactLoad       ErrorKind = "artifact_load"
	KindExternalService    ErrorKind = "external_service"
	KindRowParse           ErrorKind = "row_parse"
	KindInternal           ErrorKind = "internal"
)

// ValidationError reports a rejected Reading field. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Kind   ErrorKind
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %v: %s", e.Kind, e.Field, e.Value, e.Reason)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(kind ErrorKind, field string, value any, reason string) error {
	return &ValidationError{Kind: kind, Field: field, Value: value, Reason: reason}
}

// RowParseError describes a Decision Log row that was skipped.
type RowParseError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	var re *RowParseError
	switch {
	case errors.As(err, &re):
		return KindRowParse
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNoTrainingData):
		return KindNoTrainingData
	case errors.Is(err, ErrArtifactLoad):
		return KindArtifactLoad
	case errors.Is(err, ErrExternalService):
		return KindExternalService
	default:
		return KindInternal
	}
}
