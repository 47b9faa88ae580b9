package model

import "time"

// RunStatus represents the state of a retraining run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusNoData    RunStatus = "no_data"
	RunStatusCancelled RunStatus = "cancelled"
)

// LabelSource selects where training labels come from.
type LabelSource string

const (
	// LabelSourceMoisture re-derives the label from soil moisture (Dry = 1).
	LabelSourceMoisture LabelSource = "moisture"
	// LabelSourceLogged trusts the prediction column stored in the log.
	LabelSourceLogged LabelSource = "logged"
)

// Valid reports whether s is a supported label source.
func (s LabelSource) Valid() bool {
	return s == LabelSourceMoisture || s == LabelSourceLogged
}

// TrainingRun is the persisted record of one retrain invocation.
type TrainingRun struct {
	ID          string      `json:"id"`
	Status      RunStatus   `json:"status"`
	LabelSource LabelSource `json:"label_source"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Rows        int         `json:"rows"`
	Skipped     int         `json:"skipped"`
	Accuracy    float64     `json:"accuracy"`
	Checksum    string      `json:"checksum,omitempty"`
	Error       string      `json:"error,omitempty"`
}
