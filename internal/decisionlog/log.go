// Package decisionlog stores Decision Records in a header-less,
// append-only CSV file. Its full contents are the training set for the
// next retraining run.
package decisionlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// TimeLayout is the timestamp format written to the log.
const TimeLayout = "2006-01-02 15:04:05"

// Columns is the fixed on-disk column order.
var Columns = []string{"timestamp", "temperature", "humidity", "moisture", "crop", "prediction"}

// Record is one logged decision.
type Record struct {
	Timestamp   time.Time      `json:"timestamp"`
	Temperature float64        `json:"temperature"`
	Humidity    float64        `json:"humidity"`
	Moisture    model.Moisture `json:"moisture"`
	Crop        string         `json:"crop"`
	Prediction  model.Label    `json:"prediction"`
}

// NewRecord stamps a decision with the current local time.
func NewRecord(r model.Reading, label model.Label) Record {
	return Record{
		Timestamp:   time.Now(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Moisture:    r.Moisture,
		Crop:        r.Crop,
		Prediction:  label,
	}
}

// Reading returns the record's input fields.
func (r Record) Reading() model.Reading {
	return model.Reading{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Moisture:    r.Moisture,
		Crop:        r.Crop,
	}
}

// Row renders the record in Columns order.
func (r Record) Row() []string {
	return []string{
		r.Timestamp.Format(TimeLayout),
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		strconv.FormatFloat(r.Humidity, 'f', -1, 64),
		strconv.Itoa(int(r.Moisture)),
		r.Crop,
		strconv.Itoa(int(r.Prediction)),
	}
}

// ParseRow coerces one raw log row into a Record. Rows with missing
// fields, an unknown crop, out-of-range values or a non-binary prediction
// are rejected.
func ParseRow(fields []string) (Record, error) {
	if len(fields) != len(Columns) {
		return Record{}, eris.Errorf("want %d fields, got %d", len(Columns), len(fields))
	}
	for i, f := range fields {
		if strings.TrimSpace(f) == "" {
			return Record{}, eris.Errorf("missing %s", Columns[i])
		}
	}

	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(fields[0]), time.Local)
	if err != nil {
		return Record{}, eris.Wrap(err, "timestamp")
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Record{}, eris.Wrap(err, "temperature")
	}
	hum, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Record{}, eris.Wrap(err, "humidity")
	}
	moist, err := model.ParseMoisture(fields[3])
	if err != nil {
		return Record{}, err
	}
	crop := strings.TrimSpace(fields[4])
	if !encoder.Known(crop) {
		return Record{}, eris.Errorf("unknown crop %q", crop)
	}
	label, err := model.ParseLabel(fields[5])
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Timestamp:   ts,
		Temperature: temp,
		Humidity:    hum,
		Moisture:    moist,
		Crop:        crop,
		Prediction:  label,
	}
	if err := rec.Reading().Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Log is the file-backed Decision Log. All writes are serialized by mu;
// Snapshot takes the same lock so readers never see a half-written batch.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log at path, creating its directory if needed. The file
// itself is created on first write.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "decisionlog: create dir %s", dir)
		}
	}
	return &Log{path: path}, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes one record.
func (l *Log) Append(ctx context.Context, rec Record) error {
	_, err := l.AppendBatch(ctx, []Record{rec})
	return err
}

// AppendBatch writes records in order and returns how many were written.
func (l *Log) AppendBatch(ctx context.Context, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, eris.Wrap(err, "decisionlog: append")
	}

	// Render the whole batch first so a bad record never leaves a partial
	// batch on disk.
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range recs {
		if err := w.Write(r.Row()); err != nil {
			return 0, eris.Wrap(err, "decisionlog: encode row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, eris.Wrap(err, "decisionlog: encode rows")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, eris.Wrapf(err, "decisionlog: open %s", l.path)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return 0, eris.Wrap(err, "decisionlog: write rows")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, eris.Wrap(err, "decisionlog: sync")
	}
	if err := f.Close(); err != nil {
		return 0, eris.Wrap(err, "decisionlog: close")
	}
	return len(recs), nil
}

// Clear truncates the log to empty. Clearing an empty or missing log is
// not an error.
func (l *Log) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "decisionlog: clear")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return eris.Wrapf(err, "decisionlog: truncate %s", l.path)
	}
	return eris.Wrap(f.Close(), "decisionlog: close")
}

// Row is one raw log row and its 1-based line number.
type Row struct {
	Line   int
	Fields []string
}

// Snapshot returns the raw rows as they were when the call took the lock.
// A missing log yields no rows. Rows the CSV reader cannot tokenize are
// reported as RowParseErrors rather than failing the snapshot.
func (l *Log) Snapshot(ctx context.Context) ([]Row, []model.RowParseError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "decisionlog: snapshot")
	}

	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "decisionlog: read %s", l.path)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var rows []Row
	var bad []model.RowParseError
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				bad = append(bad, model.RowParseError{Line: pe.StartLine, Reason: pe.Err.Error()})
				continue
			}
			return nil, nil, eris.Wrap(err, "decisionlog: read rows")
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, Row{Line: line, Fields: rec})
	}
	return rows, bad, nil
}

// Records parses a snapshot, skipping rows that fail ParseRow.
func (l *Log) Records(ctx context.Context) ([]Record, []model.RowParseError, error) {
	rows, bad, err := l.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := ParseRow(row.Fields)
		if err != nil {
			bad = append(bad, model.RowParseError{Line: row.Line, Reason: err.Error()})
			continue
		}
		recs = append(recs, rec)
	}
	return recs, bad, nil
}

// Len returns the number of raw rows in the log.
func (l *Log) Len(ctx context.Context) (int, error) {
	rows, bad, err := l.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(rows) + len(bad), nil
}
