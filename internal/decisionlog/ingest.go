package decisionlog

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// ErrUnsupportedSchema is returned when an upload lacks the sensor columns.
var ErrUnsupportedSchema = eris.New("decisionlog: upload must have temperature, humidity and moisture columns")

// Schema names the shape of an uploaded table.
type Schema string

const (
	SchemaFull   Schema = "full"
	SchemaSensor Schema = "sensor"
)

// IngestOptions fills the gaps in reduced sensor-only uploads.
type IngestOptions struct {
	// DefaultCrop is used when the upload has no crop column or an empty
	// crop cell.
	DefaultCrop string
	// Now stamps rows without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// IngestResult summarizes one bulk upload.
type IngestResult struct {
	Schema   Schema                `json:"schema"`
	Appended int                   `json:"appended"`
	Rejected []model.RowParseError `json:"rejected,omitempty"`
}

type uploadRow struct {
	Timestamp   string `csv:"timestamp"`
	Temperature string `csv:"temperature"`
	Humidity    string `csv:"humidity"`
	Moisture    string `csv:"moisture"`
	Crop        string `csv:"crop"`
	Prediction  string `csv:"prediction"`
}

var headerAliases = map[string]string{
	"temp":          "temperature",
	"temperature_c": "temperature",
	"humidity_pct":  "humidity",
	"soil_moisture": "moisture",
	"label":         "prediction",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}

// Ingest decodes an uploaded CSV with a header row and appends every valid
// row as one batch. Rows that fail validation are reported and skipped.
func (l *Log) Ingest(ctx context.Context, r io.Reader, opts IngestOptions) (*IngestResult, error) {
	recs, res, err := DecodeUpload(r, opts)
	if err != nil {
		return nil, err
	}
	n, err := l.AppendBatch(ctx, recs)
	if err != nil {
		return nil, err
	}
	res.Appended = n
	return res, nil
}

// DecodeUpload parses an uploaded table into Records without writing them.
func DecodeUpload(r io.Reader, opts IngestOptions) ([]Record, *IngestResult, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rawHeader, err := cr.Read()
	if err == io.EOF {
		return nil, &IngestResult{Schema: SchemaSensor}, nil
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "decisionlog: read upload header")
	}

	header := make([]string, len(rawHeader))
	present := make(map[string]bool, len(rawHeader))
	for i, h := range rawHeader {
		header[i] = normalizeHeader(h)
		present[header[i]] = true
	}
	if !present["temperature"] || !present["humidity"] || !present["moisture"] {
		return nil, nil, ErrUnsupportedSchema
	}

	schema := SchemaSensor
	if present["crop"] && present["prediction"] {
		schema = SchemaFull
	}
	if !present["crop"] && !encoder.Known(opts.DefaultCrop) {
		return nil, nil, eris.Wrapf(model.ErrInvalidInput, "decisionlog: upload has no crop column and default crop %q is unknown", opts.DefaultCrop)
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, nil, eris.Wrap(err, "decisionlog: create upload decoder")
	}

	res := &IngestResult{Schema: schema}
	var recs []Record
	line := 1
	for {
		line++
		var row uploadRow
		err := dec.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &pe) {
				res.Rejected = append(res.Rejected, model.RowParseError{Line: line, Reason: err.Error()})
				continue
			}
			return nil, nil, eris.Wrap(err, "decisionlog: decode upload")
		}

		rec, err := row.record(opts)
		if err != nil {
			res.Rejected = append(res.Rejected, model.RowParseError{Line: line, Reason: err.Error()})
			continue
		}
		recs = append(recs, rec)
	}
	return recs, res, nil
}

func (u uploadRow) record(opts IngestOptions) (Record, error) {
	if strings.TrimSpace(u.Temperature) == "" || strings.TrimSpace(u.Humidity) == "" || strings.TrimSpace(u.Moisture) == "" {
		return Record{}, eris.New("missing sensor field")
	}

	ts := opts.Now()
	if s := strings.TrimSpace(u.Timestamp); s != "" {
		parsed, err := parseTimestamp(s)
		if err != nil {
			return Record{}, err
		}
		ts = parsed
	}

	temp, err := strconv.ParseFloat(strings.TrimSpace(u.Temperature), 64)
	if err != nil {
		return Record{}, eris.Wrap(err, "temperature")
	}
	hum, err := strconv.ParseFloat(strings.TrimSpace(u.Humidity), 64)
	if err != nil {
		return Record{}, eris.Wrap(err, "humidity")
	}
	moist, err := model.ParseMoisture(u.Moisture)
	if err != nil {
		return Record{}, err
	}

	crop := strings.TrimSpace(u.Crop)
	if crop == "" {
		crop = opts.DefaultCrop
	}

	label := model.LabelFromMoisture(moist)
	if s := strings.TrimSpace(u.Prediction); s != "" {
		label, err = model.ParseLabel(s)
		if err != nil {
			return Record{}, err
		}
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

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(TimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, eris.Errorf("timestamp %q is neither %q nor RFC3339", s, TimeLayout)
	}
	return t.Local(), nil
}
