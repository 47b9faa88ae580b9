package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/fertilizer"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/store"
)

const (
	defaultDecisionLimit  = 100
	defaultMaxUploadBytes = 32 << 20
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readingRequest is the body of /v1/predict and /v1/advice. Temperature
// and humidity may be omitted when a city is given; they are then taken
// from the current weather.
type readingRequest struct {
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	Moisture    *model.Moisture `json:"moisture"`
	Crop        string          `json:"crop"`
	City        string          `json:"city"`
}

func (s *Server) decodeReading(r *http.Request) (model.Reading, error) {
	var req readingRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.Reading{}, eris.Wrap(model.ErrInvalidInput, "api: invalid request body: "+err.Error())
	}
	crop := strings.TrimSpace(req.Crop)
	if !encoder.Known(crop) {
		return model.Reading{}, &model.ValidationError{
			Kind: model.KindInvalidCrop, Field: "crop", Value: crop, Reason: "unknown crop",
		}
	}

	reading := model.Reading{Crop: crop}
	switch {
	case req.Temperature != nil && req.Humidity != nil:
		reading.Temperature, reading.Humidity = *req.Temperature, *req.Humidity
	case req.City == "" || s.deps.Weather == nil:
		return model.Reading{}, eris.Wrap(model.ErrInvalidInput, "api: temperature and humidity are required unless city is given")
	default:
		cond, err := s.deps.Weather.Fetch(r.Context(), req.City)
		if err != nil {
			return model.Reading{}, err
		}
		reading.Temperature, reading.Humidity = cond.TemperatureC, cond.HumidityPct
		if req.Temperature != nil {
			reading.Temperature = *req.Temperature
		}
		if req.Humidity != nil {
			reading.Humidity = *req.Humidity
		}
	}

	if req.Moisture == nil {
		// Range errors on temperature and humidity still come first.
		if err := (model.Reading{Temperature: reading.Temperature, Humidity: reading.Humidity, Crop: crop}).Validate(); err != nil {
			return model.Reading{}, err
		}
		return model.Reading{}, &model.ValidationError{
			Kind: model.KindInvalidMoisture, Field: "moisture", Value: nil, Reason: "is required",
		}
	}
	reading.Moisture = *req.Moisture
	return reading, nil
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	reading, err := s.decodeReading(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.deps.Advisor.Predict(r.Context(), reading)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"label":             rec.Prediction,
		"irrigation_needed": rec.Prediction == model.LabelNeeded,
		"record":            rec,
	})
}

func (s *Server) advise(w http.ResponseWriter, r *http.Request) {
	reading, err := s.decodeReading(r)
	if err != nil {
		writeError(w, err)
		return
	}
	adv, err := s.deps.Advisor.Advise(r.Context(), reading)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

// listDecisions returns the most recent records, oldest first.
func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultDecisionLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	recs, skipped, err := s.deps.Log.Records(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	total := len(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	if recs == nil {
		recs = []decisionlog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": recs,
		"total":     total,
		"skipped":   len(skipped),
	})
}

func (s *Server) exportDecisions(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		badRequest(w, fmt.Sprintf("unsupported format %q", format))
		return
	}

	recs, _, err := s.deps.Log.Records(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="sensor_data.xlsx"`)
		err = decisionlog.WriteXLSX(w, recs)
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="sensor_data.csv"`)
		err = decisionlog.WriteCSV(w, recs)
	}
	if err != nil {
		writeError(w, err)
	}
}

// uploadDecisions accepts a multipart "file" field or a raw CSV body.
func (s *Server) uploadDecisions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				writeError(w, err)
				return
			}
			badRequest(w, "multipart upload needs a \"file\" field")
			return
		}
		defer f.Close() //nolint:errcheck
		body = f
	}

	crop := r.URL.Query().Get("default_crop")
	if crop == "" {
		crop = s.deps.DefaultCrop
	}
	res, err := s.deps.Log.Ingest(r.Context(), body, decisionlog.IngestOptions{DefaultCrop: crop})
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Metrics.DecisionsLogged(res.Appended)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) clearDecisions(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Log.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) retrain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.RetrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.RetrainTimeout)
		defer cancel()
	}
	res, err := s.deps.Trainer.Retrain(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []model.TrainingRun{}})
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	runs, err := s.deps.Runs.ListTrainingRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.TrainingRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) weather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		city = s.deps.DefaultCity
	}
	cond, err := s.deps.Weather.Fetch(r.Context(), city)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cond)
}

func (s *Server) fertilizer(w http.ResponseWriter, r *http.Request) {
	tips := s.deps.Tips
	if tips == nil {
		tips = fertilizer.Default()
	}
	crop := chi.URLParam(r, "crop")
	writeJSON(w, http.StatusOK, map[string]string{"crop": crop, "tip": tips.Suggest(crop)})
}

type cropCode struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func (s *Server) crops(w http.ResponseWriter, _ *http.Request) {
	names := encoder.Crops()
	out := make([]cropCode, len(names))
	for i, n := range names {
		out[i] = cropCode{Code: i, Name: n}
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": encoder.Version, "crops": out})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
