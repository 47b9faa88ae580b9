package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/weather"
)

type errorBody struct {
	Error string          `json:"error"`
	Kind  model.ErrorKind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError maps err onto a status code and a {"error", "kind"} body.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: internal error", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func classify(err error) (int, model.ErrorKind) {
	kind := model.KindOf(err)
	switch {
	case tooLarge(err):
		return http.StatusRequestEntityTooLarge, model.KindInvalidInput
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, kind
	case errors.Is(err, decisionlog.ErrUnsupportedSchema):
		return http.StatusBadRequest, model.KindInvalidInput
	case errors.Is(err, model.ErrNoTrainingData):
		return http.StatusConflict, kind
	case errors.Is(err, model.ErrArtifactLoad):
		return http.StatusServiceUnavailable, kind
	case errors.Is(err, weather.ErrUnavailable), errors.Is(err, model.ErrExternalService):
		return http.StatusBadGateway, model.KindExternalService
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, model.KindInternal
	default:
		return http.StatusInternalServerError, model.KindInternal
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// badRequest reports a malformed request that never reached the core.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: model.KindInvalidInput})
}
