// Package api exposes the advisor, the Decision Log and retraining over
// HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/advisor"
	"github.com/sells-group/irrigation-cli/internal/decisionlog"
	"github.com/sells-group/irrigation-cli/internal/metrics"
	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/store"
	"github.com/sells-group/irrigation-cli/internal/training"
	"github.com/sells-group/irrigation-cli/internal/weather"
)

// Advisor runs predictions. *advisor.Advisor satisfies it.
type Advisor interface {
	Predict(ctx context.Context, r model.Reading) (decisionlog.Record, error)
	Advise(ctx context.Context, r model.Reading) (*advisor.Advice, error)
}

// DecisionLog is the subset of *decisionlog.Log the API uses.
type DecisionLog interface {
	Records(ctx context.Context) ([]decisionlog.Record, []model.RowParseError, error)
	Ingest(ctx context.Context, r io.Reader, opts decisionlog.IngestOptions) (*decisionlog.IngestResult, error)
	Clear(ctx context.Context) error
}

// Trainer retrains the classifier. *training.Pipeline satisfies it.
type Trainer interface {
	Retrain(ctx context.Context) (*training.Result, error)
}

// RunLister lists training run history. store.Store satisfies it.
type RunLister interface {
	ListTrainingRuns(ctx context.Context, filter store.RunFilter) ([]model.TrainingRun, error)
}

// WeatherSource fetches current conditions. *weather.Source satisfies it.
type WeatherSource interface {
	Fetch(ctx context.Context, city string) (*weather.Conditions, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Advisor Advisor
	Log     DecisionLog
	Trainer Trainer
	Runs    RunLister
	Weather WeatherSource
	Tips    advisor.Tips
	Metrics *metrics.Metrics

	// DefaultCity is used by weather lookups without an explicit city.
	DefaultCity string
	// DefaultCrop fills sensor-only uploads.
	DefaultCrop string
	CORSOrigins []string
	// RetrainTimeout bounds POST /v1/retrain. Zero means no limit beyond
	// the request context.
	RetrainTimeout time.Duration
	// MaxUploadBytes caps POST /v1/decisions/upload. Zero means 32 MiB.
	MaxUploadBytes int64
}

// Server holds the route handlers.
type Server struct {
	deps Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{deps: d}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict", s.predict)
		r.Post("/advice", s.advise)

		r.Get("/decisions", s.listDecisions)
		r.Get("/decisions/export", s.exportDecisions)
		r.Post("/decisions/upload", s.uploadDecisions)
		r.Delete("/decisions", s.clearDecisions)

		r.Post("/retrain", s.retrain)
		r.Get("/retrain/runs", s.listRuns)

		r.Get("/weather", s.weather)
		r.Get("/fertilizer/{crop}", s.fertilizer)
		r.Get("/crops", s.crops)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
