// Package weather supplies current temperature and humidity for a city as
// prediction defaults.
package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/irrigation-cli/internal/model"
	"github.com/sells-group/irrigation-cli/internal/resilience"
	"github.com/sells-group/irrigation-cli/pkg/openweather"
)

// ErrUnavailable is returned for any failure to obtain conditions. It also
// matches model.ErrExternalService.
var ErrUnavailable = eris.New("weather: unavailable")

type unavailableError struct {
	city string
	err  error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("weather: unavailable for %q: %v", e.city, e.err)
}

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool {
	return target == ErrUnavailable || target == model.ErrExternalService
}

// Conditions are the current readings for one city.
type Conditions struct {
	City         string    `json:"city"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Source fetches Conditions from OpenWeatherMap, retrying transient
// failures and backing off entirely while the upstream keeps failing.
type Source struct {
	client  openweather.Client
	policy  resilience.Policy
	breaker *resilience.Breaker
	now     func() time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithPolicy overrides the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(s *Source) { s.policy = p }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Source) { s.breaker = b }
}

// NewSource wraps client. A nil client yields a Source whose every Fetch
// reports ErrUnavailable, for deployments without an API key.
func NewSource(client openweather.Client, opts ...Option) *Source {
	s := &Source{
		client:  client,
		policy:  resilience.DefaultPolicy("openweather.current"),
		breaker: resilience.NewBreaker(5, time.Minute),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fetch returns the current conditions for city.
func (s *Source) Fetch(ctx context.Context, city string) (*Conditions, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "weather: city is required")
	}
	if s.client == nil {
		return nil, &unavailableError{city: city, err: eris.New("no api key configured")}
	}
	if err := s.breaker.Allow(); err != nil {
		return nil, &unavailableError{city: city, err: err}
	}

	cw, err := resilience.Do(ctx, s.policy, func(ctx context.Context) (*openweather.CurrentWeather, error) {
		return s.client.Current(ctx, city)
	})
	s.breaker.Record(transientOnly(err))
	if err != nil {
		zap.L().Warn("weather: fetch failed", zap.String("city", city), zap.Error(err))
		return nil, &unavailableError{city: city, err: err}
	}

	return &Conditions{
		City:         city,
		TemperatureC: cw.Main.Temp,
		HumidityPct:  cw.Main.Humidity,
		FetchedAt:    s.now().UTC(),
	}, nil
}

// transientOnly keeps caller mistakes such as an unknown city from
// opening the breaker.
func transientOnly(err error) error {
	if resilience.IsTransient(err) {
		return err
	}
	return nil
}
