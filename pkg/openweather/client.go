// Package openweather is a minimal client for the OpenWeatherMap current
// weather API.
package openweather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/resilience"
)

const defaultBaseURL = "https://api.openweathermap.org"

// Client fetches current conditions for a city.
type Client interface {
	Current(ctx context.Context, city string) (*CurrentWeather, error)
}

// CurrentWeather is the subset of GET /data/2.5/weather the advisor uses.
type CurrentWeather struct {
	Name string `json:"name"`
	Main Main   `json:"main"`
}

// Main carries temperature (°C with units=metric) and relative humidity.
type Main struct {
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an OpenWeatherMap client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Current(ctx context.Context, city string) (*CurrentWeather, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/2.5/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "openweather: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openweather: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openweather: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("openweather", resp.StatusCode, body)
	}

	var result CurrentWeather
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "openweather: unmarshal response")
	}
	return &result, nil
}
