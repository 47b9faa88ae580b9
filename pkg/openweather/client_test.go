package openweather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/irrigation-cli/internal/resilience"
)

func TestCurrent(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       string
		wantTransient bool
		wantTemp      float64
	}{
		{
			name:     "success",
			status:   http.StatusOK,
			body:     `{"name":"Hyderabad","main":{"temp":31.4,"humidity":58}}`,
			wantTemp: 31.4,
		},
		{
			name:    "city not found",
			status:  http.StatusNotFound,
			body:    `{"cod":"404","message":"city not found"}`,
			wantErr: "unexpected status 404",
		},
		{
			name:          "server error",
			status:        http.StatusBadGateway,
			body:          `bad gateway`,
			wantErr:       "unexpected status 502",
			wantTransient: true,
		},
		{
			name:    "malformed response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/data/2.5/weather", r.URL.Path)
				assert.Equal(t, "Hyderabad", r.URL.Query().Get("q"))
				assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
				assert.Equal(t, "metric", r.URL.Query().Get("units"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			got, err := client.Current(context.Background(), "Hyderabad")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantTemp, got.Main.Temp, 1e-9)
			assert.InDelta(t, 58, got.Main.Humidity, 1e-9)
		})
	}
}

func TestCurrent_EscapesCity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "New Delhi,IN", r.URL.Query().Get("q"))
		w.Write([]byte(`{"main":{"temp":20,"humidity":40}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client())).Current(context.Background(), "New Delhi,IN")
	require.NoError(t, err)
}
