package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chdirTemp moves into an empty directory so no config.yaml or .env is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/sensor_data.csv", cfg.Data.LogPath)
	assert.Equal(t, "models/irrigation_model.json", cfg.Data.ModelPath)
	assert.Equal(t, "moisture", cfg.Training.LabelSource)
	assert.Equal(t, 100, cfg.Training.Trees)
	assert.Equal(t, uint64(42), cfg.Training.Seed)
	assert.Equal(t, 5*time.Minute, cfg.Training.Timeout)
	assert.Zero(t, cfg.Training.Interval)
	assert.True(t, cfg.Predictor.Watch)
	assert.Equal(t, "https://api.openweathermap.org", cfg.Weather.BaseURL)
	assert.Equal(t, time.Minute, cfg.Alert.MinInterval)
	assert.Equal(t, "te", cfg.Voice.Language)
	assert.Equal(t, "output.mp3", cfg.Voice.OutputPath)
	assert.Equal(t, "farm/+/reading", cfg.MQTT.Topic)
	assert.Equal(t, "Paddy", cfg.MQTT.DefaultCrop)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Monitoring.CheckInterval)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
training:
  label_source: logged
  trees: 25
  interval: 6h
  timeout: 90s
mqtt:
  default_crop: Cotton
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "logged", cfg.Training.LabelSource)
	assert.Equal(t, 25, cfg.Training.Trees)
	assert.Equal(t, 6*time.Hour, cfg.Training.Interval)
	assert.Equal(t, 90*time.Second, cfg.Training.Timeout)
	assert.Equal(t, "Cotton", cfg.MQTT.DefaultCrop)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "output.mp3", cfg.Voice.OutputPath)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store:\n  driver: sqlite\n"), 0o644))

	t.Setenv("IRRIGATION_STORE_DRIVER", "postgres")
	t.Setenv("IRRIGATION_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadLegacyEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OPENWEATHER_API_KEY", "owm-key")
	t.Setenv("TWILIO_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("FROM_PHONE", "+15550001")
	t.Setenv("TO_PHONE", "+919990001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "owm-key", cfg.Weather.Key)
	assert.Equal(t, "AC123", cfg.Twilio.AccountSID)
	assert.Equal(t, "secret", cfg.Twilio.AuthToken)
	assert.Equal(t, "+15550001", cfg.Twilio.From)
	assert.Equal(t, "+919990001", cfg.Twilio.To)
}

func TestLoadPrefixedEnvBeatsLegacy(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OPENWEATHER_API_KEY", "legacy")
	t.Setenv("IRRIGATION_WEATHER_KEY", "prefixed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Weather.Key)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	const key = "IRRIGATION_VOICE_LANGUAGE"
	_, wasSet := os.LookupEnv(key)
	require.False(t, wasSet)
	t.Cleanup(func() { os.Unsetenv(key) }) //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=hi\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hi", cfg.Voice.Language)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Training.LabelSource = "moisture"
	cfg.Training.Trees = 100
	cfg.Store.Driver = "sqlite"
	cfg.MQTT.DefaultCrop = "Paddy"
	cfg.MQTT.QoS = 1
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"label source", func(c *Config) { c.Training.LabelSource = "guess" }, "label_source"},
		{"trees", func(c *Config) { c.Training.Trees = 0 }, "training.trees"},
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"crop", func(c *Config) { c.MQTT.DefaultCrop = "paddy" }, "default_crop"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "qos"},
		{"failure rate", func(c *Config) { c.Monitoring.FailureRateThreshold = 1.5 }, "failure_rate_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
