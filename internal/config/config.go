package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Training   TrainingConfig   `yaml:"training" mapstructure:"training"`
	Predictor  PredictorConfig  `yaml:"predictor" mapstructure:"predictor"`
	Weather    WeatherConfig    `yaml:"weather" mapstructure:"weather"`
	Twilio     TwilioConfig     `yaml:"twilio" mapstructure:"twilio"`
	Alert      AlertConfig      `yaml:"alert" mapstructure:"alert"`
	Voice      VoiceConfig      `yaml:"voice" mapstructure:"voice"`
	Fertilizer FertilizerConfig `yaml:"fertilizer" mapstructure:"fertilizer"`
	MQTT       MQTTConfig       `yaml:"mqtt" mapstructure:"mqtt"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the Decision Log and the classifier artifact.
type DataConfig struct {
	LogPath   string `yaml:"log_path" mapstructure:"log_path"`
	ModelPath string `yaml:"model_path" mapstructure:"model_path"`
}

// TrainingConfig controls retraining.
type TrainingConfig struct {
	// LabelSource is "moisture" (re-derive from soil moisture) or "logged"
	// (trust the stored prediction column).
	LabelSource string        `yaml:"label_source" mapstructure:"label_source"`
	Trees       int           `yaml:"trees" mapstructure:"trees"`
	MaxDepth    int           `yaml:"max_depth" mapstructure:"max_depth"`
	Seed        uint64        `yaml:"seed" mapstructure:"seed"`
	// Interval enables periodic retraining under serve. Zero disables it.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// Timeout bounds one retrain started by serve. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PredictorConfig controls artifact loading.
type PredictorConfig struct {
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// WeatherConfig configures the OpenWeatherMap client.
type WeatherConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	City        string `yaml:"city" mapstructure:"city"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TwilioConfig holds SMS credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" mapstructure:"account_sid"`
	AuthToken  string `yaml:"auth_token" mapstructure:"auth_token"`
	From       string `yaml:"from" mapstructure:"from"`
	To         string `yaml:"to" mapstructure:"to"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
}

// AlertConfig throttles outgoing SMS alerts.
type AlertConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MinInterval time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
}

// VoiceConfig configures spoken advice.
type VoiceConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Language   string `yaml:"language" mapstructure:"language"`
	OutputPath string `yaml:"output_path" mapstructure:"output_path"`
}

// FertilizerConfig points at an optional YAML override table.
type FertilizerConfig struct {
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
}

// MQTTConfig configures the field sensor feed.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker      string `yaml:"broker" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Topic       string `yaml:"topic" mapstructure:"topic"`
	QoS         int    `yaml:"qos" mapstructure:"qos"`
	DefaultCrop string `yaml:"default_crop" mapstructure:"default_crop"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// StoreConfig selects the training-run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MonitoringConfig configures the retrain health checker run by serve.
type MonitoringConfig struct {
	Enabled              bool          `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackWindowHours  int           `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// MaxModelAge flags a classifier not retrained for this long. Zero disables it.
	MaxModelAge time.Duration `yaml:"max_model_age" mapstructure:"max_model_age"`
	// MinAccuracy flags a latest run whose training accuracy falls below it. Zero disables it.
	MinAccuracy float64 `yaml:"min_accuracy" mapstructure:"min_accuracy"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps the unprefixed variable names of a plain .env deployment
// onto config keys. The IRRIGATION_ form still takes precedence.
var legacyEnv = map[string]string{
	"weather.key":        "OPENWEATHER_API_KEY",
	"twilio.account_sid": "TWILIO_SID",
	"twilio.auth_token":  "TWILIO_AUTH_TOKEN",
	"twilio.from":        "FROM_PHONE",
	"twilio.to":          "TO_PHONE",
}

// Load reads .env, config.yaml and the environment, in increasing order of
// precedence, on top of the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IRRIGATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "IRRIGATION_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("data.log_path", "data/sensor_data.csv")
	v.SetDefault("data.model_path", "models/irrigation_model.json")
	v.SetDefault("training.label_source", string(model.LabelSourceMoisture))
	v.SetDefault("training.trees", 100)
	v.SetDefault("training.max_depth", 0)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.interval", "0s")
	v.SetDefault("training.timeout", "5m")
	v.SetDefault("predictor.watch", true)
	v.SetDefault("weather.key", "")
	v.SetDefault("weather.base_url", "https://api.openweathermap.org")
	v.SetDefault("weather.city", "Hyderabad")
	v.SetDefault("weather.timeout_secs", 10)
	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from", "")
	v.SetDefault("twilio.to", "")
	v.SetDefault("twilio.base_url", "https://api.twilio.com")
	v.SetDefault("alert.enabled", true)
	v.SetDefault("alert.min_interval", "1m")
	v.SetDefault("alert.burst", 3)
	v.SetDefault("voice.enabled", false)
	v.SetDefault("voice.base_url", "https://translate.google.com")
	v.SetDefault("voice.language", "te")
	v.SetDefault("voice.output_path", "output.mp3")
	v.SetDefault("fertilizer.table_path", "")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "irrigation-advisor")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "farm/+/reading")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.default_crop", encoder.Paddy)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/training_runs.db")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.max_model_age", "0s")
	v.SetDefault("monitoring.min_accuracy", 0.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects settings that would fail later at a less helpful point.
func (c *Config) Validate() error {
	if !model.LabelSource(c.Training.LabelSource).Valid() {
		return eris.Errorf("config: training.label_source %q must be moisture or logged", c.Training.LabelSource)
	}
	if c.Training.Trees <= 0 {
		return eris.Errorf("config: training.trees must be positive, got %d", c.Training.Trees)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: store.driver %q must be sqlite or postgres", c.Store.Driver)
	}
	if !encoder.Known(c.MQTT.DefaultCrop) {
		return eris.Errorf("config: mqtt.default_crop %q is not one of %v", c.MQTT.DefaultCrop, encoder.Crops())
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return eris.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		return eris.Errorf("config: monitoring.failure_rate_threshold must be within [0, 1], got %g", t)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
