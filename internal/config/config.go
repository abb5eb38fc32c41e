package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Data source strategies
const (
	SourceMock      = "mock"
	SourceRest      = "rest"
	SourceTelemetry = "telemetry"
)

// Geolocation modes
const (
	GeoModeStatic = "static"
	GeoModeIP     = "ip"
)

// Config holds all configuration for the dashboard service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Weather   WeatherConfig   `yaml:"weather"`
	Upstreams UpstreamConfig  `yaml:"upstreams"`
	Geo       GeoConfig       `yaml:"geo"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Storage   StorageConfig   `yaml:"storage"`
	Influx    InfluxConfig    `yaml:"influx"`
	Users     UsersConfig     `yaml:"users"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	BrokerURL         string        `yaml:"broker_url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	SubscribeRetryMax time.Duration `yaml:"subscribe_retry_max"` // longest wait between subscribe attempts
	Quiesce           time.Duration `yaml:"quiesce"`
	SensorQoS         int           `yaml:"sensor_qos"`
	CommandQoS        int           `yaml:"command_qos"`
}

// WeatherConfig contains weather provider settings
type WeatherConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	ClimateURL      string        `yaml:"climate_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ForecastDays    int           `yaml:"forecast_days"`
	ClimateMonths   int           `yaml:"climate_months"`
}

// UpstreamConfig contains the remote model and device APIs
type UpstreamConfig struct {
	PredictionURL   string        `yaml:"prediction_url"`
	PestURL         string        `yaml:"pest_url"`
	ChatURL         string        `yaml:"chat_url"`
	PumpAPIURL      string        `yaml:"pump_api_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpen     time.Duration `yaml:"breaker_open"`
}

// GeoConfig contains geolocation settings
type GeoConfig struct {
	Mode              string        `yaml:"mode"`
	Latitude          *float64      `yaml:"latitude"`
	Longitude         *float64      `yaml:"longitude"`
	LookupURL         string        `yaml:"lookup_url"`
	FallbackLatitude  float64       `yaml:"fallback_latitude"`
	FallbackLongitude float64       `yaml:"fallback_longitude"`
	Timeout           time.Duration `yaml:"timeout"`
}

// DashboardConfig contains view model and data source settings
type DashboardConfig struct {
	Source              string        `yaml:"source"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	TelemetryStaleAfter time.Duration `yaml:"telemetry_stale_after"`
	WeatherStaleAfter   time.Duration `yaml:"weather_stale_after"`
	TrendSize           int           `yaml:"trend_size"`
	CommandTimeout      time.Duration `yaml:"command_timeout"`
}

// StorageConfig contains the local database settings
type StorageConfig struct {
	DBPath        string        `yaml:"db_path"`
	Archive       bool          `yaml:"archive"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// InfluxConfig contains the optional telemetry mirror. Empty URL disables it.
type InfluxConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// UsersConfig contains user sync settings
type UsersConfig struct {
	DBPath       string `yaml:"db_path"`
	DirectoryURL string `yaml:"directory_url"`
	SecretKey    string `yaml:"secret_key"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig loads configuration from a YAML file, a .env file and the environment
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// loadDotEnv loads ./.env into the environment if present
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	c.MQTT.applyDefaults()

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org"
	}
	if c.Weather.ClimateURL == "" {
		c.Weather.ClimateURL = "https://archive-api.open-meteo.com"
	}
	if c.Weather.RefreshInterval == 0 {
		c.Weather.RefreshInterval = 30 * time.Minute
	}
	if c.Weather.ForecastDays == 0 {
		c.Weather.ForecastDays = 7
	}
	if c.Weather.ClimateMonths == 0 {
		c.Weather.ClimateMonths = 6
	}

	if c.Upstreams.PredictionURL == "" {
		c.Upstreams.PredictionURL = "https://predictionapicrop.onrender.com"
	}
	if c.Upstreams.PestURL == "" {
		c.Upstreams.PestURL = "http://localhost:5000"
	}
	if c.Upstreams.ChatURL == "" {
		c.Upstreams.ChatURL = "http://localhost:5000"
	}
	if c.Upstreams.Timeout == 0 {
		c.Upstreams.Timeout = 10 * time.Second
	}
	if c.Upstreams.BreakerFailures == 0 {
		c.Upstreams.BreakerFailures = 5
	}
	if c.Upstreams.BreakerOpen == 0 {
		c.Upstreams.BreakerOpen = 30 * time.Second
	}

	if c.Geo.Mode == "" {
		c.Geo.Mode = GeoModeStatic
	}
	if c.Geo.LookupURL == "" {
		c.Geo.LookupURL = "http://ip-api.com/json"
	}
	if c.Geo.FallbackLatitude == 0 && c.Geo.FallbackLongitude == 0 {
		c.Geo.FallbackLatitude = 40.7128
		c.Geo.FallbackLongitude = -74.0060
	}
	if c.Geo.Timeout == 0 {
		c.Geo.Timeout = 5 * time.Second
	}

	if c.Dashboard.Source == "" {
		c.Dashboard.Source = SourceMock
	}
	if c.Dashboard.PollInterval == 0 {
		c.Dashboard.PollInterval = 30 * time.Second
	}
	if c.Dashboard.TelemetryStaleAfter == 0 {
		c.Dashboard.TelemetryStaleAfter = 10 * time.Minute
	}
	if c.Dashboard.WeatherStaleAfter == 0 {
		c.Dashboard.WeatherStaleAfter = 2 * time.Hour
	}
	if c.Dashboard.TrendSize == 0 {
		c.Dashboard.TrendSize = 100
	}
	if c.Dashboard.CommandTimeout == 0 {
		c.Dashboard.CommandTimeout = 10 * time.Second
	}

	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "./data/krishii.db"
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 100
		c.Storage.Archive = true
	}
	if c.Storage.FlushPeriod == 0 {
		c.Storage.FlushPeriod = 5 * time.Second
	}
	if c.Storage.ChannelSize == 0 {
		c.Storage.ChannelSize = 1000
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Storage.CleanupPeriod == 0 {
		c.Storage.CleanupPeriod = time.Hour
	}

	if c.Influx.Org == "" {
		c.Influx.Org = "krishii"
	}
	if c.Influx.Bucket == "" {
		c.Influx.Bucket = "telemetry"
	}
	if c.Influx.BatchSize == 0 {
		c.Influx.BatchSize = 50
	}
	if c.Influx.FlushInterval == 0 {
		c.Influx.FlushInterval = time.Second
	}

	if c.Users.DBPath == "" {
		c.Users.DBPath = "./data/users.db"
	}
	if c.Users.DirectoryURL == "" {
		c.Users.DirectoryURL = "https://api.clerk.com/v1"
	}

	c.Logging.applyDefaults()
}

func (m *MQTTConfig) applyDefaults() {
	if m.ClientID == "" {
		m.ClientID = "krishii-mitra"
	}
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = 10 * time.Second
	}
	if m.ReconnectDelay == 0 {
		m.ReconnectDelay = 5 * time.Second
	}
	if m.AckTimeout == 0 {
		m.AckTimeout = 5 * time.Second
	}
	if m.SubscribeRetryMax == 0 {
		m.SubscribeRetryMax = 30 * time.Second
	}
	if m.Quiesce == 0 {
		m.Quiesce = 250 * time.Millisecond
	}
	if m.CommandQoS == 0 {
		m.CommandQoS = 1
	}
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 10
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	c.MQTT.overrideFromEnv()
	if v := os.Getenv("WEATHER_API_KEY"); v != "" {
		c.Weather.APIKey = v
	}
	if v := os.Getenv("PREDICTION_API_URL"); v != "" {
		c.Upstreams.PredictionURL = v
	}
	if v := os.Getenv("PEST_API_URL"); v != "" {
		c.Upstreams.PestURL = v
	}
	if v := os.Getenv("CHAT_API_URL"); v != "" {
		c.Upstreams.ChatURL = v
	}
	if v := os.Getenv("PUMP_API_URL"); v != "" {
		c.Upstreams.PumpAPIURL = v
	}
	if v := os.Getenv("DASHBOARD_SOURCE"); v != "" {
		c.Dashboard.Source = v
	}
	if v := os.Getenv("INFLUX_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("CLERK_SECRET_KEY"); v != "" {
		c.Users.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (m *MQTTConfig) overrideFromEnv() {
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		m.BrokerURL = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		m.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		m.Password = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Weather.APIKey == "" {
		return fmt.Errorf("weather API key is required")
	}
	if c.Weather.RefreshInterval < time.Minute {
		return fmt.Errorf("weather refresh interval must be at least 1 minute")
	}
	if c.Weather.ForecastDays < 1 || c.Weather.ForecastDays > 16 {
		return fmt.Errorf("forecast days must be between 1 and 16")
	}
	if c.Dashboard.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1 second")
	}

	switch c.Dashboard.Source {
	case SourceMock:
	case SourceRest:
		if c.Upstreams.PumpAPIURL == "" {
			return fmt.Errorf("pump API URL is required for the rest source")
		}
	case SourceTelemetry:
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown dashboard source %q", c.Dashboard.Source)
	}

	switch c.Geo.Mode {
	case GeoModeStatic, GeoModeIP:
	default:
		return fmt.Errorf("unknown geo mode %q", c.Geo.Mode)
	}
	if c.Geo.FallbackLatitude < -90 || c.Geo.FallbackLatitude > 90 ||
		c.Geo.FallbackLongitude < -180 || c.Geo.FallbackLongitude > 180 {
		return fmt.Errorf("fallback coordinate is out of range")
	}

	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	return nil
}

// Validate checks the broker settings
func (m *MQTTConfig) Validate() error {
	if m.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required")
	}
	valid := false
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(m.BrokerURL, scheme) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("MQTT broker URL must start with tcp://, ssl://, ws:// or wss://")
	}
	if m.SensorQoS < 0 || m.SensorQoS > 2 || m.CommandQoS < 0 || m.CommandQoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2")
	}
	if m.ReconnectDelay < 100*time.Millisecond {
		return fmt.Errorf("MQTT reconnect delay must be at least 100ms")
	}
	return nil
}

// String returns a safe string representation (hides secrets)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: [%s:%d, Token=%s], MQTT: [URL=%s, User=%s, Password=%s], Weather: [URL=%s, Key=%s], Source: %s, Storage: %+v, Influx: [URL=%s, Token=%s], Logging: %+v}",
		c.Server.Host,
		c.Server.Port,
		maskToken(c.Server.AuthToken),
		c.MQTT.BrokerURL,
		c.MQTT.Username,
		maskToken(c.MQTT.Password),
		c.Weather.BaseURL,
		maskToken(c.Weather.APIKey),
		c.Dashboard.Source,
		c.Storage,
		c.Influx.URL,
		maskToken(c.Influx.Token),
		c.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
