// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
server:
  host: "0.0.0.0"
  port: 9090
  allowed_origins:
    - "http://localhost:5173"

mqtt:
  broker_url: "wss://broker.example.com:8884/mqtt"
  reconnect_delay: 2s
  sensor_qos: 0
  command_qos: 1

weather:
  api_key: "weather-key-123"
  refresh_interval: 30m

geo:
  mode: static
  latitude: 18.52
  longitude: 73.85

dashboard:
  source: telemetry
  poll_interval: 30s

storage:
  db_path: "/tmp/krishii.db"
  batch_size: 50
  archive: true

logging:
  level: "debug"
  format: "text"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.MQTT.BrokerURL != "wss://broker.example.com:8884/mqtt" {
		t.Errorf("MQTT.BrokerURL = %v", cfg.MQTT.BrokerURL)
	}
	if cfg.MQTT.ReconnectDelay != 2*time.Second {
		t.Errorf("MQTT.ReconnectDelay = %v, want 2s", cfg.MQTT.ReconnectDelay)
	}
	if cfg.Dashboard.Source != SourceTelemetry {
		t.Errorf("Dashboard.Source = %v, want telemetry", cfg.Dashboard.Source)
	}
	if cfg.Geo.Latitude == nil || *cfg.Geo.Latitude != 18.52 {
		t.Errorf("Geo.Latitude = %v, want 18.52", cfg.Geo.Latitude)
	}
	if cfg.Storage.BatchSize != 50 || !cfg.Storage.Archive {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig should fail for a missing file")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Weather.RefreshInterval != 30*time.Minute {
		t.Errorf("Default Weather.RefreshInterval = %v, want 30m", cfg.Weather.RefreshInterval)
	}
	if cfg.Dashboard.PollInterval != 30*time.Second {
		t.Errorf("Default Dashboard.PollInterval = %v, want 30s", cfg.Dashboard.PollInterval)
	}
	if cfg.Dashboard.Source != SourceMock {
		t.Errorf("Default Dashboard.Source = %v, want mock", cfg.Dashboard.Source)
	}
	if cfg.Upstreams.Timeout != 10*time.Second {
		t.Errorf("Default Upstreams.Timeout = %v, want 10s", cfg.Upstreams.Timeout)
	}
	if cfg.Geo.FallbackLatitude != 40.7128 || cfg.Geo.FallbackLongitude != -74.0060 {
		t.Errorf("Default fallback = %v,%v", cfg.Geo.FallbackLatitude, cfg.Geo.FallbackLongitude)
	}
	if !cfg.Storage.Archive {
		t.Error("Default Storage.Archive should be true")
	}
	if cfg.MQTT.CommandQoS != 1 {
		t.Errorf("Default MQTT.CommandQoS = %v, want 1", cfg.MQTT.CommandQoS)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Default Logging.Level = %v, want info", cfg.Logging.Level)
	}
}

func TestConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("MQTT_BROKER_URL", "tcp://env-broker:1883")
	t.Setenv("MQTT_PASSWORD", "env-secret")
	t.Setenv("WEATHER_API_KEY", "env-weather-key")
	t.Setenv("DASHBOARD_SOURCE", "rest")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := &Config{
		Server:  ServerConfig{Port: 8081},
		MQTT:    MQTTConfig{BrokerURL: "tcp://config-broker:1883"},
		Weather: WeatherConfig{APIKey: "config-key"},
		Logging: LoggingConfig{Level: "info"},
	}

	cfg.OverrideFromEnv()

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %v, want 7000", cfg.Server.Port)
	}
	if cfg.MQTT.BrokerURL != "tcp://env-broker:1883" {
		t.Errorf("MQTT.BrokerURL = %v", cfg.MQTT.BrokerURL)
	}
	if cfg.MQTT.Password != "env-secret" {
		t.Errorf("MQTT.Password = %v", cfg.MQTT.Password)
	}
	if cfg.Weather.APIKey != "env-weather-key" {
		t.Errorf("Weather.APIKey = %v", cfg.Weather.APIKey)
	}
	if cfg.Dashboard.Source != "rest" {
		t.Errorf("Dashboard.Source = %v, want rest", cfg.Dashboard.Source)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Weather: WeatherConfig{APIKey: "key"},
			MQTT:    MQTTConfig{BrokerURL: "tcp://localhost:1883"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{
			name:      "valid mock config",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name:      "valid telemetry config",
			mutate:    func(c *Config) { c.Dashboard.Source = SourceTelemetry },
			wantError: false,
		},
		{
			name:      "missing weather key",
			mutate:    func(c *Config) { c.Weather.APIKey = "" },
			wantError: true,
		},
		{
			name: "telemetry without broker",
			mutate: func(c *Config) {
				c.Dashboard.Source = SourceTelemetry
				c.MQTT.BrokerURL = ""
			},
			wantError: true,
		},
		{
			name: "broker with http scheme",
			mutate: func(c *Config) {
				c.Dashboard.Source = SourceTelemetry
				c.MQTT.BrokerURL = "http://broker:1883"
			},
			wantError: true,
		},
		{
			name:      "rest without pump api",
			mutate:    func(c *Config) { c.Dashboard.Source = SourceRest },
			wantError: true,
		},
		{
			name:      "unknown source",
			mutate:    func(c *Config) { c.Dashboard.Source = "carrier-pigeon" },
			wantError: true,
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantError: true,
		},
		{
			name:      "poll interval too short",
			mutate:    func(c *Config) { c.Dashboard.PollInterval = 500 * time.Millisecond },
			wantError: true,
		},
		{
			name:      "forecast days too many",
			mutate:    func(c *Config) { c.Weather.ForecastDays = 30 },
			wantError: true,
		},
		{
			name:      "unknown geo mode",
			mutate:    func(c *Config) { c.Geo.Mode = "gps" },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_String_MasksSecrets(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{AuthToken: "secret-token-12345"},
		MQTT:    MQTTConfig{BrokerURL: "tcp://broker:1883", Password: "broker-password"},
		Weather: WeatherConfig{APIKey: "824486414437db7a"},
	}

	str := cfg.String()

	for _, secret := range []string{"secret-token-12345", "broker-password", "824486414437db7a"} {
		if strings.Contains(str, secret) {
			t.Errorf("String() should mask %q", secret)
		}
	}
	if !strings.Contains(str, "secr****") {
		t.Error("String() should contain masked token")
	}
}

func TestLoadSimulatorConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "simulator.yaml")
	content := `
device:
  id: "field-07"
  publish_interval: 2s
mqtt:
  broker_url: "tcp://localhost:1883"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadSimulatorConfig(configPath)
	if err != nil {
		t.Fatalf("LoadSimulatorConfig failed: %v", err)
	}
	if cfg.Device.ID != "field-07" {
		t.Errorf("Device.ID = %v, want field-07", cfg.Device.ID)
	}
	if cfg.MQTT.ClientID != "krishii-simulator" {
		t.Errorf("MQTT.ClientID = %v, want krishii-simulator", cfg.MQTT.ClientID)
	}
	if cfg.Device.ConnectRetries != 5 {
		t.Errorf("Device.ConnectRetries = %v, want 5", cfg.Device.ConnectRetries)
	}
}
