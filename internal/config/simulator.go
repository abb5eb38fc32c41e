package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulatorConfig holds configuration for the field device simulator
type SimulatorConfig struct {
	Device  DeviceSettings `yaml:"device"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
	Logging LoggingConfig  `yaml:"logging"`
}

// DeviceSettings describes the simulated field device
type DeviceSettings struct {
	ID              string        `yaml:"id"`
	Location        string        `yaml:"location"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	ConnectRetries  int           `yaml:"connect_retries"`
	BufferSize      int           `yaml:"buffer_size"`

	// Auto mode switches the pump on below AutoOnBelow and off above AutoOffAbove (soil %)
	AutoOnBelow  float64 `yaml:"auto_on_below"`
	AutoOffAbove float64 `yaml:"auto_off_above"`
}

// LoadSimulatorConfig loads simulator configuration from YAML file
func LoadSimulatorConfig(path string) (*SimulatorConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config SimulatorConfig
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

// ApplyDefaults sets default values for simulator config
func (sc *SimulatorConfig) ApplyDefaults() {
	if sc.Device.ID == "" {
		sc.Device.ID = "field-01"
	}
	if sc.Device.PublishInterval == 0 {
		sc.Device.PublishInterval = 10 * time.Second
	}
	if sc.Device.ConnectRetries == 0 {
		sc.Device.ConnectRetries = 5
	}
	if sc.Device.BufferSize == 0 {
		sc.Device.BufferSize = 500
	}
	if sc.Device.AutoOnBelow == 0 {
		sc.Device.AutoOnBelow = 35
	}
	if sc.Device.AutoOffAbove == 0 {
		sc.Device.AutoOffAbove = 70
	}
	sc.MQTT.applyDefaults()
	if sc.MQTT.ClientID == "krishii-mitra" {
		sc.MQTT.ClientID = "krishii-simulator"
	}
	sc.Logging.applyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (sc *SimulatorConfig) OverrideFromEnv() {
	if v := os.Getenv("DEVICE_ID"); v != "" {
		sc.Device.ID = v
	}
	sc.MQTT.overrideFromEnv()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		sc.Logging.Level = v
	}
}

// Validate checks if simulator configuration is valid
func (sc *SimulatorConfig) Validate() error {
	if sc.Device.PublishInterval < 100*time.Millisecond {
		return fmt.Errorf("publish interval must be at least 100ms")
	}
	if sc.Device.AutoOnBelow >= sc.Device.AutoOffAbove {
		return fmt.Errorf("auto_on_below (%g) must be below auto_off_above (%g)", sc.Device.AutoOnBelow, sc.Device.AutoOffAbove)
	}
	return sc.MQTT.Validate()
}

// String returns a safe string representation (hides password)
func (sc *SimulatorConfig) String() string {
	return fmt.Sprintf("SimulatorConfig{Device: %+v, MQTT: [URL=%s, User=%s, Password=%s], Logging: %+v}",
		sc.Device,
		sc.MQTT.BrokerURL,
		sc.MQTT.Username,
		maskToken(sc.MQTT.Password),
		sc.Logging,
	)
}
