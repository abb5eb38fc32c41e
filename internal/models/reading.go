package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metric identifies which field sensor a reading belongs to
type Metric string

const (
	MetricTemperature  Metric = "temperature"
	MetricHumidity     Metric = "humidity"
	MetricSoilMoisture Metric = "soilMoisture"
)

// Metrics lists every metric in display order
var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricSoilMoisture}

// Unit returns the display unit for the metric
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity, MetricSoilMoisture:
		return "%"
	default:
		return ""
	}
}

// ParseMetric accepts the canonical name and the short forms used on the wire
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temperature", "temp":
		return MetricTemperature, nil
	case "humidity":
		return MetricHumidity, nil
	case "soilmoisture", "soil", "soil_moisture":
		return MetricSoilMoisture, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// SensorReading is the latest value of one metric from the field
type SensorReading struct {
	Metric     Metric    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observed_at"`
}

// IsValid checks if the reading is within the physical range of the probe.
// Temperature -20 to 60°C, humidity and soil moisture 0-100%.
func (r *SensorReading) IsValid() bool {
	if r.ObservedAt.IsZero() {
		return false
	}

	switch r.Metric {
	case MetricTemperature:
		return r.Value >= -20 && r.Value <= 60
	case MetricHumidity, MetricSoilMoisture:
		return r.Value >= 0 && r.Value <= 100
	default:
		return false
	}
}

func (r *SensorReading) String() string {
	return fmt.Sprintf("%s=%.1f%s @ %s", r.Metric, r.Value, r.Unit, r.ObservedAt.Format(time.RFC3339))
}

// NewSensorReading creates a reading observed now
func NewSensorReading(metric Metric, value float64) *SensorReading {
	return &SensorReading{
		Metric:     metric,
		Value:      value,
		Unit:       metric.Unit(),
		ObservedAt: time.Now(),
	}
}

// ParseSensorPayload decodes a plain UTF-8 numeric payload into a reading
func ParseSensorPayload(metric Metric, payload []byte, at time.Time) (*SensorReading, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("empty payload for %s", metric)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("non-numeric payload %q for %s: %w", text, metric, err)
	}
	reading := &SensorReading{
		Metric:     metric,
		Value:      value,
		Unit:       metric.Unit(),
		ObservedAt: at,
	}
	if !reading.IsValid() {
		return nil, fmt.Errorf("value %v out of range for %s", value, metric)
	}
	return reading, nil
}
