// Package sensor reads the field probes. DriftProbe stands in for real
// hardware in the mock data source and the device simulator.
package sensor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Sample is one read of every field probe
type Sample struct {
	Temperature  float64
	Humidity     float64
	SoilMoisture float64
}

// Readings converts the sample into one reading per metric
func (s Sample) Readings(at time.Time) []*models.SensorReading {
	values := map[models.Metric]float64{
		models.MetricTemperature:  s.Temperature,
		models.MetricHumidity:     s.Humidity,
		models.MetricSoilMoisture: s.SoilMoisture,
	}
	out := make([]*models.SensorReading, 0, len(models.Metrics))
	for _, m := range models.Metrics {
		out = append(out, &models.SensorReading{Metric: m, Value: values[m], Unit: m.Unit(), ObservedAt: at})
	}
	return out
}

// Probe reads the field sensors
type Probe interface {
	// Read performs a single reading of every sensor
	Read() (Sample, error)

	// Close releases the probe
	Close() error
}

// Bounds is the inclusive range a drifting value stays in
type Bounds struct {
	Min, Max float64
	Step     float64
}

func (b Bounds) clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// DriftConfig bounds each simulated value
type DriftConfig struct {
	Temperature  Bounds
	Humidity     Bounds
	SoilMoisture Bounds
	Start        Sample
}

// DefaultDrift keeps soil moisture within 30-80 %, temperature within
// 15-30 °C and humidity within 30-80 %
func DefaultDrift() DriftConfig {
	return DriftConfig{
		Temperature:  Bounds{Min: 15, Max: 30, Step: 1},
		Humidity:     Bounds{Min: 30, Max: 80, Step: 2},
		SoilMoisture: Bounds{Min: 30, Max: 80, Step: 3},
		Start:        Sample{Temperature: 22, Humidity: 55, SoilMoisture: 65},
	}
}

// DriftProbe simulates a field device with bounded random drift
type DriftProbe struct {
	cfg  DriftConfig
	mu   sync.Mutex
	rng  *rand.Rand
	last Sample
}

// NewDriftProbe creates a probe seeded with seed
func NewDriftProbe(cfg DriftConfig, seed int64) *DriftProbe {
	start := Sample{
		Temperature:  cfg.Temperature.clamp(cfg.Start.Temperature),
		Humidity:     cfg.Humidity.clamp(cfg.Start.Humidity),
		SoilMoisture: cfg.SoilMoisture.clamp(cfg.Start.SoilMoisture),
	}
	return &DriftProbe{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(seed)),
		last: start,
	}
}

// Read moves every value by at most its step and returns the new sample
func (d *DriftProbe) Read() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = Sample{
		Temperature:  d.step(d.cfg.Temperature, d.last.Temperature),
		Humidity:     d.step(d.cfg.Humidity, d.last.Humidity),
		SoilMoisture: d.step(d.cfg.SoilMoisture, d.last.SoilMoisture),
	}
	if err := validateSample(d.last); err != nil {
		return Sample{}, fmt.Errorf("invalid sample: %w", err)
	}
	return d.last, nil
}

func (d *DriftProbe) step(b Bounds, v float64) float64 {
	return b.clamp(v + (d.rng.Float64()*2-1)*b.Step)
}

// Close is a no-op
func (d *DriftProbe) Close() error {
	return nil
}

// validateSample rejects values outside what the probes can physically report
func validateSample(s Sample) error {
	if s.Temperature < -20 || s.Temperature > 60 {
		return fmt.Errorf("temperature %.1f°C is outside -20..60°C", s.Temperature)
	}
	if s.Humidity < 0 || s.Humidity > 100 {
		return fmt.Errorf("humidity %.1f%% is outside 0..100%%", s.Humidity)
	}
	if s.SoilMoisture < 0 || s.SoilMoisture > 100 {
		return fmt.Errorf("soil moisture %.1f%% is outside 0..100%%", s.SoilMoisture)
	}
	return nil
}
