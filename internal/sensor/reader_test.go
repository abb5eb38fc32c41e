package sensor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/models"
)

// mockProbe returns a fixed sample
type mockProbe struct {
	sample    Sample
	err       error
	readCount atomic.Int32
}

func (m *mockProbe) Read() (Sample, error) {
	m.readCount.Add(1)
	return m.sample, m.err
}

func (m *mockProbe) Close() error { return nil }

func TestReader_ReadOnce(t *testing.T) {
	mock := &mockProbe{sample: Sample{Temperature: 22.5, Humidity: 45, SoilMoisture: 60}}
	reader := NewReader(mock, 30*time.Second, zerolog.Nop())

	sample, err := reader.ReadOnce()
	if err != nil {
		t.Fatalf("ReadOnce() failed: %v", err)
	}
	if sample.Temperature != 22.5 {
		t.Errorf("Temperature = %v, want 22.5", sample.Temperature)
	}
	if sample.SoilMoisture != 60 {
		t.Errorf("SoilMoisture = %v, want 60", sample.SoilMoisture)
	}
}

func TestReader_Start(t *testing.T) {
	mock := &mockProbe{sample: Sample{Temperature: 22.5, Humidity: 45, SoilMoisture: 60}}
	reader := NewReader(mock, 50*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go reader.Start(ctx)

	count := 0
	timeout := time.After(400 * time.Millisecond)
readLoop:
	for {
		select {
		case <-reader.Samples():
			count++
		case <-timeout:
			break readLoop
		}
	}

	if count < 3 {
		t.Errorf("Got %d samples, expected at least 3", count)
	}
}

func TestReader_SkipsFailedReads(t *testing.T) {
	mock := &mockProbe{err: errors.New("probe unplugged")}
	reader := NewReader(mock, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	reader.Start(ctx)

	if mock.readCount.Load() == 0 {
		t.Fatal("probe was never read")
	}
	if len(reader.Samples()) != 0 {
		t.Error("failed reads must not publish samples")
	}
}

func TestDriftProbe_StaysInBounds(t *testing.T) {
	cfg := DefaultDrift()
	probe := NewDriftProbe(cfg, 42)

	prev := cfg.Start
	for i := 0; i < 2000; i++ {
		s, err := probe.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if s.SoilMoisture < 30 || s.SoilMoisture > 80 {
			t.Fatalf("SoilMoisture = %v out of 30..80", s.SoilMoisture)
		}
		if s.Temperature < 15 || s.Temperature > 30 {
			t.Fatalf("Temperature = %v out of 15..30", s.Temperature)
		}
		if s.Humidity < 30 || s.Humidity > 80 {
			t.Fatalf("Humidity = %v out of 30..80", s.Humidity)
		}
		if d := s.SoilMoisture - prev.SoilMoisture; d > 3.001 || d < -3.001 {
			t.Fatalf("soil moisture moved %v in one step, want at most 3", d)
		}
		prev = s
	}
}

func TestDriftProbe_ClampsStart(t *testing.T) {
	cfg := DefaultDrift()
	cfg.Start = Sample{Temperature: 99, Humidity: -5, SoilMoisture: 50}
	probe := NewDriftProbe(cfg, 1)

	if probe.last.Temperature != 30 || probe.last.Humidity != 30 {
		t.Errorf("start = %+v, want clamped to bounds", probe.last)
	}
}

func TestSample_Readings(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	readings := Sample{Temperature: 21, Humidity: 50, SoilMoisture: 40}.Readings(at)

	if len(readings) != len(models.Metrics) {
		t.Fatalf("len = %d, want %d", len(readings), len(models.Metrics))
	}
	for _, r := range readings {
		if !r.IsValid() {
			t.Errorf("reading %v is not valid", r)
		}
		if r.Unit != r.Metric.Unit() {
			t.Errorf("Unit = %q for %s", r.Unit, r.Metric)
		}
	}
}

func TestValidateSample(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		wantErr bool
	}{
		{"normal", Sample{Temperature: 25, Humidity: 50, SoilMoisture: 40}, false},
		{"cold limit", Sample{Temperature: -20}, false},
		{"too hot", Sample{Temperature: 61}, true},
		{"humidity over", Sample{Humidity: 101}, true},
		{"soil negative", Sample{SoilMoisture: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSample(tt.sample)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSample() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
