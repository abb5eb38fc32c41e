package sensor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reader reads a probe periodically and publishes samples on a channel
type Reader struct {
	probe    Probe
	interval time.Duration
	logger   zerolog.Logger
	samples  chan Sample
}

// NewReader creates a new reader
func NewReader(probe Probe, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		probe:    probe,
		interval: interval,
		logger:   logger,
		samples:  make(chan Sample, 10),
	}
}

// Start reads on every tick until ctx is cancelled
func (r *Reader) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.readAndPublish(ctx)
		}
	}
}

// ReadOnce performs a single read
func (r *Reader) ReadOnce() (Sample, error) {
	return r.probe.Read()
}

func (r *Reader) readAndPublish(ctx context.Context) {
	sample, err := r.ReadOnce()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to read probe")
		return
	}
	select {
	case r.samples <- sample:
	case <-ctx.Done():
		return
	}
	r.logger.Debug().
		Float64("temperature", sample.Temperature).
		Float64("humidity", sample.Humidity).
		Float64("soil_moisture", sample.SoilMoisture).
		Msg("Probe read")
}

// Samples returns the channel samples are published on
func (r *Reader) Samples() <-chan Sample {
	return r.samples
}

// Close closes the probe
func (r *Reader) Close() error {
	return r.probe.Close()
}
