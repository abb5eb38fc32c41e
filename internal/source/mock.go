package source

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/sensor"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// Mock simulates the field device with a drifting probe. Readings are
// emitted as placeholders and commands are acknowledged locally.
type Mock struct {
	probe    sensor.Probe
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sink Sink
}

// NewMock creates the mock source
func NewMock(probe sensor.Probe, interval time.Duration, logger zerolog.Logger) *Mock {
	return &Mock{
		probe:    probe,
		interval: interval,
		logger:   logger.With().Str("source", config.SourceMock).Logger(),
		now:      time.Now,
	}
}

func (m *Mock) Name() string { return config.SourceMock }

func (m *Mock) PollInterval() time.Duration { return m.interval }

// Start records the sink; readings arrive through Refresh
func (m *Mock) Start(ctx context.Context, sink Sink) error {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
	m.logger.Info().Dur("interval", m.interval).Msg("Mock source started")
	return nil
}

// Refresh reads the probe and emits the sample as placeholders
func (m *Mock) Refresh(ctx context.Context) error {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return ErrNotStarted
	}

	sample, err := m.probe.Read()
	if err != nil {
		return err
	}
	sink.Emit(viewmodel.PlaceholderGenerated{Readings: sample.Readings(m.now())})
	return nil
}

// Send acknowledges every command without delay
func (m *Mock) Send(ctx context.Context, cmd models.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Debug().Str("command", cmd.String()).Msg("Mock command acknowledged")
	return nil
}

func (m *Mock) Close() error {
	return m.probe.Close()
}
