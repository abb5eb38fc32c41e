// Package source holds the interchangeable field data sources: a local
// simulation, REST polling of the pump API, and MQTT push.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/sensor"
	"github.com/afroash/krishii-mitra/internal/telemetry"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// Sink receives the events a source produces
type Sink interface {
	Emit(e viewmodel.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(e viewmodel.Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e viewmodel.Event) { f(e) }

// Source is one strategy for getting field data and delivering commands
type Source interface {
	// Name is the configured source name
	Name() string

	// Start begins background delivery to sink. It does not block; work
	// stops when ctx is cancelled.
	Start(ctx context.Context, sink Sink) error

	// Refresh pulls once. Push sources return nil immediately.
	Refresh(ctx context.Context) error

	// PollInterval is how often Refresh should run; zero means never
	PollInterval() time.Duration

	// Send delivers a command and waits for its acknowledgement
	Send(ctx context.Context, cmd models.Command) error

	// Close releases the source
	Close() error
}

// ErrNotStarted is returned by Refresh before Start
var ErrNotStarted = errors.New("source not started")

// FromConfig builds the source named by cfg.Dashboard.Source. pumpAPI is
// used by the rest source; factory by the telemetry source.
func FromConfig(cfg *config.Config, pumpAPI PumpAPI, factory telemetry.ClientFactory, m *metrics.Metrics, logger zerolog.Logger) (Source, error) {
	switch cfg.Dashboard.Source {
	case config.SourceMock:
		probe := sensor.NewDriftProbe(sensor.DefaultDrift(), time.Now().UnixNano())
		return NewMock(probe, cfg.Dashboard.PollInterval, logger), nil
	case config.SourceRest:
		if pumpAPI == nil {
			return nil, fmt.Errorf("rest source needs a pump API client")
		}
		return NewRestPolling(pumpAPI, cfg.Dashboard.PollInterval, logger), nil
	case config.SourceTelemetry:
		return NewTelemetryPush(cfg.MQTT, factory, m, logger), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Dashboard.Source)
	}
}
