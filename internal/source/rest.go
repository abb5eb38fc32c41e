package source

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/fetch"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// PumpAPI is the device REST API
type PumpAPI interface {
	Status(ctx context.Context) (*fetch.PumpStatus, error)
	Send(ctx context.Context, cmd models.Command) error
}

// RestPolling polls the pump API for readings and pump state
type RestPolling struct {
	api      PumpAPI
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sink Sink
}

// NewRestPolling creates the polling source
func NewRestPolling(api PumpAPI, interval time.Duration, logger zerolog.Logger) *RestPolling {
	return &RestPolling{
		api:      api,
		interval: interval,
		logger:   logger.With().Str("source", config.SourceRest).Logger(),
		now:      time.Now,
	}
}

func (r *RestPolling) Name() string { return config.SourceRest }

func (r *RestPolling) PollInterval() time.Duration { return r.interval }

func (r *RestPolling) Start(ctx context.Context, sink Sink) error {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
	r.logger.Info().Dur("interval", r.interval).Msg("REST polling source started")
	return nil
}

// Refresh fetches the pump status once. A failed poll is emitted as a
// FetchFailed event and also returned.
func (r *RestPolling) Refresh(ctx context.Context) error {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return ErrNotStarted
	}

	status, err := r.api.Status(ctx)
	now := r.now()
	if err != nil {
		sink.Emit(viewmodel.FetchFailed{Slot: viewmodel.SlotSensors, Message: models.UserMessage(err), At: now})
		return err
	}

	for _, reading := range status.Readings(now) {
		sink.Emit(viewmodel.SensorMessage{Reading: reading, Origin: viewmodel.OriginAPI})
	}
	if report := status.Report(now); report.IsOn != nil || report.IsAuto != nil {
		sink.Emit(viewmodel.PumpReported{Report: report})
	}
	return nil
}

func (r *RestPolling) Send(ctx context.Context, cmd models.Command) error {
	return r.api.Send(ctx, cmd)
}

func (r *RestPolling) Close() error { return nil }
