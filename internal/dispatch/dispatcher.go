// Package dispatch sends pump and sensor commands to the field.
//
// At most one command is in flight at a time. The view model changes only
// after the field acknowledges a command; failures are recorded as a
// non-blocking message and returned to the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// Sender delivers a command and returns once it is acknowledged
type Sender interface {
	Send(ctx context.Context, cmd models.Command) error
}

// StateStore is the view model the dispatcher reads from and reports to
type StateStore interface {
	State() viewmodel.State
	Apply(e viewmodel.Event) viewmodel.State
}

// Dispatcher serializes outbound commands
type Dispatcher struct {
	sender   Sender
	store    StateStore
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	timeout  time.Duration
	inFlight atomic.Bool
	now      func() time.Time
}

// New creates a dispatcher. timeout bounds every send; zero means no bound
// beyond the caller's context.
func New(sender Sender, store StateStore, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		timeout: timeout,
		now:     time.Now,
	}
}

// TogglePump switches the pump to the opposite of its acknowledged state.
// It is rejected while the pump is in auto mode.
func (d *Dispatcher) TogglePump(ctx context.Context) (models.Command, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.metrics.Command(string(models.CommandPump), "busy")
		return models.Command{}, models.ErrBusy
	}
	defer d.inFlight.Store(false)

	st := d.store.State()
	cmd := models.PumpCommand(!st.Pump.IsOn)
	if st.Pump.IsAuto {
		d.metrics.Command(string(cmd.Kind), "rejected")
		d.store.Apply(viewmodel.CommandRejected{Command: cmd, Message: models.UserMessage(models.ErrPumpAuto), At: d.now()})
		d.logger.Info().Str("command", cmd.String()).Msg("Pump toggle rejected in auto mode")
		return cmd, models.ErrPumpAuto
	}
	return cmd, d.send(ctx, cmd)
}

// ToggleAutoMode switches between automatic and manual control
func (d *Dispatcher) ToggleAutoMode(ctx context.Context) (models.Command, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.metrics.Command(string(models.CommandMode), "busy")
		return models.Command{}, models.ErrBusy
	}
	defer d.inFlight.Store(false)

	cmd := models.ModeCommand(!d.store.State().Pump.IsAuto)
	return cmd, d.send(ctx, cmd)
}

// RequestSensorUpdate asks the field device to publish fresh readings
func (d *Dispatcher) RequestSensorUpdate(ctx context.Context) (models.Command, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.metrics.Command(string(models.CommandSensorRequest), "busy")
		return models.Command{}, models.ErrBusy
	}
	defer d.inFlight.Store(false)

	cmd := models.SensorRequestCommand()
	return cmd, d.send(ctx, cmd)
}

// InFlight reports whether a command is awaiting acknowledgement
func (d *Dispatcher) InFlight() bool {
	return d.inFlight.Load()
}

func (d *Dispatcher) send(ctx context.Context, cmd models.Command) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.store.Apply(viewmodel.CommandStarted{Command: cmd, At: d.now()})
	start := time.Now()

	err := d.safeSend(ctx, cmd)
	if err != nil {
		var cmdErr *models.CommandFailedError
		if !errors.As(err, &cmdErr) {
			err = &models.CommandFailedError{Command: cmd.String(), Err: err}
		}
		d.metrics.Command(string(cmd.Kind), "failed")
		d.store.Apply(viewmodel.CommandFailed{Command: cmd, Message: models.UserMessage(err), At: d.now()})
		d.logger.Warn().Err(err).Str("command", cmd.String()).Dur("elapsed", time.Since(start)).Msg("Command failed")
		return err
	}

	d.metrics.Command(string(cmd.Kind), "acked")
	d.store.Apply(viewmodel.PumpCommandAcked{Command: cmd, At: d.now()})
	d.logger.Info().Str("command", cmd.String()).Dur("elapsed", time.Since(start)).Msg("Command acknowledged")
	return nil
}

// safeSend turns a panic in the sender into an error
func (d *Dispatcher) safeSend(ctx context.Context, cmd models.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("command", cmd.String()).Msg("Recovered panic in command sender")
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return d.sender.Send(ctx, cmd)
}
