package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/telemetry"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// commandTopics maps each command kind to the topic it is published on
var commandTopics = map[models.CommandKind]string{
	models.CommandPump:          telemetry.TopicPumpControl,
	models.CommandMode:          telemetry.TopicPumpMode,
	models.CommandSensorRequest: telemetry.TopicSensorRequest,
}

// TelemetryPush receives field data over MQTT and publishes commands back
type TelemetryPush struct {
	sub    *telemetry.Subscriber
	qos    int
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	sink Sink
	wg   sync.WaitGroup
}

// NewTelemetryPush creates the push source. A nil factory uses paho's client.
func NewTelemetryPush(cfg config.MQTTConfig, factory telemetry.ClientFactory, m *metrics.Metrics, logger zerolog.Logger) *TelemetryPush {
	p := &TelemetryPush{
		qos:    cfg.CommandQoS,
		logger: logger.With().Str("source", config.SourceTelemetry).Logger(),
		now:    time.Now,
	}
	p.sub = telemetry.NewSubscriber(cfg, factory, p, m, logger)
	return p
}

func (p *TelemetryPush) Name() string { return config.SourceTelemetry }

func (p *TelemetryPush) PollInterval() time.Duration { return 0 }

// Start runs the subscriber until ctx is cancelled or Close is called
func (p *TelemetryPush) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error().Err(err).Msg("Telemetry session ended")
		}
	}()
	return nil
}

func (p *TelemetryPush) Refresh(ctx context.Context) error { return nil }

// Send publishes cmd on its topic and waits for the broker acknowledgement
func (p *TelemetryPush) Send(ctx context.Context, cmd models.Command) error {
	topic, ok := commandTopics[cmd.Kind]
	if !ok {
		return &models.CommandFailedError{Command: cmd.String(), Err: fmt.Errorf("unknown command kind %q", cmd.Kind)}
	}
	return p.sub.Publish(ctx, topic, cmd.Value, telemetry.PublishOptions{QoS: p.qos, Retain: false})
}

// Status returns the broker session status
func (p *TelemetryPush) Status() models.ConnectionStatus {
	return p.sub.Status()
}

// Close disconnects and waits for the session goroutine
func (p *TelemetryPush) Close() error {
	err := p.sub.Close()
	p.wg.Wait()
	return err
}

func (p *TelemetryPush) emit(e viewmodel.Event) {
	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()
	if sink != nil {
		sink.Emit(e)
	}
}

// OnStatus implements telemetry.Observer
func (p *TelemetryPush) OnStatus(status models.ConnectionStatus) {
	p.emit(viewmodel.ConnectionChanged{Status: status, At: p.now()})
}

// OnReading implements telemetry.Observer
func (p *TelemetryPush) OnReading(r *models.SensorReading) {
	p.emit(viewmodel.SensorMessage{Reading: r, Origin: viewmodel.OriginTelemetry})
}

// OnPumpReport implements telemetry.Observer
func (p *TelemetryPush) OnPumpReport(r models.PumpReport) {
	p.emit(viewmodel.PumpReported{Report: r})
}
