// Package device plays the field controller on the MQTT broker. It
// publishes probe readings, buffers them while the broker is unreachable,
// and obeys pump commands from the dashboard.
package device

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/sensor"
	"github.com/afroash/krishii-mitra/internal/telemetry"
)

// CommandTopics are the topics the device obeys
var CommandTopics = []string{
	telemetry.TopicPumpControl,
	telemetry.TopicPumpMode,
	telemetry.TopicSensorRequest,
}

// Device is one simulated field controller
type Device struct {
	settings  config.DeviceSettings
	mqttCfg   config.MQTTConfig
	newClient telemetry.ClientFactory
	buffer    *ReadingBuffer
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	client mqtt.Client
	pump   models.PumpState
	last   *sensor.Sample

	refresh chan struct{}
}

// New creates a device. A nil factory uses mqtt.NewClient.
func New(cfg *config.SimulatorConfig, factory telemetry.ClientFactory, buffer *ReadingBuffer, logger zerolog.Logger) *Device {
	if factory == nil {
		factory = mqtt.NewClient
	}
	if buffer == nil {
		buffer = NewReadingBuffer(cfg.Device.BufferSize, true)
	}
	return &Device{
		settings:  cfg.Device,
		mqttCfg:   cfg.MQTT,
		newClient: factory,
		buffer:    buffer,
		logger:    logger.With().Str("device_id", cfg.Device.ID).Logger(),
		now:       time.Now,
		refresh:   make(chan struct{}, 1),
	}
}

// Connect dials the broker, retrying with exponential backoff up to
// ConnectRetries times. Later losses are healed by paho's auto-reconnect.
func (d *Device) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.mqttCfg.BrokerURL)
	opts.SetClientID(d.mqttCfg.ClientID + "-" + d.settings.ID)
	opts.SetUsername(d.mqttCfg.Username)
	opts.SetPassword(d.mqttCfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(d.mqttCfg.ReconnectDelay * 8)
	opts.SetConnectTimeout(d.mqttCfg.ConnectTimeout)
	opts.SetOnConnectHandler(d.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		d.logger.Warn().Err(err).Msg("Connection lost, buffering readings")
	})

	client := d.newClient(opts)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.mqttCfg.ReconnectDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.settings.ConnectRetries)), ctx)

	attempt := func() error {
		token := client.Connect()
		if !token.WaitTimeout(d.mqttCfg.ConnectTimeout) {
			return fmt.Errorf("connect timed out after %s", d.mqttCfg.ConnectTimeout)
		}
		return token.Error()
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Broker connect failed")
	}
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return fmt.Errorf("connect to %s: %w", d.mqttCfg.BrokerURL, err)
	}

	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
	d.logger.Info().Str("broker", d.mqttCfg.BrokerURL).Msg("Device connected")
	return nil
}

// onConnect runs after every (re)connect: subscribe, then drain the buffer
func (d *Device) onConnect(client mqtt.Client) {
	qos := byte(d.mqttCfg.CommandQoS)
	for _, topic := range CommandTopics {
		token := client.Subscribe(topic, qos, d.onCommand)
		if !token.WaitTimeout(d.mqttCfg.AckTimeout) || token.Error() != nil {
			d.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Subscribe failed")
			continue
		}
	}
	d.mu.Lock()
	if d.client == nil {
		d.client = client
	}
	d.mu.Unlock()

	go d.flush()
}

// Run publishes every sample until ctx is cancelled or samples is closed
func (d *Device) Run(ctx context.Context, samples <-chan sensor.Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			d.handleSample(s)
		case <-d.refresh:
			d.mu.Lock()
			last := d.last
			d.mu.Unlock()
			if last != nil {
				d.publishReadings(last.Readings(d.now()))
			}
		}
	}
}

func (d *Device) handleSample(s sensor.Sample) {
	d.mu.Lock()
	d.last = &s
	d.mu.Unlock()

	d.publishReadings(s.Readings(d.now()))
	d.applyAuto(s.SoilMoisture)
}

// publishReadings sends readings, buffering whatever could not be sent
func (d *Device) publishReadings(readings []*models.SensorReading) {
	if !d.connected() {
		for _, r := range readings {
			d.buffer.Push(r)
		}
		d.logger.Debug().Str("backlog", d.buffer.String()).Msg("Broker down, reading buffered")
		return
	}

	d.flush()
	for i, r := range readings {
		if err := d.publishReading(r); err != nil {
			d.logger.Warn().Err(err).Msg("Publish failed, buffering")
			d.buffer.Requeue(readings[i:])
			return
		}
	}
}

// flush publishes buffered readings, oldest first
func (d *Device) flush() {
	if st := d.buffer.Stats(); st.Buffered > 0 {
		d.logger.Info().
			Int("buffered", st.Buffered).
			Time("oldest", st.OldestAt).
			Dur("span", st.Span()).
			Int64("evicted", st.Evicted).
			Msg("Replaying backlog")
	}
	for d.connected() {
		batch := d.buffer.PopBatch(50)
		if len(batch) == 0 {
			return
		}
		for i, r := range batch {
			if err := d.publishReading(r); err != nil {
				d.buffer.Requeue(batch[i:])
				return
			}
		}
		d.logger.Info().Int("count", len(batch)).Msg("Flushed buffered readings")
	}
}

func (d *Device) publishReading(r *models.SensorReading) error {
	topic := telemetry.SensorTopic(r.Metric)
	if topic == "" {
		return fmt.Errorf("no topic for metric %s", r.Metric)
	}
	return d.publish(topic, strconv.FormatFloat(r.Value, 'f', 1, 64), byte(d.mqttCfg.SensorQoS))
}

func (d *Device) publish(topic, payload string, qos byte) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return models.ErrNotConnected
	}

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(d.mqttCfg.AckTimeout) {
		return fmt.Errorf("publish %s: no acknowledgement within %s", topic, d.mqttCfg.AckTimeout)
	}
	return token.Error()
}

func (d *Device) connected() bool {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	return client != nil && client.IsConnectionOpen()
}

// onCommand applies one command from the dashboard. Malformed payloads are ignored.
func (d *Device) onCommand(_ mqtt.Client, msg mqtt.Message) {
	switch msg.Topic() {
	case telemetry.TopicPumpControl:
		on, err := models.ParseSwitch(msg.Payload())
		if err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring pump command")
			return
		}
		d.setPump(on, false)
	case telemetry.TopicPumpMode:
		auto, err := models.ParseMode(msg.Payload())
		if err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring mode command")
			return
		}
		d.mu.Lock()
		changed := d.pump.IsAuto != auto
		d.pump.IsAuto = auto
		d.pump.LastChangedAt = d.now()
		d.mu.Unlock()
		if changed {
			d.logger.Info().Bool("auto", auto).Msg("Pump mode changed")
		}
	case telemetry.TopicSensorRequest:
		select {
		case d.refresh <- struct{}{}:
		default:
		}
	}
}

// setPump switches the pump. Manual switches are ignored in auto mode
// unless they match the current state.
func (d *Device) setPump(on, fromAuto bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pump.IsOn == on {
		return false
	}
	if d.pump.IsAuto && !fromAuto {
		d.logger.Warn().Bool("on", on).Msg("Manual pump switch ignored in auto mode")
		return false
	}
	d.pump.IsOn = on
	d.pump.LastChangedAt = d.now()
	d.logger.Info().Bool("on", on).Bool("auto", fromAuto).Msg("Pump switched")
	return true
}

// applyAuto runs the irrigation rule and reports a switch on the control topic
func (d *Device) applyAuto(soil float64) {
	d.mu.Lock()
	pump := d.pump
	d.mu.Unlock()
	if !pump.IsAuto {
		return
	}

	var want bool
	switch {
	case soil < d.settings.AutoOnBelow:
		want = true
	case soil > d.settings.AutoOffAbove:
		want = false
	default:
		return
	}
	if !d.setPump(want, true) {
		return
	}

	payload := models.PayloadOff
	if want {
		payload = models.PayloadOn
	}
	if err := d.publish(telemetry.TopicPumpControl, payload, byte(d.mqttCfg.CommandQoS)); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to report pump switch")
	}
}

// Pump returns the current pump state
func (d *Device) Pump() models.PumpState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pump
}

// Buffered returns how many readings wait for the broker
func (d *Device) Buffered() int {
	return d.buffer.Size()
}

// Backlog describes the readings waiting for the broker
func (d *Device) Backlog() BacklogStats {
	return d.buffer.Stats()
}

// Close disconnects, letting in-flight publishes finish
func (d *Device) Close() {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client != nil {
		client.Disconnect(uint(d.mqttCfg.Quiesce / time.Millisecond))
	}
	d.logger.Info().Str("backlog", d.buffer.String()).Msg("Device disconnected")
}
