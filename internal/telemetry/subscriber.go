// Package telemetry maintains the MQTT session with the field device.
//
// The Subscriber owns its reconnect loop: paho's auto-reconnect is disabled
// so every transition goes through one state machine that logs it and
// reports it to the Observer. Subscriptions are re-established after every
// connect.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
)

// Topics
const (
	TopicTemperature   = "krishii/sensor/temp"
	TopicHumidity      = "krishii/sensor/humidity"
	TopicSoilMoisture  = "krishii/sensor/soil"
	TopicPumpControl   = "krishii/pump/control"
	TopicPumpMode      = "krishii/pump/mode"
	TopicSensorRequest = "krishii/sensor/request"
)

// SubscribedTopics are (re)subscribed on every connect
var SubscribedTopics = []string{
	TopicTemperature,
	TopicHumidity,
	TopicSoilMoisture,
	TopicPumpControl,
	TopicPumpMode,
}

var sensorTopics = map[string]models.Metric{
	TopicTemperature:  models.MetricTemperature,
	TopicHumidity:     models.MetricHumidity,
	TopicSoilMoisture: models.MetricSoilMoisture,
}

// SensorTopic returns the topic readings of metric are published on
func SensorTopic(metric models.Metric) string {
	for topic, m := range sensorTopics {
		if m == metric {
			return topic
		}
	}
	return ""
}

// Observer receives decoded telemetry. Calls come from paho's goroutines.
type Observer interface {
	OnStatus(status models.ConnectionStatus)
	OnReading(reading *models.SensorReading)
	OnPumpReport(report models.PumpReport)
}

// PublishOptions controls delivery of one publish
type PublishOptions struct {
	QoS    int
	Retain bool
}

// ClientFactory builds a paho client from options
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Subscriber manages the broker session
type Subscriber struct {
	cfg       config.MQTTConfig
	newClient ClientFactory
	observer  Observer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.RWMutex
	client        mqtt.Client
	status        models.ConnectionStatus
	everConnected bool

	// lifecycle orders connect commits against Close
	lifecycle sync.Mutex
	lost      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// errClosed is returned by connect once Close has been called
var errClosed = errors.New("subscriber closed")

// NewSubscriber creates a subscriber. A nil factory uses mqtt.NewClient.
func NewSubscriber(cfg config.MQTTConfig, factory ClientFactory, observer Observer, m *metrics.Metrics, logger zerolog.Logger) *Subscriber {
	if factory == nil {
		factory = mqtt.NewClient
	}
	return &Subscriber{
		cfg:       cfg,
		newClient: factory,
		observer:  observer,
		metrics:   m,
		logger:    logger.With().Str("component", "telemetry").Logger(),
		now:       time.Now,
		status:    models.StatusDisconnected,
		lost:      make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

// setState records a transition and reports it
func (s *Subscriber) setState(status models.ConnectionStatus) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	if status == models.StatusConnected {
		s.everConnected = true
	}
	s.mu.Unlock()

	s.logger.Info().Str("state", status.String()).Msg("Connection state updated")
	s.metrics.SetConnectionStatus(int(status))
	if s.observer != nil {
		s.observer.OnStatus(status)
	}
}

// Status returns the current connection status
func (s *Subscriber) Status() models.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsConnected returns true while a broker session is up
func (s *Subscriber) IsConnected() bool {
	return s.Status() == models.StatusConnected
}

// Run connects and keeps the session alive until ctx is cancelled or Close is called
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		client, err := s.connect()
		if errors.Is(err, errClosed) {
			return nil
		}
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			s.logger.Warn().Err(err).Str("broker", s.cfg.BrokerURL).Msg("Connection failed")
			if !s.hasConnected() {
				s.setState(models.StatusError)
				s.setState(models.StatusDisconnected)
			}
			if !s.waitBeforeReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.runSession(ctx, client)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		s.setState(models.StatusReconnecting)
		if !s.waitBeforeReconnect(ctx) {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) hasConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.everConnected
}

// connect dials the broker once
func (s *Subscriber) connect() (mqtt.Client, error) {
	s.lifecycle.Lock()
	if s.isClosed() {
		s.lifecycle.Unlock()
		return nil, errClosed
	}
	if s.hasConnected() {
		s.setState(models.StatusReconnecting)
	} else {
		s.setState(models.StatusConnecting)
	}
	s.lifecycle.Unlock()

	// drop a loss notification left over from the previous session
	select {
	case <-s.lost:
	default:
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%s", s.cfg.ClientID, uuid.NewString()[:8]))
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case s.lost <- err:
		default:
		}
	})

	client := s.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect timed out after %s", s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.isClosed() {
		// Close ran while the handshake was in flight
		client.Disconnect(uint(s.cfg.Quiesce / time.Millisecond))
		return nil, errClosed
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.setState(models.StatusConnected)
	s.logger.Info().Str("broker", s.cfg.BrokerURL).Msg("Connected to broker")
	return client, nil
}

func (s *Subscriber) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// runSession subscribes and blocks until the session ends
func (s *Subscriber) runSession(ctx context.Context, client mqtt.Client) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.subscribeAll(sessionCtx, client)
	}()

	// on shutdown the client stays set so Close can disconnect it
	lost := false
	select {
	case err := <-s.lost:
		s.logger.Warn().Err(err).Msg("Connection lost, will reconnect")
		lost = true
	case <-ctx.Done():
	case <-s.closed:
	}
	cancel()
	wg.Wait()

	if lost {
		s.mu.Lock()
		if s.client == client {
			s.client = nil
		}
		s.mu.Unlock()
	}
}

// subscribeAll subscribes every topic concurrently. Each topic is retried
// with backoff until it succeeds or the session ends.
func (s *Subscriber) subscribeAll(ctx context.Context, client mqtt.Client) {
	var wg sync.WaitGroup
	for _, topic := range SubscribedTopics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			s.subscribe(ctx, client, topic)
		}(topic)
	}
	wg.Wait()
}

func (s *Subscriber) subscribe(ctx context.Context, client mqtt.Client, topic string) {
	maxWait := s.cfg.SubscribeRetryMax
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = min(200*time.Millisecond, maxWait)
	bo.MaxInterval = maxWait
	bo.MaxElapsedTime = 0

	attempt := func() error {
		token := client.Subscribe(topic, byte(s.cfg.SensorQoS), s.onMessage)
		if !token.WaitTimeout(s.cfg.AckTimeout) {
			return fmt.Errorf("subscribe to %s timed out", topic)
		}
		return token.Error()
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Error().Err(err).Str("topic", topic).Dur("retry_in", wait).Msg("Failed to subscribe")
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(bo, ctx), notify); err != nil {
		return
	}
	s.logger.Debug().Str("topic", topic).Msg("Subscribed")
}

// waitBeforeReconnect waits the fixed reconnect delay. Returns false if cancelled.
func (s *Subscriber) waitBeforeReconnect(ctx context.Context) bool {
	s.logger.Info().Dur("delay", s.cfg.ReconnectDelay).Msg("Waiting before reconnect")
	select {
	case <-time.After(s.cfg.ReconnectDelay):
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

// onMessage decodes one inbound message. Malformed payloads are dropped.
func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	s.metrics.TelemetryMessage(topic)
	now := s.now()

	if metric, ok := sensorTopics[topic]; ok {
		reading, err := models.ParseSensorPayload(metric, msg.Payload(), now)
		if err != nil {
			s.drop(topic, err)
			return
		}
		if s.observer != nil {
			s.observer.OnReading(reading)
		}
		return
	}

	switch topic {
	case TopicPumpControl:
		on, err := models.ParseSwitch(msg.Payload())
		if err != nil {
			s.drop(topic, err)
			return
		}
		s.report(models.PumpReport{IsOn: &on, ReportedAt: now})
	case TopicPumpMode:
		auto, err := models.ParseMode(msg.Payload())
		if err != nil {
			s.drop(topic, err)
			return
		}
		s.report(models.PumpReport{IsAuto: &auto, ReportedAt: now})
	default:
		s.drop(topic, errors.New("unexpected topic"))
	}
}

func (s *Subscriber) report(r models.PumpReport) {
	if s.observer != nil {
		s.observer.OnPumpReport(r)
	}
}

func (s *Subscriber) drop(topic string, err error) {
	s.metrics.TelemetryDropped(topic)
	s.logger.Warn().Err(err).Str("topic", topic).Msg("Dropping malformed message")
}

// Publish sends payload and waits for the broker acknowledgement
func (s *Subscriber) Publish(ctx context.Context, topic, payload string, opts PublishOptions) error {
	command := topic + "=" + payload

	s.mu.RLock()
	client := s.client
	connected := s.status == models.StatusConnected
	s.mu.RUnlock()

	if client == nil || !connected {
		return &models.CommandFailedError{Command: command, Err: models.ErrNotConnected}
	}

	token := client.Publish(topic, byte(opts.QoS), opts.Retain, payload)

	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return &models.CommandFailedError{Command: command, Err: fmt.Errorf("no acknowledgement within %s", s.cfg.AckTimeout)}
	case <-ctx.Done():
		return &models.CommandFailedError{Command: command, Err: ctx.Err()}
	}

	if err := token.Error(); err != nil {
		return &models.CommandFailedError{Command: command, Err: err}
	}
	s.logger.Debug().Str("topic", topic).Str("payload", payload).Msg("Published")
	return nil
}

// Close disconnects gracefully, letting in-flight publishes finish
func (s *Subscriber) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.closeOnce.Do(func() {
		close(s.closed)
	})

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		s.logger.Info().Dur("quiesce", s.cfg.Quiesce).Msg("Closing connection")
		client.Disconnect(uint(s.cfg.Quiesce / time.Millisecond))
	}
	s.setState(models.StatusDisconnected)
	return nil
}
