package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/fetch"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/sensor"
	"github.com/afroash/krishii-mitra/internal/telemetry"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// eventLog is a Sink that keeps every event
type eventLog struct {
	mu     sync.Mutex
	events []viewmodel.Event
}

func (l *eventLog) Emit(e viewmodel.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []viewmodel.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]viewmodel.Event(nil), l.events...)
}

func TestMock_RefreshEmitsPlaceholders(t *testing.T) {
	m := NewMock(sensor.NewDriftProbe(sensor.DefaultDrift(), 7), time.Second, zerolog.Nop())

	if err := m.Refresh(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Refresh() before Start error = %v, want ErrNotStarted", err)
	}

	log := &eventLog{}
	m.Start(context.Background(), log)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	events := log.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ph, ok := events[0].(viewmodel.PlaceholderGenerated)
	if !ok {
		t.Fatalf("event = %T, want PlaceholderGenerated", events[0])
	}
	if len(ph.Readings) != 3 {
		t.Errorf("readings = %d, want 3", len(ph.Readings))
	}
	if m.PollInterval() != time.Second {
		t.Errorf("PollInterval() = %v", m.PollInterval())
	}
}

func TestMock_SendAcksLocally(t *testing.T) {
	m := NewMock(sensor.NewDriftProbe(sensor.DefaultDrift(), 7), time.Second, zerolog.Nop())
	if err := m.Send(context.Background(), models.PumpCommand(true)); err != nil {
		t.Errorf("Send() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, models.PumpCommand(true)); err == nil {
		t.Error("Send() with a cancelled context should fail")
	}
}

func newPumpAPI(t *testing.T, handler http.HandlerFunc) *fetch.PumpClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := fetch.NewClient(fetch.ClientConfig{Name: "pump", Timeout: time.Second, BreakerFailures: 5, BreakerOpen: time.Second}, nil, zerolog.Nop())
	return fetch.NewPumpClient(client, srv.URL)
}

func TestRestPolling_Refresh(t *testing.T) {
	api := newPumpAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"isOn": true, "isAuto": false, "temperature": 26.5, "humidity": 61, "soilMoisture": 38}`))
	})

	src := NewRestPolling(api, 30*time.Second, zerolog.Nop())
	log := &eventLog{}
	src.Start(context.Background(), log)

	if err := src.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	var readings, reports int
	for _, e := range log.all() {
		switch ev := e.(type) {
		case viewmodel.SensorMessage:
			readings++
			if ev.Origin != viewmodel.OriginAPI {
				t.Errorf("Origin = %s, want api", ev.Origin)
			}
		case viewmodel.PumpReported:
			reports++
			if ev.Report.IsOn == nil || !*ev.Report.IsOn {
				t.Errorf("report = %+v, want isOn", ev.Report)
			}
		}
	}
	if readings != 3 || reports != 1 {
		t.Errorf("readings = %d, reports = %d; want 3 and 1", readings, reports)
	}
}

func TestRestPolling_RefreshFailure(t *testing.T) {
	api := newPumpAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	src := NewRestPolling(api, 30*time.Second, zerolog.Nop())
	log := &eventLog{}
	src.Start(context.Background(), log)

	if err := src.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() should fail on 503")
	}
	events := log.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if ff, ok := events[0].(viewmodel.FetchFailed); !ok || ff.Slot != viewmodel.SlotSensors {
		t.Errorf("event = %+v, want FetchFailed for sensors", events[0])
	}
}

// pushClient is a minimal paho client for the push source
type pushClient struct {
	mqtt.Client
	mu        sync.Mutex
	published []string
	handler   mqtt.MessageHandler
}

type doneToken struct{ done chan struct{} }

func newDoneToken() doneToken {
	t := doneToken{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{}          { return t.done }
func (t doneToken) Error() error                   { return nil }

func (c *pushClient) Connect() mqtt.Token    { return newDoneToken() }
func (c *pushClient) Disconnect(uint)        {}
func (c *pushClient) IsConnected() bool      { return true }
func (c *pushClient) IsConnectionOpen() bool { return true }

func (c *pushClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	return newDoneToken()
}

func (c *pushClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if retained || qos != 1 {
		c.published = append(c.published, "bad-options")
	}
	c.published = append(c.published, topic+"="+payload.(string))
	return newDoneToken()
}

type pushMessage struct {
	mqtt.Message
	topic   string
	payload string
}

func (m pushMessage) Topic() string   { return m.topic }
func (m pushMessage) Payload() []byte { return []byte(m.payload) }

func TestTelemetryPush(t *testing.T) {
	client := &pushClient{}
	cfg := config.MQTTConfig{
		BrokerURL:         "tcp://broker:1883",
		ClientID:          "test",
		ConnectTimeout:    time.Second,
		ReconnectDelay:    50 * time.Millisecond,
		AckTimeout:        time.Second,
		SubscribeRetryMax: time.Second,
		CommandQoS:        1,
	}
	factory := func(*mqtt.ClientOptions) mqtt.Client { return client }

	src := NewTelemetryPush(cfg, factory, nil, zerolog.Nop())
	log := &eventLog{}
	src.Start(context.Background(), log)
	defer src.Close()

	deadline := time.Now().Add(2 * time.Second)
	for src.Status() != models.StatusConnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.Status() != models.StatusConnected {
		t.Fatal("push source never connected")
	}
	if src.PollInterval() != 0 {
		t.Error("push source must not poll")
	}

	tests := []struct {
		cmd  models.Command
		want string
	}{
		{models.PumpCommand(true), telemetry.TopicPumpControl + "=ON"},
		{models.ModeCommand(false), telemetry.TopicPumpMode + "=MANUAL"},
		{models.SensorRequestCommand(), telemetry.TopicSensorRequest + "=REFRESH"},
	}
	for _, tt := range tests {
		if err := src.Send(context.Background(), tt.cmd); err != nil {
			t.Fatalf("Send(%v) error = %v", tt.cmd, err)
		}
	}

	client.mu.Lock()
	published := append([]string(nil), client.published...)
	client.mu.Unlock()
	if len(published) != len(tests) {
		t.Fatalf("published = %v", published)
	}
	for i, tt := range tests {
		if published[i] != tt.want {
			t.Errorf("published[%d] = %q, want %q", i, published[i], tt.want)
		}
	}

	for time.Now().Before(deadline) {
		client.mu.Lock()
		h := client.handler
		client.mu.Unlock()
		if h != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.mu.Lock()
	handler := client.handler
	client.mu.Unlock()
	handler(client, pushMessage{topic: telemetry.TopicSoilMoisture, payload: "41.5"})

	var sawConnected, sawReading bool
	for _, e := range log.all() {
		switch ev := e.(type) {
		case viewmodel.ConnectionChanged:
			if ev.Status == models.StatusConnected {
				sawConnected = true
			}
		case viewmodel.SensorMessage:
			sawReading = ev.Reading.Value == 41.5 && ev.Origin == viewmodel.OriginTelemetry
		}
	}
	if !sawConnected || !sawReading {
		t.Errorf("connected event %v, reading event %v; want both", sawConnected, sawReading)
	}
}

func TestTelemetryPush_UnknownCommand(t *testing.T) {
	src := NewTelemetryPush(config.MQTTConfig{}, nil, nil, zerolog.Nop())
	err := src.Send(context.Background(), models.Command{Kind: "valve", Value: "OPEN"})
	var cmdErr *models.CommandFailedError
	if !errors.As(err, &cmdErr) {
		t.Errorf("Send() error = %v, want CommandFailedError", err)
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		source  string
		pumpAPI PumpAPI
		want    string
		wantErr bool
	}{
		{config.SourceMock, nil, config.SourceMock, false},
		{config.SourceRest, &fetch.PumpClient{}, config.SourceRest, false},
		{config.SourceRest, nil, "", true},
		{config.SourceTelemetry, nil, config.SourceTelemetry, false},
		{"carrier-pigeon", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.ApplyDefaults()
			cfg.Dashboard.Source = tt.source

			src, err := FromConfig(cfg, tt.pumpAPI, nil, nil, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && src.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", src.Name(), tt.want)
			}
		})
	}
}
