package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/models"
)

// fakeToken is a paho token completed by the test
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeClient implements the parts of mqtt.Client the subscriber uses
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectErr   error
	connectToken *fakeToken // overrides connectErr when set
	subscribeErr map[string]int // failures left per topic
	subscribed   []string
	published    []string
	publishToken mqtt.Token
	handler      mqtt.MessageHandler
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectToken != nil {
		return c.connectToken
	}
	return completedToken(c.connectErr)
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr[topic] > 0 {
		c.subscribeErr[topic]--
		return completedToken(errors.New("not authorized"))
	}
	c.subscribed = append(c.subscribed, topic)
	c.handler = callback
	return completedToken(nil)
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, topic+"="+payload.(string))
	if c.publishToken != nil {
		return c.publishToken
	}
	return completedToken(nil)
}

func (c *fakeClient) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

// fakeMessage is one inbound message
type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// recorder is an Observer that keeps everything it is told
type recorder struct {
	mu       sync.Mutex
	statuses []models.ConnectionStatus
	readings []*models.SensorReading
	reports  []models.PumpReport
}

func (r *recorder) OnStatus(s models.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) OnReading(reading *models.SensorReading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
}

func (r *recorder) OnPumpReport(report models.PumpReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recorder) statusList() []models.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConnectionStatus(nil), r.statuses...)
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		BrokerURL:         "tcp://broker.test:1883",
		ClientID:          "test",
		ConnectTimeout:    time.Second,
		ReconnectDelay:    10 * time.Millisecond,
		AckTimeout:        50 * time.Millisecond,
		SubscribeRetryMax: time.Second,
		Quiesce:           10 * time.Millisecond,
		CommandQoS:        1,
	}
}

// factoryFor hands out the given clients in order, repeating the last one
func factoryFor(clients ...*fakeClient) ClientFactory {
	var mu sync.Mutex
	i := 0
	return func(opts *mqtt.ClientOptions) mqtt.Client {
		mu.Lock()
		defer mu.Unlock()
		c := clients[i]
		if i < len(clients)-1 {
			i++
		}
		c.opts = opts
		return c
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startSubscriber(t *testing.T, s *Subscriber) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return func() {
		s.Close()
		cancel()
		<-done
	}
}

func TestSubscriber_ConnectAndSubscribe(t *testing.T) {
	client := &fakeClient{}
	rec := &recorder{}
	s := NewSubscriber(testConfig(), factoryFor(client), rec, nil, zerolog.Nop())
	stop := startSubscriber(t, s)

	waitFor(t, "subscriptions", func() bool { return len(client.subscriptions()) == len(SubscribedTopics) })

	if !s.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if client.opts.AutoReconnect {
		t.Error("paho auto-reconnect should be disabled")
	}

	stop()

	got := rec.statusList()
	want := []models.ConnectionStatus{models.StatusConnecting, models.StatusConnected, models.StatusDisconnected}
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statuses[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !client.disconnected {
		t.Error("Close() should disconnect the client")
	}
}

func TestSubscriber_FirstConnectFailure(t *testing.T) {
	bad := &fakeClient{connectErr: errors.New("connection refused")}
	good := &fakeClient{}
	rec := &recorder{}
	s := NewSubscriber(testConfig(), factoryFor(bad, good), rec, nil, zerolog.Nop())
	stop := startSubscriber(t, s)
	defer stop()

	waitFor(t, "connected", s.IsConnected)

	got := rec.statusList()
	want := []models.ConnectionStatus{models.StatusConnecting, models.StatusError, models.StatusDisconnected, models.StatusConnecting, models.StatusConnected}
	if len(got) < len(want) {
		t.Fatalf("statuses = %v, want prefix %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statuses[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSubscriber_ReconnectResubscribes(t *testing.T) {
	first := &fakeClient{}
	second := &fakeClient{}
	rec := &recorder{}
	s := NewSubscriber(testConfig(), factoryFor(first, second), rec, nil, zerolog.Nop())
	stop := startSubscriber(t, s)
	defer stop()

	waitFor(t, "first subscriptions", func() bool { return len(first.subscriptions()) == len(SubscribedTopics) })

	first.opts.OnConnectionLost(first, errors.New("EOF"))

	waitFor(t, "resubscribe", func() bool { return len(second.subscriptions()) == len(SubscribedTopics) })

	statuses := rec.statusList()
	sawReconnecting := false
	for _, st := range statuses {
		if st == models.StatusReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("statuses = %v, want a reconnecting transition", statuses)
	}
	if statuses[len(statuses)-1] != models.StatusConnected {
		t.Errorf("final status = %v, want connected", statuses[len(statuses)-1])
	}
}

func TestSubscriber_SubscribeRetry(t *testing.T) {
	client := &fakeClient{subscribeErr: map[string]int{TopicSoilMoisture: 2}}
	s := NewSubscriber(testConfig(), factoryFor(client), &recorder{}, nil, zerolog.Nop())
	stop := startSubscriber(t, s)
	defer stop()

	waitFor(t, "all subscriptions", func() bool { return len(client.subscriptions()) == len(SubscribedTopics) })
	if !s.IsConnected() {
		t.Error("subscription failures must not drop the connection")
	}
}

func TestSubscriber_SubscribeRetryOutlastsMaxWait(t *testing.T) {
	cfg := testConfig()
	cfg.SubscribeRetryMax = 10 * time.Millisecond
	client := &fakeClient{subscribeErr: map[string]int{TopicSoilMoisture: 25}}
	s := NewSubscriber(cfg, factoryFor(client), &recorder{}, nil, zerolog.Nop())
	stop := startSubscriber(t, s)
	defer stop()

	// the other topics must not wait behind the failing one
	waitFor(t, "healthy topics", func() bool { return len(client.subscriptions()) >= len(SubscribedTopics)-1 })
	client.mu.Lock()
	pending := client.subscribeErr[TopicSoilMoisture]
	client.mu.Unlock()
	if pending == 0 {
		t.Fatal("soil topic recovered before the others subscribed")
	}

	waitFor(t, "soil topic", func() bool { return len(client.subscriptions()) == len(SubscribedTopics) })
	if !s.IsConnected() {
		t.Error("subscription failures must not drop the connection")
	}
}

func TestSubscriber_CloseWhileConnecting(t *testing.T) {
	token := pendingToken()
	client := &fakeClient{connectToken: token}
	rec := &recorder{}
	s := NewSubscriber(testConfig(), factoryFor(client), rec, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, "connecting", func() bool { return s.Status() == models.StatusConnecting })
	s.Close()
	close(token.done)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Close")
	}

	if got := s.Status(); got != models.StatusDisconnected {
		t.Errorf("Status() = %v, want disconnected", got)
	}
	client.mu.Lock()
	disconnected := client.disconnected
	client.mu.Unlock()
	if !disconnected {
		t.Error("session completed after Close must be disconnected")
	}
	for _, st := range rec.statusList() {
		if st == models.StatusConnected {
			t.Errorf("statuses = %v, observer must not see connected after Close", rec.statusList())
		}
	}
	if err := s.Publish(context.Background(), TopicPumpControl, models.PayloadOn, PublishOptions{QoS: 1}); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriber_OnMessage(t *testing.T) {
	rec := &recorder{}
	s := NewSubscriber(testConfig(), nil, rec, nil, zerolog.Nop())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	tests := []struct {
		topic   string
		payload string
	}{
		{TopicTemperature, "24.5"},
		{TopicHumidity, " 61 "},
		{TopicSoilMoisture, "abc"},
		{TopicSoilMoisture, "140"},
		{TopicPumpControl, "ON"},
		{TopicPumpMode, "auto"},
		{TopicPumpMode, "TURBO"},
		{"krishii/unknown", "1"},
	}
	for _, tt := range tests {
		s.onMessage(nil, fakeMessage{topic: tt.topic, payload: []byte(tt.payload)})
	}

	if len(rec.readings) != 2 {
		t.Fatalf("readings = %d, want 2", len(rec.readings))
	}
	if r := rec.readings[0]; r.Metric != models.MetricTemperature || r.Value != 24.5 || !r.ObservedAt.Equal(fixed) {
		t.Errorf("readings[0] = %v", r)
	}
	if r := rec.readings[1]; r.Metric != models.MetricHumidity || r.Value != 61 {
		t.Errorf("readings[1] = %v", r)
	}

	if len(rec.reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(rec.reports))
	}
	if on := rec.reports[0].IsOn; on == nil || !*on || rec.reports[0].IsAuto != nil {
		t.Errorf("reports[0] = %+v, want IsOn only", rec.reports[0])
	}
	if auto := rec.reports[1].IsAuto; auto == nil || !*auto {
		t.Errorf("reports[1] = %+v, want IsAuto true", rec.reports[1])
	}
}

func TestSubscriber_Publish(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		token     mqtt.Token
		wantErr   error
	}{
		{name: "acknowledged", connected: true},
		{name: "not connected", connected: false, wantErr: models.ErrNotConnected},
		{name: "broker failure", connected: true, token: completedToken(errors.New("queue full"))},
		{name: "no acknowledgement", connected: true, token: pendingToken()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{publishToken: tt.token}
			s := NewSubscriber(testConfig(), factoryFor(client), nil, nil, zerolog.Nop())
			if tt.connected {
				if _, err := s.connect(); err != nil {
					t.Fatalf("connect() error = %v", err)
				}
			}

			err := s.Publish(context.Background(), TopicPumpControl, models.PayloadOn, PublishOptions{QoS: 1})

			wantFail := tt.name != "acknowledged"
			if !wantFail {
				if err != nil {
					t.Fatalf("Publish() error = %v", err)
				}
				if len(client.published) != 1 || client.published[0] != "krishii/pump/control=ON" {
					t.Errorf("published = %v", client.published)
				}
				return
			}

			var cmdErr *models.CommandFailedError
			if !errors.As(err, &cmdErr) {
				t.Fatalf("Publish() error = %v, want CommandFailedError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
