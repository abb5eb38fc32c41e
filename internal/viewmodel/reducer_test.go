package viewmodel

import (
	"testing"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func reading(metric models.Metric, value float64, at time.Time) *models.SensorReading {
	return &models.SensorReading{Metric: metric, Value: value, Unit: metric.Unit(), ObservedAt: at}
}

func boolPtr(v bool) *bool { return &v }

func connected() State {
	return Reduce(NewState(), ConnectionChanged{Status: models.StatusConnected, At: t0})
}

func valueOf(t *testing.T, d Display, metric models.Metric) ReadingView {
	t.Helper()
	for _, r := range d.Readings {
		if r.Metric == metric {
			return r
		}
	}
	t.Fatalf("no reading for %s", metric)
	return ReadingView{}
}

func TestReduce_SensorMessagesAnyOrder(t *testing.T) {
	msgs := []Event{
		SensorMessage{Reading: reading(models.MetricTemperature, 25.3, t0), Origin: OriginTelemetry},
		SensorMessage{Reading: reading(models.MetricHumidity, 60, t0), Origin: OriginTelemetry},
		SensorMessage{Reading: reading(models.MetricSoilMoisture, 40.2, t0), Origin: OriginTelemetry},
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}}

	for _, order := range orders {
		s := connected()
		for _, i := range order {
			s = Reduce(s, msgs[i])
		}
		d := Project(s, t0, Policy{})

		want := map[models.Metric]string{
			models.MetricTemperature:  "25.3",
			models.MetricHumidity:     "60.0",
			models.MetricSoilMoisture: "40.2",
		}
		for metric, text := range want {
			if got := valueOf(t, d, metric); got.Text != text || got.Origin != OriginTelemetry {
				t.Errorf("order %v: %s = %q (%s), want %q from telemetry", order, metric, got.Text, got.Origin, text)
			}
		}
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	before := connected()
	before = Reduce(before, SensorMessage{Reading: reading(models.MetricTemperature, 20, t0)})
	snapshot := before.Field(models.MetricTemperature)

	after := Reduce(before, SensorMessage{Reading: reading(models.MetricTemperature, 30, t0.Add(time.Second))})
	after = Reduce(after, FetchFailed{Slot: SlotWeather, Message: "boom", At: t0})

	if got := before.Field(models.MetricTemperature).Telemetry.Value; got != snapshot.Telemetry.Value {
		t.Errorf("input state changed: temperature = %v, want %v", got, snapshot.Telemetry.Value)
	}
	if _, ok := before.Errors[SlotWeather]; ok {
		t.Error("input state errors changed")
	}
	if after.Version != before.Version+2 {
		t.Errorf("Version = %d, want %d", after.Version, before.Version+2)
	}
}

func TestProject_Precedence(t *testing.T) {
	policy := Policy{TelemetryStaleAfter: 10 * time.Minute, APIStaleAfter: 2 * time.Hour}
	weather := &models.WeatherSnapshot{Temperature: 31, Humidity: 40, CapturedAt: t0}

	tests := []struct {
		name       string
		events     []Event
		now        time.Time
		wantOrigin Origin
		wantText   string
	}{
		{
			name:       "nothing yet",
			now:        t0,
			wantOrigin: OriginNone,
			wantText:   Placeholder,
		},
		{
			name: "placeholder before live data",
			events: []Event{
				PlaceholderGenerated{Readings: []*models.SensorReading{reading(models.MetricTemperature, 18, t0)}},
			},
			now:        t0,
			wantOrigin: OriginPlaceholder,
			wantText:   "18.0",
		},
		{
			name: "telemetry wins while connected",
			events: []Event{
				ConnectionChanged{Status: models.StatusConnected, At: t0},
				WeatherFetched{Snapshot: weather},
				SensorMessage{Reading: reading(models.MetricTemperature, 24, t0)},
			},
			now:        t0.Add(time.Minute),
			wantOrigin: OriginTelemetry,
			wantText:   "24.0",
		},
		{
			name: "api when telemetry disconnected",
			events: []Event{
				ConnectionChanged{Status: models.StatusConnected, At: t0},
				SensorMessage{Reading: reading(models.MetricTemperature, 24, t0)},
				WeatherFetched{Snapshot: weather},
				ConnectionChanged{Status: models.StatusReconnecting, At: t0},
			},
			now:        t0.Add(time.Minute),
			wantOrigin: OriginAPI,
			wantText:   "31.0",
		},
		{
			name: "api when telemetry is stale",
			events: []Event{
				ConnectionChanged{Status: models.StatusConnected, At: t0},
				SensorMessage{Reading: reading(models.MetricTemperature, 24, t0)},
				WeatherFetched{Snapshot: &models.WeatherSnapshot{Temperature: 31, CapturedAt: t0.Add(30 * time.Minute)}},
			},
			now:        t0.Add(31 * time.Minute),
			wantOrigin: OriginAPI,
			wantText:   "31.0",
		},
		{
			name: "placeholder never shown after live data",
			events: []Event{
				WeatherFetched{Snapshot: weather},
				PlaceholderGenerated{Readings: []*models.SensorReading{reading(models.MetricTemperature, 18, t0)}},
			},
			now:        t0.Add(3 * time.Hour),
			wantOrigin: OriginNone,
			wantText:   Placeholder,
		},
		{
			name: "live data replaces placeholder",
			events: []Event{
				PlaceholderGenerated{Readings: []*models.SensorReading{reading(models.MetricTemperature, 18, t0)}},
				WeatherFetched{Snapshot: weather},
			},
			now:        t0,
			wantOrigin: OriginAPI,
			wantText:   "31.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			for _, e := range tt.events {
				s = Reduce(s, e)
			}
			got := valueOf(t, Project(s, tt.now, policy), models.MetricTemperature)
			if got.Origin != tt.wantOrigin {
				t.Errorf("Origin = %s, want %s", got.Origin, tt.wantOrigin)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestProject_ZeroWindowNeverExpires(t *testing.T) {
	s := Reduce(NewState(), WeatherFetched{Snapshot: &models.WeatherSnapshot{Temperature: 30, CapturedAt: t0}})
	d := Project(s, t0.Add(30*24*time.Hour), Policy{})

	if got := valueOf(t, d, models.MetricTemperature); got.Origin != OriginAPI {
		t.Errorf("Origin = %s, want api", got.Origin)
	}
	if d.Weather == nil || d.Weather.Stale {
		t.Error("weather should not be stale with expiry disabled")
	}
}

func TestReduce_FetchFailedKeepsWeather(t *testing.T) {
	snap := &models.WeatherSnapshot{Location: "Pune", Temperature: 29, CapturedAt: t0}
	s := Reduce(NewState(), WeatherFetched{Snapshot: snap})
	s = Reduce(s, FetchFailed{Slot: SlotWeather, Message: "Request timed out. Please try again.", At: t0.Add(time.Minute)})

	if s.Weather == nil || s.Weather.Location != "Pune" {
		t.Fatalf("Weather = %+v, want previous snapshot", s.Weather)
	}
	if s.Errors[SlotWeather] != "Request timed out. Please try again." {
		t.Errorf("Errors[weather] = %q", s.Errors[SlotWeather])
	}

	s = Reduce(s, WeatherFetched{Snapshot: snap})
	if _, ok := s.Errors[SlotWeather]; ok {
		t.Error("a successful fetch should clear the weather error")
	}
}

func TestReduce_Pump(t *testing.T) {
	s := connected()
	s = Reduce(s, CommandStarted{Command: models.PumpCommand(true), At: t0})
	if s.Pending == nil {
		t.Fatal("Pending should be set while a command is in flight")
	}
	if d := Project(s, t0, Policy{RequireConnection: true}); d.Pump.CanToggle {
		t.Error("controls should be disabled while pending")
	}

	s = Reduce(s, PumpCommandAcked{Command: models.PumpCommand(true), At: t0.Add(time.Second)})
	if !s.Pump.IsOn || s.Pending != nil {
		t.Errorf("Pump = %+v, Pending = %v after ack", s.Pump, s.Pending)
	}
	if !s.Pump.LastChangedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("LastChangedAt = %v", s.Pump.LastChangedAt)
	}

	s = Reduce(s, CommandStarted{Command: models.PumpCommand(false), At: t0})
	s = Reduce(s, CommandFailed{Command: models.PumpCommand(false), Message: "Command was not acknowledged. Please try again.", At: t0})
	if !s.Pump.IsOn {
		t.Error("a failed command must not change pump state")
	}
	if s.Errors[SlotCommand] == "" {
		t.Error("failed command should leave a message")
	}

	s = Reduce(s, PumpReported{Report: models.PumpReport{IsAuto: boolPtr(true), ReportedAt: t0.Add(time.Minute)}})
	if !s.Pump.IsAuto || !s.Pump.IsOn {
		t.Errorf("Pump = %+v, want on and auto", s.Pump)
	}

	d := Project(s, t0, Policy{RequireConnection: true})
	if d.Pump.CanToggle {
		t.Error("toggle must be disabled in auto mode")
	}
	if !d.Pump.CanToggleAuto {
		t.Error("auto toggle should stay enabled")
	}

	s = Reduce(s, ConnectionChanged{Status: models.StatusDisconnected, At: t0})
	d = Project(s, t0, Policy{RequireConnection: true})
	if d.Pump.CanToggleAuto || d.Pump.CanRequestUpdate {
		t.Error("controls should be disabled while disconnected")
	}
}

func TestReduce_LocationWarning(t *testing.T) {
	s := Reduce(NewState(), LocationResolved{
		Coordinate: models.Coordinate{Latitude: 40.7128, Longitude: -74.0060},
		Fallback:   true,
		Warning:    "Location access denied. Using default location.",
		At:         t0,
	})
	if !s.LocationFallback || s.Location == nil {
		t.Fatalf("state = %+v", s)
	}
	if s.Errors[SlotLocation] == "" {
		t.Error("fallback location should carry a warning")
	}

	s = Reduce(s, LocationResolved{Coordinate: models.Coordinate{Latitude: 1, Longitude: 2}, At: t0})
	if _, ok := s.Errors[SlotLocation]; ok || s.LocationFallback {
		t.Error("a real fix should clear the warning")
	}
}

func TestReduce_PredictionMade(t *testing.T) {
	rec := models.NewPredictionRecord("id-1", models.PredictionValues{N: 90}, "rice", t0)
	s := Reduce(NewState(), PredictionMade{Record: rec})
	if s.LastPrediction == nil || s.LastPrediction.PredictedLabel != "rice" {
		t.Errorf("LastPrediction = %+v", s.LastPrediction)
	}
}
