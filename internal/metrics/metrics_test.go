package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.TelemetryMessage("krishii/sensor/temp")
	m.TelemetryMessage("krishii/sensor/temp")
	m.TelemetryDropped("krishii/sensor/soil")
	m.Command("pump", "acked")

	if got := testutil.ToFloat64(m.telemetryMessages.WithLabelValues("krishii/sensor/temp")); got != 2 {
		t.Errorf("messages_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.telemetryDropped.WithLabelValues("krishii/sensor/soil")); got != 1 {
		t.Errorf("dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("pump", "acked")); got != 1 {
		t.Errorf("commands_total = %v, want 1", got)
	}

	m.SetConnectionStatus(2)
	if got := testutil.ToFloat64(m.connectionStatus); got != 2 {
		t.Errorf("connection_status = %v, want 2", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.TelemetryMessage("t")
	m.TelemetryDropped("t")
	m.SetConnectionStatus(1)
	m.ObserveFetch("weather", "ok", time.Second)
	m.Command("pump", "failed")
	m.ArchiveDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil Handler status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveFetch("weather", "ok", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "krishii_fetch_duration_seconds") {
		t.Error("exposition should contain the fetch histogram")
	}
}
