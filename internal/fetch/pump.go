package fetch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// PumpStatus is the combined device report served by the pump API
type PumpStatus struct {
	IsOn         *bool    `json:"isOn"`
	IsAuto       *bool    `json:"isAuto"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	SoilMoisture *float64 `json:"soilMoisture"`
}

// Readings returns the sensor values present in the report
func (s *PumpStatus) Readings(at time.Time) []*models.SensorReading {
	var out []*models.SensorReading
	add := func(metric models.Metric, v *float64) {
		if v == nil {
			return
		}
		r := &models.SensorReading{Metric: metric, Value: *v, Unit: metric.Unit(), ObservedAt: at}
		if r.IsValid() {
			out = append(out, r)
		}
	}
	add(models.MetricTemperature, s.Temperature)
	add(models.MetricHumidity, s.Humidity)
	add(models.MetricSoilMoisture, s.SoilMoisture)
	return out
}

// Report returns the pump part of the status
func (s *PumpStatus) Report(at time.Time) models.PumpReport {
	return models.PumpReport{IsOn: s.IsOn, IsAuto: s.IsAuto, ReportedAt: at}
}

// PumpClient polls and commands a pump controller over HTTP
type PumpClient struct {
	client  *Client
	baseURL string
}

// NewPumpClient creates a pump API client
func NewPumpClient(client *Client, baseURL string) *PumpClient {
	return &PumpClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Status fetches the current device report
func (p *PumpClient) Status(ctx context.Context) (*PumpStatus, error) {
	var status PumpStatus
	if err := p.client.do(ctx, "pump_status", jsonRequest(http.MethodGet, p.baseURL+"/api/pump/status", nil), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Send posts a command. A 2xx response is the acknowledgement.
func (p *PumpClient) Send(ctx context.Context, cmd models.Command) error {
	if err := p.client.do(ctx, "pump_command", jsonRequest(http.MethodPost, p.baseURL+"/api/pump/command", cmd), nil); err != nil {
		return &models.CommandFailedError{Command: cmd.String(), Err: err}
	}
	return nil
}
