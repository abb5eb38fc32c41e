package viewmodel

import (
	"strconv"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Placeholder is shown when no value may be displayed
const Placeholder = "--"

// Policy controls how values are selected for display. A zero window never expires.
type Policy struct {
	TelemetryStaleAfter time.Duration
	APIStaleAfter       time.Duration

	// RequireConnection disables pump controls while telemetry is down
	RequireConnection bool
}

// ReadingView is the displayed value of one metric
type ReadingView struct {
	Metric     models.Metric `json:"metric"`
	Value      *float64      `json:"value"`
	Text       string        `json:"text"`
	Unit       string        `json:"unit"`
	Origin     Origin        `json:"origin"`
	ObservedAt *time.Time    `json:"observed_at,omitempty"`
}

// PumpView is the pump card with its control affordances
type PumpView struct {
	models.PumpState
	Pending          bool `json:"pending"`
	CanToggle        bool `json:"can_toggle"`
	CanToggleAuto    bool `json:"can_toggle_auto"`
	CanRequestUpdate bool `json:"can_request_update"`
}

// WeatherView is the weather card. Stale is set past the API window.
type WeatherView struct {
	*models.WeatherSnapshot
	Stale bool `json:"stale"`
}

// Display is what the dashboard renders
type Display struct {
	Location         *models.Coordinate       `json:"location"`
	LocationFallback bool                     `json:"location_fallback"`
	Weather          *WeatherView             `json:"weather"`
	Forecast         *models.Forecast         `json:"forecast,omitempty"`
	Readings         []ReadingView            `json:"readings"`
	Pump             PumpView                 `json:"pump"`
	Connection       models.ConnectionStatus  `json:"connection"`
	LastPrediction   *models.PredictionRecord `json:"last_prediction,omitempty"`
	Errors           map[string]string        `json:"errors"`
	Version          uint64                   `json:"version"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Project renders s as seen at now
func Project(s State, now time.Time, p Policy) Display {
	connected := s.Connection == models.StatusConnected

	d := Display{
		Location:         s.Location,
		LocationFallback: s.LocationFallback,
		Forecast:         s.Forecast,
		Connection:       s.Connection,
		LastPrediction:   s.LastPrediction,
		Errors:           make(map[string]string, len(s.Errors)),
		Version:          s.Version,
		UpdatedAt:        s.UpdatedAt,
	}
	for k, v := range s.Errors {
		d.Errors[k] = v
	}

	if s.Weather != nil {
		d.Weather = &WeatherView{
			WeatherSnapshot: s.Weather,
			Stale:           !fresh(s.Weather.CapturedAt, now, p.APIStaleAfter),
		}
	}

	for _, metric := range models.Metrics {
		d.Readings = append(d.Readings, resolve(metric, s.Field(metric), connected, now, p))
	}

	controlsUp := connected || !p.RequireConnection
	pending := s.Pending != nil
	d.Pump = PumpView{
		PumpState:        s.Pump,
		Pending:          pending,
		CanToggle:        controlsUp && !pending && !s.Pump.IsAuto,
		CanToggleAuto:    controlsUp && !pending,
		CanRequestUpdate: controlsUp && !pending,
	}
	return d
}

// resolve applies the precedence policy to one metric
func resolve(metric models.Metric, f FieldState, connected bool, now time.Time, p Policy) ReadingView {
	view := ReadingView{Metric: metric, Unit: metric.Unit(), Origin: OriginNone, Text: Placeholder}

	var chosen *Sample
	switch {
	case connected && f.Telemetry != nil && fresh(f.Telemetry.At, now, p.TelemetryStaleAfter):
		chosen, view.Origin = f.Telemetry, OriginTelemetry
	case f.API != nil && fresh(f.API.At, now, p.APIStaleAfter):
		chosen, view.Origin = f.API, OriginAPI
	case !f.LiveSeen && f.Placeholder != nil:
		chosen, view.Origin = f.Placeholder, OriginPlaceholder
	default:
		return view
	}

	value := chosen.Value
	at := chosen.At
	view.Value = &value
	view.ObservedAt = &at
	view.Text = strconv.FormatFloat(value, 'f', 1, 64)
	return view
}

func fresh(at, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.Sub(at) <= window
}
