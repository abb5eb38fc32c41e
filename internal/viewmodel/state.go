// Package viewmodel reconciles every data feed of the dashboard into one
// immutable State.
//
// Feeds never write to the state directly. They emit typed events which
// Reduce folds into a new State, one at a time, through the Store. Which
// value is shown for a metric is decided later by Project, against the
// clock, so staleness is evaluated at read time.
package viewmodel

import (
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Origin names the feed a displayed value came from
type Origin string

const (
	OriginTelemetry   Origin = "telemetry"
	OriginAPI         Origin = "api"
	OriginPlaceholder Origin = "placeholder"
	OriginNone        Origin = "none"
)

// Error slots for user-visible messages
const (
	SlotLocation   = "location"
	SlotWeather    = "weather"
	SlotForecast   = "forecast"
	SlotSensors    = "sensors"
	SlotCommand    = "command"
	SlotPrediction = "prediction"
)

// Sample is one value with the time it was observed
type Sample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// FieldState holds every candidate value for one metric
type FieldState struct {
	Telemetry   *Sample `json:"telemetry,omitempty"`
	API         *Sample `json:"api,omitempty"`
	Placeholder *Sample `json:"placeholder,omitempty"`

	// LiveSeen is set once telemetry or an API value has arrived
	LiveSeen bool `json:"live_seen"`
}

// State is the reconciled dashboard state. Treat it as read-only: Reduce
// copies the maps it changes.
type State struct {
	Location         *models.Coordinate
	LocationFallback bool
	Weather          *models.WeatherSnapshot
	Forecast         *models.Forecast
	Fields           map[models.Metric]FieldState
	Pump             models.PumpState
	Connection       models.ConnectionStatus
	Pending          *models.Command
	LastPrediction   *models.PredictionRecord
	Errors           map[string]string
	Version          uint64
	UpdatedAt        time.Time
}

// NewState returns the empty state
func NewState() State {
	return State{
		Fields:     map[models.Metric]FieldState{},
		Errors:     map[string]string{},
		Connection: models.StatusDisconnected,
	}
}

// Field returns the candidates for metric
func (s State) Field(metric models.Metric) FieldState {
	return s.Fields[metric]
}

func (s State) withField(metric models.Metric, f FieldState) State {
	fields := make(map[models.Metric]FieldState, len(s.Fields)+1)
	for k, v := range s.Fields {
		fields[k] = v
	}
	fields[metric] = f
	s.Fields = fields
	return s
}

func (s State) withError(slot, message string) State {
	errs := make(map[string]string, len(s.Errors)+1)
	for k, v := range s.Errors {
		errs[k] = v
	}
	if message == "" {
		delete(errs, slot)
	} else {
		errs[slot] = message
	}
	s.Errors = errs
	return s
}

func (s State) clearError(slot string) State {
	if _, ok := s.Errors[slot]; !ok {
		return s
	}
	return s.withError(slot, "")
}
