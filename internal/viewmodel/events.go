package viewmodel

import (
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Event is one input to Reduce
type Event interface {
	eventName() string
}

// LocationResolved carries the outcome of a geolocation lookup
type LocationResolved struct {
	Coordinate models.Coordinate
	Fallback   bool
	Warning    string
	At         time.Time
}

// WeatherFetched carries a fresh weather snapshot
type WeatherFetched struct {
	Snapshot *models.WeatherSnapshot
}

// ForecastFetched carries a fresh daily forecast
type ForecastFetched struct {
	Forecast *models.Forecast
}

// FetchFailed records a failed fetch. Previous data is kept.
type FetchFailed struct {
	Slot    string
	Message string
	At      time.Time
}

// SensorMessage carries one live reading. Origin is OriginTelemetry or OriginAPI.
type SensorMessage struct {
	Reading *models.SensorReading
	Origin  Origin
}

// PlaceholderGenerated carries generated demo readings
type PlaceholderGenerated struct {
	Readings []*models.SensorReading
}

// PumpReported carries pump state observed from the field
type PumpReported struct {
	Report models.PumpReport
}

// CommandStarted marks a command as in flight
type CommandStarted struct {
	Command models.Command
	At      time.Time
}

// PumpCommandAcked applies an acknowledged command
type PumpCommandAcked struct {
	Command models.Command
	At      time.Time
}

// CommandFailed records an unacknowledged command. State is unchanged.
type CommandFailed struct {
	Command models.Command
	Message string
	At      time.Time
}

// CommandRejected records a command refused before it was sent
type CommandRejected struct {
	Command models.Command
	Message string
	At      time.Time
}

// ConnectionChanged carries a telemetry status transition
type ConnectionChanged struct {
	Status models.ConnectionStatus
	At     time.Time
}

// PredictionMade carries a successful crop prediction
type PredictionMade struct {
	Record *models.PredictionRecord
}

func (LocationResolved) eventName() string     { return "location_resolved" }
func (WeatherFetched) eventName() string       { return "weather_fetched" }
func (ForecastFetched) eventName() string      { return "forecast_fetched" }
func (FetchFailed) eventName() string          { return "fetch_failed" }
func (SensorMessage) eventName() string        { return "sensor_message" }
func (PlaceholderGenerated) eventName() string { return "placeholder_generated" }
func (PumpReported) eventName() string         { return "pump_reported" }
func (CommandStarted) eventName() string       { return "command_started" }
func (PumpCommandAcked) eventName() string     { return "pump_command_acked" }
func (CommandFailed) eventName() string        { return "command_failed" }
func (CommandRejected) eventName() string      { return "command_rejected" }
func (ConnectionChanged) eventName() string    { return "connection_changed" }
func (PredictionMade) eventName() string       { return "prediction_made" }

// Name returns the event name used in logs
func Name(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventName()
}
