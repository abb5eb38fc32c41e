package viewmodel

import (
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Reduce returns the state after applying e. It does not modify s.
func Reduce(s State, e Event) State {
	if s.Fields == nil {
		s.Fields = map[models.Metric]FieldState{}
	}
	if s.Errors == nil {
		s.Errors = map[string]string{}
	}

	var at time.Time

	switch ev := e.(type) {
	case LocationResolved:
		coord := ev.Coordinate
		s.Location = &coord
		s.LocationFallback = ev.Fallback
		s = s.withError(SlotLocation, ev.Warning)
		at = ev.At

	case WeatherFetched:
		if ev.Snapshot == nil {
			return s
		}
		snap := *ev.Snapshot
		s.Weather = &snap
		s = s.applyLive(models.MetricTemperature, OriginAPI, snap.Temperature, snap.CapturedAt)
		s = s.applyLive(models.MetricHumidity, OriginAPI, snap.Humidity, snap.CapturedAt)
		s = s.clearError(SlotWeather)
		at = snap.CapturedAt

	case ForecastFetched:
		if ev.Forecast == nil {
			return s
		}
		fc := *ev.Forecast
		s.Forecast = &fc
		s = s.clearError(SlotForecast)
		at = fc.CapturedAt

	case FetchFailed:
		s = s.withError(ev.Slot, ev.Message)
		at = ev.At

	case SensorMessage:
		if ev.Reading == nil {
			return s
		}
		origin := ev.Origin
		if origin != OriginAPI {
			origin = OriginTelemetry
		}
		s = s.applyLive(ev.Reading.Metric, origin, ev.Reading.Value, ev.Reading.ObservedAt)
		s = s.clearError(SlotSensors)
		at = ev.Reading.ObservedAt

	case PlaceholderGenerated:
		for _, r := range ev.Readings {
			if r == nil {
				continue
			}
			f := s.Field(r.Metric)
			if f.LiveSeen {
				continue
			}
			f.Placeholder = &Sample{Value: r.Value, At: r.ObservedAt}
			s = s.withField(r.Metric, f)
			if r.ObservedAt.After(at) {
				at = r.ObservedAt
			}
		}

	case PumpReported:
		changed := false
		if ev.Report.IsOn != nil && *ev.Report.IsOn != s.Pump.IsOn {
			s.Pump.IsOn = *ev.Report.IsOn
			changed = true
		}
		if ev.Report.IsAuto != nil && *ev.Report.IsAuto != s.Pump.IsAuto {
			s.Pump.IsAuto = *ev.Report.IsAuto
			changed = true
		}
		if changed {
			s.Pump.LastChangedAt = ev.Report.ReportedAt
		}
		at = ev.Report.ReportedAt

	case CommandStarted:
		cmd := ev.Command
		s.Pending = &cmd
		at = ev.At

	case PumpCommandAcked:
		s.Pending = nil
		switch ev.Command.Kind {
		case models.CommandPump:
			s.Pump.IsOn = ev.Command.Value == models.PayloadOn
			s.Pump.LastChangedAt = ev.At
		case models.CommandMode:
			s.Pump.IsAuto = ev.Command.Value == models.PayloadAuto
			s.Pump.LastChangedAt = ev.At
		}
		s = s.clearError(SlotCommand)
		at = ev.At

	case CommandFailed:
		s.Pending = nil
		s = s.withError(SlotCommand, ev.Message)
		at = ev.At

	case CommandRejected:
		s.Pending = nil
		s = s.withError(SlotCommand, ev.Message)
		at = ev.At

	case ConnectionChanged:
		s.Connection = ev.Status
		at = ev.At

	case PredictionMade:
		if ev.Record == nil {
			return s
		}
		rec := *ev.Record
		s.LastPrediction = &rec
		s = s.clearError(SlotPrediction)
		at = rec.CreatedAt

	default:
		return s
	}

	s.Version++
	if at.After(s.UpdatedAt) {
		s.UpdatedAt = at
	}
	return s
}

// applyLive stores a live value in its origin slot. Last write wins.
func (s State) applyLive(metric models.Metric, origin Origin, value float64, at time.Time) State {
	f := s.Field(metric)
	sample := &Sample{Value: value, At: at}
	if origin == OriginAPI {
		f.API = sample
	} else {
		f.Telemetry = sample
	}
	f.LiveSeen = true
	return s.withField(metric, f)
}
