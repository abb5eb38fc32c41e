package models

import (
	"strings"
	"time"
)

// Coordinate is a position in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsZero reports whether the coordinate was never set
func (c Coordinate) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// Valid reports whether the coordinate is on the globe
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// SkyCondition is the lower-cased main weather group
type SkyCondition string

const (
	SkyClear        SkyCondition = "clear"
	SkyClouds       SkyCondition = "clouds"
	SkyRain         SkyCondition = "rain"
	SkyThunderstorm SkyCondition = "thunderstorm"
	SkyDrizzle      SkyCondition = "drizzle"
	SkySnow         SkyCondition = "snow"
	SkyMist         SkyCondition = "mist"
	SkyUnknown      SkyCondition = "unknown"
)

// ParseSkyCondition maps a provider condition onto the known set
func ParseSkyCondition(main string) SkyCondition {
	switch c := SkyCondition(strings.ToLower(strings.TrimSpace(main))); c {
	case SkyClear, SkyClouds, SkyRain, SkyThunderstorm, SkyDrizzle, SkySnow, SkyMist:
		return c
	case "haze", "fog", "smoke", "dust", "sand":
		return SkyMist
	default:
		return SkyUnknown
	}
}

// WeatherSnapshot is the current conditions from the weather API
type WeatherSnapshot struct {
	Location     string       `json:"location"`
	Temperature  float64      `json:"temperature"`
	Humidity     float64      `json:"humidity"`
	WindSpeed    float64      `json:"wind_speed_kmh"`
	SkyCondition SkyCondition `json:"sky_condition"`
	CapturedAt   time.Time    `json:"captured_at"`
}

// ForecastDay is one day of the daily forecast
type ForecastDay struct {
	Date        time.Time `json:"date"`
	Temperature float64   `json:"temperature"`
	Rainfall    float64   `json:"rainfall"`
}

// Forecast is the daily outlook plus its extremes
type Forecast struct {
	Days        []ForecastDay `json:"days"`
	MaxTemp     float64       `json:"max_temp"`
	MinTemp     float64       `json:"min_temp"`
	MaxRainfall float64       `json:"max_rainfall"`
	MinRainfall float64       `json:"min_rainfall"`
	CapturedAt  time.Time     `json:"captured_at"`
}

// NewForecast computes the extremes over the given days
func NewForecast(days []ForecastDay, capturedAt time.Time) *Forecast {
	f := &Forecast{Days: days, CapturedAt: capturedAt}
	for i, d := range days {
		if i == 0 || d.Temperature > f.MaxTemp {
			f.MaxTemp = d.Temperature
		}
		if i == 0 || d.Temperature < f.MinTemp {
			f.MinTemp = d.Temperature
		}
		if i == 0 || d.Rainfall > f.MaxRainfall {
			f.MaxRainfall = d.Rainfall
		}
		if i == 0 || d.Rainfall < f.MinRainfall {
			f.MinRainfall = d.Rainfall
		}
	}
	return f
}

// ClimateSeries is daily history from the climate archive
type ClimateSeries struct {
	Dates         []string  `json:"dates"`
	MaxTemps      []float64 `json:"max_temps"`
	MinTemps      []float64 `json:"min_temps"`
	Precipitation []float64 `json:"precipitation"`
}

// DetectionResult is the pest detection verdict for a leaf image
type DetectionResult struct {
	LeafName   string `json:"leaf_name"`
	Status     string `json:"status"`
	Confidence string `json:"confidence"`
	Cause      string `json:"cause,omitempty"`
	Treatment  string `json:"treatment,omitempty"`
	Prevention string `json:"prevention,omitempty"`
}
