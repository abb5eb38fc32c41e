package fetch

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// WeatherClient talks to an OpenWeather compatible API and the
// Open-Meteo climate archive
type WeatherClient struct {
	weather    *Client
	climate    *Client
	baseURL    string
	climateURL string
	apiKey     string
	now        func() time.Time
}

// NewWeatherClient creates a weather client. The two clients may be the same.
func NewWeatherClient(weather, climate *Client, baseURL, climateURL, apiKey string) *WeatherClient {
	return &WeatherClient{
		weather:    weather,
		climate:    climate,
		baseURL:    strings.TrimRight(baseURL, "/"),
		climateURL: strings.TrimRight(climateURL, "/"),
		apiKey:     apiKey,
		now:        time.Now,
	}
}

type owmCurrent struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

// FetchWeather returns the current conditions at coord
func (w *WeatherClient) FetchWeather(ctx context.Context, coord models.Coordinate) (*models.WeatherSnapshot, error) {
	q := w.coordQuery(coord)
	endpoint := w.baseURL + "/data/2.5/weather?" + q.Encode()

	var payload owmCurrent
	if err := w.weather.do(ctx, "weather", jsonRequest(http.MethodGet, endpoint, nil), &payload); err != nil {
		return nil, err
	}

	sky := models.SkyUnknown
	if len(payload.Weather) > 0 {
		sky = models.ParseSkyCondition(payload.Weather[0].Main)
	}

	return &models.WeatherSnapshot{
		Location:     payload.Name,
		Temperature:  payload.Main.Temp,
		Humidity:     payload.Main.Humidity,
		WindSpeed:    math.Round(payload.Wind.Speed*3.6*10) / 10,
		SkyCondition: sky,
		CapturedAt:   w.now(),
	}, nil
}

type owmDaily struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Temp struct {
			Day float64 `json:"day"`
		} `json:"temp"`
		Rain float64 `json:"rain"`
	} `json:"list"`
}

// FetchForecast returns the daily forecast for the next days (1..16)
func (w *WeatherClient) FetchForecast(ctx context.Context, coord models.Coordinate, days int) (*models.Forecast, error) {
	if days < 1 || days > 16 {
		verr := &models.ValidationError{}
		verr.Add("days", "must be between 1 and 16")
		return nil, verr
	}

	q := w.coordQuery(coord)
	q.Set("cnt", strconv.Itoa(days))
	endpoint := w.baseURL + "/data/2.5/forecast/daily?" + q.Encode()

	var payload owmDaily
	if err := w.weather.do(ctx, "forecast", jsonRequest(http.MethodGet, endpoint, nil), &payload); err != nil {
		return nil, err
	}

	out := make([]models.ForecastDay, 0, len(payload.List))
	for _, d := range payload.List {
		out = append(out, models.ForecastDay{
			Date:        time.Unix(d.Dt, 0).UTC(),
			Temperature: math.Round(d.Temp.Day),
			Rainfall:    math.Round(d.Rain*10) / 10,
		})
	}
	return models.NewForecast(out, w.now()), nil
}

type openMeteoArchive struct {
	Daily struct {
		Time          []string  `json:"time"`
		MaxTemps      []float64 `json:"temperature_2m_max"`
		MinTemps      []float64 `json:"temperature_2m_min"`
		Precipitation []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// FetchClimate returns daily history for the last months (1..24)
func (w *WeatherClient) FetchClimate(ctx context.Context, coord models.Coordinate, months int) (*models.ClimateSeries, error) {
	if months < 1 || months > 24 {
		verr := &models.ValidationError{}
		verr.Add("months", "must be between 1 and 24")
		return nil, verr
	}

	end := w.now()
	start := end.AddDate(0, -months, 0)

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
	q.Set("timezone", "auto")
	endpoint := w.climateURL + "/v1/archive?" + q.Encode()

	var payload openMeteoArchive
	if err := w.climate.do(ctx, "climate", jsonRequest(http.MethodGet, endpoint, nil), &payload); err != nil {
		return nil, err
	}

	d := payload.Daily
	if len(d.MaxTemps) != len(d.Time) || len(d.MinTemps) != len(d.Time) || len(d.Precipitation) != len(d.Time) {
		return nil, &models.ParseError{Op: "climate", Err: fmt.Errorf("daily series have mismatched lengths")}
	}

	return &models.ClimateSeries{
		Dates:         d.Time,
		MaxTemps:      d.MaxTemps,
		MinTemps:      d.MinTemps,
		Precipitation: d.Precipitation,
	}, nil
}

func (w *WeatherClient) coordQuery(coord models.Coordinate) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	return q
}
