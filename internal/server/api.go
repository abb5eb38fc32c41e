package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
)

const (
	maxRequestBytes = 1 << 20
	maxUploadBytes  = 10 << 20

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// APIHandler handles HTTP API requests for the dashboard
type APIHandler struct {
	dash    Dashboard
	info    *models.ServiceInfo
	metrics *metrics.Metrics
	viewers ViewerLister
	logger  zerolog.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(dash Dashboard, info *models.ServiceInfo, m *metrics.Metrics, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		dash:    dash,
		info:    info,
		metrics: m,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// SetViewers makes /health list the hub's connected viewers
func (api *APIHandler) SetViewers(l ViewerLister) {
	api.viewers = l
}

// Register adds every API route to mux
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/view", api.HandleView)
	mux.HandleFunc("GET /api/weather", api.HandleWeather)
	mux.HandleFunc("POST /api/weather/refresh", api.HandleRefreshWeather)
	mux.HandleFunc("GET /api/forecast", api.HandleForecast)
	mux.HandleFunc("GET /api/climate", api.HandleClimate)
	mux.HandleFunc("POST /api/location/refresh", api.HandleRefreshLocation)

	mux.HandleFunc("POST /api/predict", api.HandlePredict)
	mux.HandleFunc("GET /api/history", api.HandleHistory)
	mux.HandleFunc("DELETE /api/history", api.HandleClearHistory)
	mux.HandleFunc("GET /api/history/export", api.HandleExportHistory)
	mux.HandleFunc("POST /api/pest", api.HandlePest)

	mux.HandleFunc("GET /api/trend", api.HandleTrend)
	mux.HandleFunc("GET /api/archive", api.HandleArchive)
	mux.HandleFunc("GET /api/archive/daily", api.HandleDailyStats)

	mux.HandleFunc("POST /api/pump/toggle", api.HandleTogglePump)
	mux.HandleFunc("POST /api/pump/auto", api.HandleToggleAuto)
	mux.HandleFunc("POST /api/sensors/request", api.HandleSensorRequest)

	mux.HandleFunc("POST /api/chat", api.HandleChat)
	mux.HandleFunc("POST /api/users/sync", api.HandleSyncUser)
	mux.HandleFunc("GET /api/users", api.HandleUsers)

	mux.HandleFunc("GET /health", api.HandleHealth)
	if api.metrics != nil {
		mux.Handle("GET /metrics", api.metrics.Handler())
	}
}

// HandleView returns the display projection of the view model
func (api *APIHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.dash.View())
}

// HandleWeather returns the last weather snapshot
func (api *APIHandler) HandleWeather(w http.ResponseWriter, r *http.Request) {
	snap := api.dash.Weather()
	if snap == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No weather data yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleRefreshWeather fetches current conditions now
func (api *APIHandler) HandleRefreshWeather(w http.ResponseWriter, r *http.Request) {
	snap, err := api.dash.RefreshWeather(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleForecast returns the daily forecast (?days=1..16)
func (api *APIHandler) HandleForecast(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 0)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	fc, err := api.dash.Forecast(r.Context(), days)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

// HandleClimate returns the climate archive (?months=N)
func (api *APIHandler) HandleClimate(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r, "months", 0)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	series, err := api.dash.Climate(r.Context(), months)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

type locationResponse struct {
	Coordinate models.Coordinate `json:"coordinate"`
	Fallback   bool              `json:"fallback"`
	Warning    string            `json:"warning,omitempty"`
}

// HandleRefreshLocation re-runs geolocation. It always succeeds.
func (api *APIHandler) HandleRefreshLocation(w http.ResponseWriter, r *http.Request) {
	fix := api.dash.RefreshLocation(r.Context())
	resp := locationResponse{Coordinate: fix.Coordinate, Fallback: fix.Fallback}
	if fix.Warning != nil {
		resp.Warning = models.UserMessage(fix.Warning)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePredict runs a crop prediction and records it
func (api *APIHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var inputs models.PredictionInputs
	if err := decodeBody(r, &inputs); err != nil {
		api.writeError(w, r, err)
		return
	}
	record, err := api.dash.Predict(r.Context(), inputs)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleHistory returns the prediction history, newest first
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := api.dash.History()
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*models.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleClearHistory erases the history; requires ?confirm=true
func (api *APIHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := api.dash.ClearHistory(confirmed); err != nil {
		api.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleExportHistory downloads the history as a workbook
func (api *APIHandler) HandleExportHistory(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := api.dash.ExportHistory(&buf); err != nil {
		api.writeError(w, r, err)
		return
	}
	filename := "crop-history-" + time.Now().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// HandlePest forwards a leaf image (multipart field "file") to the pest model
func (api *APIHandler) HandlePest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		api.writeError(w, r, invalid("file", "is required"))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		api.writeError(w, r, invalid("file", "could not be read"))
		return
	}
	result, err := api.dash.DetectPest(r.Context(), header.Filename, image)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleTrend returns recent readings for charting (?metric=&limit=)
func (api *APIHandler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	metric, err := metricParam(r, models.MetricSoilMoisture)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.dash.Trend(metric, limit))
}

// HandleArchive returns archived readings (?metric=&start=&end=&limit=).
// start and end are RFC 3339; the default window is the last 24 hours.
func (api *APIHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	var metric models.Metric
	if r.URL.Query().Get("metric") != "" {
		m, err := metricParam(r, "")
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		metric = m
	}

	end, err := timeParam(r, "end", time.Now())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	start, err := timeParam(r, "start", end.Add(-24*time.Hour))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if start.After(end) {
		api.writeError(w, r, invalid("start", "must be before end"))
		return
	}
	limit, err := intParam(r, "limit", 500)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	readings, err := api.dash.ArchivedReadings(metric, start, end, limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if readings == nil {
		readings = []*models.SensorReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleDailyStats returns per-day aggregates (?metric=&days=)
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	metric, err := metricParam(r, models.MetricSoilMoisture)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	days, err := intParam(r, "days", 7)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	stats, err := api.dash.DailyStats(metric, days)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type commandResponse struct {
	Command models.Command `json:"command"`
	View    interface{}    `json:"view"`
}

func (api *APIHandler) handleCommand(w http.ResponseWriter, r *http.Request, cmd models.Command, err error) {
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: cmd, View: api.dash.View()})
}

// HandleTogglePump switches the pump
func (api *APIHandler) HandleTogglePump(w http.ResponseWriter, r *http.Request) {
	cmd, err := api.dash.TogglePump(r.Context())
	api.handleCommand(w, r, cmd, err)
}

// HandleToggleAuto flips automatic mode
func (api *APIHandler) HandleToggleAuto(w http.ResponseWriter, r *http.Request) {
	cmd, err := api.dash.ToggleAutoMode(r.Context())
	api.handleCommand(w, r, cmd, err)
}

// HandleSensorRequest asks the device for fresh readings
func (api *APIHandler) HandleSensorRequest(w http.ResponseWriter, r *http.Request) {
	cmd, err := api.dash.RequestSensorUpdate(r.Context())
	api.handleCommand(w, r, cmd, err)
}

type chatRequest struct {
	Message string `json:"message"`
}

// HandleChat forwards a question to the assistant
func (api *APIHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	answer, err := api.dash.Ask(r.Context(), req.Message)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "response": answer})
}

type syncRequest struct {
	ClerkUserID string `json:"clerkUserId"`
}

// HandleSyncUser copies a user from the identity directory
func (api *APIHandler) HandleSyncUser(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ClerkUserID) == "" {
		api.writeError(w, r, invalid("clerkUserId", "is required"))
		return
	}
	u, err := api.dash.SyncUser(r.Context(), req.ClerkUserID)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleUsers lists synced users
func (api *APIHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	list, err := api.dash.Users()
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type healthResponse struct {
	Status  string      `json:"status"`
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Source  string      `json:"source"`
	Uptime  string      `json:"uptime"`
	Viewers []Viewer    `json:"viewers"`
	Details interface{} `json:"details"`
}

// HandleHealth reports service status
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h := api.dash.Health()
	resp := healthResponse{
		Status:  h.Status,
		Source:  h.Source,
		Viewers: []Viewer{},
		Details: h,
	}
	if api.viewers != nil {
		resp.Viewers = api.viewers.GetViewers()
	}
	if api.info != nil {
		resp.Name = api.info.Name
		resp.Version = api.info.Version
		resp.Uptime = api.info.Uptime().Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody reads a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("body", "is required")
		}
		return invalid("body", "must be valid JSON")
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, invalid(name, "must be a non-negative integer")
	}
	return v, nil
}

func metricParam(r *http.Request, def models.Metric) (models.Metric, error) {
	raw := r.URL.Query().Get("metric")
	if raw == "" {
		return def, nil
	}
	m, err := models.ParseMetric(raw)
	if err != nil {
		return "", invalid("metric", "must be temperature, humidity or soilMoisture")
	}
	return m, nil
}

func timeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalid(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}
