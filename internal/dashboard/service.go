// Package dashboard is the composition root of the service. It owns the
// view model store and routes every data feed and user action through it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/dispatch"
	"github.com/afroash/krishii-mitra/internal/geo"
	"github.com/afroash/krishii-mitra/internal/history"
	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/scheduler"
	"github.com/afroash/krishii-mitra/internal/source"
	"github.com/afroash/krishii-mitra/internal/storage"
	"github.com/afroash/krishii-mitra/internal/users"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// ErrUnavailable is returned by features that were not configured
var ErrUnavailable = errors.New("feature not configured")

// WeatherAPI fetches current conditions, the daily forecast and the climate archive
type WeatherAPI interface {
	FetchWeather(ctx context.Context, coord models.Coordinate) (*models.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, coord models.Coordinate, days int) (*models.Forecast, error)
	FetchClimate(ctx context.Context, coord models.Coordinate, months int) (*models.ClimateSeries, error)
}

// PredictionAPI runs the crop and pest models
type PredictionAPI interface {
	FetchPrediction(ctx context.Context, inputs models.PredictionInputs) (*models.PredictionRecord, error)
	FetchPestDetection(ctx context.Context, filename string, image []byte) (*models.DetectionResult, error)
}

// ChatAPI answers questions from the assistant panel
type ChatAPI interface {
	Ask(ctx context.Context, message string) (string, error)
}

// Locator resolves the farm position. It never fails.
type Locator interface {
	GetLocation(ctx context.Context) geo.Fix
}

// Archive queues live readings for durable storage
type Archive interface {
	Archive(reading *models.SensorReading) bool
}

// ArchiveQuery reads back the telemetry archive
type ArchiveQuery interface {
	GetReadingsInRange(metric models.Metric, start, end time.Time, limit int) ([]*models.SensorReading, error)
	GetLatestReading(metric models.Metric) (*models.SensorReading, error)
	GetDailyStats(metric models.Metric, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// UserDirectory syncs and lists dashboard users
type UserDirectory interface {
	Sync(ctx context.Context, clerkUserID string) (*users.User, error)
	List() ([]users.User, error)
}

// Options wires the service. Source, Geo, Weather, Predictor and History are
// required; the rest may be nil.
type Options struct {
	Source    source.Source
	Geo       Locator
	Weather   WeatherAPI
	Predictor PredictionAPI
	History   *history.Cache

	Chat    ChatAPI
	Archive Archive
	Query   ArchiveQuery
	Users   UserDirectory

	Policy          viewmodel.Policy
	WeatherInterval time.Duration
	ForecastDays    int
	ClimateMonths   int
	CommandTimeout  time.Duration
	TrendSize       int
	Metrics         *metrics.Metrics
}

// Service runs the dashboard
type Service struct {
	opts       Options
	store      *viewmodel.Store
	dispatcher *dispatch.Dispatcher
	trend      *Trend
	scheduler  *scheduler.Scheduler
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// Health is the service status reported on /health
type Health struct {
	Status     string                         `json:"status"`
	Source     string                         `json:"source"`
	Connection models.ConnectionStatus        `json:"connection"`
	InFlight   bool                           `json:"command_in_flight"`
	Store      viewmodel.StoreStats           `json:"store"`
	Trend      TrendStats                     `json:"trend"`
	Tasks      map[string]scheduler.TaskStats `json:"tasks"`
	Archive    *storage.StorageStats          `json:"archive,omitempty"`
}

// New creates the service. Call Start to begin fetching.
func New(opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.Source == nil || opts.Geo == nil || opts.Weather == nil || opts.Predictor == nil || opts.History == nil {
		return nil, fmt.Errorf("dashboard needs a source, locator, weather, predictor and history")
	}
	if opts.WeatherInterval <= 0 {
		opts.WeatherInterval = 30 * time.Minute
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = 7
	}
	if opts.ClimateMonths <= 0 {
		opts.ClimateMonths = 6
	}

	store := viewmodel.NewStore(viewmodel.NewState(), 256, logger)
	s := &Service{
		opts:       opts,
		store:      store,
		dispatcher: dispatch.New(opts.Source, store, opts.CommandTimeout, opts.Metrics, logger),
		trend:      NewTrend(opts.TrendSize),
		scheduler:  scheduler.New(logger),
		logger:     logger.With().Str("component", "dashboard").Logger(),
		now:        time.Now,
	}
	return s, nil
}

// Start begins the event loop, the data source and the periodic tasks
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.store.Start()
	s.seedFromArchive()
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.opts.Source.Start(ctx, s); err != nil {
		s.cancel()
		return fmt.Errorf("start source %s: %w", s.opts.Source.Name(), err)
	}

	tasks := []scheduler.Task{
		{Name: "weather", Interval: s.opts.WeatherInterval, Run: s.refreshConditions},
	}
	if every := s.opts.Source.PollInterval(); every > 0 {
		tasks = append(tasks, scheduler.Task{Name: "sensors", Interval: every, Run: s.opts.Source.Refresh})
	}
	for _, t := range tasks {
		if err := s.scheduler.Add(t); err != nil {
			s.cancel()
			return err
		}
	}
	s.scheduler.Start(ctx)
	s.started = true

	s.logger.Info().
		Str("source", s.opts.Source.Name()).
		Dur("weather_interval", s.opts.WeatherInterval).
		Dur("poll_interval", s.opts.Source.PollInterval()).
		Msg("Dashboard started")
	return nil
}

// seedFromArchive shows the newest archived reading of each metric until the
// source delivers a fresh one. Seeded readings are not archived again. The
// mock source only produces placeholders, so it is never seeded.
func (s *Service) seedFromArchive() {
	var origin viewmodel.Origin
	switch s.opts.Source.Name() {
	case config.SourceTelemetry:
		origin = viewmodel.OriginTelemetry
	case config.SourceRest:
		origin = viewmodel.OriginAPI
	default:
		return
	}
	if s.opts.Query == nil {
		return
	}
	for _, metric := range models.Metrics {
		r, err := s.opts.Query.GetLatestReading(metric)
		if err != nil {
			s.logger.Warn().Err(err).Str("metric", string(metric)).Msg("Failed to read last archived reading")
			continue
		}
		if r == nil {
			continue
		}
		s.trend.Add(r)
		s.store.Apply(viewmodel.SensorMessage{Reading: r, Origin: origin})
		s.logger.Debug().Str("reading", r.String()).Msg("Seeded from archive")
	}
}

// Stop halts the tasks and the source, then drains the event loop
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.cancel()
	if err := s.opts.Source.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close source")
	}
	s.store.Stop()
	s.started = false
	s.logger.Info().Msg("Dashboard stopped")
}

// Emit receives source events. Live readings also feed the trend and the archive.
func (s *Service) Emit(e viewmodel.Event) {
	switch ev := e.(type) {
	case viewmodel.SensorMessage:
		s.trend.Add(ev.Reading)
		if s.opts.Archive != nil && ev.Reading != nil {
			s.opts.Archive.Archive(ev.Reading)
		}
	case viewmodel.PlaceholderGenerated:
		for _, r := range ev.Readings {
			s.trend.Add(r)
		}
	}
	s.store.Dispatch(e)
}

// View returns the display projection of the current state
func (s *Service) View() viewmodel.Display {
	return s.Project(s.store.State())
}

// Project renders st with the configured policy
func (s *Service) Project(st viewmodel.State) viewmodel.Display {
	return viewmodel.Project(st, s.now(), s.opts.Policy)
}

// Subscribe streams every new state. Call the returned func to stop.
func (s *Service) Subscribe() (<-chan viewmodel.State, func()) {
	return s.store.Subscribe()
}

// SourceName is the configured data source
func (s *Service) SourceName() string {
	return s.opts.Source.Name()
}

// RefreshLocation runs the locator once and records the outcome
func (s *Service) RefreshLocation(ctx context.Context) geo.Fix {
	fix := s.opts.Geo.GetLocation(ctx)
	ev := viewmodel.LocationResolved{
		Coordinate: fix.Coordinate,
		Fallback:   fix.Fallback,
		At:         s.now(),
	}
	if fix.Warning != nil {
		ev.Warning = models.UserMessage(fix.Warning)
	}
	s.store.Apply(ev)
	return fix
}

func (s *Service) location(ctx context.Context) models.Coordinate {
	if loc := s.store.State().Location; loc != nil {
		return *loc
	}
	return s.RefreshLocation(ctx).Coordinate
}

// refreshConditions is the weather task: current conditions, then the forecast
func (s *Service) refreshConditions(ctx context.Context) error {
	_, weatherErr := s.RefreshWeather(ctx)
	_, forecastErr := s.Forecast(ctx, s.opts.ForecastDays)
	return errors.Join(weatherErr, forecastErr)
}

// Weather returns the last snapshot, or nil before the first fetch
func (s *Service) Weather() *models.WeatherSnapshot {
	return s.store.State().Weather
}

// RefreshWeather fetches current conditions for the farm position. A
// failure keeps the previous snapshot and sets the weather error.
func (s *Service) RefreshWeather(ctx context.Context) (*models.WeatherSnapshot, error) {
	snap, err := s.opts.Weather.FetchWeather(ctx, s.location(ctx))
	if err != nil {
		s.fail(viewmodel.SlotWeather, err)
		return nil, err
	}
	s.store.Apply(viewmodel.WeatherFetched{Snapshot: snap})
	return snap, nil
}

// Forecast fetches the daily forecast. Only the configured horizon is kept
// in the view.
func (s *Service) Forecast(ctx context.Context, days int) (*models.Forecast, error) {
	if days <= 0 {
		days = s.opts.ForecastDays
	}
	fc, err := s.opts.Weather.FetchForecast(ctx, s.location(ctx), days)
	if err != nil {
		if days == s.opts.ForecastDays {
			s.fail(viewmodel.SlotForecast, err)
		}
		return nil, err
	}
	if days == s.opts.ForecastDays {
		s.store.Apply(viewmodel.ForecastFetched{Forecast: fc})
	}
	return fc, nil
}

// Climate fetches the daily climate history for the last months
func (s *Service) Climate(ctx context.Context, months int) (*models.ClimateSeries, error) {
	if months <= 0 {
		months = s.opts.ClimateMonths
	}
	return s.opts.Weather.FetchClimate(ctx, s.location(ctx), months)
}

// Predict asks for a crop recommendation and records it in the history
func (s *Service) Predict(ctx context.Context, inputs models.PredictionInputs) (*models.PredictionRecord, error) {
	record, err := s.opts.Predictor.FetchPrediction(ctx, inputs)
	if err != nil {
		s.fail(viewmodel.SlotPrediction, err)
		return nil, err
	}
	if _, err := s.opts.History.Append(record); err != nil {
		s.logger.Error().Err(err).Str("id", record.ID).Msg("Failed to save prediction")
	}
	s.store.Apply(viewmodel.PredictionMade{Record: record})
	return record, nil
}

// History returns the unexpired predictions, newest first
func (s *Service) History() ([]*models.PredictionRecord, error) {
	return s.opts.History.Load()
}

// ClearHistory erases the prediction history once confirmed
func (s *Service) ClearHistory(confirmed bool) error {
	return s.opts.History.Clear(confirmed)
}

// ExportHistory writes the prediction history as an XLSX workbook
func (s *Service) ExportHistory(w io.Writer) error {
	records, err := s.opts.History.Load()
	if err != nil {
		return err
	}
	return WriteHistoryWorkbook(w, records)
}

// DetectPest runs the pest model on a leaf image
func (s *Service) DetectPest(ctx context.Context, filename string, image []byte) (*models.DetectionResult, error) {
	return s.opts.Predictor.FetchPestDetection(ctx, filename, image)
}

// Trend returns up to limit recent readings of metric, newest first
func (s *Service) Trend(metric models.Metric, limit int) []*models.SensorReading {
	return s.trend.Latest(metric, limit)
}

// TogglePump switches the pump. Rejected in auto mode.
func (s *Service) TogglePump(ctx context.Context) (models.Command, error) {
	return s.dispatcher.TogglePump(ctx)
}

// ToggleAutoMode flips between automatic and manual control
func (s *Service) ToggleAutoMode(ctx context.Context) (models.Command, error) {
	return s.dispatcher.ToggleAutoMode(ctx)
}

// RequestSensorUpdate asks the field device to publish fresh readings
func (s *Service) RequestSensorUpdate(ctx context.Context) (models.Command, error) {
	return s.dispatcher.RequestSensorUpdate(ctx)
}

// Ask forwards a question to the chat assistant
func (s *Service) Ask(ctx context.Context, message string) (string, error) {
	if s.opts.Chat == nil {
		return "", ErrUnavailable
	}
	return s.opts.Chat.Ask(ctx, message)
}

// SyncUser copies a user from the identity directory
func (s *Service) SyncUser(ctx context.Context, clerkUserID string) (*users.User, error) {
	if s.opts.Users == nil {
		return nil, ErrUnavailable
	}
	return s.opts.Users.Sync(ctx, clerkUserID)
}

// Users lists the synced users
func (s *Service) Users() ([]users.User, error) {
	if s.opts.Users == nil {
		return nil, ErrUnavailable
	}
	return s.opts.Users.List()
}

// ArchivedReadings returns archived readings of metric in [start, end], newest first.
// An empty metric matches every metric.
func (s *Service) ArchivedReadings(metric models.Metric, start, end time.Time, limit int) ([]*models.SensorReading, error) {
	if s.opts.Query == nil {
		return nil, ErrUnavailable
	}
	return s.opts.Query.GetReadingsInRange(metric, start, end, limit)
}

// DailyStats aggregates the archive per day over the last days
func (s *Service) DailyStats(metric models.Metric, days int) ([]storage.DailyStat, error) {
	if s.opts.Query == nil {
		return nil, ErrUnavailable
	}
	if days <= 0 {
		days = 7
	}
	end := s.now()
	return s.opts.Query.GetDailyStats(metric, end.AddDate(0, 0, -days), end)
}

// Health summarizes the service. It is degraded when controls need a
// connection that is down.
func (s *Service) Health() Health {
	st := s.store.State()
	h := Health{
		Status:     "ok",
		Source:     s.opts.Source.Name(),
		Connection: st.Connection,
		InFlight:   s.dispatcher.InFlight(),
		Store:      s.store.Stats(),
		Trend:      s.trend.Stats(),
		Tasks:      s.scheduler.Stats(),
	}
	if s.opts.Policy.RequireConnection && st.Connection != models.StatusConnected {
		h.Status = "degraded"
	}
	if s.opts.Query != nil {
		stats, err := s.opts.Query.GetStorageStats()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read storage stats")
		} else {
			h.Archive = stats
		}
	}
	return h
}

func (s *Service) fail(slot string, err error) {
	s.logger.Warn().Err(err).Str("slot", slot).Msg("Fetch failed")
	s.store.Apply(viewmodel.FetchFailed{Slot: slot, Message: models.UserMessage(err), At: s.now()})
}
