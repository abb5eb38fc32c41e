package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/dashboard"
	"github.com/afroash/krishii-mitra/internal/fetch"
	"github.com/afroash/krishii-mitra/internal/geo"
	"github.com/afroash/krishii-mitra/internal/history"
	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/server"
	"github.com/afroash/krishii-mitra/internal/source"
	"github.com/afroash/krishii-mitra/internal/storage"
	"github.com/afroash/krishii-mitra/internal/users"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/krishii.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	logger.Info().
		Str("version", version).
		Str("source", cfg.Dashboard.Source).
		Int("port", cfg.Server.Port).
		Msg("Starting Krishii Mitra")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	m := metrics.New()

	upstream := func(name string) *fetch.Client {
		return fetch.NewClient(fetch.ClientConfig{
			Name:            name,
			Timeout:         cfg.Upstreams.Timeout,
			BreakerFailures: cfg.Upstreams.BreakerFailures,
			BreakerOpen:     cfg.Upstreams.BreakerOpen,
		}, m, logger)
	}

	weather := fetch.NewWeatherClient(upstream("weather"), upstream("climate"),
		cfg.Weather.BaseURL, cfg.Weather.ClimateURL, cfg.Weather.APIKey)
	predictor := fetch.NewPredictionClient(upstream("prediction"), upstream("pest"),
		cfg.Upstreams.PredictionURL, cfg.Upstreams.PestURL)
	chat := fetch.NewChatClient(upstream("chat"), cfg.Upstreams.ChatURL)

	var locator geo.Locator = geo.StaticLocator{Latitude: cfg.Geo.Latitude, Longitude: cfg.Geo.Longitude}
	if cfg.Geo.Mode == config.GeoModeIP {
		locator = geo.IPLocator{URL: cfg.Geo.LookupURL}
	}
	provider := geo.NewProvider(locator,
		models.Coordinate{Latitude: cfg.Geo.FallbackLatitude, Longitude: cfg.Geo.FallbackLongitude},
		cfg.Geo.Timeout, logger)

	// Setup database
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create data directory")
	}
	sqliteStore, err := storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create SQLite store")
	}
	logger.Info().Str("path", cfg.Storage.DBPath).Msg("SQLite store opened")

	var influx *storage.InfluxSink
	var archiver *storage.Archiver
	var cleaner *storage.RetentionCleaner
	if cfg.Storage.Archive {
		var mirror storage.ReadingSink
		if cfg.Influx.URL != "" {
			influx = storage.NewInfluxSink(cfg.Influx, cfg.Dashboard.Source, logger)
			mirror = influx
			logger.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("Mirroring telemetry to InfluxDB")
		}
		archiver = storage.NewArchiver(sqliteStore, mirror, storage.ArchiverConfig{
			BatchSize:   cfg.Storage.BatchSize,
			FlushPeriod: cfg.Storage.FlushPeriod,
			ChannelSize: cfg.Storage.ChannelSize,
		}, m, logger)
		cleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionConfig{
			RetentionDays: cfg.Storage.RetentionDays,
			CleanupPeriod: cfg.Storage.CleanupPeriod,
		}, logger)
		logger.Info().Int("retention_days", cfg.Storage.RetentionDays).Dur("cleanup_period", cfg.Storage.CleanupPeriod).Msg("Telemetry archive enabled")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Users.DBPath), 0755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create users directory")
	}
	usersDB, err := users.Open(cfg.Users.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open users database")
	}
	directory := fetch.NewDirectoryClient(upstream("directory"), cfg.Users.DirectoryURL, cfg.Users.SecretKey)
	userService := users.NewService(directory, users.NewRepository(usersDB), logger)

	var pumpAPI source.PumpAPI
	if cfg.Upstreams.PumpAPIURL != "" {
		pumpAPI = fetch.NewPumpClient(upstream("pump"), cfg.Upstreams.PumpAPIURL)
	}
	src, err := source.FromConfig(cfg, pumpAPI, nil, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create data source")
	}

	opts := dashboard.Options{
		Source:    src,
		Geo:       provider,
		Weather:   weather,
		Predictor: predictor,
		History:   history.NewCache(sqliteStore, logger),
		Chat:      chat,
		Query:     sqliteStore,
		Users:     userService,
		Policy: viewmodel.Policy{
			TelemetryStaleAfter: cfg.Dashboard.TelemetryStaleAfter,
			APIStaleAfter:       cfg.Dashboard.WeatherStaleAfter,
			RequireConnection:   cfg.Dashboard.Source == config.SourceTelemetry,
		},
		WeatherInterval: cfg.Weather.RefreshInterval,
		ForecastDays:    cfg.Weather.ForecastDays,
		ClimateMonths:   cfg.Weather.ClimateMonths,
		CommandTimeout:  cfg.Dashboard.CommandTimeout,
		TrendSize:       cfg.Dashboard.TrendSize,
		Metrics:         m,
	}
	if archiver != nil {
		opts.Archive = archiver
	}

	svc, err := dashboard.New(opts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dashboard")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start dashboard")
	}

	info := models.NewServiceInfo("krishii-mitra", version, svc.SourceName())
	hub := server.NewHandler(cfg.Server.AuthToken, svc, svc.SourceName(), logger, cfg.Server.AllowedOrigins...)
	api := server.NewAPIHandler(svc, info, m, logger)
	api.SetViewers(hub)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("GET /ws/view", hub)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	svc.Stop()
	logger.Info().Msg("Dashboard stopped")

	if archiver != nil {
		archiver.Stop()
		logger.Info().Msg("Archiver stopped")
	}
	if cleaner != nil {
		cleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if influx != nil {
		influx.Close()
	}
	if err := sqliteStore.Close(); err != nil {
		logger.Error().Err(err).Msg("SQLite close error")
	}
	if sqlDB, err := usersDB.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info().Msg("Server stopped")
}

// newLogger builds the process logger from config. The returned func closes
// the log file, if any.
func newLogger(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return zerolog.Logger{}, nil, err
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = func() { f.Close() }
	}
	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}
