package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/device"
	"github.com/afroash/krishii-mitra/internal/sensor"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/simulator.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadSimulatorConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.Logging.Format == "text" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	logger.Info().
		Str("version", version).
		Str("device", cfg.Device.ID).
		Str("broker", cfg.MQTT.BrokerURL).
		Msg("Starting field simulator")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	probe := sensor.NewDriftProbe(sensor.DefaultDrift(), time.Now().UnixNano())
	reader := sensor.NewReader(probe, cfg.Device.PublishInterval, logger)
	defer reader.Close()

	dev := device.New(cfg, nil, nil, logger)
	if err := run(ctx, dev, reader, logger); err != nil {
		logger.Fatal().Err(err).Msg("Simulator failed")
	}
	logger.Info().Msg("Simulator stopped")
}

// run connects the device and feeds it probe samples until ctx ends
func run(ctx context.Context, dev *device.Device, reader *sensor.Reader, logger zerolog.Logger) error {
	if err := dev.Connect(ctx); err != nil {
		return err
	}
	defer dev.Close()

	go func() {
		if err := reader.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Reader stopped")
		}
	}()

	err := dev.Run(ctx, reader.Samples())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
