package storage

import (
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/config"
	"github.com/afroash/krishii-mitra/internal/models"
)

const measurement = "field_telemetry"

// InfluxSink mirrors archived readings to InfluxDB through the non-blocking
// write API. Write errors are reported asynchronously and only logged.
type InfluxSink struct {
	client influxdb2.Client
	api    api.WriteAPI
	logger zerolog.Logger
	source string

	mu        sync.RWMutex
	written   int64
	errors    int64
	lastError time.Time
	done      chan struct{}
}

// NewInfluxSink connects to cfg.URL. source tags every point.
func NewInfluxSink(cfg config.InfluxConfig, source string, logger zerolog.Logger) *InfluxSink {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	s := newInfluxSink(client.WriteAPI(cfg.Org, cfg.Bucket), source, logger)
	s.client = client
	s.logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Influx sink enabled")
	return s
}

func newInfluxSink(w api.WriteAPI, source string, logger zerolog.Logger) *InfluxSink {
	s := &InfluxSink{
		api:    w,
		logger: logger.With().Str("component", "influx").Logger(),
		source: source,
		done:   make(chan struct{}),
	}
	go s.listen()
	return s
}

func (s *InfluxSink) listen() {
	defer close(s.done)
	for err := range s.api.Errors() {
		if err == nil {
			continue
		}
		s.mu.Lock()
		s.errors++
		s.lastError = time.Now()
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("Influx write failed")
	}
}

// WriteReading queues one point
func (s *InfluxSink) WriteReading(r *models.SensorReading) {
	if r == nil {
		return
	}
	p := influxdb2.NewPoint(
		measurement,
		map[string]string{"metric": string(r.Metric), "source": s.source},
		map[string]interface{}{"value": r.Value},
		r.ObservedAt,
	)
	s.api.WritePoint(p)

	s.mu.Lock()
	s.written++
	s.mu.Unlock()
}

// Healthy reports whether no write error happened within window
func (s *InfluxSink) Healthy(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError.IsZero() || time.Since(s.lastError) > window
}

// Counts returns the points queued and the write errors seen
func (s *InfluxSink) Counts() (written, errors int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.written, s.errors
}

// Close flushes pending points and closes the client
func (s *InfluxSink) Close() {
	s.api.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
