package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
)

// BatchWriter persists a batch of readings
type BatchWriter interface {
	InsertBatch(readings []*models.SensorReading) error
}

// Archiver queues telemetry readings and writes them in batches
type Archiver struct {
	store       BatchWriter
	mirror      ReadingSink
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	queue       chan *models.SensorReading
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu            sync.RWMutex
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	totalDropped  int64
	lastWriteTime time.Time
}

// ReadingSink receives every archived reading as it is flushed
type ReadingSink interface {
	WriteReading(reading *models.SensorReading)
}

// ArchiverConfig holds configuration for the archiver
type ArchiverConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	ChannelSize int
}

// DefaultArchiverConfig returns the defaults used when config leaves them unset
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 1000,
	}
}

// ArchiverStats contains statistics about the archiver
type ArchiverStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewArchiver starts the background writer. mirror may be nil.
func NewArchiver(store BatchWriter, mirror ReadingSink, cfg ArchiverConfig, m *metrics.Metrics, logger zerolog.Logger) *Archiver {
	def := DefaultArchiverConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = def.FlushPeriod
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = def.ChannelSize
	}

	a := &Archiver{
		store:       store,
		mirror:      mirror,
		metrics:     m,
		logger:      logger.With().Str("component", "archiver").Logger(),
		queue:       make(chan *models.SensorReading, cfg.ChannelSize),
		batchSize:   cfg.BatchSize,
		flushPeriod: cfg.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	a.wg.Add(1)
	go a.loop()

	a.logger.Info().
		Int("batch_size", cfg.BatchSize).
		Dur("flush_period", cfg.FlushPeriod).
		Int("channel_size", cfg.ChannelSize).
		Msg("Archiver started")

	return a
}

// Archive queues a reading. It returns false when the queue is full or the
// archiver is stopped; the reading is dropped in that case.
func (a *Archiver) Archive(reading *models.SensorReading) bool {
	if reading == nil {
		return false
	}
	select {
	case <-a.stopChan:
		return false
	default:
	}

	select {
	case a.queue <- reading:
		return true
	default:
		a.mu.Lock()
		a.totalDropped++
		a.mu.Unlock()
		a.metrics.ArchiveDropped()
		a.logger.Warn().Str("metric", string(reading.Metric)).Msg("Archive queue full, dropping reading")
		return false
	}
}

func (a *Archiver) loop() {
	defer a.wg.Done()

	batch := make([]*models.SensorReading, 0, a.batchSize)
	ticker := time.NewTicker(a.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case r := <-a.queue:
			batch = append(batch, r)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = make([]*models.SensorReading, 0, a.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = make([]*models.SensorReading, 0, a.batchSize)
			}

		case <-a.stopChan:
			for {
				select {
				case r := <-a.queue:
					batch = append(batch, r)
					continue
				default:
				}
				break
			}
			a.flush(batch)
			a.logger.Info().Msg("Archiver stopped")
			return
		}
	}
}

func (a *Archiver) flush(batch []*models.SensorReading) {
	if len(batch) == 0 {
		return
	}

	err := a.store.InsertBatch(batch)

	a.mu.Lock()
	if err != nil {
		a.totalErrors++
	} else {
		a.totalWritten += int64(len(batch))
		a.totalBatches++
		a.lastWriteTime = time.Now()
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to archive batch")
		return
	}
	a.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")

	if a.mirror != nil {
		for _, r := range batch {
			a.mirror.WriteReading(r)
		}
	}
}

// Stop flushes whatever is queued and stops the writer
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.wg.Wait()
	})
}

// Stats returns current archiver statistics
func (a *Archiver) Stats() ArchiverStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return ArchiverStats{
		TotalWritten:  a.totalWritten,
		TotalBatches:  a.totalBatches,
		TotalErrors:   a.totalErrors,
		TotalDropped:  a.totalDropped,
		LastWriteTime: a.lastWriteTime,
		QueueLength:   len(a.queue),
	}
}
