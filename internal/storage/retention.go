package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner removes archived data older than a number of days
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleaner periodically prunes the telemetry archive
type RetentionCleaner struct {
	store         Pruner
	logger        zerolog.Logger
	retentionDays int
	cleanupPeriod time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	mu              sync.RWMutex
	totalDeleted    int64
	totalCleanups   int64
	lastCleanup     time.Time
	lastDeleteCount int64
	lastErr         string
}

// RetentionConfig holds configuration for the cleaner
type RetentionConfig struct {
	RetentionDays int
	CleanupPeriod time.Duration
}

// RetentionStats contains statistics about the cleaner
type RetentionStats struct {
	TotalDeleted    int64     `json:"total_deleted"`
	TotalCleanups   int64     `json:"total_cleanups"`
	LastCleanup     time.Time `json:"last_cleanup,omitempty"`
	LastDeleteCount int64     `json:"last_delete_count"`
	LastError       string    `json:"last_error,omitempty"`
	RetentionDays   int       `json:"retention_days"`
}

// NewRetentionCleaner starts a cleaner that prunes immediately and then
// every CleanupPeriod
func NewRetentionCleaner(store Pruner, cfg RetentionConfig, logger zerolog.Logger) *RetentionCleaner {
	logger = logger.With().Str("component", "retention").Logger()

	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupPeriod <= 0 {
		logger.Warn().Dur("provided_period", cfg.CleanupPeriod).Msg("Invalid cleanup period, using 1h")
		cfg.CleanupPeriod = time.Hour
	}

	c := &RetentionCleaner{
		store:         store,
		logger:        logger,
		retentionDays: cfg.RetentionDays,
		cleanupPeriod: cfg.CleanupPeriod,
		stopChan:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.loop()

	logger.Info().
		Int("retention_days", cfg.RetentionDays).
		Dur("cleanup_period", cfg.CleanupPeriod).
		Msg("Retention cleaner started")

	return c
}

func (c *RetentionCleaner) loop() {
	defer c.wg.Done()

	c.RunNow()

	ticker := time.NewTicker(c.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunNow()
		case <-c.stopChan:
			c.logger.Info().Msg("Retention cleaner stopped")
			return
		}
	}
}

// RunNow prunes immediately and returns the number of rows removed
func (c *RetentionCleaner) RunNow() (int64, error) {
	deleted, err := c.store.DeleteOlderThan(c.retentionDays)

	c.mu.Lock()
	c.totalCleanups++
	c.lastCleanup = time.Now()
	if err != nil {
		c.lastErr = err.Error()
	} else {
		c.lastErr = ""
		c.totalDeleted += deleted
		c.lastDeleteCount = deleted
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Msg("Retention cleanup failed")
	case deleted > 0:
		c.logger.Info().Int64("deleted", deleted).Int("retention_days", c.retentionDays).Msg("Retention cleanup completed")
	default:
		c.logger.Debug().Msg("Retention cleanup found nothing to delete")
	}
	return deleted, err
}

// Stop stops the cleaner
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

// Stats returns current cleaner statistics
func (c *RetentionCleaner) Stats() RetentionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return RetentionStats{
		TotalDeleted:    c.totalDeleted,
		TotalCleanups:   c.totalCleanups,
		LastCleanup:     c.lastCleanup,
		LastDeleteCount: c.lastDeleteCount,
		LastError:       c.lastErr,
		RetentionDays:   c.retentionDays,
	}
}
