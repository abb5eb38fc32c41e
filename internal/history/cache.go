// Package history keeps the bounded prediction history.
package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/models"
)

const (
	// Key is the storage key holding the JSON array of records
	Key = "cropPredictionHistory"

	// MaxEntries bounds the history length
	MaxEntries = 10
)

// KeyValue is the durable store behind the cache
type KeyValue interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Cache is the prediction history, newest first
type Cache struct {
	kv     KeyValue
	logger zerolog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewCache creates a cache over kv
func NewCache(kv KeyValue, logger zerolog.Logger) *Cache {
	return &Cache{
		kv:     kv,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// Load returns the unexpired records. Expired records are purged from the
// store; a corrupt value is discarded and reads as empty.
func (c *Cache) Load() ([]*models.PredictionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

func (c *Cache) load() ([]*models.PredictionRecord, error) {
	data, ok, err := c.kv.Get(Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if !ok || len(data) == 0 {
		return []*models.PredictionRecord{}, nil
	}

	var records []*models.PredictionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		perr := &models.ParseError{Op: "history", Err: err}
		c.logger.Warn().Err(perr).Msg("Discarding corrupt prediction history")
		if err := c.kv.Delete(Key); err != nil {
			return nil, fmt.Errorf("failed to discard corrupt history: %w", err)
		}
		return []*models.PredictionRecord{}, nil
	}

	now := c.now()
	valid := make([]*models.PredictionRecord, 0, len(records))
	for _, r := range records {
		if r == nil || r.Expired(now) {
			continue
		}
		valid = append(valid, r)
	}

	if len(valid) != len(records) {
		c.logger.Info().Int("purged", len(records)-len(valid)).Msg("Purged expired predictions")
		if err := c.save(valid); err != nil {
			return nil, err
		}
	}
	return valid, nil
}

// Append adds record at the front and keeps at most MaxEntries
func (c *Cache) Append(record *models.PredictionRecord) ([]*models.PredictionRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("record is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, err
	}

	next := make([]*models.PredictionRecord, 0, MaxEntries)
	next = append(next, record)
	for _, r := range records {
		if len(next) == MaxEntries {
			break
		}
		next = append(next, r)
	}

	if err := c.save(next); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("id", record.ID).Str("label", record.PredictedLabel).Int("entries", len(next)).Msg("Prediction saved")
	return next, nil
}

// Clear erases the history. It refuses unless confirmed.
func (c *Cache) Clear(confirmed bool) error {
	if !confirmed {
		return models.ErrConfirmationRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Delete(Key); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	c.logger.Info().Msg("Prediction history cleared")
	return nil
}

func (c *Cache) save(records []*models.PredictionRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := c.kv.Set(Key, data); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}
