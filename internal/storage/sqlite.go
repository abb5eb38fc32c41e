package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Store defines the local database used by the dashboard
type Store interface {
	Close() error
	Migrate() error

	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error

	InsertBatch(readings []*models.SensorReading) error
	GetReadingsInRange(metric models.Metric, start, end time.Time, limit int) ([]*models.SensorReading, error)
	GetLatestReading(metric models.Metric) (*models.SensorReading, error)
	GetDailyStats(metric models.Metric, start, end time.Time) ([]DailyStat, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore holds the key-value table and the telemetry archive
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DailyStat is one day of one metric
type DailyStat struct {
	Date         time.Time     `json:"date"`
	Metric       models.Metric `json:"metric"`
	Min          float64       `json:"min"`
	Max          float64       `json:"max"`
	Avg          float64       `json:"avg"`
	ReadingCount int           `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	Keys           int       `json:"keys"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")
	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		observed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_readings_metric_time ON readings(metric, observed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(observed_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// Get returns the value stored under key
func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value
func (s *SQLiteStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// InsertBatch archives readings in a single transaction
func (s *SQLiteStore) InsertBatch(readings []*models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO readings (metric, value, unit, observed_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.Exec(string(r.Metric), r.Value, r.Unit, r.ObservedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to insert reading in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(readings)).Msg("Batch insert completed")
	return nil
}

// GetReadingsInRange returns readings of metric within [start, end], newest first.
// An empty metric matches every metric.
func (s *SQLiteStore) GetReadingsInRange(metric models.Metric, start, end time.Time, limit int) ([]*models.SensorReading, error) {
	query := `
		SELECT metric, value, unit, observed_at
		FROM readings
		WHERE (? = '' OR metric = ?) AND observed_at BETWEEN ? AND ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query,
		string(metric), string(metric),
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []*models.SensorReading
	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return readings, nil
}

// GetLatestReading returns the newest archived reading of metric, or nil
func (s *SQLiteStore) GetLatestReading(metric models.Metric) (*models.SensorReading, error) {
	row := s.db.QueryRow(`
		SELECT metric, value, unit, observed_at
		FROM readings
		WHERE metric = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT 1
	`, string(metric))

	r, err := s.scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return r, nil
}

// GetDailyStats returns per-day aggregates for metric, newest day first
func (s *SQLiteStore) GetDailyStats(metric models.Metric, start, end time.Time) ([]DailyStat, error) {
	rows, err := s.db.Query(`
		SELECT
			date(observed_at) AS day,
			metric,
			MIN(value),
			MAX(value),
			AVG(value),
			COUNT(*)
		FROM readings
		WHERE metric = ? AND observed_at BETWEEN ? AND ?
		GROUP BY date(observed_at), metric
		ORDER BY day DESC
	`, string(metric), start.UTC().Format(timeLayout), end.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var day, m string
		if err := rows.Scan(&day, &m, &stat.Min, &stat.Max, &stat.Avg, &stat.ReadingCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stat.Metric = models.Metric(m)
		if stat.Date, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes archived readings observed more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM readings WHERE observed_at < ?", cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Debug().Int("days", days).Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Deleted old readings")
	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&stats.Keys); err != nil {
		return nil, fmt.Errorf("failed to count keys: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings); err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if stats.TotalReadings > 0 {
		var oldest, newest string
		if err := s.db.QueryRow("SELECT MIN(observed_at), MAX(observed_at) FROM readings").Scan(&oldest, &newest); err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		stats.OldestReading, _ = parseTimestamp(oldest)
		stats.NewestReading, _ = parseTimestamp(newest)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

func (s *SQLiteStore) scanReading(row interface{ Scan(...interface{}) error }) (*models.SensorReading, error) {
	var r models.SensorReading
	var metric, observedAt string

	if err := row.Scan(&metric, &r.Value, &r.Unit, &observedAt); err != nil {
		return nil, err
	}
	r.Metric = models.Metric(metric)

	var err error
	if r.ObservedAt, err = parseTimestamp(observedAt); err != nil {
		return nil, fmt.Errorf("failed to parse observed_at: %w", err)
	}
	return &r, nil
}

// parseTimestamp accepts the formats SQLite hands back for DATETIME columns
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.000",
		time.RFC3339Nano,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
