package storage

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

type countingPruner struct {
	calls atomic.Int32
	err   error
}

func (p *countingPruner) DeleteOlderThan(days int) (int64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return 0, p.err
	}
	return 3, nil
}

func TestRetentionCleaner_RunNow(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 30, CleanupPeriod: time.Hour}, testLogger())
	defer cleaner.Stop()

	// let the startup pass finish first
	for cleaner.Stats().TotalCleanups == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		store.InsertBatch([]*models.SensorReading{createTestReading(models.MetricSoilMoisture, 40, now.AddDate(0, 0, -35).Add(-time.Duration(i)*time.Hour))})
		store.InsertBatch([]*models.SensorReading{createTestReading(models.MetricSoilMoisture, 45, now.Add(-time.Duration(i)*time.Hour))})
	}

	deleted, err := cleaner.RunNow()
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if deleted != 10 {
		t.Errorf("deleted = %d, want 10", deleted)
	}

	stats := cleaner.Stats()
	if stats.LastDeleteCount != 10 || stats.RetentionDays != 30 {
		t.Errorf("stats = %+v", stats)
	}
	if got := countReadings(t, store); got != 10 {
		t.Errorf("TotalReadings = %d, want 10", got)
	}
}

func TestRetentionCleaner_RunsOnStartAndPeriodically(t *testing.T) {
	p := &countingPruner{}
	cleaner := NewRetentionCleaner(p, RetentionConfig{RetentionDays: 7, CleanupPeriod: 30 * time.Millisecond}, testLogger())

	time.Sleep(100 * time.Millisecond)
	cleaner.Stop()

	if got := p.calls.Load(); got < 2 {
		t.Errorf("calls = %d, want at least 2", got)
	}
	if got := cleaner.Stats().TotalDeleted; got < 6 {
		t.Errorf("TotalDeleted = %d, want at least 6", got)
	}
}

func TestRetentionCleaner_Error(t *testing.T) {
	p := &countingPruner{err: errors.New("locked")}
	cleaner := NewRetentionCleaner(p, RetentionConfig{RetentionDays: 7, CleanupPeriod: time.Hour}, testLogger())
	defer cleaner.Stop()

	if _, err := cleaner.RunNow(); err == nil {
		t.Fatal("RunNow() should return the store error")
	}
	if stats := cleaner.Stats(); stats.LastError != "locked" || stats.TotalDeleted != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRetentionCleaner_Defaults(t *testing.T) {
	p := &countingPruner{}
	cleaner := NewRetentionCleaner(p, RetentionConfig{}, testLogger())
	defer cleaner.Stop()

	if cleaner.cleanupPeriod != time.Hour {
		t.Errorf("cleanupPeriod = %v, want 1h", cleaner.cleanupPeriod)
	}
	if cleaner.retentionDays != 30 {
		t.Errorf("retentionDays = %d, want 30", cleaner.retentionDays)
	}
}
