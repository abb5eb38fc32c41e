package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// ReadingBuffer is the device backlog: readings taken while the broker was
// unreachable, replayed oldest first once it is back
type ReadingBuffer struct {
	mu          sync.Mutex
	queue       []*models.SensorReading
	limit       int
	evictOldest bool

	pushed  int64
	evicted int64
	refused int64
	peak    int
}

// BacklogStats describes the backlog at one instant
type BacklogStats struct {
	Buffered  int                   `json:"buffered"`
	Limit     int                   `json:"limit"`
	PerMetric map[models.Metric]int `json:"per_metric"`
	OldestAt  time.Time             `json:"oldest_at"`
	NewestAt  time.Time             `json:"newest_at"`
	Pushed    int64                 `json:"pushed"`
	Evicted   int64                 `json:"evicted"` // old readings discarded for new ones
	Refused   int64                 `json:"refused"` // new readings turned away while full
	Peak      int                   `json:"peak"`
}

// Span is the observation window the backlog covers
func (s BacklogStats) Span() time.Duration {
	if s.Buffered == 0 {
		return 0
	}
	return s.NewestAt.Sub(s.OldestAt)
}

// NewReadingBuffer creates a backlog holding up to limit readings. When full,
// evictOldest discards the oldest reading; otherwise the new one is refused.
func NewReadingBuffer(limit int, evictOldest bool) *ReadingBuffer {
	if limit <= 0 {
		limit = 1
	}
	return &ReadingBuffer{
		queue:       make([]*models.SensorReading, 0, limit),
		limit:       limit,
		evictOldest: evictOldest,
	}
}

// Push adds a reading. Returns false if it was refused.
func (b *ReadingBuffer) Push(r *models.SensorReading) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.limit {
		if !b.evictOldest {
			b.refused++
			return false
		}
		b.queue = b.queue[1:]
		b.evicted++
	}
	b.queue = append(b.queue, r)
	b.pushed++
	b.peak = max(b.peak, len(b.queue))
	return true
}

// PopBatch removes and returns up to n readings, oldest first
func (b *ReadingBuffer) PopBatch(n int) []*models.SensorReading {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, len(b.queue))
	if n <= 0 {
		return nil
	}
	batch := make([]*models.SensorReading, n)
	copy(batch, b.queue)
	b.queue = b.queue[n:]
	return batch
}

// Requeue puts readings back at the front after a failed send. Whatever no
// longer fits is evicted from the oldest end.
func (b *ReadingBuffer) Requeue(readings []*models.SensorReading) {
	if len(readings) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := append(append(make([]*models.SensorReading, 0, len(readings)+len(b.queue)), readings...), b.queue...)
	if over := len(merged) - b.limit; over > 0 {
		merged = merged[over:]
		b.evicted += int64(over)
	}
	b.queue = merged
}

// Size is the number of readings waiting
func (b *ReadingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats summarizes the backlog
func (b *ReadingBuffer) Stats() BacklogStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BacklogStats{
		Buffered:  len(b.queue),
		Limit:     b.limit,
		PerMetric: make(map[models.Metric]int, len(models.Metrics)),
		Pushed:    b.pushed,
		Evicted:   b.evicted,
		Refused:   b.refused,
		Peak:      b.peak,
	}
	for _, r := range b.queue {
		st.PerMetric[r.Metric]++
		if st.OldestAt.IsZero() || r.ObservedAt.Before(st.OldestAt) {
			st.OldestAt = r.ObservedAt
		}
		if r.ObservedAt.After(st.NewestAt) {
			st.NewestAt = r.ObservedAt
		}
	}
	return st
}

// String renders the backlog for logs, e.g.
// "backlog 3/10 [temperature:1 soilMoisture:2] since 09:00:05 (evicted 0, refused 0)"
func (b *ReadingBuffer) String() string {
	st := b.Stats()
	if st.Buffered == 0 {
		return fmt.Sprintf("backlog 0/%d (evicted %d, refused %d)", st.Limit, st.Evicted, st.Refused)
	}

	parts := make([]string, 0, len(models.Metrics))
	for _, m := range models.Metrics {
		if n := st.PerMetric[m]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", m, n))
		}
	}
	return fmt.Sprintf("backlog %d/%d [%s] since %s (evicted %d, refused %d)",
		st.Buffered, st.Limit, strings.Join(parts, " "),
		st.OldestAt.Format(time.TimeOnly), st.Evicted, st.Refused)
}
