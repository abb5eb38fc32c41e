package dashboard

import (
	"sync"
	"time"

	"github.com/afroash/krishii-mitra/internal/models"
)

// Trend keeps the most recent readings of each metric for charts
type Trend struct {
	capacity int
	data     map[models.Metric][]*models.SensorReading
	mutex    sync.RWMutex
	total    int64
}

// TrendStats contains statistics about the trend rings
type TrendStats struct {
	TotalReadings int64                       `json:"total_readings"`
	Capacity      int                         `json:"capacity"`
	Counts        map[models.Metric]int       `json:"counts"`
	Newest        map[models.Metric]time.Time `json:"newest"`
}

// NewTrend creates rings holding capacity readings per metric
func NewTrend(capacity int) *Trend {
	if capacity <= 0 {
		capacity = 100
	}
	return &Trend{
		capacity: capacity,
		data:     make(map[models.Metric][]*models.SensorReading),
	}
}

// Add appends a reading, evicting the oldest of its metric when full
func (t *Trend) Add(reading *models.SensorReading) {
	if reading == nil {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	readings := t.data[reading.Metric]
	if len(readings) >= t.capacity {
		readings = readings[1:]
	}
	cp := *reading
	readings = append(readings, &cp)
	t.data[reading.Metric] = readings
	t.total++
}

// Latest returns up to n readings of metric, newest first
func (t *Trend) Latest(metric models.Metric, n int) []*models.SensorReading {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	readings := t.data[metric]
	if len(readings) == 0 || n <= 0 {
		return []*models.SensorReading{}
	}

	start := len(readings) - n
	if start < 0 {
		start = 0
	}

	result := make([]*models.SensorReading, len(readings)-start)
	for i, j := len(readings)-1, 0; i >= start; i, j = i-1, j+1 {
		cp := *readings[i]
		result[j] = &cp
	}
	return result
}

// Stats returns ring statistics
func (t *Trend) Stats() TrendStats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	stats := TrendStats{
		TotalReadings: t.total,
		Capacity:      t.capacity,
		Counts:        make(map[models.Metric]int, len(t.data)),
		Newest:        make(map[models.Metric]time.Time, len(t.data)),
	}
	for metric, readings := range t.data {
		stats.Counts[metric] = len(readings)
		if len(readings) > 0 {
			stats.Newest[metric] = readings[len(readings)-1].ObservedAt
		}
	}
	return stats
}
