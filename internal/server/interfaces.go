package server

import (
	"context"
	"io"
	"time"

	"github.com/afroash/krishii-mitra/internal/dashboard"
	"github.com/afroash/krishii-mitra/internal/geo"
	"github.com/afroash/krishii-mitra/internal/models"
	"github.com/afroash/krishii-mitra/internal/storage"
	"github.com/afroash/krishii-mitra/internal/users"
	"github.com/afroash/krishii-mitra/internal/viewmodel"
)

// ViewSource is what the WebSocket hub needs: the current view and a
// stream of state changes.
// dashboard.Service implements this interface
type ViewSource interface {
	// View returns the display projection of the current state
	View() viewmodel.Display

	// Project renders a state pushed by Subscribe
	Project(st viewmodel.State) viewmodel.Display

	// Subscribe streams new states until the returned func is called
	Subscribe() (<-chan viewmodel.State, func())
}

// ViewerLister reports connected WebSocket viewers.
// Handler implements this interface
type ViewerLister interface {
	GetViewers() []Viewer
}

// Dashboard is every operation exposed over HTTP.
// dashboard.Service implements this interface
type Dashboard interface {
	ViewSource

	SourceName() string
	Health() dashboard.Health

	Weather() *models.WeatherSnapshot
	RefreshWeather(ctx context.Context) (*models.WeatherSnapshot, error)
	Forecast(ctx context.Context, days int) (*models.Forecast, error)
	Climate(ctx context.Context, months int) (*models.ClimateSeries, error)
	RefreshLocation(ctx context.Context) geo.Fix

	Predict(ctx context.Context, inputs models.PredictionInputs) (*models.PredictionRecord, error)
	History() ([]*models.PredictionRecord, error)
	ClearHistory(confirmed bool) error
	ExportHistory(w io.Writer) error
	DetectPest(ctx context.Context, filename string, image []byte) (*models.DetectionResult, error)

	Trend(metric models.Metric, limit int) []*models.SensorReading
	ArchivedReadings(metric models.Metric, start, end time.Time, limit int) ([]*models.SensorReading, error)
	DailyStats(metric models.Metric, days int) ([]storage.DailyStat, error)

	TogglePump(ctx context.Context) (models.Command, error)
	ToggleAutoMode(ctx context.Context) (models.Command, error)
	RequestSensorUpdate(ctx context.Context) (models.Command, error)

	Ask(ctx context.Context, message string) (string, error)
	SyncUser(ctx context.Context, clerkUserID string) (*users.User, error)
	Users() ([]users.User, error)
}
