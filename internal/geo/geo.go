// Package geo resolves the farm position used for weather lookups.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/models"
)

// ErrUnsupported is returned by a locator that cannot determine a position
var ErrUnsupported = errors.New("geolocation not supported")

// ErrDenied is returned when the lookup service refuses the request
var ErrDenied = errors.New("geolocation denied")

// Locator determines the device position
type Locator interface {
	Locate(ctx context.Context) (models.Coordinate, error)
}

// Fix is the outcome of one lookup. Warning is set when Coordinate is the fallback.
type Fix struct {
	Coordinate models.Coordinate `json:"coordinate"`
	Fallback   bool              `json:"fallback"`
	Warning    error             `json:"-"`
}

// Provider wraps a Locator and never fails: errors become a fallback fix
type Provider struct {
	locator  Locator
	fallback models.Coordinate
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewProvider creates a geolocation provider
func NewProvider(locator Locator, fallback models.Coordinate, timeout time.Duration, logger zerolog.Logger) *Provider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{
		locator:  locator,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger.With().Str("component", "geo").Logger(),
	}
}

// GetLocation asks the locator once. No retries; call again to retry.
func (p *Provider) GetLocation(ctx context.Context) Fix {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	coord, err := p.locator.Locate(ctx)
	if err == nil && !coord.Valid() {
		err = fmt.Errorf("coordinate %v out of range", coord)
	}
	if err != nil {
		warning := &models.LocationUnavailableError{Reason: reasonOf(err), Err: err}
		p.logger.Warn().Err(err).
			Float64("latitude", p.fallback.Latitude).
			Float64("longitude", p.fallback.Longitude).
			Msg("Location unavailable, using fallback")
		return Fix{Coordinate: p.fallback, Fallback: true, Warning: warning}
	}

	p.logger.Info().Float64("latitude", coord.Latitude).Float64("longitude", coord.Longitude).Msg("Location resolved")
	return Fix{Coordinate: coord}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// StaticLocator returns configured coordinates
type StaticLocator struct {
	Latitude  *float64
	Longitude *float64
}

// Locate returns the configured position or ErrUnsupported when unset
func (s StaticLocator) Locate(ctx context.Context) (models.Coordinate, error) {
	if s.Latitude == nil || s.Longitude == nil {
		return models.Coordinate{}, ErrUnsupported
	}
	return models.Coordinate{Latitude: *s.Latitude, Longitude: *s.Longitude}, nil
}

// IPLocator looks the position up from the public IP address
type IPLocator struct {
	URL    string
	Client *http.Client
}

type ipLookup struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Locate queries an ip-api compatible endpoint
func (l IPLocator) Locate(ctx context.Context) (models.Coordinate, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return models.Coordinate{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Coordinate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return models.Coordinate{}, fmt.Errorf("%w: status %d", ErrDenied, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Coordinate{}, fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	var body ipLookup
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Coordinate{}, fmt.Errorf("failed to decode lookup: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return models.Coordinate{}, fmt.Errorf("%w: %s", ErrDenied, body.Message)
	}
	return models.Coordinate{Latitude: body.Lat, Longitude: body.Lon}, nil
}
