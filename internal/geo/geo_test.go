package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishii-mitra/internal/models"
)

var newYork = models.Coordinate{Latitude: 40.7128, Longitude: -74.0060}

type locatorFunc func(ctx context.Context) (models.Coordinate, error)

func (f locatorFunc) Locate(ctx context.Context) (models.Coordinate, error) { return f(ctx) }

func f64(v float64) *float64 { return &v }

func TestProvider_GetLocation(t *testing.T) {
	tests := []struct {
		name         string
		locator      Locator
		want         models.Coordinate
		wantFallback bool
		wantReason   string
	}{
		{
			name:    "static position",
			locator: StaticLocator{Latitude: f64(28.61), Longitude: f64(77.21)},
			want:    models.Coordinate{Latitude: 28.61, Longitude: 77.21},
		},
		{
			name:         "unsupported",
			locator:      StaticLocator{},
			want:         newYork,
			wantFallback: true,
			wantReason:   "unsupported",
		},
		{
			name: "denied",
			locator: locatorFunc(func(ctx context.Context) (models.Coordinate, error) {
				return models.Coordinate{}, ErrDenied
			}),
			want:         newYork,
			wantFallback: true,
			wantReason:   "denied",
		},
		{
			name: "out of range coordinate",
			locator: locatorFunc(func(ctx context.Context) (models.Coordinate, error) {
				return models.Coordinate{Latitude: 120}, nil
			}),
			want:         newYork,
			wantFallback: true,
			wantReason:   "error",
		},
		{
			name: "timeout",
			locator: locatorFunc(func(ctx context.Context) (models.Coordinate, error) {
				<-ctx.Done()
				return models.Coordinate{}, ctx.Err()
			}),
			want:         newYork,
			wantFallback: true,
			wantReason:   "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.locator, newYork, 20*time.Millisecond, zerolog.Nop())
			fix := p.GetLocation(context.Background())

			if fix.Coordinate != tt.want {
				t.Errorf("Coordinate = %v, want %v", fix.Coordinate, tt.want)
			}
			if fix.Fallback != tt.wantFallback {
				t.Errorf("Fallback = %v, want %v", fix.Fallback, tt.wantFallback)
			}
			if !tt.wantFallback {
				if fix.Warning != nil {
					t.Errorf("Warning = %v, want nil", fix.Warning)
				}
				return
			}

			var locErr *models.LocationUnavailableError
			if !errors.As(fix.Warning, &locErr) {
				t.Fatalf("Warning = %v, want LocationUnavailableError", fix.Warning)
			}
			if locErr.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", locErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestIPLocator_Locate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    models.Coordinate
		wantErr error
	}{
		{"success", http.StatusOK, `{"status":"success","lat":19.07,"lon":72.87}`, models.Coordinate{Latitude: 19.07, Longitude: 72.87}, nil},
		{"failed lookup", http.StatusOK, `{"status":"fail","message":"private range"}`, models.Coordinate{}, ErrDenied},
		{"rate limited", http.StatusTooManyRequests, ``, models.Coordinate{}, ErrDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := IPLocator{URL: srv.URL}.Locate(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Locate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Locate() = %v, want %v", got, tt.want)
			}
		})
	}
}
