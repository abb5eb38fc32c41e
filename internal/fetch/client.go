// Package fetch holds the clients for the remote HTTP services the
// dashboard depends on: weather, climate archive, crop prediction, pest
// detection, the chat assistant and the pump API.
//
// Every call runs under a timeout and fails with one of the typed errors
// from the models package. Nothing is retried here; the caller decides.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/afroash/krishii-mitra/internal/metrics"
	"github.com/afroash/krishii-mitra/internal/models"
)

const maxBodyBytes = 1 << 20

// ClientConfig configures one upstream
type ClientConfig struct {
	Name            string
	Timeout         time.Duration
	BreakerFailures int
	BreakerOpen     time.Duration
}

// Client issues requests to one upstream behind a circuit breaker
type Client struct {
	name    string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClient creates a client for one upstream
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 30 * time.Second
	}

	logger = logger.With().Str("upstream", cfg.Name).Logger()
	failures := uint32(cfg.BreakerFailures)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &Client{
		name:    cfg.Name,
		http:    &http.Client{},
		timeout: cfg.Timeout,
		breaker: breaker,
		metrics: m,
		logger:  logger,
	}
}

// countsAsSuccess keeps caller mistakes from tripping the breaker
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var serverErr *models.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode < 500
	}
	var parseErr *models.ParseError
	var validationErr *models.ValidationError
	return errors.As(err, &parseErr) || errors.As(err, &validationErr)
}

// requestBuilder builds the request bound to the timeout context
type requestBuilder func(ctx context.Context) (*http.Request, error)

// do executes one request and decodes a JSON response into out (if non-nil)
func (c *Client) do(ctx context.Context, op string, build requestBuilder, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, build, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &models.NetworkError{Op: op, Err: fmt.Errorf("%s unavailable: %w", c.name, err)}
	}

	outcome := outcomeOf(err)
	c.metrics.ObserveFetch(c.name, outcome, time.Since(start))
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Str("outcome", outcome).Dur("elapsed", time.Since(start)).Msg("Upstream request failed")
	} else {
		c.logger.Debug().Str("op", op).Dur("elapsed", time.Since(start)).Msg("Upstream request completed")
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op string, build requestBuilder, out interface{}) error {
	req, err := build(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.ServerError{Op: op, StatusCode: resp.StatusCode, Message: upstreamMessage(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &models.ParseError{Op: op, Err: err}
	}
	return nil
}

// transportError tells a timeout apart from a connection failure
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &models.TimeoutError{Op: op, Timeout: c.timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &models.TimeoutError{Op: op, Timeout: c.timeout, Err: err}
	}
	return &models.NetworkError{Op: op, Err: err}
}

// upstreamMessage extracts a human readable reason from an error body
func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}

func outcomeOf(err error) string {
	var (
		timeoutErr *models.TimeoutError
		networkErr *models.NetworkError
		serverErr  *models.ServerError
		parseErr   *models.ParseError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &networkErr):
		return "network"
	case errors.As(err, &serverErr):
		return "server"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "error"
	}
}

// jsonRequest returns a builder for a JSON request
func jsonRequest(method, url string, payload interface{}) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
}
