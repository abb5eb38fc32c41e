package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBusy is returned while a previous command is still in flight
	ErrBusy = errors.New("another command is still in flight")

	// ErrPumpAuto is returned when a manual pump toggle is attempted in auto mode
	ErrPumpAuto = errors.New("pump is under automatic control")

	// ErrConfirmationRequired guards destructive operations
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrNotConnected is returned when publishing without a broker session
	ErrNotConnected = errors.New("telemetry not connected")
)

// Violation describes one invalid input field
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violated field, not just the first
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of the violated fields in order
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fields
}

// Add records a violation
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// OrNil returns nil when nothing was violated
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// TimeoutError is returned when an upstream does not answer in time
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError is a connection-level failure
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response from an upstream
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
}

// ParseError is malformed JSON from an upstream or from storage
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CommandFailedError means an outbound command was not acknowledged
type CommandFailedError struct {
	Command string
	Err     error
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandFailedError) Unwrap() error { return e.Err }

// LocationUnavailableError is a warning: a fallback location is in use
type LocationUnavailableError struct {
	Reason string
	Err    error
}

func (e *LocationUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location unavailable (%s): %v", e.Reason, e.Err)
	}
	return "location unavailable: " + e.Reason
}

func (e *LocationUnavailableError) Unwrap() error { return e.Err }

// UserMessage translates an error into the short text shown on the dashboard
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		validationErr *ValidationError
		timeoutErr    *TimeoutError
		networkErr    *NetworkError
		serverErr     *ServerError
		parseErr      *ParseError
		commandErr    *CommandFailedError
		locationErr   *LocationUnavailableError
	)

	switch {
	case errors.As(err, &validationErr):
		if len(validationErr.Violations) > 0 && validationErr.Violations[0].Message == "is required" {
			return "Please fill in all fields"
		}
		return validationErr.Error()
	case errors.As(err, &timeoutErr):
		return "Request timed out. Please try again."
	case errors.As(err, &networkErr):
		return "Network error. Please check your connection."
	case errors.As(err, &serverErr):
		if serverErr.Message != "" {
			return serverErr.Message
		}
		return fmt.Sprintf("Request failed with status %d", serverErr.StatusCode)
	case errors.As(err, &parseErr):
		return "Invalid response from server"
	case errors.As(err, &commandErr):
		return "Command was not acknowledged. Please try again."
	case errors.As(err, &locationErr):
		return "Location access denied. Using default location."
	case errors.Is(err, ErrBusy):
		return "Please wait for the previous request to finish"
	case errors.Is(err, ErrPumpAuto):
		return "Pump is in auto mode"
	default:
		return "Something went wrong. Please try again."
	}
}
