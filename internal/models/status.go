package models

import (
	"fmt"
	"time"
)

// ConnectionStatus is the lifecycle of the telemetry session
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

func (cs ConnectionStatus) String() string {
	switch cs {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON
func (cs ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(cs.String()), nil
}

// UnmarshalText parses a status name
func (cs *ConnectionStatus) UnmarshalText(text []byte) error {
	for s := StatusDisconnected; s <= StatusError; s++ {
		if s.String() == string(text) {
			*cs = s
			return nil
		}
	}
	return fmt.Errorf("unknown connection status %q", text)
}

// ServiceInfo contains metadata about the running service
type ServiceInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Source    string    `json:"source"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the service started
func (s *ServiceInfo) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// NewServiceInfo creates a new ServiceInfo with the current time as start time
func NewServiceInfo(name, version, source string) *ServiceInfo {
	return &ServiceInfo{
		Name:      name,
		Version:   version,
		Source:    source,
		StartTime: time.Now(),
	}
}
