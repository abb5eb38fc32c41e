package models

import (
	"fmt"
	"strings"
	"time"
)

// PumpState is the irrigation pump as last acknowledged
type PumpState struct {
	IsOn          bool      `json:"is_on"`
	IsAuto        bool      `json:"is_auto"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// Wire payloads for pump topics
const (
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadAuto    = "AUTO"
	PayloadManual  = "MANUAL"
	PayloadRefresh = "REFRESH"
)

// CommandKind is the kind of outbound command
type CommandKind string

const (
	CommandPump          CommandKind = "pump"
	CommandMode          CommandKind = "mode"
	CommandSensorRequest CommandKind = "sensor_request"
)

// Command is one outbound control message
type Command struct {
	Kind  CommandKind `json:"command"`
	Value string      `json:"value"`
}

func (c Command) String() string {
	return fmt.Sprintf("%s=%s", c.Kind, c.Value)
}

// PumpCommand switches the pump on or off
func PumpCommand(on bool) Command {
	if on {
		return Command{Kind: CommandPump, Value: PayloadOn}
	}
	return Command{Kind: CommandPump, Value: PayloadOff}
}

// ModeCommand switches between automatic and manual control
func ModeCommand(auto bool) Command {
	if auto {
		return Command{Kind: CommandMode, Value: PayloadAuto}
	}
	return Command{Kind: CommandMode, Value: PayloadManual}
}

// SensorRequestCommand asks the field device to publish fresh readings
func SensorRequestCommand() Command {
	return Command{Kind: CommandSensorRequest, Value: PayloadRefresh}
}

// ParseSwitch decodes an ON/OFF payload
func ParseSwitch(payload []byte) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadOn:
		return true, nil
	case PayloadOff:
		return false, nil
	}
	return false, fmt.Errorf("invalid pump payload %q", payload)
}

// ParseMode decodes an AUTO/MANUAL payload
func ParseMode(payload []byte) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadAuto:
		return true, nil
	case PayloadManual:
		return false, nil
	}
	return false, fmt.Errorf("invalid mode payload %q", payload)
}

// PumpReport is pump state reported by the field (telemetry or polling).
// Nil fields were not part of the report.
type PumpReport struct {
	IsOn       *bool     `json:"is_on,omitempty"`
	IsAuto     *bool     `json:"is_auto,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}
