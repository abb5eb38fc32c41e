package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of message pushed to dashboard viewers
type MessageType string

const (
	MessageTypeView   MessageType = "view"
	MessageTypeStatus MessageType = "status"
	MessageTypeError  MessageType = "error"
)

// Message is the envelope for all WebSocket pushes
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// StatusMessage is the payload for MessageTypeStatus
type StatusMessage struct {
	Connection string `json:"connection"`
	Source     string `json:"source"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
