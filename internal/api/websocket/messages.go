package websocket

import (
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Diagnostics
	MessageTypeDiagnostic   MessageType = "diagnostic"
	MessageTypeSessionState MessageType = "session_state"

	// Connection handling
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ClientMessage is what clients send: "auth" first, then optionally
// "subscribe" to narrow the stream to some record kinds.
type ClientMessage struct {
	Type  string             `json:"type"`
	Token string             `json:"token,omitempty"`
	Kinds []diagnostics.Kind `json:"kinds,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewRecordMessage wraps a diagnostic record. Session transitions get
// their own message type so dashboards can follow them without filtering.
func NewRecordMessage(r diagnostics.Record) Message {
	t := MessageTypeDiagnostic
	if r.Kind == diagnostics.KindSessionState {
		t = MessageTypeSessionState
	}
	return Message{Type: t, Timestamp: r.Time, Data: r}
}
