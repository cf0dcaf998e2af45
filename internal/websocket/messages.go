package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeConsultationStart  MessageType = "consultation_start"
	MessageTypeConsultationStop   MessageType = "consultation_stop"
	MessageTypeMicrophoneResponse MessageType = "microphone_response"
	MessageTypePing               MessageType = "ping"
)

// Server to client message types
const (
	MessageTypeStatus              MessageType = "status"
	MessageTypeMicrophoneRequest   MessageType = "microphone_request"
	MessageTypeConsultationStarted MessageType = "consultation_started"
	MessageTypeTranscript          MessageType = "transcript"
	MessageTypeTurn                MessageType = "turn"
	MessageTypeAudio               MessageType = "audio"
	MessageTypePong                MessageType = "pong"
	MessageTypeError               MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// ControlMessage starts or stops a consultation
type ControlMessage struct {
	BaseMessage
}

// MicrophoneResponseMessage answers a microphone_request. SampleRate is the
// rate of the float32 blocks the client will stream as binary frames.
type MicrophoneResponseMessage struct {
	BaseMessage
	Granted    bool `json:"granted"`
	Supported  bool `json:"supported"`
	SampleRate int  `json:"sample_rate"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StatusMessage carries the patient-facing status
type StatusMessage struct {
	BaseMessage
	State string `json:"state"`
	Text  string `json:"text"`
	Phase string `json:"phase"`
}

// MicrophoneRequestMessage asks the client for microphone access
type MicrophoneRequestMessage struct {
	BaseMessage
	SampleRate int `json:"sample_rate"`
}

// ConsultationStartedMessage identifies the record of the running consultation
type ConsultationStartedMessage struct {
	BaseMessage
	ConsultationID string `json:"consultation_id"`
}

// TranscriptMessage is an incremental transcript fragment
type TranscriptMessage struct {
	BaseMessage
	Role string `json:"role"`
	Text string `json:"text"`
}

// TurnMessage is a finalized exchange
type TurnMessage struct {
	BaseMessage
	User  string `json:"user"`
	Model string `json:"model"`
}

// AudioMessage is a chunk of synthesized speech with its place on the
// playback timeline, in seconds since the output was created.
type AudioMessage struct {
	BaseMessage
	StartTime  float64 `json:"start_time"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Data       string  `json:"data"` // base64 PCM16 little-endian mono
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming client message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeConsultationStart, MessageTypeConsultationStop:
		return &ControlMessage{BaseMessage: base}, nil

	case MessageTypeMicrophoneResponse:
		var msg MicrophoneResponseMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid microphone response: %w", err)
		}
		if err := v.validateMicrophoneResponse(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateMicrophoneResponse(msg *MicrophoneResponseMessage) error {
	if !msg.Granted || !msg.Supported {
		return nil
	}
	if msg.SampleRate < 8000 || msg.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	return nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}
