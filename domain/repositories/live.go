package repositories

import (
	"context"
	"errors"
)

// ErrSessionNotOpen is returned when audio is sent to a live session that
// has not reported open yet or has already closed.
var ErrSessionNotOpen = errors.New("live session is not open")

// SessionState is the connection state of a live session.
type SessionState string

const (
	SessionConnecting SessionState = "connecting"
	SessionOpen       SessionState = "open"
	SessionClosed     SessionState = "closed"
	SessionError      SessionState = "error"
)

// LiveConfig describes a real-time audio session. Responses are always audio.
type LiveConfig struct {
	Model               string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
}

// ServerEvent is one piece of content decoded from an inbound live message.
// A single message may carry several events.
type ServerEvent interface {
	serverEvent()
}

// InputTranscript is a fragment of the patient's transcribed speech.
type InputTranscript struct {
	Text string
}

// OutputTranscript is a fragment of the model's transcribed speech.
type OutputTranscript struct {
	Text string
}

// AudioChunk is synthesized speech as 16-bit little-endian PCM.
type AudioChunk struct {
	Data       []byte
	SampleRate int
}

// TurnComplete marks the end of the model's turn.
type TurnComplete struct{}

func (InputTranscript) serverEvent()  {}
func (OutputTranscript) serverEvent() {}
func (AudioChunk) serverEvent()       {}
func (TurnComplete) serverEvent()     {}

// LiveHandler receives session lifecycle events. Calls are made from a
// single goroutine per session, in order.
type LiveHandler interface {
	OnOpen()
	OnMessage(events []ServerEvent)
	OnError(err error)
	OnClose()
}

// LiveSession is an open or opening real-time session.
type LiveSession interface {
	// SendAudio forwards one encoded frame. It returns ErrSessionNotOpen
	// before OnOpen and after close.
	SendAudio(data []byte, mimeType string) error
	State() SessionState
	Close() error
}

// LiveModel opens real-time audio sessions against a hosted model.
type LiveModel interface {
	// Open starts connecting and returns immediately; handler.OnOpen fires
	// once the session can accept audio.
	Open(ctx context.Context, config LiveConfig, handler LiveHandler) (LiveSession, error)
}
