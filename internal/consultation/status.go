package consultation

import (
	"errors"

	"github.com/mediconnect/server/internal/audio"
)

// State is the lifecycle state of a controller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// StatusKind identifies which user-facing message is shown.
type StatusKind string

const (
	StatusIdle            StatusKind = "idle"
	StatusConnecting      StatusKind = "connecting"
	StatusListening       StatusKind = "listening"
	StatusEnded           StatusKind = "ended"
	StatusMicrophoneError StatusKind = "microphone_error"
	StatusError           StatusKind = "error"
	StatusUnsupported     StatusKind = "unsupported"
)

var statusText = map[StatusKind]string{
	StatusIdle:            "Kanda buto kugirango utangire.",
	StatusConnecting:      "Turimo guhuza na seriveri...",
	StatusListening:       "Wavuga... Ndi kukumva.",
	StatusEnded:           "Ikiganiro kirangiye. Kanda buto wongere utangire.",
	StatusMicrophoneError: "Ntushobora gukoresha mikoro. Reba uburenganzira bwawe.",
	StatusError:           "Habaye ikibazo. Ongera ugerageze.",
	StatusUnsupported:     "Iyi serivisi ntishyigikiwe muri iyi mushakisha.",
}

// Status is what the patient sees next to the start/stop control.
type Status struct {
	Kind StatusKind `json:"state"`
	Text string     `json:"text"`
}

// NewStatus returns the status for a kind with its Kinyarwanda text.
func NewStatus(kind StatusKind) Status {
	return Status{Kind: kind, Text: statusText[kind]}
}

// IsTerminalError reports whether the status describes a failed attempt.
func (s Status) IsTerminalError() bool {
	switch s.Kind {
	case StatusMicrophoneError, StatusError, StatusUnsupported:
		return true
	}
	return false
}

// statusForError maps a start failure to its status. Permission and device
// problems share one message; an unsupported environment has its own.
func statusForError(err error) Status {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied), errors.Is(err, audio.ErrDeviceUnavailable):
		return NewStatus(StatusMicrophoneError)
	case errors.Is(err, audio.ErrUnsupported):
		return NewStatus(StatusUnsupported)
	default:
		return NewStatus(StatusError)
	}
}
