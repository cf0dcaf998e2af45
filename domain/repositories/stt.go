package repositories

import (
	"context"
	"errors"
)

// ErrDictationUnsupported is returned when no speech recognizer is configured.
var ErrDictationUnsupported = errors.New("speech recognition is not supported")

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts audio data to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}
