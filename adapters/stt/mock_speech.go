package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/repositories"
)

// MockSpeechToText returns canned Kinyarwanda text sized by the clip length
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Mock transcription",
		zap.Int("size", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	switch {
	case len(audioData) == 0:
		return "", fmt.Errorf("no audio data received")
	case len(audioData) > 64000:
		return "Maze iminsi itatu ndwaye umutwe kandi mfite umuriro.", nil
	case len(audioData) > 16000:
		return "Ndababara mu nda.", nil
	default:
		return "Muraho.", nil
	}
}
