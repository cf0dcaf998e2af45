package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrUnsupported is returned when the environment cannot capture or play audio at all.
	ErrUnsupported = errors.New("audio: streaming audio not supported in this environment")
)

// MediaStream is an acquired microphone. Blocks delivers mono float samples
// in [-1, 1] at SampleRate; the channel is closed once the stream stops.
type MediaStream interface {
	SampleRate() int
	Blocks() <-chan []float32
	Stop() error
}

// Microphone acquires a capture stream. Acquire may block until the user
// grants or denies access.
type Microphone interface {
	Acquire(ctx context.Context) (MediaStream, error)
}

// Output plays buffers on its own timeline. Play must not block for the
// duration of the buffer.
type Output interface {
	Clock
	Play(buf *Buffer, at time.Duration) error
	Close() error
}

// OutputFactory creates a fresh output for every consultation attempt.
type OutputFactory func(sampleRate int) (Output, error)
