package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/internal/observability"
)

// remoteMicrophone is the patient's microphone on the far side of the
// websocket. Acquire asks the client for access and waits for the answer.
type remoteMicrophone struct {
	client  *Client
	timeout time.Duration

	responses chan MicrophoneResponseMessage

	mu     sync.Mutex
	stream *remoteStream
}

func newRemoteMicrophone(client *Client, timeout time.Duration) *remoteMicrophone {
	return &remoteMicrophone{
		client:    client,
		timeout:   timeout,
		responses: make(chan MicrophoneResponseMessage, 1),
	}
}

func (m *remoteMicrophone) Acquire(ctx context.Context) (audio.MediaStream, error) {
	// Drop an answer left over from an earlier request.
	select {
	case <-m.responses:
	default:
	}

	if !m.client.sendJSON(&MicrophoneRequestMessage{
		BaseMessage: newBase(MessageTypeMicrophoneRequest),
		SampleRate:  audio.InputSampleRate,
	}) {
		return nil, fmt.Errorf("%w: client not reachable", audio.ErrDeviceUnavailable)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var resp MicrophoneResponseMessage
	select {
	case resp = <-m.responses:
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer to microphone request", audio.ErrPermissionDenied)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch {
	case !resp.Supported:
		return nil, audio.ErrUnsupported
	case !resp.Granted:
		return nil, audio.ErrPermissionDenied
	}

	stream := &remoteStream{
		mic:        m,
		sampleRate: resp.SampleRate,
		blocks:     make(chan []float32, 16),
	}
	m.mu.Lock()
	if m.stream != nil {
		m.stream.closeLocked()
	}
	m.stream = stream
	m.mu.Unlock()
	return stream, nil
}

// respond delivers the client's answer to a pending Acquire.
func (m *remoteMicrophone) respond(resp MicrophoneResponseMessage) {
	select {
	case m.responses <- resp:
	default:
	}
}

// feed hands a binary frame of float32 samples to the current stream. Frames
// arriving without a stream, or faster than they are consumed, are dropped.
func (m *remoteMicrophone) feed(data []byte) error {
	samples, err := audio.Float32FromBytes(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return errors.New("no active microphone stream")
	}
	select {
	case m.stream.blocks <- samples:
	default:
		observability.RecordFrameDropped()
	}
	return nil
}

// stop releases the current stream, if any.
func (m *remoteMicrophone) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		m.stream.closeLocked()
	}
}

type remoteStream struct {
	mic        *remoteMicrophone
	sampleRate int
	blocks     chan []float32
	closed     bool
}

func (s *remoteStream) SampleRate() int          { return s.sampleRate }
func (s *remoteStream) Blocks() <-chan []float32 { return s.blocks }

func (s *remoteStream) Stop() error {
	s.mic.mu.Lock()
	defer s.mic.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked must be called with mic.mu held.
func (s *remoteStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.blocks)
	if s.mic.stream == s {
		s.mic.stream = nil
	}
}

// remoteOutput forwards scheduled audio to the client, which plays each chunk
// at its start time relative to the first chunk it receives.
type remoteOutput struct {
	*audio.WallClock
	client     *Client
	sampleRate int

	mu     sync.Mutex
	closed bool
}

func newRemoteOutput(client *Client, sampleRate int) *remoteOutput {
	return &remoteOutput{
		WallClock:  audio.NewWallClock(),
		client:     client,
		sampleRate: sampleRate,
	}
}

func (o *remoteOutput) Play(buf *audio.Buffer, at time.Duration) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return errors.New("audio output closed")
	}

	ok := o.client.sendJSON(&AudioMessage{
		BaseMessage: newBase(MessageTypeAudio),
		StartTime:   at.Seconds(),
		Duration:    buf.Duration().Seconds(),
		SampleRate:  buf.SampleRate,
		Data:        base64.StdEncoding.EncodeToString(buf.PCM16()),
	})
	if !ok {
		return errors.New("client send buffer full")
	}
	return nil
}

func (o *remoteOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
