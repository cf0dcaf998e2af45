// Package audio provides local capture and playback devices backed by the
// ffmpeg and ffplay binaries.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediconnect/server/internal/audio"
)

const (
	bytesPerFloat = 4
	// playbackLead is how far ahead of its start time a buffer is handed to ffplay.
	playbackLead = 50 * time.Millisecond
	queueSize    = 256
)

var lookPath = exec.LookPath

// FFmpegMicrophone captures the default input device as mono float32 PCM.
type FFmpegMicrophone struct {
	sampleRate int
	goos       string
	logger     *zap.Logger
}

// NewFFmpegMicrophone creates a microphone that captures at sampleRate.
func NewFFmpegMicrophone(sampleRate int, logger *zap.Logger) *FFmpegMicrophone {
	if sampleRate <= 0 {
		sampleRate = audio.InputSampleRate
	}
	return &FFmpegMicrophone{sampleRate: sampleRate, goos: runtime.GOOS, logger: logger}
}

func micArgs(goos string, sampleRate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("%w: microphone capture on %s", audio.ErrUnsupported, goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1", "-ar", strconv.Itoa(sampleRate),
		"-f", "f32le", "-",
	), nil
}

// Acquire starts ffmpeg and waits for the first block so that a missing or
// busy device is reported here rather than as an empty stream.
func (m *FFmpegMicrophone) Acquire(ctx context.Context) (audio.MediaStream, error) {
	if _, err := lookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", audio.ErrUnsupported)
	}
	args, err := micArgs(m.goos, m.sampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	s := newPipeStream(stdout, m.sampleRate, func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	first := make(chan error, 1)
	go s.run(first, m.logger)

	select {
	case err := <-first:
		if err != nil {
			_ = s.Stop()
			m.logger.Warn("Microphone capture failed", zap.String("stderr", stderr.String()))
			return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
		return s, nil
	case <-ctx.Done():
		_ = s.Stop()
		return nil, ctx.Err()
	}
}

// pipeStream turns a reader of little-endian float32 samples into blocks.
type pipeStream struct {
	r          io.Reader
	sampleRate int
	blocks     chan []float32
	kill       func()

	once sync.Once
	quit chan struct{}
}

func newPipeStream(r io.Reader, sampleRate int, kill func()) *pipeStream {
	return &pipeStream{
		r:          r,
		sampleRate: sampleRate,
		blocks:     make(chan []float32, 8),
		kill:       kill,
		quit:       make(chan struct{}),
	}
}

// run reads blocks until the reader fails or the stream stops. The result of
// the first read is reported on first.
func (s *pipeStream) run(first chan<- error, logger *zap.Logger) {
	defer close(s.blocks)
	buf := make([]byte, audio.BlockSize*bytesPerFloat)
	reported := false
	for {
		_, err := io.ReadFull(s.r, buf)
		if !reported {
			first <- err
			reported = true
		}
		if err != nil {
			select {
			case <-s.quit:
			default:
				if !errors.Is(err, io.EOF) {
					logger.Warn("Microphone read ended", zap.Error(err))
				}
			}
			return
		}
		samples, _ := audio.Float32FromBytes(buf)
		select {
		case s.blocks <- samples:
		case <-s.quit:
			return
		}
	}
}

func (s *pipeStream) SampleRate() int          { return s.sampleRate }
func (s *pipeStream) Blocks() <-chan []float32 { return s.blocks }

func (s *pipeStream) Stop() error {
	s.once.Do(func() {
		close(s.quit)
		if s.kill != nil {
			s.kill()
		}
	})
	return nil
}

// FFplayOutput plays PCM16 through ffplay on a wall clock timeline.
type FFplayOutput struct {
	*audio.WallClock
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	queue chan scheduledBuffer
	once  sync.Once
	quit  chan struct{}
	done  chan struct{}
}

type scheduledBuffer struct {
	buf *audio.Buffer
	at  time.Duration
}

// NewFFplayOutputFactory returns an OutputFactory that starts a new ffplay
// process per attempt.
func NewFFplayOutputFactory(logger *zap.Logger) audio.OutputFactory {
	return func(sampleRate int) (audio.Output, error) {
		return NewFFplayOutput(sampleRate, logger)
	}
}

// NewFFplayOutput starts ffplay reading mono s16le at sampleRate from stdin.
func NewFFplayOutput(sampleRate int, logger *zap.Logger) (*FFplayOutput, error) {
	if _, err := lookPath("ffplay"); err != nil {
		return nil, fmt.Errorf("%w: ffplay not found in PATH", audio.ErrUnsupported)
	}
	cmd := exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	o := newFFplayOutput(stdin, logger)
	o.cmd = cmd
	return o, nil
}

func newFFplayOutput(w io.WriteCloser, logger *zap.Logger) *FFplayOutput {
	o := &FFplayOutput{
		WallClock: audio.NewWallClock(),
		stdin:     w,
		logger:    logger,
		queue:     make(chan scheduledBuffer, queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go o.writeLoop()
	return o
}

// Play queues buf to start at the given time on the output clock.
func (o *FFplayOutput) Play(buf *audio.Buffer, at time.Duration) error {
	select {
	case <-o.quit:
		return errors.New("ffplay output closed")
	default:
	}
	select {
	case o.queue <- scheduledBuffer{buf: buf, at: at}:
		return nil
	default:
		return errors.New("ffplay output queue full")
	}
}

func (o *FFplayOutput) writeLoop() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			return
		case item := <-o.queue:
			if wait := item.at - playbackLead - o.Now(); wait > 0 {
				select {
				case <-time.After(wait):
				case <-o.quit:
					return
				}
			}
			if _, err := o.stdin.Write(item.buf.PCM16()); err != nil {
				o.logger.Warn("Playback write failed", zap.Error(err))
				return
			}
		}
	}
}

// Close stops playback and ends the ffplay process.
func (o *FFplayOutput) Close() error {
	o.once.Do(func() {
		close(o.quit)
		_ = o.stdin.Close()
		if o.cmd != nil && o.cmd.Process != nil {
			_ = o.cmd.Process.Kill()
			_ = o.cmd.Wait()
		}
		<-o.done
	})
	return nil
}
