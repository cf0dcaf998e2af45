// Package consultation runs one patient's live voice consultation: it
// acquires the microphone, opens the live model session, forwards encoded
// audio, schedules synthesized speech and aggregates transcripts.
package consultation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/internal/observability"
	"github.com/mediconnect/server/internal/transcript"
)

var (
	// ErrActive is returned by Start when an attempt is already connecting or open.
	ErrActive = errors.New("consultation: already active")

	// ErrCancelled is returned by Start when the attempt was stopped before the
	// microphone became available.
	ErrCancelled = errors.New("consultation: start cancelled")
)

// Speaker identifies whose speech a transcript fragment belongs to.
type Speaker string

// Speakers of a consultation.
const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Listener observes a controller. Callbacks run while the controller holds
// its lock, in event order; they must return quickly and must not call back
// into the controller.
type Listener interface {
	OnStatus(state State, status Status)
	OnTranscript(speaker Speaker, fragment string)
	OnTurn(turn transcript.Turn)
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) OnStatus(State, Status) {}
func (NopListener) OnTranscript(Speaker, string) {}
func (NopListener) OnTurn(transcript.Turn) {}

// Options configures a controller.
type Options struct {
	Live             repositories.LiveConfig
	InputSampleRate  int
	OutputSampleRate int
}

// Controller owns every resource of a consultation attempt. All state
// changes go through dispatch.
type Controller struct {
	logger    *zap.Logger
	model     repositories.LiveModel
	mic       audio.Microphone
	newOutput audio.OutputFactory
	listener  Listener
	opts      Options

	mu          sync.Mutex
	state       State
	status      Status
	attempt     uint64
	cancelStart context.CancelFunc
	session     repositories.LiveSession
	stream      audio.MediaStream
	capture     *captureProcessor
	player      *player
	metrics     *observability.ConsultationMetrics
	transcript  *transcript.Aggregator
}

// NewController creates an idle controller.
func NewController(model repositories.LiveModel, mic audio.Microphone, newOutput audio.OutputFactory, listener Listener, opts Options, logger *zap.Logger) *Controller {
	if listener == nil {
		listener = NopListener{}
	}
	if opts.InputSampleRate <= 0 {
		opts.InputSampleRate = audio.InputSampleRate
	}
	if opts.OutputSampleRate <= 0 {
		opts.OutputSampleRate = audio.OutputSampleRate
	}
	opts.Live.InputTranscription = true
	opts.Live.OutputTranscription = true

	return &Controller{
		logger:     logger,
		model:      model,
		mic:        mic,
		newOutput:  newOutput,
		listener:   listener,
		opts:       opts,
		state:      StateIdle,
		status:     NewStatus(StatusIdle),
		transcript: transcript.NewAggregator(),
	}
}

type (
	startEvent struct {
		cancel context.CancelFunc
	}
	micEvent struct {
		ctx     context.Context
		attempt uint64
		stream  audio.MediaStream
		err     error
	}
	openEvent struct {
		attempt uint64
	}
	messageEvent struct {
		attempt uint64
		events  []repositories.ServerEvent
	}
	errorEvent struct {
		attempt uint64
		err     error
	}
	closeEvent struct {
		attempt uint64
	}
	stopEvent struct{}
)

// Start begins a new attempt. It blocks while the microphone is acquired and
// returns once the live session is connecting; OnOpen later moves the
// controller to StateOpen. Failures are also reported through the status.
func (c *Controller) Start(ctx context.Context) error {
	startCtx, cancel := context.WithCancel(ctx)
	attempt, err := c.dispatch(startEvent{cancel: cancel})
	if err != nil {
		cancel()
		return err
	}

	stream, micErr := c.mic.Acquire(startCtx)
	_, err = c.dispatch(micEvent{ctx: ctx, attempt: attempt, stream: stream, err: micErr})
	return err
}

// Stop ends the current attempt. Stopping an idle controller does nothing.
func (c *Controller) Stop() {
	c.dispatch(stopEvent{})
}

// Toggle stops an active attempt or starts a new one.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.State() == StateIdle {
		return c.Start(ctx)
	}
	c.Stop()
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the status shown to the patient.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// History returns the finalized turns of the current or last attempt.
func (c *Controller) History() []transcript.Turn {
	return c.transcript.History()
}

// dispatch is the single transition function. It returns the attempt the
// event was applied to.
func (c *Controller) dispatch(ev any) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := ev.(type) {
	case startEvent:
		return c.onStart(ev)
	case micEvent:
		return c.attempt, c.onMicrophone(ev)
	case openEvent:
		c.onOpen(ev)
	case messageEvent:
		c.onMessage(ev)
	case errorEvent:
		c.onSessionError(ev)
	case closeEvent:
		c.onSessionClose(ev)
	case stopEvent:
		if c.state != StateIdle {
			c.logger.Info("Consultation stopped by patient", zap.Uint64("attempt", c.attempt))
			c.teardown("stopped")
			c.setStatus(NewStatus(StatusEnded))
		}
	}
	return c.attempt, nil
}

func (c *Controller) onStart(ev startEvent) (uint64, error) {
	if c.state != StateIdle {
		return c.attempt, ErrActive
	}

	c.attempt++
	c.state = StateConnecting
	c.cancelStart = ev.cancel
	c.transcript.Reset()
	c.metrics = observability.NewConsultationMetrics()

	output, err := c.newOutput(c.opts.OutputSampleRate)
	if err != nil {
		c.logger.Warn("Failed to create audio output", zap.Uint64("attempt", c.attempt), zap.Error(err))
		c.teardown("unsupported")
		c.setStatus(statusForError(err))
		return c.attempt, err
	}
	c.player = newPlayer(output)

	c.logger.Info("Consultation starting", zap.Uint64("attempt", c.attempt))
	c.setStatus(NewStatus(StatusConnecting))
	return c.attempt, nil
}

func (c *Controller) onMicrophone(ev micEvent) error {
	if ev.attempt != c.attempt || c.state != StateConnecting {
		if ev.stream != nil {
			ev.stream.Stop()
		}
		return ErrCancelled
	}

	if ev.err != nil {
		status := statusForError(ev.err)
		c.logger.Warn("Microphone unavailable",
			zap.Uint64("attempt", c.attempt),
			zap.String("status", string(status.Kind)),
			zap.Error(ev.err))
		observability.RecordError("microphone", "consultation")
		c.teardown("microphone")
		c.setStatus(status)
		return ev.err
	}
	c.stream = ev.stream

	session, err := c.model.Open(ev.ctx, c.opts.Live, &sessionHandler{c: c, attempt: ev.attempt})
	if err != nil {
		c.logger.Error("Failed to open live session", zap.Uint64("attempt", c.attempt), zap.Error(err))
		observability.RecordError("open", "consultation")
		c.teardown("error")
		c.setStatus(NewStatus(StatusError))
		return err
	}
	c.session = session
	return nil
}

func (c *Controller) onOpen(ev openEvent) {
	if ev.attempt != c.attempt || c.state != StateConnecting {
		return
	}
	c.state = StateOpen

	attempt := ev.attempt
	c.capture = startCapture(c.stream, c.opts.InputSampleRate, func(frame audio.AudioFrame) {
		c.sendFrame(attempt, frame)
	})

	c.logger.Info("Live session open", zap.Uint64("attempt", attempt))
	c.setStatus(NewStatus(StatusListening))
}

// sendFrame forwards a frame when the attempt's session is open and drops it
// otherwise.
func (c *Controller) sendFrame(attempt uint64, frame audio.AudioFrame) {
	c.mu.Lock()
	session := c.session
	live := attempt == c.attempt && c.state == StateOpen && session != nil
	c.mu.Unlock()

	if !live {
		observability.RecordFrameDropped()
		return
	}
	if err := session.SendAudio(frame.Data, frame.MIMEType()); err != nil {
		observability.RecordFrameDropped()
		c.logger.Debug("Dropped microphone frame", zap.Uint64("attempt", attempt), zap.Error(err))
		return
	}
	observability.RecordFrameSent()
}

func (c *Controller) onMessage(ev messageEvent) {
	if ev.attempt != c.attempt || c.state != StateOpen {
		return
	}

	for _, event := range ev.events {
		switch e := event.(type) {
		case repositories.InputTranscript:
			c.transcript.AppendUser(e.Text)
			c.listener.OnTranscript(SpeakerUser, e.Text)
		case repositories.OutputTranscript:
			c.transcript.AppendModel(e.Text)
			c.listener.OnTranscript(SpeakerModel, e.Text)
		case repositories.AudioChunk:
			if c.player == nil {
				continue
			}
			if _, err := c.player.enqueue(e); err != nil {
				c.logger.Warn("Failed to schedule audio chunk", zap.Uint64("attempt", c.attempt), zap.Error(err))
				observability.RecordError("playback", "consultation")
			}
		case repositories.TurnComplete:
			if turn, ok := c.transcript.Complete(); ok {
				observability.RecordTurn()
				c.listener.OnTurn(turn)
			}
		}
	}
}

func (c *Controller) onSessionError(ev errorEvent) {
	if ev.attempt != c.attempt || c.state == StateIdle {
		return
	}
	c.logger.Error("Live session failed", zap.Uint64("attempt", c.attempt), zap.Error(ev.err))
	observability.RecordError("session", "consultation")
	c.teardown("error")
	c.setStatus(NewStatus(StatusError))
}

func (c *Controller) onSessionClose(ev closeEvent) {
	if ev.attempt != c.attempt || c.state == StateIdle {
		return
	}
	c.logger.Info("Live session closed by remote", zap.Uint64("attempt", c.attempt))
	c.teardown("closed")
	c.setStatus(NewStatus(StatusEnded))
}

// teardown releases every handle of the current attempt and returns to idle.
// Each handle is cleared after release so repeated calls are no-ops.
func (c *Controller) teardown(reason string) {
	if c.cancelStart != nil {
		c.cancelStart()
		c.cancelStart = nil
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.logger.Debug("Error closing live session", zap.Error(err))
		}
		c.session = nil
	}
	if c.capture != nil {
		c.capture.disconnect()
		c.capture = nil
	}
	if c.stream != nil {
		if err := c.stream.Stop(); err != nil {
			c.logger.Debug("Error stopping microphone", zap.Error(err))
		}
		c.stream = nil
	}
	if c.player != nil {
		if err := c.player.close(); err != nil {
			c.logger.Debug("Error closing audio output", zap.Error(err))
		}
		c.player = nil
	}
	if c.metrics != nil {
		c.metrics.RecordEnd(reason)
		c.metrics = nil
	}
	c.state = StateIdle
}

func (c *Controller) setStatus(status Status) {
	c.status = status
	c.listener.OnStatus(c.state, status)
}

// sessionHandler routes live session callbacks of one attempt into dispatch.
type sessionHandler struct {
	c       *Controller
	attempt uint64
}

func (h *sessionHandler) OnOpen() {
	h.c.dispatch(openEvent{attempt: h.attempt})
}

func (h *sessionHandler) OnMessage(events []repositories.ServerEvent) {
	h.c.dispatch(messageEvent{attempt: h.attempt, events: events})
}

func (h *sessionHandler) OnError(err error) {
	h.c.dispatch(errorEvent{attempt: h.attempt, err: err})
}

func (h *sessionHandler) OnClose() {
	h.c.dispatch(closeEvent{attempt: h.attempt})
}
