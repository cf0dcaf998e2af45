package consultation

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/internal/transcript"
)

type fakeStream struct {
	rate   int
	blocks chan []float32

	mu      sync.Mutex
	stopped int
}

func newFakeStream() *fakeStream {
	return &fakeStream{rate: audio.InputSampleRate, blocks: make(chan []float32, 16)}
}

func (s *fakeStream) SampleRate() int { return s.rate }
func (s *fakeStream) Blocks() <-chan []float32 { return s.blocks }
func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped == 0 {
		close(s.blocks)
	}
	s.stopped++
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeMic struct {
	stream *fakeStream
	err    error
	block  bool
}

func (m *fakeMic) Acquire(ctx context.Context) (audio.MediaStream, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type playedBuffer struct {
	at     time.Duration
	frames int
}

type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	played []playedBuffer
	closed int
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Play(buf *audio.Buffer, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, playedBuffer{at: at, frames: buf.Frames()})
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *fakeOutput) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type sentFrame struct {
	data     []byte
	mimeType string
}

type fakeSession struct {
	mu     sync.Mutex
	state  repositories.SessionState
	frames []sentFrame
	closed int
}

func (s *fakeSession) SendAudio(data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != repositories.SessionOpen {
		return repositories.ErrSessionNotOpen
	}
	s.frames = append(s.frames, sentFrame{data: data, mimeType: mimeType})
	return nil
}

func (s *fakeSession) State() repositories.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.state = repositories.SessionClosed
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) open() {
	s.mu.Lock()
	s.state = repositories.SessionOpen
	s.mu.Unlock()
}

func (s *fakeSession) sent() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

type fakeModel struct {
	mu       sync.Mutex
	configs  []repositories.LiveConfig
	handlers []repositories.LiveHandler
	sessions []*fakeSession
	err      error
}

func (m *fakeModel) Open(ctx context.Context, config repositories.LiveConfig, handler repositories.LiveHandler) (repositories.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeSession{state: repositories.SessionConnecting}
	m.configs = append(m.configs, config)
	m.handlers = append(m.handlers, handler)
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *fakeModel) last() (repositories.LiveHandler, *fakeSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.handlers)
	return m.handlers[n-1], m.sessions[n-1]
}

func (m *fakeModel) opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

type recordingListener struct {
	mu        sync.Mutex
	statuses  []Status
	fragments []string
	turns     []transcript.Turn
}

func (l *recordingListener) OnStatus(_ State, status Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func (l *recordingListener) OnTranscript(speaker Speaker, fragment string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fragments = append(l.fragments, string(speaker)+":"+fragment)
}

func (l *recordingListener) OnTurn(turn transcript.Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, turn)
}

func (l *recordingListener) kinds() []StatusKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StatusKind, len(l.statuses))
	for i, s := range l.statuses {
		out[i] = s.Kind
	}
	return out
}

type harness struct {
	ctrl     *Controller
	model    *fakeModel
	mic      *fakeMic
	stream   *fakeStream
	outputs  []*fakeOutput
	listener *recordingListener
	mu       sync.Mutex
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		model:    &fakeModel{},
		stream:   newFakeStream(),
		listener: &recordingListener{},
	}
	h.mic = &fakeMic{stream: h.stream}
	newOutput := func(sampleRate int) (audio.Output, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		out := &fakeOutput{}
		h.outputs = append(h.outputs, out)
		return out, nil
	}
	opts := Options{Live: repositories.LiveConfig{Model: "live-model", Voice: "Zephyr", SystemInstruction: "triage"}}
	h.ctrl = NewController(h.model, h.mic, newOutput, h.listener, opts, zaptest.NewLogger(t))
	return h
}

func (h *harness) output(i int) *fakeOutput {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputs[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func firstSample(data []byte) int16 {
	return int16(binary.LittleEndian.Uint16(data))
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	c := h.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		t.Errorf("Expected state idle, got %s", c.state)
	}
	if c.session != nil || c.stream != nil || c.capture != nil || c.player != nil || c.cancelStart != nil || c.metrics != nil {
		t.Error("Expected every handle to be released")
	}
}

func TestController_PermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.mic.err = audio.ErrPermissionDenied

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}

	status := h.ctrl.Status()
	if status.Kind != StatusMicrophoneError {
		t.Errorf("Expected microphone error status, got %s", status.Kind)
	}
	if status.Text != "Ntushobora gukoresha mikoro. Reba uburenganzira bwawe." {
		t.Errorf("Unexpected status text %q", status.Text)
	}
	if h.model.opened() != 0 {
		t.Error("Live session should not be opened without a microphone")
	}
	if h.output(0).closeCount() != 1 {
		t.Errorf("Expected output closed once, got %d", h.output(0).closeCount())
	}
	h.assertReleased(t)
}

func TestController_UnsupportedOutput(t *testing.T) {
	h := newHarness(t)
	h.ctrl.newOutput = func(int) (audio.Output, error) {
		return nil, audio.ErrUnsupported
	}

	if err := h.ctrl.Start(context.Background()); !errors.Is(err, audio.ErrUnsupported) {
		t.Fatalf("Expected ErrUnsupported, got %v", err)
	}
	if kind := h.ctrl.Status().Kind; kind != StatusUnsupported {
		t.Errorf("Expected unsupported status, got %s", kind)
	}
	h.assertReleased(t)
}

func TestController_Scenario(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.ctrl.State() != StateConnecting {
		t.Fatalf("Expected connecting, got %s", h.ctrl.State())
	}

	handler, session := h.model.last()
	cfg := h.model.configs[0]
	if !cfg.InputTranscription || !cfg.OutputTranscription || cfg.Voice != "Zephyr" {
		t.Errorf("Unexpected live config %+v", cfg)
	}

	session.open()
	handler.OnOpen()
	if h.ctrl.State() != StateOpen {
		t.Fatalf("Expected open, got %s", h.ctrl.State())
	}
	if h.ctrl.Status().Kind != StatusListening {
		t.Errorf("Expected listening status, got %s", h.ctrl.Status().Kind)
	}

	for _, v := range []float32{0.1, 0.2, 0.3} {
		block := make([]float32, audio.BlockSize)
		for i := range block {
			block[i] = v
		}
		h.stream.blocks <- block
	}
	waitFor(t, "three frames", func() bool { return len(session.sent()) == 3 })

	frames := session.sent()
	for i, want := range []int16{3276, 6553, 9830} {
		if got := firstSample(frames[i].data); got != want {
			t.Errorf("frame %d: first sample %d, want %d", i, got, want)
		}
		if frames[i].mimeType != "audio/pcm;rate=16000" {
			t.Errorf("frame %d: mime type %q", i, frames[i].mimeType)
		}
		if len(frames[i].data) != audio.BlockSize*2 {
			t.Errorf("frame %d: %d bytes", i, len(frames[i].data))
		}
	}

	handler.OnMessage([]repositories.ServerEvent{repositories.InputTranscript{Text: "Ndababara "}})
	handler.OnMessage([]repositories.ServerEvent{repositories.OutputTranscript{Text: "Byatangiye ryari?"}})
	handler.OnMessage([]repositories.ServerEvent{repositories.TurnComplete{}})

	history := h.ctrl.History()
	if len(history) != 1 {
		t.Fatalf("Expected 1 turn, got %d", len(history))
	}
	if history[0].User != "Ndababara " || history[0].Model != "Byatangiye ryari?" {
		t.Errorf("Unexpected turn %+v", history[0])
	}

	h.ctrl.Stop()

	if h.ctrl.Status().Kind != StatusEnded {
		t.Errorf("Expected ended status, got %s", h.ctrl.Status().Kind)
	}
	if session.closeCount() != 1 {
		t.Errorf("Expected session closed once, got %d", session.closeCount())
	}
	if h.stream.stopCount() != 1 {
		t.Errorf("Expected stream stopped once, got %d", h.stream.stopCount())
	}
	if h.output(0).closeCount() != 1 {
		t.Errorf("Expected output closed once, got %d", h.output(0).closeCount())
	}
	h.assertReleased(t)

	want := []StatusKind{StatusConnecting, StatusListening, StatusEnded}
	got := h.listener.kinds()
	if len(got) != len(want) {
		t.Fatalf("Expected statuses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if len(h.listener.turns) != 1 {
		t.Errorf("Expected listener to see 1 turn, got %d", len(h.listener.turns))
	}

	// History survives the stop until the next start.
	if len(h.ctrl.History()) != 1 {
		t.Error("History should remain after stop")
	}
}

func TestController_TeardownIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handler, session := h.model.last()
	session.open()
	handler.OnOpen()

	h.ctrl.Stop()
	h.ctrl.Stop()
	handler.OnError(errors.New("connection reset"))
	handler.OnClose()

	if session.closeCount() != 1 {
		t.Errorf("Expected session closed once, got %d", session.closeCount())
	}
	if h.stream.stopCount() != 1 {
		t.Errorf("Expected stream stopped once, got %d", h.stream.stopCount())
	}
	if h.ctrl.Status().Kind != StatusEnded {
		t.Errorf("Late callbacks should not change status, got %s", h.ctrl.Status().Kind)
	}
	h.assertReleased(t)
}

func TestController_SessionError(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handler, session := h.model.last()
	session.open()
	handler.OnOpen()

	handler.OnError(errors.New("websocket: close 1011"))

	status := h.ctrl.Status()
	if status.Kind != StatusError || status.Text != "Habaye ikibazo. Ongera ugerageze." {
		t.Errorf("Unexpected status %+v", status)
	}
	h.assertReleased(t)

	// A stop after the error path is a no-op.
	h.ctrl.Stop()
	if h.ctrl.Status().Kind != StatusError {
		t.Error("Stop after error should keep the error status")
	}
	if session.closeCount() != 1 {
		t.Errorf("Expected session closed once, got %d", session.closeCount())
	}
}

func TestController_RemoteClose(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handler, _ := h.model.last()
	handler.OnClose()

	if h.ctrl.Status().Kind != StatusEnded {
		t.Errorf("Expected ended status, got %s", h.ctrl.Status().Kind)
	}
	h.assertReleased(t)
}

func TestController_NoSendBeforeOpen(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, session := h.model.last()

	h.stream.blocks <- make([]float32, audio.BlockSize)
	h.ctrl.sendFrame(h.ctrl.attempt, audio.NewFrame([]float32{0.5}, audio.InputSampleRate))
	time.Sleep(20 * time.Millisecond)

	if n := len(session.sent()); n != 0 {
		t.Errorf("Expected no frames before open, got %d", n)
	}
	h.ctrl.Stop()
}

func TestController_MessagesIgnoredBeforeOpen(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handler, _ := h.model.last()

	handler.OnMessage([]repositories.ServerEvent{repositories.InputTranscript{Text: "early"}, repositories.TurnComplete{}})
	if len(h.ctrl.History()) != 0 {
		t.Error("Messages before open should be ignored")
	}
	h.ctrl.Stop()
}

func TestController_AudioScheduledBackToBack(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handler, session := h.model.last()
	session.open()
	handler.OnOpen()

	out := h.output(0)
	chunk := repositories.AudioChunk{Data: make([]byte, 2400*2), SampleRate: audio.OutputSampleRate} // 100ms
	handler.OnMessage([]repositories.ServerEvent{chunk, chunk})

	out.mu.Lock()
	out.now = 150 * time.Millisecond
	out.mu.Unlock()
	handler.OnMessage([]repositories.ServerEvent{chunk})

	out.mu.Lock()
	out.now = time.Second
	out.mu.Unlock()
	handler.OnMessage([]repositories.ServerEvent{chunk})

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, time.Second}
	out.mu.Lock()
	played := append([]playedBuffer(nil), out.played...)
	out.mu.Unlock()
	if len(played) != len(want) {
		t.Fatalf("Expected %d buffers, got %d", len(want), len(played))
	}
	for i := range want {
		if played[i].at != want[i] {
			t.Errorf("buffer %d: start %v, want %v", i, played[i].at, want[i])
		}
		if played[i].frames != 2400 {
			t.Errorf("buffer %d: %d frames", i, played[i].frames)
		}
	}
	h.ctrl.Stop()
}

func TestController_FreshOutputPerAttempt(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if err := h.ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		h.ctrl.Stop()
	}
	h.mu.Lock()
	n := len(h.outputs)
	h.mu.Unlock()
	if n != 2 {
		t.Errorf("Expected 2 outputs, got %d", n)
	}
	if h.output(0).closeCount() != 1 || h.output(1).closeCount() != 1 {
		t.Error("Each output should be closed exactly once")
	}
}

func TestController_StartWhileActive(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrActive) {
		t.Errorf("Expected ErrActive, got %v", err)
	}
	if err := h.ctrl.Toggle(context.Background()); err != nil {
		t.Errorf("Toggle should stop, got %v", err)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("Expected idle after toggle, got %s", h.ctrl.State())
	}
}

func TestController_StaleOpenIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	oldHandler, _ := h.model.last()
	h.ctrl.Stop()

	h.stream = newFakeStream()
	h.mic.stream = h.stream
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	oldHandler.OnOpen()
	oldHandler.OnError(errors.New("stale"))
	if h.ctrl.State() != StateConnecting {
		t.Errorf("Stale callbacks should be ignored, state %s", h.ctrl.State())
	}
	h.ctrl.Stop()
}

func TestController_StopDuringMicrophoneRequest(t *testing.T) {
	h := newHarness(t)
	h.mic.block = true

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(context.Background()) }()

	waitFor(t, "connecting", func() bool { return h.ctrl.State() == StateConnecting })
	h.ctrl.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if h.model.opened() != 0 {
		t.Error("Live session should not open after stop")
	}
	h.assertReleased(t)
}

func TestController_OpenFailure(t *testing.T) {
	h := newHarness(t)
	h.model.err = errors.New("dial failed")

	if err := h.ctrl.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail")
	}
	if h.ctrl.Status().Kind != StatusError {
		t.Errorf("Expected error status, got %s", h.ctrl.Status().Kind)
	}
	if h.stream.stopCount() != 1 {
		t.Error("Microphone should be released when the session cannot open")
	}
	h.assertReleased(t)
}
