package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
)

// liveConn is the part of *genai.Session the live adapter uses.
type liveConn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type liveDialer func(ctx context.Context, model string, config *genai.LiveConnectConfig) (liveConn, error)

// GeminiLive implements repositories.LiveModel on the Gemini Live API
type GeminiLive struct {
	dial   liveDialer
	logger *zap.Logger
}

// NewGeminiLive creates a live model backed by a genai client
func NewGeminiLive(client *genai.Client, logger *zap.Logger) *GeminiLive {
	dial := func(ctx context.Context, model string, config *genai.LiveConnectConfig) (liveConn, error) {
		session, err := client.Live.Connect(ctx, model, config)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return newGeminiLive(dial, logger)
}

func newGeminiLive(dial liveDialer, logger *zap.Logger) *GeminiLive {
	return &GeminiLive{dial: dial, logger: logger}
}

// Open starts connecting in the background and returns a session in the
// connecting state.
func (g *GeminiLive) Open(ctx context.Context, config repositories.LiveConfig, handler repositories.LiveHandler) (repositories.LiveSession, error) {
	if handler == nil {
		return nil, fmt.Errorf("live handler is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("live model name is required")
	}

	s := &geminiLiveSession{
		logger:  g.logger.With(zap.String("model", config.Model)),
		handler: handler,
		state:   repositories.SessionConnecting,
	}
	go s.run(ctx, g.dial, config.Model, buildLiveConnectConfig(config))
	return s, nil
}

// buildLiveConnectConfig maps the session description onto the SDK config.
func buildLiveConnectConfig(config repositories.LiveConfig) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if config.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: config.Voice},
			},
		}
	}
	if config.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(config.SystemInstruction, genai.RoleUser)
	}
	if config.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if config.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cfg
}

// geminiLiveSession is one Live API connection. Handler callbacks are made
// from the run goroutine only.
type geminiLiveSession struct {
	logger  *zap.Logger
	handler repositories.LiveHandler

	mu      sync.Mutex
	state   repositories.SessionState
	conn    liveConn
	stopped bool // Close was called locally

	writeMu sync.Mutex
}

func (s *geminiLiveSession) run(ctx context.Context, dial liveDialer, model string, cfg *genai.LiveConnectConfig) {
	conn, err := dial(ctx, model, cfg)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.state = repositories.SessionError
		s.mu.Unlock()
		s.logger.Error("Failed to connect live session", zap.Error(err))
		s.handler.OnError(fmt.Errorf("connect live session: %w", err))
		return
	}
	s.conn = conn
	s.state = repositories.SessionOpen
	s.mu.Unlock()

	s.logger.Info("Live session connected")
	s.handler.OnOpen()

	for {
		msg, err := conn.Receive()
		if err != nil {
			s.finish(err)
			return
		}
		if msg.GoAway != nil {
			s.logger.Warn("Live session will be closed by server", zap.Any("timeLeft", msg.GoAway.TimeLeft))
		}
		if events := decodeServerMessage(msg); len(events) > 0 {
			s.handler.OnMessage(events)
		}
	}
}

// finish reports the end of the receive loop unless the session was closed
// locally.
func (s *geminiLiveSession) finish(err error) {
	normal := isNormalClose(err)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if normal {
		s.state = repositories.SessionClosed
	} else {
		s.state = repositories.SessionError
	}
	s.mu.Unlock()

	if normal {
		s.logger.Info("Live session closed by server")
		s.handler.OnClose()
		return
	}
	s.logger.Error("Live session receive failed", zap.Error(err))
	s.handler.OnError(err)
}

// SendAudio forwards one PCM frame. The SDK base64-encodes the payload.
func (s *geminiLiveSession) SendAudio(data []byte, mimeType string) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == repositories.SessionOpen && conn != nil
	s.mu.Unlock()
	if !open {
		return repositories.ErrSessionNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	}); err != nil {
		return fmt.Errorf("send realtime audio: %w", err)
	}
	return nil
}

// State returns the connection state.
func (s *geminiLiveSession) State() repositories.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close closes the connection. It does not wait for the receive goroutine
// and no further handler callbacks are made. Safe to call more than once.
func (s *geminiLiveSession) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.state = repositories.SessionClosed
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Close()
}

// decodeServerMessage turns one inbound message into events in the order
// input transcript, output transcript, audio, turn complete.
func decodeServerMessage(msg *genai.LiveServerMessage) []repositories.ServerEvent {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	content := msg.ServerContent

	var events []repositories.ServerEvent
	if t := content.InputTranscription; t != nil && t.Text != "" {
		events = append(events, repositories.InputTranscript{Text: t.Text})
	}
	if t := content.OutputTranscription; t != nil && t.Text != "" {
		events = append(events, repositories.OutputTranscript{Text: t.Text})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			events = append(events, repositories.AudioChunk{
				Data:       part.InlineData.Data,
				SampleRate: audio.ParseSampleRate(part.InlineData.MIMEType, audio.OutputSampleRate),
			})
		}
	}
	if content.TurnComplete {
		events = append(events, repositories.TurnComplete{})
	}
	return events
}

func isNormalClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
