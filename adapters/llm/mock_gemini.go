package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
)

// MockGeminiClient is a canned implementation used when no API key is configured
type MockGeminiClient struct{}

// NewMockGeminiClient creates a new mock Gemini client
func NewMockGeminiClient() *MockGeminiClient {
	return &MockGeminiClient{}
}

// Generate implements repositories.LargeLanguageModel
func (g *MockGeminiClient) Generate(ctx context.Context, req repositories.GenerateRequest) (string, error) {
	if req.Message.Content == "" {
		return "Muraho! Nakubwira iki uyu munsi?", nil
	}
	return fmt.Sprintf("Murakoze kutubwira ibijyanye na '%s'. Ibi bimenyetso byatangiye ryari?", req.Message.Content), nil
}

// GenerateChat implements repositories.LargeLanguageModel
func (g *MockGeminiClient) GenerateChat(ctx context.Context, systemInstruction string, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockGeminiChatSession{
		history: append([]repositories.ChatMessage(nil), history...),
	}, nil
}

// MockGeminiChatSession implements repositories.ChatSession. After four
// patient messages it answers with a triage summary.
type MockGeminiChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (g *MockGeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, message)

	userMessages := 0
	for _, m := range g.history {
		if m.Role == repositories.UserRole {
			userMessages++
		}
	}

	var response string
	switch {
	case userMessages >= 4:
		response = "Murakoze. Ndimo gutegura incamake yo guha muganga.\n[SUMMARY]: **Ikibazo nyamukuru:** " + message.Content
	case message.Content != "":
		response = fmt.Sprintf("Ndumva. Ku gipimo cya 1 kugeza 10, '%s' kirakubabaza kangana iki?", message.Content)
	default:
		response = "Mbwira muri make ikibazo cyawe nyamukuru."
	}

	responseMessage := repositories.ChatMessage{
		Role:    repositories.ModelRole,
		Content: response,
	}
	g.history = append(g.history, responseMessage)

	return responseMessage, nil
}

// History implements repositories.ChatSession
func (g *MockGeminiChatSession) History() ([]repositories.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]repositories.ChatMessage(nil), g.history...), nil
}

// mockTurnFrames is how many microphone frames the mock live model listens
// to before answering (about three seconds at 16 kHz).
const mockTurnFrames = 12

// MockLive is a live model that answers every few seconds of audio with a
// canned Kinyarwanda reply and a short silent clip.
type MockLive struct {
	logger *zap.Logger
}

// NewMockLive creates a mock live model
func NewMockLive(logger *zap.Logger) *MockLive {
	return &MockLive{logger: logger}
}

// Open implements repositories.LiveModel
func (m *MockLive) Open(ctx context.Context, config repositories.LiveConfig, handler repositories.LiveHandler) (repositories.LiveSession, error) {
	if handler == nil {
		return nil, fmt.Errorf("live handler is required")
	}
	s := &mockLiveSession{
		handler: handler,
		state:   repositories.SessionConnecting,
		events:  make(chan []repositories.ServerEvent, 8),
		done:    make(chan struct{}),
	}
	m.logger.Info("Opening mock live session", zap.String("voice", config.Voice))
	go s.run()
	return s, nil
}

type mockLiveSession struct {
	handler repositories.LiveHandler

	mu     sync.Mutex
	state  repositories.SessionState
	frames int

	events chan []repositories.ServerEvent
	done   chan struct{}
	once   sync.Once
}

func (s *mockLiveSession) run() {
	s.mu.Lock()
	if s.state != repositories.SessionConnecting {
		s.mu.Unlock()
		return
	}
	s.state = repositories.SessionOpen
	s.mu.Unlock()
	s.handler.OnOpen()

	for {
		select {
		case <-s.done:
			return
		case events := <-s.events:
			s.handler.OnMessage(events)
		}
	}
}

func (s *mockLiveSession) SendAudio(data []byte, mimeType string) error {
	s.mu.Lock()
	if s.state != repositories.SessionOpen {
		s.mu.Unlock()
		return repositories.ErrSessionNotOpen
	}
	s.frames++
	reply := s.frames%mockTurnFrames == 0
	s.mu.Unlock()

	if reply {
		silence := make([]byte, audio.OutputSampleRate/5*2) // 200ms
		select {
		case s.events <- []repositories.ServerEvent{
			repositories.InputTranscript{Text: "(amajwi y'umurwayi) "},
			repositories.OutputTranscript{Text: "Ndumva. Ibi bimenyetso byatangiye ryari?"},
			repositories.AudioChunk{Data: silence, SampleRate: audio.OutputSampleRate},
			repositories.TurnComplete{},
		}:
		default:
		}
	}
	return nil
}

func (s *mockLiveSession) State() repositories.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *mockLiveSession) Close() error {
	s.mu.Lock()
	s.state = repositories.SessionClosed
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}
