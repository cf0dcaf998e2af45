package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/observability"
)

// ErrTriageNotFound is returned for an unknown or finished triage chat.
var ErrTriageNotFound = errors.New("triage chat not found")

// ChatService handles the text consultations: doctor chat, health advice,
// summaries and symptom triage.
type ChatService struct {
	llm    repositories.LargeLanguageModel
	logger *zap.Logger

	mu     sync.Mutex
	triage map[string]*triageChat
}

type triageChat struct {
	patientID string
	session   repositories.ChatSession
	startedAt time.Time
}

// TriageReply is the answer to one triage message. When Complete is set,
// Summary holds the text meant for the doctor and the chat is closed.
type TriageReply struct {
	Reply    string `json:"reply"`
	Summary  string `json:"summary,omitempty"`
	Complete bool   `json:"complete"`
	Failed   bool   `json:"failed,omitempty"`
}

// NewChatService creates a new chat service
func NewChatService(llm repositories.LargeLanguageModel, logger *zap.Logger) *ChatService {
	return &ChatService{
		llm:    llm,
		logger: logger,
		triage: make(map[string]*triageChat),
	}
}

// previousMessages drops the trailing user message when it repeats the one
// being sent, so history never contains the current prompt.
func previousMessages(history []repositories.ChatMessage, message string) []repositories.ChatMessage {
	if n := len(history); n > 0 && history[n-1].Role == repositories.UserRole && history[n-1].Content == message {
		return history[:n-1]
	}
	return history
}

// ConsultDoctor answers a patient in the persona of the given doctor.
func (s *ChatService) ConsultDoctor(ctx context.Context, doctor entities.Doctor, history []repositories.ChatMessage, message string, attachment *repositories.Attachment) string {
	started := time.Now()
	text, err := s.llm.Generate(ctx, repositories.GenerateRequest{
		SystemInstruction: doctorInstruction(doctor),
		History:           previousMessages(history, message),
		Message: repositories.ChatMessage{
			Role:       repositories.UserRole,
			Content:    message,
			Attachment: attachment,
		},
	})
	observability.RecordLLMRequest("doctor", started, err == nil)
	if err != nil {
		s.logger.Error("Doctor consultation failed", zap.String("doctor", doctor.Name), zap.Error(err))
		return DoctorFallback
	}
	return text
}

// HealthAdvice answers a general wellness question using the patient's
// allergies and chronic conditions as context.
func (s *ChatService) HealthAdvice(ctx context.Context, patient *entities.Patient, history []repositories.ChatMessage, prompt string, attachment *repositories.Attachment) string {
	var allergies, conditions []string
	if patient != nil {
		allergies = patient.Allergies
		conditions = patient.ChronicConditions
	}

	started := time.Now()
	text, err := s.llm.Generate(ctx, repositories.GenerateRequest{
		SystemInstruction: advisorInstruction(allergies, conditions),
		History:           previousMessages(history, prompt),
		Message: repositories.ChatMessage{
			Role:       repositories.UserRole,
			Content:    prompt,
			Attachment: attachment,
		},
	})
	observability.RecordLLMRequest("advice", started, err == nil)
	if err != nil {
		s.logger.Error("Health advice failed", zap.Error(err))
		return AdviceFallback
	}
	return text
}

// Summarize writes a four-section Kinyarwanda summary of a consultation.
func (s *ChatService) Summarize(ctx context.Context, doctorName string, messages []repositories.ChatMessage) string {
	started := time.Now()
	text, err := s.llm.Generate(ctx, repositories.GenerateRequest{
		Message: repositories.ChatMessage{
			Role:    repositories.UserRole,
			Content: summaryPrompt(doctorName, messages),
		},
	})
	observability.RecordLLMRequest("summary", started, err == nil)
	if err != nil {
		s.logger.Error("Summary generation failed", zap.Error(err))
		return SummaryFallback
	}
	return text
}

// StartTriage opens a symptom triage chat and returns its ID and greeting.
func (s *ChatService) StartTriage(ctx context.Context, patientID string) (string, string, error) {
	session, err := s.llm.GenerateChat(ctx, triageInstruction, []repositories.ChatMessage{
		{Role: repositories.ModelRole, Content: TriageGreeting},
	})
	if err != nil {
		return "", "", err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.triage[id] = &triageChat{patientID: patientID, session: session, startedAt: time.Now()}
	s.mu.Unlock()

	s.logger.Info("Triage chat started", zap.String("triageID", id), zap.String("patientID", patientID))
	return id, TriageGreeting, nil
}

// TriageMessage sends a patient message to an open triage chat.
func (s *ChatService) TriageMessage(ctx context.Context, triageID, patientID, message string) (TriageReply, error) {
	s.mu.Lock()
	chat, ok := s.triage[triageID]
	s.mu.Unlock()
	if !ok || chat.patientID != patientID {
		return TriageReply{}, ErrTriageNotFound
	}

	started := time.Now()
	reply, err := chat.session.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: message,
	})
	failed := err != nil || reply.Role == repositories.SystemRole
	observability.RecordLLMRequest("triage", started, !failed)
	if failed {
		if err != nil {
			s.logger.Error("Triage message failed", zap.String("triageID", triageID), zap.Error(err))
		}
		return TriageReply{Reply: TriageFallback, Failed: true}, nil
	}

	explanation, summary, done := splitSummary(reply.Content)
	if !done {
		return TriageReply{Reply: reply.Content}, nil
	}

	s.mu.Lock()
	delete(s.triage, triageID)
	s.mu.Unlock()
	s.logger.Info("Triage chat completed",
		zap.String("triageID", triageID),
		zap.Duration("duration", time.Since(chat.startedAt)))

	return TriageReply{Reply: explanation, Summary: summary, Complete: true}, nil
}

// ExpireTriage drops triage chats older than maxAge and returns how many were removed.
func (s *ChatService) ExpireTriage(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, chat := range s.triage {
		if chat.startedAt.Before(cutoff) {
			delete(s.triage, id)
			removed++
		}
	}
	return removed
}
