package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/transcript"
)

const defaultListLimit = 20

// ErrNoTurns is returned when summarizing a consultation without turns.
var ErrNoTurns = errors.New("consultation has no turns to summarize")

// ConsultationService keeps the record of live voice consultations.
type ConsultationService struct {
	repo   repositories.ConsultationRepository
	chat   *ChatService
	logger *zap.Logger

	// serializes read-modify-write on a record
	mu sync.Mutex
}

// NewConsultationService creates a new consultation service
func NewConsultationService(repo repositories.ConsultationRepository, chat *ChatService, logger *zap.Logger) *ConsultationService {
	return &ConsultationService{
		repo:   repo,
		chat:   chat,
		logger: logger,
	}
}

// Start creates an active consultation for the patient.
func (s *ConsultationService) Start(ctx context.Context, patientID string) (*entities.Consultation, error) {
	consultation := entities.NewConsultation(patientID)
	if err := s.repo.Create(ctx, consultation); err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}
	s.logger.Info("Consultation started",
		zap.String("consultationID", consultation.ID),
		zap.String("patientID", patientID))
	return consultation, nil
}

// RecordTurn appends a finalized turn to an active consultation.
func (s *ConsultationService) RecordTurn(ctx context.Context, consultationID string, turn transcript.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	consultation, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if consultation.Status != entities.ConsultationStatusActive {
		return fmt.Errorf("consultation %s is %s", consultationID, consultation.Status)
	}

	consultation.AddTurn(entities.ConsultationTurn{
		User:        turn.User,
		Model:       turn.Model,
		CompletedAt: turn.CompletedAt,
	})
	return s.repo.Update(ctx, consultation)
}

// End closes a consultation. Ending a finished consultation is a no-op.
func (s *ConsultationService) End(ctx context.Context, consultationID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	consultation, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if consultation.Status != entities.ConsultationStatusActive {
		return nil
	}

	consultation.End(reason)
	if err := s.repo.Update(ctx, consultation); err != nil {
		return err
	}
	s.logger.Info("Consultation ended",
		zap.String("consultationID", consultationID),
		zap.String("reason", reason),
		zap.Int("turns", len(consultation.Turns)))
	return nil
}

// Get returns a consultation owned by the patient.
func (s *ConsultationService) Get(ctx context.Context, consultationID, patientID string) (*entities.Consultation, error) {
	consultation, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if consultation.PatientID != patientID {
		return nil, repositories.ErrNotFound
	}
	return consultation, nil
}

// List returns the patient's consultations, most recent first.
func (s *ConsultationService) List(ctx context.Context, patientID string, limit int) ([]*entities.Consultation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListByPatient(ctx, patientID, limit)
}

// Summarize generates and stores the summary of a consultation. A stored
// summary is returned as is.
func (s *ConsultationService) Summarize(ctx context.Context, consultationID, patientID string) (string, error) {
	consultation, err := s.Get(ctx, consultationID, patientID)
	if err != nil {
		return "", err
	}
	if consultation.Summary != "" {
		return consultation.Summary, nil
	}
	if len(consultation.Turns) == 0 {
		return "", ErrNoTurns
	}

	messages := make([]repositories.ChatMessage, 0, len(consultation.Turns)*2)
	for _, turn := range consultation.Turns {
		if turn.User != "" {
			messages = append(messages, repositories.ChatMessage{Role: repositories.UserRole, Content: turn.User})
		}
		if turn.Model != "" {
			messages = append(messages, repositories.ChatMessage{Role: repositories.ModelRole, Content: turn.Model})
		}
	}

	summary := s.chat.Summarize(ctx, AssistantName, messages)
	if summary == SummaryFallback {
		return summary, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	latest, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return "", err
	}
	latest.Summary = summary
	if err := s.repo.Update(ctx, latest); err != nil {
		return "", err
	}
	return summary, nil
}

// ExpireStale expires active consultations idle for longer than maxIdle.
func (s *ConsultationService) ExpireStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	return s.repo.ExpireStale(ctx, time.Now().Add(-maxIdle))
}
