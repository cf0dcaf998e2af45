package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

// MemoryConsultationRepository is an in-memory ConsultationRepository used when
// no MongoDB URI is configured
type MemoryConsultationRepository struct {
	mu            sync.RWMutex
	consultations map[string]*entities.Consultation   // id -> consultation
	patients      map[string][]*entities.Consultation // patient_id -> consultations
}

// NewMemoryConsultationRepository creates a new in-memory consultation repository
func NewMemoryConsultationRepository() *MemoryConsultationRepository {
	return &MemoryConsultationRepository{
		consultations: make(map[string]*entities.Consultation),
		patients:      make(map[string][]*entities.Consultation),
	}
}

// Create implements ConsultationRepository interface
func (m *MemoryConsultationRepository) Create(ctx context.Context, consultation *entities.Consultation) error {
	if consultation == nil {
		return errors.New("consultation cannot be nil")
	}
	if err := consultation.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.consultations[consultation.ID]; exists {
		return repositories.ErrAlreadyExists
	}

	stored := copyConsultation(consultation)
	m.consultations[stored.ID] = stored
	m.patients[stored.PatientID] = append(m.patients[stored.PatientID], stored)
	return nil
}

// GetByID implements ConsultationRepository interface
func (m *MemoryConsultationRepository) GetByID(ctx context.Context, id string) (*entities.Consultation, error) {
	if id == "" {
		return nil, errors.New("consultation ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	consultation, exists := m.consultations[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return copyConsultation(consultation), nil
}

// ListByPatient returns the patient's consultations, most recent first
func (m *MemoryConsultationRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.Consultation, error) {
	if patientID == "" {
		return nil, errors.New("patient ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.patients[patientID]
	result := make([]*entities.Consultation, 0, len(stored))
	for _, c := range stored {
		result = append(result, copyConsultation(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Update implements ConsultationRepository interface
func (m *MemoryConsultationRepository) Update(ctx context.Context, consultation *entities.Consultation) error {
	if consultation == nil {
		return errors.New("consultation cannot be nil")
	}
	if err := consultation.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.consultations[consultation.ID]
	if !exists {
		return repositories.ErrNotFound
	}

	// Patient ownership and start time never change.
	updated := copyConsultation(consultation)
	updated.PatientID = existing.PatientID
	updated.StartedAt = existing.StartedAt
	*existing = *updated
	return nil
}

// ExpireStale implements ConsultationRepository interface
func (m *MemoryConsultationRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.consultations {
		if c.Status == entities.ConsultationStatusActive && c.LastActiveAt.Before(cutoff) {
			c.Expire()
			count++
		}
	}
	return count, nil
}

func copyConsultation(c *entities.Consultation) *entities.Consultation {
	cp := *c
	cp.Turns = append([]entities.ConsultationTurn(nil), c.Turns...)
	if c.EndedAt != nil {
		endedAt := *c.EndedAt
		cp.EndedAt = &endedAt
	}
	return &cp
}
