package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

// MemoryPatientRepository is an in-memory PatientRepository
type MemoryPatientRepository struct {
	mu       sync.RWMutex
	patients map[string]*entities.Patient // id -> patient
	phones   map[string]*entities.Patient // phone -> patient
}

// NewMemoryPatientRepository creates a new in-memory patient repository
func NewMemoryPatientRepository() *MemoryPatientRepository {
	return &MemoryPatientRepository{
		patients: make(map[string]*entities.Patient),
		phones:   make(map[string]*entities.Patient),
	}
}

// Create implements PatientRepository interface
func (m *MemoryPatientRepository) Create(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if err := patient.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.phones[patient.Phone]; exists {
		return repositories.ErrAlreadyExists
	}

	if patient.ID == "" {
		patient.ID = uuid.New().String()
	}
	now := time.Now()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	stored := copyPatient(patient)
	m.patients[stored.ID] = stored
	m.phones[stored.Phone] = stored
	return nil
}

// GetByID implements PatientRepository interface
func (m *MemoryPatientRepository) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	if id == "" {
		return nil, errors.New("patient ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	patient, exists := m.patients[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return copyPatient(patient), nil
}

// GetByPhone implements PatientRepository interface
func (m *MemoryPatientRepository) GetByPhone(ctx context.Context, phone string) (*entities.Patient, error) {
	if phone == "" {
		return nil, errors.New("phone cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	patient, exists := m.phones[phone]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return copyPatient(patient), nil
}

// Update implements PatientRepository interface
func (m *MemoryPatientRepository) Update(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if patient.ID == "" {
		return errors.New("patient ID cannot be empty")
	}
	if err := patient.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.patients[patient.ID]
	if !exists {
		return repositories.ErrNotFound
	}

	if existing.Phone != patient.Phone {
		if _, taken := m.phones[patient.Phone]; taken {
			return repositories.ErrAlreadyExists
		}
	}

	patient.UpdatedAt = time.Now()
	patient.CreatedAt = existing.CreatedAt

	delete(m.phones, existing.Phone)
	stored := copyPatient(patient)
	m.patients[stored.ID] = stored
	m.phones[stored.Phone] = stored
	return nil
}

func copyPatient(p *entities.Patient) *entities.Patient {
	cp := *p
	cp.PINHash = append([]byte(nil), p.PINHash...)
	cp.Allergies = append([]string(nil), p.Allergies...)
	cp.ChronicConditions = append([]string(nil), p.ChronicConditions...)
	return &cp
}
