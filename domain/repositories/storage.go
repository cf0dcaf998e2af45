package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/mediconnect/server/domain/entities"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// PatientRepository defines data access methods for patients
type PatientRepository interface {
	Create(ctx context.Context, patient *entities.Patient) error
	GetByID(ctx context.Context, id string) (*entities.Patient, error)
	GetByPhone(ctx context.Context, phone string) (*entities.Patient, error)
	Update(ctx context.Context, patient *entities.Patient) error
}

// ConsultationRepository defines data access methods for live consultations
type ConsultationRepository interface {
	Create(ctx context.Context, consultation *entities.Consultation) error
	GetByID(ctx context.Context, id string) (*entities.Consultation, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.Consultation, error)
	Update(ctx context.Context, consultation *entities.Consultation) error
	// ExpireStale marks active consultations idle since before cutoff as expired.
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
}
