package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/auth"
)

var (
	// ErrInvalidCredentials is returned when phone and PIN do not match.
	ErrInvalidCredentials = errors.New("invalid phone or PIN")
	// ErrInvalidPIN is returned when a PIN is not 4 to 6 digits.
	ErrInvalidPIN = errors.New("PIN must be 4 to 6 digits")
)

// Registration is the data a patient signs up with
type Registration struct {
	Phone             string
	PIN               string
	FullName          string
	DateOfBirth       string
	Location          string
	BloodType         string
	Allergies         []string
	ChronicConditions []string
}

// ProfileUpdate holds the editable profile fields. Nil fields are unchanged.
type ProfileUpdate struct {
	FullName          *string
	Location          *string
	BloodType         *string
	Allergies         []string
	ChronicConditions []string
}

// PatientService manages patient accounts
type PatientService struct {
	repo   repositories.PatientRepository
	logger *zap.Logger
}

// NewPatientService creates a new patient service
func NewPatientService(repo repositories.PatientRepository, logger *zap.Logger) *PatientService {
	return &PatientService{repo: repo, logger: logger}
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Register creates a patient account
func (s *PatientService) Register(ctx context.Context, reg Registration) (*entities.Patient, error) {
	if !validPIN(reg.PIN) {
		return nil, ErrInvalidPIN
	}
	hash, err := auth.HashPIN(reg.PIN)
	if err != nil {
		return nil, err
	}

	patient := &entities.Patient{
		Phone:             strings.TrimSpace(reg.Phone),
		PINHash:           hash,
		FullName:          strings.TrimSpace(reg.FullName),
		DateOfBirth:       reg.DateOfBirth,
		Location:          reg.Location,
		BloodType:         reg.BloodType,
		Allergies:         nonNil(reg.Allergies),
		ChronicConditions: nonNil(reg.ChronicConditions),
	}
	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, err
	}

	s.logger.Info("Patient registered", zap.String("patientID", patient.ID))
	return patient, nil
}

// Authenticate checks a phone and PIN pair
func (s *PatientService) Authenticate(ctx context.Context, phone, pin string) (*entities.Patient, error) {
	patient, err := s.repo.GetByPhone(ctx, strings.TrimSpace(phone))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	if err := auth.CheckPIN(patient.PINHash, pin); err != nil {
		s.logger.Warn("Failed login attempt", zap.String("patientID", patient.ID))
		return nil, ErrInvalidCredentials
	}
	return patient, nil
}

// Get returns a patient profile
func (s *PatientService) Get(ctx context.Context, patientID string) (*entities.Patient, error) {
	return s.repo.GetByID(ctx, patientID)
}

// UpdateProfile applies the non-nil fields of update
func (s *PatientService) UpdateProfile(ctx context.Context, patientID string, update ProfileUpdate) (*entities.Patient, error) {
	patient, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}

	if update.FullName != nil {
		patient.FullName = strings.TrimSpace(*update.FullName)
	}
	if update.Location != nil {
		patient.Location = *update.Location
	}
	if update.BloodType != nil {
		patient.BloodType = *update.BloodType
	}
	if update.Allergies != nil {
		patient.Allergies = update.Allergies
	}
	if update.ChronicConditions != nil {
		patient.ChronicConditions = update.ChronicConditions
	}
	if err := patient.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
