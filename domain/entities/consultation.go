package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConsultationStatus represents the status of a live consultation
type ConsultationStatus string

const (
	ConsultationStatusActive  ConsultationStatus = "active"
	ConsultationStatusEnded   ConsultationStatus = "ended"
	ConsultationStatusExpired ConsultationStatus = "expired"
)

// ConsultationIdleTimeout is how long an active consultation may go without
// activity before the cleanup service expires it.
const ConsultationIdleTimeout = 30 * time.Minute

// ConsultationTurn is one finalized exchange of a voice consultation.
type ConsultationTurn struct {
	User        string    `json:"user" bson:"user"`
	Model       string    `json:"model" bson:"model"`
	CompletedAt time.Time `json:"completed_at" bson:"completed_at"`
}

// Consultation is a live voice consultation between a patient and the triage model
type Consultation struct {
	ID           string             `json:"id" bson:"_id"`
	PatientID    string             `json:"patient_id" bson:"patient_id"`
	Status       ConsultationStatus `json:"status" bson:"status"`
	Turns        []ConsultationTurn `json:"turns" bson:"turns"`
	Summary      string             `json:"summary,omitempty" bson:"summary,omitempty"`
	EndReason    string             `json:"end_reason,omitempty" bson:"end_reason,omitempty"`
	StartedAt    time.Time          `json:"started_at" bson:"started_at"`
	LastActiveAt time.Time          `json:"last_active_at" bson:"last_active_at"`
	ExpiresAt    time.Time          `json:"expires_at" bson:"expires_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
}

// NewConsultation creates a new active consultation for a patient
func NewConsultation(patientID string) *Consultation {
	now := time.Now()
	return &Consultation{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		Status:       ConsultationStatusActive,
		Turns:        make([]ConsultationTurn, 0),
		StartedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ConsultationIdleTimeout),
	}
}

// AddTurn appends a finalized turn and extends the idle deadline
func (c *Consultation) AddTurn(turn ConsultationTurn) {
	if turn.CompletedAt.IsZero() {
		turn.CompletedAt = time.Now()
	}
	c.Turns = append(c.Turns, turn)
	c.Touch()
}

// Touch updates the last active timestamp and extends expiration
func (c *Consultation) Touch() {
	c.LastActiveAt = time.Now()
	c.ExpiresAt = c.LastActiveAt.Add(ConsultationIdleTimeout)
}

// End marks the consultation as finished. Ending twice keeps the first end time.
func (c *Consultation) End(reason string) {
	if c.Status != ConsultationStatusActive {
		return
	}
	now := time.Now()
	c.Status = ConsultationStatusEnded
	c.EndReason = reason
	c.EndedAt = &now
	c.LastActiveAt = now
}

// Expire marks the consultation as expired
func (c *Consultation) Expire() {
	if c.Status != ConsultationStatusActive {
		return
	}
	now := time.Now()
	c.Status = ConsultationStatusExpired
	c.EndReason = "expired"
	c.EndedAt = &now
}

// IsExpired checks if the consultation is past its idle deadline or no longer active
func (c *Consultation) IsExpired() bool {
	return time.Now().After(c.ExpiresAt) || c.Status != ConsultationStatusActive
}

// Validate validates the consultation data
func (c *Consultation) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.PatientID == "" {
		return errors.New("patient_id is required")
	}

	switch c.Status {
	case ConsultationStatusActive, ConsultationStatusEnded, ConsultationStatusExpired:
	default:
		return errors.New("invalid consultation status")
	}

	return nil
}
