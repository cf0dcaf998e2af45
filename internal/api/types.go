package api

import (
	"time"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

// RegisterRequest represents the request payload for patient registration
type RegisterRequest struct {
	Phone             string   `json:"phone"`
	PIN               string   `json:"pin"`
	FullName          string   `json:"full_name"`
	DateOfBirth       string   `json:"dob,omitempty"`
	Location          string   `json:"location,omitempty"`
	BloodType         string   `json:"blood_type,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	ChronicConditions []string `json:"chronic_conditions,omitempty"`
}

// LoginRequest represents the request payload for patient login
type LoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

// AuthResponse represents the response payload for register and login
type AuthResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	Patient   *entities.Patient `json:"patient"`
}

// ProfileRequest updates the patient profile. Omitted fields are unchanged.
type ProfileRequest struct {
	FullName          *string  `json:"full_name,omitempty"`
	Location          *string  `json:"location,omitempty"`
	BloodType         *string  `json:"blood_type,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	ChronicConditions []string `json:"chronic_conditions,omitempty"`
}

// DoctorChatRequest is one message to a doctor persona
type DoctorChatRequest struct {
	Doctor     entities.Doctor            `json:"doctor"`
	History    []repositories.ChatMessage `json:"history"`
	Message    string                     `json:"message"`
	Attachment *repositories.Attachment   `json:"attachment,omitempty"`
}

// AdviceRequest is one question to the health advisor
type AdviceRequest struct {
	History    []repositories.ChatMessage `json:"history"`
	Prompt     string                     `json:"prompt"`
	Attachment *repositories.Attachment   `json:"attachment,omitempty"`
}

// SummaryRequest asks for a summary of a text consultation
type SummaryRequest struct {
	DoctorName string                     `json:"doctor_name"`
	Messages   []repositories.ChatMessage `json:"messages"`
}

// ReplyResponse carries a model answer
type ReplyResponse struct {
	Reply string `json:"reply"`
}

// SummaryResponse carries a consultation summary
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// TriageStartResponse is returned when a triage chat opens
type TriageStartResponse struct {
	TriageID string `json:"triage_id"`
	Greeting string `json:"greeting"`
}

// TriageMessageRequest is one patient answer in a triage chat
type TriageMessageRequest struct {
	Message string `json:"message"`
}

// DictationRequest carries a short recorded clip
type DictationRequest struct {
	Audio      []byte `json:"audio"` // base64 in JSON
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding,omitempty"`
	Language   string `json:"language,omitempty"`
}

// DictationResponse carries the recognized text
type DictationResponse struct {
	Text string `json:"text"`
}

// ConsultationListResponse lists live consultations
type ConsultationListResponse struct {
	Consultations []*entities.Consultation `json:"consultations"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
