package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/auth"
	"github.com/mediconnect/server/internal/consultation"
	"github.com/mediconnect/server/internal/websocket"
	"github.com/mediconnect/server/usecase"
)

const patientIDKey = "patientID"

// maxAttachmentBytes bounds inline media sent to the model
const maxAttachmentBytes = 4 << 20

// Dependencies are the services the routes are served from. Hub and
// SpeechToText may be nil; the websocket route is then not registered and
// dictation reports that it is unsupported.
type Dependencies struct {
	Hub            *websocket.Hub
	Patients       *usecase.PatientService
	Chat           *usecase.ChatService
	Consultations  *usecase.ConsultationService
	SpeechToText   repositories.SpeechToText
	Tokens         *auth.TokenIssuer
	MetricsEnabled bool
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handlers{deps: deps, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "mediconnect-server",
		})
	})

	if deps.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Patient APIs
	v1.POST("/patients/register", h.register)
	v1.POST("/patients/login", h.login)

	authed := v1.Group("", h.requirePatient)
	authed.GET("/patients/me", h.getProfile)
	authed.PUT("/patients/me", h.updateProfile)

	// Text consultation APIs
	authed.POST("/chat/doctor", h.chatDoctor)
	authed.POST("/chat/advice", h.chatAdvice)
	authed.POST("/chat/summary", h.chatSummary)
	authed.POST("/triage", h.startTriage)
	authed.POST("/triage/:id/messages", h.triageMessage)

	// Live consultation history APIs
	authed.GET("/consultations", h.listConsultations)
	authed.GET("/consultations/:id", h.getConsultation)
	authed.POST("/consultations/:id/summary", h.summarizeConsultation)

	authed.POST("/dictation", h.dictation)

	// WebSocket endpoint with JWT validation
	if deps.Hub != nil {
		e.GET("/ws", h.serveWebSocket, h.requirePatient)
	}
}

func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{Error: code, Message: message})
}

// bearerToken reads the token from the Authorization header, falling back
// to the token query parameter browsers use for websockets.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.QueryParam("token")
}

// requirePatient validates the patient token and stores the patient ID
func (h *handlers) requirePatient(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return errorJSON(c, http.StatusUnauthorized, "missing_token", "JWT token is required")
		}
		claims, err := h.deps.Tokens.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token",
				zap.String("path", c.Path()),
				zap.Error(err))
			return errorJSON(c, http.StatusUnauthorized, "invalid_token", "Invalid or expired JWT token")
		}
		c.Set(patientIDKey, claims.PatientID)
		return next(c)
	}
}

func patientID(c echo.Context) string {
	id, _ := c.Get(patientIDKey).(string)
	return id
}

func (h *handlers) register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}

	patient, err := h.deps.Patients.Register(c.Request().Context(), usecase.Registration{
		Phone:             req.Phone,
		PIN:               req.PIN,
		FullName:          req.FullName,
		DateOfBirth:       req.DateOfBirth,
		Location:          req.Location,
		BloodType:         req.BloodType,
		Allergies:         req.Allergies,
		ChronicConditions: req.ChronicConditions,
	})
	switch {
	case errors.Is(err, repositories.ErrAlreadyExists):
		return errorJSON(c, http.StatusConflict, "phone_taken", "Phone number is already registered")
	case errors.Is(err, usecase.ErrInvalidPIN):
		return errorJSON(c, http.StatusBadRequest, "invalid_pin", err.Error())
	case err != nil:
		h.logger.Warn("Registration failed", zap.Error(err))
		return errorJSON(c, http.StatusBadRequest, "invalid_patient", err.Error())
	}

	token, expiresAt, err := h.deps.Tokens.GeneratePatientToken(patient.ID)
	if err != nil {
		h.logger.Error("Failed to generate patient token", zap.String("patientID", patient.ID), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "token_generation_failed", "Failed to generate authentication token")
	}
	return c.JSON(http.StatusCreated, AuthResponse{Token: token, ExpiresAt: expiresAt, Patient: patient})
}

func (h *handlers) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}
	if req.Phone == "" || req.PIN == "" {
		return errorJSON(c, http.StatusBadRequest, "missing_fields", "Phone and PIN are required")
	}

	patient, err := h.deps.Patients.Authenticate(c.Request().Context(), req.Phone, req.PIN)
	if errors.Is(err, usecase.ErrInvalidCredentials) {
		return errorJSON(c, http.StatusUnauthorized, "authentication_failed", "Invalid phone or PIN")
	}
	if err != nil {
		h.logger.Error("Login failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal_error", "Login failed")
	}

	token, expiresAt, err := h.deps.Tokens.GeneratePatientToken(patient.ID)
	if err != nil {
		h.logger.Error("Failed to generate patient token", zap.String("patientID", patient.ID), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "token_generation_failed", "Failed to generate authentication token")
	}

	h.logger.Info("Patient authenticated", zap.String("patientID", patient.ID))
	return c.JSON(http.StatusOK, AuthResponse{Token: token, ExpiresAt: expiresAt, Patient: patient})
}

func (h *handlers) getProfile(c echo.Context) error {
	patient, err := h.deps.Patients.Get(c.Request().Context(), patientID(c))
	if errors.Is(err, repositories.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "not_found", "Patient not found")
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to load profile")
	}
	return c.JSON(http.StatusOK, patient)
}

func (h *handlers) updateProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}

	patient, err := h.deps.Patients.UpdateProfile(c.Request().Context(), patientID(c), usecase.ProfileUpdate{
		FullName:          req.FullName,
		Location:          req.Location,
		BloodType:         req.BloodType,
		Allergies:         req.Allergies,
		ChronicConditions: req.ChronicConditions,
	})
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "not_found", "Patient not found")
	case err != nil:
		return errorJSON(c, http.StatusBadRequest, "invalid_patient", err.Error())
	}
	return c.JSON(http.StatusOK, patient)
}

func validAttachment(a *repositories.Attachment) bool {
	return a == nil || (a.MIMEType != "" && len(a.Data) <= maxAttachmentBytes)
}

func (h *handlers) chatDoctor(c echo.Context) error {
	var req DoctorChatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}
	if err := req.Doctor.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_doctor", err.Error())
	}
	if strings.TrimSpace(req.Message) == "" && req.Attachment == nil {
		return errorJSON(c, http.StatusBadRequest, "missing_fields", "Message is required")
	}
	if !validAttachment(req.Attachment) {
		return errorJSON(c, http.StatusBadRequest, "invalid_attachment", "Attachment needs a MIME type and at most 4 MiB")
	}

	reply := h.deps.Chat.ConsultDoctor(c.Request().Context(), req.Doctor, req.History, req.Message, req.Attachment)
	return c.JSON(http.StatusOK, ReplyResponse{Reply: reply})
}

func (h *handlers) chatAdvice(c echo.Context) error {
	var req AdviceRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}
	if strings.TrimSpace(req.Prompt) == "" && req.Attachment == nil {
		return errorJSON(c, http.StatusBadRequest, "missing_fields", "Prompt is required")
	}
	if !validAttachment(req.Attachment) {
		return errorJSON(c, http.StatusBadRequest, "invalid_attachment", "Attachment needs a MIME type and at most 4 MiB")
	}

	patient, err := h.deps.Patients.Get(c.Request().Context(), patientID(c))
	if err != nil {
		h.logger.Warn("Advice without profile", zap.String("patientID", patientID(c)), zap.Error(err))
		patient = nil
	}

	reply := h.deps.Chat.HealthAdvice(c.Request().Context(), patient, req.History, req.Prompt, req.Attachment)
	return c.JSON(http.StatusOK, ReplyResponse{Reply: reply})
}

func (h *handlers) chatSummary(c echo.Context) error {
	var req SummaryRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}
	if len(req.Messages) == 0 {
		return errorJSON(c, http.StatusBadRequest, "missing_fields", "Messages are required")
	}

	summary := h.deps.Chat.Summarize(c.Request().Context(), req.DoctorName, req.Messages)
	return c.JSON(http.StatusOK, SummaryResponse{Summary: summary})
}

func (h *handlers) startTriage(c echo.Context) error {
	id, greeting, err := h.deps.Chat.StartTriage(c.Request().Context(), patientID(c))
	if err != nil {
		h.logger.Error("Failed to start triage", zap.Error(err))
		return errorJSON(c, http.StatusBadGateway, "triage_unavailable", usecase.TriageFallback)
	}
	return c.JSON(http.StatusCreated, TriageStartResponse{TriageID: id, Greeting: greeting})
}

func (h *handlers) triageMessage(c echo.Context) error {
	var req TriageMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "missing_fields", "Message is required")
	}

	reply, err := h.deps.Chat.TriageMessage(c.Request().Context(), c.Param("id"), patientID(c), req.Message)
	if errors.Is(err, usecase.ErrTriageNotFound) {
		return errorJSON(c, http.StatusNotFound, "not_found", "Triage chat not found")
	}
	if err != nil {
		h.logger.Error("Triage message failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal_error", usecase.TriageFallback)
	}
	return c.JSON(http.StatusOK, reply)
}

func (h *handlers) listConsultations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	consultations, err := h.deps.Consultations.List(c.Request().Context(), patientID(c), limit)
	if err != nil {
		h.logger.Error("Failed to list consultations", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to list consultations")
	}
	return c.JSON(http.StatusOK, ConsultationListResponse{Consultations: consultations})
}

func (h *handlers) getConsultation(c echo.Context) error {
	record, err := h.deps.Consultations.Get(c.Request().Context(), c.Param("id"), patientID(c))
	if errors.Is(err, repositories.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "not_found", "Consultation not found")
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to load consultation")
	}
	return c.JSON(http.StatusOK, record)
}

func (h *handlers) summarizeConsultation(c echo.Context) error {
	summary, err := h.deps.Consultations.Summarize(c.Request().Context(), c.Param("id"), patientID(c))
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "not_found", "Consultation not found")
	case errors.Is(err, usecase.ErrNoTurns):
		return errorJSON(c, http.StatusUnprocessableEntity, "empty_consultation", err.Error())
	case err != nil:
		h.logger.Error("Failed to summarize consultation", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "internal_error", usecase.SummaryFallback)
	}
	return c.JSON(http.StatusOK, SummaryResponse{Summary: summary})
}

func (h *handlers) dictation(c echo.Context) error {
	if h.deps.SpeechToText == nil {
		return errorJSON(c, http.StatusNotImplemented, "dictation_unsupported",
			consultation.NewStatus(consultation.StatusUnsupported).Text)
	}

	var req DictationRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
	}
	if len(req.Audio) == 0 {
		return errorJSON(c, http.StatusBadRequest, "missing_fields", "Audio is required")
	}
	if req.SampleRate == 0 {
		req.SampleRate = 16000
	}

	text, err := h.deps.SpeechToText.TranscribeAudio(c.Request().Context(), req.Audio, repositories.AudioConfig{
		SampleRate: req.SampleRate,
		Encoding:   req.Encoding,
		Language:   req.Language,
	})
	if errors.Is(err, repositories.ErrDictationUnsupported) {
		return errorJSON(c, http.StatusNotImplemented, "dictation_unsupported",
			consultation.NewStatus(consultation.StatusUnsupported).Text)
	}
	if err != nil {
		h.logger.Warn("Dictation failed", zap.Error(err))
		return errorJSON(c, http.StatusUnprocessableEntity, "transcription_failed", "Ntibyashobotse kumva amajwi. Ongera ugerageze.")
	}
	return c.JSON(http.StatusOK, DictationResponse{Text: text})
}

// serveWebSocket upgrades an authenticated patient connection
func (h *handlers) serveWebSocket(c echo.Context) error {
	id := patientID(c)
	h.logger.Info("WebSocket connection authenticated", zap.String("patientID", id))
	return websocket.HandleWebSocket(h.deps.Hub, c, id, h.logger)
}
