package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediconnect/server/adapters"
	"github.com/mediconnect/server/adapters/llm"
	"github.com/mediconnect/server/adapters/mongo"
	"github.com/mediconnect/server/adapters/stt"
	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/api"
	"github.com/mediconnect/server/internal/auth"
	"github.com/mediconnect/server/internal/config"
	"github.com/mediconnect/server/internal/websocket"
	"github.com/mediconnect/server/usecase"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so fall back to a default one.
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize model adapters
	var (
		textModel repositories.LargeLanguageModel
		liveModel repositories.LiveModel
	)
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using mock models")
		textModel = llm.NewMockGeminiClient()
		liveModel = llm.NewMockLive(logger)
	} else {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		gemini, err := llm.NewGeminiLLM(client, llm.GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiTextModel,
			TimeoutSeconds: cfg.GeminiTimeout,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to configure Gemini", zap.Error(err))
		}
		textModel = gemini
		liveModel = llm.NewGeminiLive(client, logger)
	}

	// Initialize storage
	var (
		patientRepo      repositories.PatientRepository
		consultationRepo repositories.ConsultationRepository
	)
	if cfg.MongoURI == "" {
		logger.Warn("MONGODB_URI not set, keeping records in memory")
		patientRepo = adapters.NewMemoryPatientRepository()
		consultationRepo = adapters.NewMemoryConsultationRepository()
	} else {
		mongoClient, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Close(closeCtx)
		}()

		patientRepo, err = mongo.NewPatientRepository(ctx, mongoClient.Database, logger)
		if err != nil {
			logger.Fatal("Failed to initialize patient repository", zap.Error(err))
		}
		consultationRepo = mongo.NewConsultationRepository(mongoClient.Database, logger)
	}

	// Dictation is optional; handlers report it as unsupported when nil
	var speechToText repositories.SpeechToText
	if cfg.SpeechEnabled {
		googleSTT, err := stt.NewGoogleSpeechToText(ctx, cfg.SpeechLanguage, logger)
		if err != nil {
			logger.Fatal("Failed to create speech-to-text client", zap.Error(err))
		}
		defer googleSTT.Close()
		speechToText = googleSTT
	}

	// Initialize usecase services
	chatService := usecase.NewChatService(textModel, logger)
	consultationService := usecase.NewConsultationService(consultationRepo, chatService, logger)
	patientService := usecase.NewPatientService(patientRepo, logger)

	cleanupService := usecase.NewCleanupService(consultationService, chatService, cfg.CleanupEvery(), logger)
	cleanupService.Start()
	defer cleanupService.Stop()

	// Initialize WebSocket hub
	hub := websocket.NewHub(liveModel, consultationService, websocket.HubConfig{
		Live:              usecase.LiveTriageConfig(cfg.GeminiLiveModel, cfg.GeminiVoice),
		MicrophoneTimeout: cfg.MicrophoneWait(),
	}, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Hub:            hub,
		Patients:       patientService,
		Chat:           chatService,
		Consultations:  consultationService,
		SpeechToText:   speechToText,
		Tokens:         auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL()),
		MetricsEnabled: cfg.MetricsEnabled,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Server starting",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server exited")
}
