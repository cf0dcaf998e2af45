package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/entities"
)

// triageMaxAge bounds how long an unfinished triage chat is kept.
const triageMaxAge = 2 * time.Hour

// CleanupService expires idle consultations and abandoned triage chats in
// the background.
type CleanupService struct {
	consultations *ConsultationService
	chat          *ChatService
	interval      time.Duration
	logger        *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(consultations *ConsultationService, chat *ChatService, interval time.Duration, logger *zap.Logger) *CleanupService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupService{
		consultations: consultations,
		chat:          chat,
		interval:      interval,
		logger:        logger,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *CleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Cleanup service started", zap.Duration("interval", s.interval))
}

// Stop stops the cleanup loop and waits for it to exit
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.logger.Info("Cleanup service stopped")
	})
}

func (s *CleanupService) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single cleanup pass
func (s *CleanupService) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.consultations.ExpireStale(ctx, entities.ConsultationIdleTimeout)
	if err != nil {
		s.logger.Error("Failed to expire consultations", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("Expired idle consultations", zap.Int("count", expired))
	}

	if removed := s.chat.ExpireTriage(triageMaxAge); removed > 0 {
		s.logger.Info("Dropped abandoned triage chats", zap.Int("count", removed))
	}
}
