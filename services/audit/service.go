package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// RequestMeta carries the HTTP request fields copied into audit entries
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// AuditService handles asynchronous audit logging. A nil *AuditService is
// valid and drops every event, which is how audit is disabled.
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *AuditEvent) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	if s == nil {
		return Stats{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Ready reports whether workers are accepting events and the buffer has room
func (s *AuditService) Ready(ctx context.Context) error {
	stats := s.GetStats()
	if !stats.Started {
		return fmt.Errorf("audit service not running")
	}
	if stats.PendingEvents >= stats.BufferSize {
		return fmt.Errorf("audit event buffer full (%d pending)", stats.PendingEvents)
	}
	return nil
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for logging common events

// LogLogin records a successful provider login
func (s *AuditService) LogLogin(identity *models.Identity, sessionID string, meta RequestMeta) error {
	if s == nil {
		return nil
	}
	log := models.NewAuditLog(models.AuditActionLoginSucceeded).
		WithIdentity(identity).
		WithSession(sessionID).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogLoginFailed records a failed callback exchange
func (s *AuditService) LogLoginFailed(provider string, cause error, meta RequestMeta) error {
	if s == nil {
		return nil
	}
	log := models.NewAuditLog(models.AuditActionLoginFailed).
		WithProvider(provider).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
	if cause != nil {
		log.WithError(cause.Error())
	}
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogTokenRefreshed records a token minted from an existing session
func (s *AuditService) LogTokenRefreshed(identity *models.Identity, sessionID string, ttl time.Duration, meta RequestMeta) error {
	if s == nil {
		return nil
	}
	log := models.NewAuditLog(models.AuditActionTokenRefreshed).
		WithIdentity(identity).
		WithSession(sessionID).
		WithDetails(map[string]interface{}{"ttl_seconds": int64(ttl.Seconds())}).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogSessionRevoked records a logout
func (s *AuditService) LogSessionRevoked(identity *models.Identity, sessionID string, meta RequestMeta) error {
	if s == nil {
		return nil
	}
	log := models.NewAuditLog(models.AuditActionSessionRevoked).
		WithIdentity(identity).
		WithSession(sessionID).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogSessionsEvicted records one expiry cleanup pass that removed sessions
func (s *AuditService) LogSessionsEvicted(removed, remaining int) error {
	if s == nil {
		return nil
	}
	log := models.NewAuditLog(models.AuditActionSessionsEvicted).
		WithDetails(map[string]interface{}{"removed": removed, "remaining": remaining})
	return s.LogEvent(&AuditEvent{Log: log})
}
