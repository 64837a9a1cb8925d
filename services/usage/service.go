// Package usage persists one record per orchestrated generation without
// blocking the request path.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/models"
	"github.com/upb/ai-orchestrator/repositories"
)

var (
	// ErrNotStarted is returned by Record before Start or after Stop
	ErrNotStarted = errors.New("usage service not started")
	// ErrBufferFull is returned when a record is dropped because workers are behind
	ErrBufferFull = errors.New("usage record buffer full")
)

// Service writes generation records through a bounded queue and a fixed worker pool
type Service struct {
	repo        repositories.GenerationRepository
	logger      *zap.Logger
	records     chan *models.GenerationRecord
	workerCount int
	bufferSize  int
	timeout     time.Duration
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	dropped     atomic.Uint64
	mu          sync.RWMutex
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Size of the record buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per-record repository timeout
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a new Service instance
func NewService(repo repositories.GenerationRepository, logger *zap.Logger, config Config) *Service {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		records:     make(chan *models.GenerationRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("usage service already started")
	}
	if s.stopped {
		return fmt.Errorf("usage service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started usage service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting records and waits up to timeout for queued records to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.stopped = true
	pending := len(s.records)
	close(s.records)
	s.mu.Unlock()

	s.logger.Info("stopping usage service", zap.Int("pending_records", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("usage service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("usage service stop timeout after %v", timeout)
	}
}

// Record queues record for persistence and returns immediately.
// A full buffer drops the record and returns ErrBufferFull.
func (s *Service) Record(_ context.Context, record *models.GenerationRecord) error {
	// the read lock keeps Stop from closing the channel mid-send
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotStarted
	}

	select {
	case s.records <- record:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("usage record buffer full, dropping record",
			zap.String("request_id", record.RequestID),
			zap.String("status", string(record.Status)))
		return ErrBufferFull
	}
}

// worker writes records until the channel is closed
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("usage worker started", zap.Int("worker_id", id))

	for record := range s.records {
		if err := s.write(record); err != nil {
			s.logger.Error("failed to persist usage record",
				zap.Int("worker_id", id),
				zap.String("request_id", record.RequestID),
				zap.Error(err))
		}
	}

	s.logger.Debug("usage worker stopped", zap.Int("worker_id", id))
}

func (s *Service) write(record *models.GenerationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.repo.Create(ctx, record)
}

// Summary returns per-provider usage since the given time
func (s *Service) Summary(ctx context.Context, since time.Time) ([]*models.ProviderUsageSummary, error) {
	return s.repo.SummarizeByProvider(ctx, since)
}

// Recent returns the newest records, at most limit of them
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	return s.repo.ListRecent(ctx, limit)
}

// GetStats returns statistics about the usage service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Dropped:        s.dropped.Load(),
		Started:        s.started,
	}
}

// Stats represents usage service statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Dropped        uint64
	Started        bool
}
