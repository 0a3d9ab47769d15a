package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/resilience"
)

const defaultMaintenanceInterval = 5 * time.Minute

// MaintenanceResult summarizes one maintenance sweep.
type MaintenanceResult struct {
	CacheCleaned     int `json:"cache_cleaned"`
	StaleReleased    int `json:"stale_released"`
	OverdueEscalated int `json:"overdue_escalated"`
}

// HealthStatus is the operational snapshot served by the status endpoint.
type HealthStatus struct {
	CircuitStates  map[string]resilience.BreakerState `json:"circuit_states"`
	CacheStats     resilience.CacheStats              `json:"cache_stats"`
	LimiterStates  []resilience.LimiterState          `json:"limiter_states"`
	QueueStats     domain.ReviewQueueStats            `json:"queue_stats"`
	DisputeStats   domain.DisputeStats                `json:"dispute_stats"`
	FeedbackReport FeedbackReport                     `json:"feedback_report"`
}

// MaintenanceService periodically evicts expired cache entries, releases
// stale review assignments, escalates overdue review items, and gives the
// feedback loop a chance to run a retrain cycle.
type MaintenanceService struct {
	cache    *resilience.Cache
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.RateLimiter
	reviews  *ReviewService
	disputes *DisputeService
	feedback *FeedbackService
	logger   *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMaintenanceService(
	cache *resilience.Cache,
	breaker *resilience.CircuitBreaker,
	limiter *resilience.RateLimiter,
	reviews *ReviewService,
	disputes *DisputeService,
	feedback *FeedbackService,
	logger *zap.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		cache:    cache,
		breaker:  breaker,
		limiter:  limiter,
		reviews:  reviews,
		disputes: disputes,
		feedback: feedback,
		logger:   logger,
		interval: defaultMaintenanceInterval,
		stopCh:   make(chan struct{}),
	}
}

func (s *MaintenanceService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start begins the background maintenance worker.
func (s *MaintenanceService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("maintenance worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				s.RunOnce(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("maintenance worker stopped")
				return
			}
		}
	}()
}

// Stop halts the background maintenance worker.
func (s *MaintenanceService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce performs a single maintenance sweep and reports what it touched.
func (s *MaintenanceService) RunOnce(ctx context.Context) MaintenanceResult {
	res := MaintenanceResult{
		CacheCleaned:     s.cache.Cleanup(),
		StaleReleased:    s.reviews.ReleaseStaleAssignments(ctx),
		OverdueEscalated: s.reviews.AutoEscalateOverdue(ctx),
	}

	if s.feedback != nil {
		if _, err := s.feedback.MaybeRetrain(ctx); err != nil {
			s.logger.Warn("retrain cycle failed", zap.Error(err))
		}
		if _, err := s.feedback.EvaluateABTest(ctx); err != nil {
			s.logger.Warn("ab test evaluation failed", zap.Error(err))
		}
	}

	if res.CacheCleaned > 0 || res.StaleReleased > 0 || res.OverdueEscalated > 0 {
		s.logger.Info("maintenance sweep",
			zap.Int("cache_cleaned", res.CacheCleaned),
			zap.Int("stale_released", res.StaleReleased),
			zap.Int("overdue_escalated", res.OverdueEscalated))
	}
	return res
}

// HealthStatus collects the current state of every resilience component and
// queue for the status endpoint.
func (s *MaintenanceService) HealthStatus() HealthStatus {
	h := HealthStatus{
		CircuitStates: s.breaker.States(),
		CacheStats:    s.cache.Stats(),
		LimiterStates: s.limiter.States(),
		QueueStats:    s.reviews.Stats(),
	}
	if s.disputes != nil {
		h.DisputeStats = s.disputes.Stats()
	}
	if s.feedback != nil {
		h.FeedbackReport = s.feedback.Report()
	}
	return h
}
