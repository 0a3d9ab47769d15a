package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const DefaultStaleAssignment = 60 * time.Minute

var (
	ErrReviewNotFound  = errors.New("review item not found")
	ErrReviewNotYours  = errors.New("review item assigned to another reviewer")
	ErrReviewFinished  = errors.New("review item already finished")
	ErrMissingOutcome  = errors.New("modify decision requires a final outcome")
	ErrInvalidDecision = errors.New("invalid review decision")
	ErrNothingToReview = errors.New("no pending review items")
)

// ReviewService manages the human review queue for resolutions that fall in
// the review confidence band. The queue is held in memory behind a mutex with
// write-through to the review store.
type ReviewService struct {
	StaleAssignment time.Duration

	mu    sync.Mutex
	items map[uuid.UUID]*domain.HumanReviewItem

	store  domain.ReviewStore
	logger *zap.Logger
	now    func() time.Time
}

func NewReviewService(store domain.ReviewStore, logger *zap.Logger) *ReviewService {
	return &ReviewService{
		StaleAssignment: DefaultStaleAssignment,
		items:           make(map[uuid.UUID]*domain.HumanReviewItem),
		store:           store,
		logger:          logger,
		now:             time.Now,
	}
}

// Load hydrates the in-memory queue with open items from the durable store,
// most urgent deadlines first. Called once at startup so pending and assigned
// reviews survive a restart; items already in memory are kept as-is.
func (s *ReviewService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, status := range []domain.ReviewStatus{domain.ReviewPending, domain.ReviewAssigned, domain.ReviewEscalated} {
		items, err := s.store.ListByStatus(ctx, status, reviewLoadLimit)
		if err != nil {
			return fmt.Errorf("list %s review items: %w", status, err)
		}
		for i := range items {
			item := items[i]
			if _, ok := s.items[item.ID]; ok {
				continue
			}
			s.items[item.ID] = &item
			loaded++
		}
	}

	if loaded > 0 {
		s.logger.Info("review queue hydrated", zap.Int("items", loaded))
	}
	return nil
}

const reviewLoadLimit = 500

// Enqueue creates a review item for a completed pipeline. The deadline comes
// from the priority's SLA.
func (s *ReviewService) Enqueue(ctx context.Context, p *domain.ResolutionPipeline, priority domain.ReviewPriority) (*domain.HumanReviewItem, error) {
	now := s.now()
	item := &domain.HumanReviewItem{
		ID:           uuid.New(),
		PipelineID:   p.ID,
		MarketID:     p.MarketID,
		Question:     p.Question,
		AIOutcome:    p.FinalOutcome,
		AIConfidence: p.FinalConfidence,
		Priority:     priority,
		Status:       domain.ReviewPending,
		Deadline:     now.Add(domain.PrioritySLA[priority]),
		CreatedAt:    now,
	}

	if s.store != nil {
		if err := s.store.Create(ctx, item); err != nil {
			return nil, fmt.Errorf("persist review item: %w", err)
		}
	}

	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()

	s.logger.Info("review item enqueued",
		zap.String("item_id", item.ID.String()),
		zap.String("market_id", item.MarketID),
		zap.String("priority", string(priority)))

	return item, nil
}

// GetNextItem assigns the most urgent pending item to the reviewer. The call
// is idempotent: a reviewer who already holds an assignment gets the same item
// back instead of draining the queue.
func (s *ReviewService) GetNextItem(ctx context.Context, reviewerID string) (*domain.HumanReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.Status == domain.ReviewAssigned && item.AssignedTo != nil && *item.AssignedTo == reviewerID {
			out := *item
			return &out, nil
		}
	}

	var best *domain.HumanReviewItem
	for _, item := range s.items {
		if item.Status != domain.ReviewPending {
			continue
		}
		if best == nil || urgentThan(item, best) {
			best = item
		}
	}
	if best == nil {
		return nil, ErrNothingToReview
	}

	now := s.now()
	best.Status = domain.ReviewAssigned
	best.AssignedTo = &reviewerID
	best.AssignedAt = &now
	s.persist(ctx, best)

	out := *best
	return &out, nil
}

// urgentThan orders by priority rank, then earliest deadline.
func urgentThan(a, b *domain.HumanReviewItem) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.Deadline.Before(b.Deadline)
}

// SubmitReview records a reviewer's decision. Accept keeps the AI outcome,
// modify replaces it, escalate pushes the item to the dispute path with a
// priority bump.
func (s *ReviewService) SubmitReview(ctx context.Context, itemID uuid.UUID, reviewerID string, decision domain.ReviewDecision, finalOutcome *domain.Outcome, notes string) (*domain.HumanReviewItem, error) {
	if !domain.ValidReviewDecision(string(decision)) {
		return nil, ErrInvalidDecision
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.itemLocked(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.ReviewCompleted || item.Status == domain.ReviewEscalated {
		return nil, ErrReviewFinished
	}
	if item.AssignedTo == nil || *item.AssignedTo != reviewerID {
		return nil, ErrReviewNotYours
	}

	now := s.now()
	item.Decision = &decision
	item.ReviewerNotes = notes

	switch decision {
	case domain.DecisionAccept:
		outcome := item.AIOutcome
		item.FinalOutcome = &outcome
		item.Status = domain.ReviewCompleted
		item.CompletedAt = &now
	case domain.DecisionModify:
		if finalOutcome == nil {
			return nil, ErrMissingOutcome
		}
		item.FinalOutcome = finalOutcome
		item.Status = domain.ReviewCompleted
		item.CompletedAt = &now
	case domain.DecisionEscalate:
		item.Status = domain.ReviewEscalated
		item.Priority = item.Priority.Bump()
	}

	s.persist(ctx, item)

	s.logger.Info("review submitted",
		zap.String("item_id", item.ID.String()),
		zap.String("decision", string(decision)),
		zap.String("status", string(item.Status)))

	out := *item
	return &out, nil
}

// AutoEscalateOverdue bumps the priority of every open item past its deadline
// and restarts the deadline under the new priority's SLA. Returns how many
// items were bumped.
func (s *ReviewService) AutoEscalateOverdue(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bumped := 0
	for _, item := range s.items {
		if item.Status != domain.ReviewPending && item.Status != domain.ReviewAssigned {
			continue
		}
		if !item.Deadline.Before(now) {
			continue
		}
		item.Priority = item.Priority.Bump()
		item.Deadline = now.Add(domain.PrioritySLA[item.Priority])
		s.persist(ctx, item)
		bumped++
	}

	if bumped > 0 {
		s.logger.Warn("overdue review items bumped", zap.Int("count", bumped))
	}
	return bumped
}

// ReleaseStaleAssignments returns items held past the assignment window back
// to the pending pool so an absent reviewer cannot sit on an item forever.
func (s *ReviewService) ReleaseStaleAssignments(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.StaleAssignment)
	released := 0
	for _, item := range s.items {
		if item.Status != domain.ReviewAssigned || item.AssignedAt == nil {
			continue
		}
		if item.AssignedAt.After(cutoff) {
			continue
		}
		item.Status = domain.ReviewPending
		item.AssignedTo = nil
		item.AssignedAt = nil
		s.persist(ctx, item)
		released++
	}

	if released > 0 {
		s.logger.Info("stale review assignments released", zap.Int("count", released))
	}
	return released
}

func (s *ReviewService) GetItem(ctx context.Context, id uuid.UUID) (*domain.HumanReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.itemLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	out := *item
	return &out, nil
}

// itemLocked resolves a review item by ID, falling back to the durable store
// when it is not in memory and rehydrating the map on a hit. Caller holds
// s.mu.
func (s *ReviewService) itemLocked(ctx context.Context, id uuid.UUID) (*domain.HumanReviewItem, error) {
	if item, ok := s.items[id]; ok {
		return item, nil
	}
	if s.store == nil {
		return nil, ErrReviewNotFound
	}
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, ErrReviewNotFound
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *ReviewService) Stats() domain.ReviewQueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := domain.ReviewQueueStats{
		ByPriority: make(map[domain.ReviewPriority]int),
	}

	var waitTotal time.Duration
	completed := 0
	for _, item := range s.items {
		stats.ByPriority[item.Priority]++
		switch item.Status {
		case domain.ReviewPending:
			stats.Pending++
		case domain.ReviewAssigned:
			stats.Assigned++
		case domain.ReviewCompleted:
			stats.Completed++
		case domain.ReviewEscalated:
			stats.Escalated++
		}
		if (item.Status == domain.ReviewPending || item.Status == domain.ReviewAssigned) && item.Deadline.Before(now) {
			stats.Overdue++
		}
		if item.CompletedAt != nil {
			waitTotal += item.CompletedAt.Sub(item.CreatedAt)
			completed++
		}
	}
	if completed > 0 {
		stats.AvgWaitMins = waitTotal.Minutes() / float64(completed)
	}
	return stats
}

func (s *ReviewService) persist(ctx context.Context, item *domain.HumanReviewItem) {
	if s.store == nil {
		return
	}
	if err := s.store.Update(ctx, item); err != nil {
		s.logger.Warn("review item persist failed",
			zap.String("item_id", item.ID.String()), zap.Error(err))
	}
}
