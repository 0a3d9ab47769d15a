package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

var ErrDisputeNotFound = errors.New("dispute not found")

// DisputeStateError reports an illegal dispute transition. Transitions are
// rejected synchronously, never silently ignored.
type DisputeStateError struct {
	DisputeID uuid.UUID
	Op        string
	Reason    string
}

func (e *DisputeStateError) Error() string {
	return fmt.Sprintf("dispute %s: cannot %s: %s", e.DisputeID, e.Op, e.Reason)
}

// LedgerClient is the payment system boundary. This service only computes
// amounts and direction; it never moves funds itself.
type LedgerClient interface {
	HoldBond(ctx context.Context, accountID string, amount float64, currency string) error
	ReleaseBond(ctx context.Context, accountID string, amount float64, currency string) error
	PayReward(ctx context.Context, accountID string, amount float64, currency string) error
	TreasuryDeposit(ctx context.Context, amount float64, currency string) error
}

// DisputeService runs the three-level escalating-bond state machine: initial
// (automated re-verification), appeal (expert panel), final (decentralized
// arbitration). Disputes are held in memory behind a mutex with write-through
// to the dispute store.
type DisputeService struct {
	Policy domain.BondPolicy

	mu       sync.Mutex
	disputes map[uuid.UUID]*domain.Dispute
	experts  []domain.ExpertProfile

	store  domain.DisputeStore
	ledger LedgerClient
	logger *zap.Logger
	now    func() time.Time
}

func NewDisputeService(store domain.DisputeStore, ledger LedgerClient, logger *zap.Logger) *DisputeService {
	return &DisputeService{
		Policy:   domain.DefaultBondPolicy(),
		disputes: make(map[uuid.UUID]*domain.Dispute),
		store:    store,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// BondFor computes the bond for a level as a percentage of market value,
// clamped to the policy's absolute range.
func (s *DisputeService) BondFor(level domain.DisputeLevel, marketValue float64) float64 {
	bond := marketValue * domain.DisputeLevelConfigs[level].BondPercent
	if bond < s.Policy.MinBond {
		bond = s.Policy.MinBond
	}
	if bond > s.Policy.MaxBond {
		bond = s.Policy.MaxBond
	}
	return bond
}

// Initiate opens an initial-level dispute against a settled outcome, locking
// the challenger's bond before the dispute is recorded.
func (s *DisputeService) Initiate(ctx context.Context, req domain.DisputeRequest) (*domain.Dispute, error) {
	if req.MarketID == "" || req.ChallengerID == "" {
		return nil, fmt.Errorf("market id and challenger id are required")
	}
	if req.MarketValue <= 0 {
		return nil, fmt.Errorf("market value must be positive")
	}
	if !domain.ValidOutcome(string(req.DisputedOutcome)) || !domain.ValidOutcome(string(req.ProposedOutcome)) {
		return nil, fmt.Errorf("disputed and proposed outcomes must be valid")
	}
	if req.DisputedOutcome == req.ProposedOutcome {
		return nil, fmt.Errorf("proposed outcome must differ from the disputed outcome")
	}

	bond := s.BondFor(domain.DisputeInitial, req.MarketValue)
	if err := s.ledger.HoldBond(ctx, req.ChallengerID, bond, req.BondCurrency); err != nil {
		return nil, fmt.Errorf("hold bond: %w", err)
	}

	now := s.now()
	d := &domain.Dispute{
		ID:              uuid.New(),
		MarketID:        req.MarketID,
		PipelineID:      req.PipelineID,
		Level:           domain.DisputeInitial,
		Status:          domain.DisputeOpen,
		ChallengerID:    req.ChallengerID,
		ChallengeReason: req.ChallengeReason,
		DisputedOutcome: req.DisputedOutcome,
		ProposedOutcome: req.ProposedOutcome,
		MarketValue:     req.MarketValue,
		BondAmount:      bond,
		BondCurrency:    req.BondCurrency,
		Deadline:        now.Add(domain.DisputeLevelConfigs[domain.DisputeInitial].SLA),
		CreatedAt:       now,
	}

	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persist dispute: %w", err)
	}

	s.mu.Lock()
	s.disputes[d.ID] = d
	s.mu.Unlock()

	s.logger.Info("dispute initiated",
		zap.String("dispute_id", d.ID.String()),
		zap.String("market_id", d.MarketID),
		zap.Float64("bond", bond))

	out := *d
	return &out, nil
}

// Escalate files an appeal against a resolved dispute. Only an overturned
// ruling can be appealed, and only up to the final level; each appeal creates
// a child dispute at the next level with a fresh, larger bond.
func (s *DisputeService) Escalate(ctx context.Context, disputeID uuid.UUID, challengerID string) (*domain.Dispute, error) {
	s.mu.Lock()
	parent, err := s.getLocked(ctx, disputeID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if parent.Status != domain.DisputeResolvedStat {
		s.mu.Unlock()
		return nil, &DisputeStateError{DisputeID: disputeID, Op: "escalate", Reason: "dispute is not resolved"}
	}
	if parent.Outcome == nil || *parent.Outcome != domain.DisputeOverturned {
		s.mu.Unlock()
		return nil, &DisputeStateError{DisputeID: disputeID, Op: "escalate", Reason: "only an overturned ruling can be appealed"}
	}
	if parent.ChildID != nil {
		s.mu.Unlock()
		return nil, &DisputeStateError{DisputeID: disputeID, Op: "escalate", Reason: "dispute already appealed"}
	}
	nextLevel, ok := parent.Level.Next()
	if !ok {
		s.mu.Unlock()
		return nil, &DisputeStateError{DisputeID: disputeID, Op: "escalate", Reason: "final-level rulings cannot be appealed"}
	}
	snapshot := *parent
	s.mu.Unlock()

	bond := s.BondFor(nextLevel, snapshot.MarketValue)
	if err := s.ledger.HoldBond(ctx, challengerID, bond, snapshot.BondCurrency); err != nil {
		return nil, fmt.Errorf("hold bond: %w", err)
	}

	now := s.now()
	child := &domain.Dispute{
		ID:              uuid.New(),
		MarketID:        snapshot.MarketID,
		PipelineID:      snapshot.PipelineID,
		Level:           nextLevel,
		Status:          domain.DisputeOpen,
		ChallengerID:    challengerID,
		ChallengeReason: snapshot.ChallengeReason,
		DisputedOutcome: snapshot.DisputedOutcome,
		ProposedOutcome: snapshot.ProposedOutcome,
		MarketValue:     snapshot.MarketValue,
		BondAmount:      bond,
		BondCurrency:    snapshot.BondCurrency,
		ParentID:        &snapshot.ID,
		Deadline:        now.Add(domain.DisputeLevelConfigs[nextLevel].SLA),
		CreatedAt:       now,
	}

	if err := s.store.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("persist appeal: %w", err)
	}

	s.mu.Lock()
	s.disputes[child.ID] = child
	if p, ok := s.disputes[disputeID]; ok {
		p.ChildID = &child.ID
		if err := s.store.Update(ctx, p); err != nil {
			s.logger.Warn("parent dispute update failed", zap.Error(err))
		}
	}
	s.mu.Unlock()

	s.logger.Info("dispute escalated",
		zap.String("parent_id", disputeID.String()),
		zap.String("child_id", child.ID.String()),
		zap.String("level", string(nextLevel)))

	out := *child
	return &out, nil
}

// Finalize records a ruling and settles the bond economics. Overturned:
// the challenger's bond is released and they receive a fixed share of the
// counterparty's forfeited bond, with the remainder routed to the treasury.
// Upheld: the challenger's entire bond goes to the treasury.
func (s *DisputeService) Finalize(ctx context.Context, disputeID uuid.UUID, outcome domain.DisputeOutcome, resolvedOutcome *domain.Outcome, notes string) (*domain.Dispute, error) {
	s.mu.Lock()
	d, err := s.getLocked(ctx, disputeID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if d.Status == domain.DisputeResolvedStat {
		s.mu.Unlock()
		return nil, &DisputeStateError{DisputeID: disputeID, Op: "finalize", Reason: "dispute already resolved"}
	}
	snapshot := *d
	s.mu.Unlock()

	var reward, fee float64
	switch outcome {
	case domain.DisputeOverturned:
		if err := s.ledger.ReleaseBond(ctx, snapshot.ChallengerID, snapshot.BondAmount, snapshot.BondCurrency); err != nil {
			return nil, fmt.Errorf("release bond: %w", err)
		}
		// The counterparty posted a matching bond; it is forfeited in full
		// and split between challenger and treasury.
		reward = snapshot.BondAmount * s.Policy.ChallengerShare
		fee = snapshot.BondAmount * s.Policy.TreasuryShare
		if err := s.ledger.PayReward(ctx, snapshot.ChallengerID, reward, snapshot.BondCurrency); err != nil {
			return nil, fmt.Errorf("pay reward: %w", err)
		}
		if err := s.ledger.TreasuryDeposit(ctx, fee, snapshot.BondCurrency); err != nil {
			return nil, fmt.Errorf("treasury deposit: %w", err)
		}
	case domain.DisputeUpheld:
		fee = snapshot.BondAmount
		if err := s.ledger.TreasuryDeposit(ctx, fee, snapshot.BondCurrency); err != nil {
			return nil, fmt.Errorf("treasury deposit: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown dispute outcome %q", outcome)
	}

	now := s.now()
	s.mu.Lock()
	d.Status = domain.DisputeResolvedStat
	d.Outcome = &outcome
	d.ResolvedOutcome = resolvedOutcome
	d.ChallengerReward = reward
	d.TreasuryFee = fee
	d.ResolutionNotes = notes
	d.ResolvedAt = &now
	if err := s.store.Update(ctx, d); err != nil {
		s.logger.Warn("dispute update failed", zap.Error(err))
	}
	out := *d
	s.mu.Unlock()

	s.logger.Info("dispute finalized",
		zap.String("dispute_id", disputeID.String()),
		zap.String("outcome", string(outcome)),
		zap.Float64("reward", reward),
		zap.Float64("treasury_fee", fee))

	return &out, nil
}

func (s *DisputeService) Get(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	out := *d
	return &out, nil
}

// getLocked resolves a dispute by ID, falling back to the durable store when
// it is not in memory and rehydrating the map on a hit. Caller holds s.mu.
func (s *DisputeService) getLocked(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	if d, ok := s.disputes[id]; ok {
		return d, nil
	}
	if s.store == nil {
		return nil, ErrDisputeNotFound
	}
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, ErrDisputeNotFound
	}
	s.disputes[d.ID] = d
	return d, nil
}

// ListByMarket returns every dispute filed against a market, read from the
// durable store so history survives restarts.
func (s *DisputeService) ListByMarket(ctx context.Context, marketID string) ([]domain.Dispute, error) {
	if s.store == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []domain.Dispute
		for _, d := range s.disputes {
			if d.MarketID == marketID {
				out = append(out, *d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	}
	return s.store.ListByMarket(ctx, marketID)
}

// RegisterExpert adds a panel candidate for appeal-level disputes.
func (s *DisputeService) RegisterExpert(e domain.ExpertProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experts = append(s.experts, e)
}

// ExpertPanel selects up to n experts whose domain tags overlap the requested
// ones, highest rated first. With no tag overlap anywhere the top-rated
// experts are returned so an appeal never lacks a panel.
func (s *DisputeService) ExpertPanel(tags []string, n int) []domain.ExpertProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	matched := make([]domain.ExpertProfile, 0, len(s.experts))
	for _, e := range s.experts {
		for _, d := range e.Domains {
			if _, ok := tagSet[d]; ok {
				matched = append(matched, e)
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = append(matched, s.experts...)
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Rating > matched[j].Rating })
	if len(matched) > n {
		matched = matched[:n]
	}
	return matched
}

func (s *DisputeService) Stats() domain.DisputeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.DisputeStats{
		ByLevel: make(map[domain.DisputeLevel]int),
	}
	for _, d := range s.disputes {
		stats.Total++
		stats.ByLevel[d.Level]++
		switch d.Status {
		case domain.DisputeResolvedStat:
			stats.Resolved++
			if d.Outcome != nil {
				switch *d.Outcome {
				case domain.DisputeOverturned:
					stats.Overturned++
				case domain.DisputeUpheld:
					stats.Upheld++
				}
			}
		default:
			stats.Open++
		}
	}
	if stats.Resolved > 0 {
		stats.OverturnRate = float64(stats.Overturned) / float64(stats.Resolved)
	}
	return stats
}
