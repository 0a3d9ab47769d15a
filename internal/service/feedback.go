package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	DefaultRetrainSampleFloor    = 1000
	DefaultRetrainInterval       = 24 * time.Hour
	DefaultCanaryPercent         = 0.05
	DefaultABMinSamples          = 100
	DefaultABMargin              = 0.05
	DefaultEvidenceStrengthFloor = 0.5
)

// FeedbackReport is the feedback-loop slice of the health snapshot.
type FeedbackReport struct {
	Metrics     domain.FeedbackMetrics `json:"metrics"`
	ActiveModel *domain.ModelVersion   `json:"active_model,omitempty"`
	ABTest      *domain.ABTest         `json:"ab_test,omitempty"`
}

// FeedbackService keeps the ledger of resolution outcomes and drives the
// retrain cycle: once enough unprocessed feedback accumulates and the
// minimum interval has passed, a new scoring-model version is staged on
// canary traffic and A/B tested against the active version.
type FeedbackService struct {
	RetrainSampleFloor    int
	RetrainInterval       time.Duration
	CanaryPercent         float64
	ABMinSamples          int
	ABMargin              float64
	EvidenceStrengthFloor float64

	mu          sync.Mutex
	ledger      []domain.ResolutionFeedback
	models      map[uuid.UUID]*domain.ModelVersion
	activeID    *uuid.UUID
	abTest      *domain.ABTest
	lastRetrain time.Time

	store  domain.FeedbackStore
	logger *zap.Logger
	now    func() time.Time
	rand   func() float64
}

func NewFeedbackService(store domain.FeedbackStore, logger *zap.Logger) *FeedbackService {
	return &FeedbackService{
		RetrainSampleFloor:    DefaultRetrainSampleFloor,
		RetrainInterval:       DefaultRetrainInterval,
		CanaryPercent:         DefaultCanaryPercent,
		ABMinSamples:          DefaultABMinSamples,
		ABMargin:              DefaultABMargin,
		EvidenceStrengthFloor: DefaultEvidenceStrengthFloor,
		models:                make(map[uuid.UUID]*domain.ModelVersion),
		store:                 store,
		logger:                logger,
		now:                   time.Now,
		rand:                  rand.Float64,
	}
}

// RecordFeedback appends one ground-truth observation for a pipeline and
// classifies incorrect outcomes into an error pattern.
func (s *FeedbackService) RecordFeedback(ctx context.Context, f domain.ResolutionFeedback) (*domain.ResolutionFeedback, error) {
	if !domain.ValidFeedbackVerdict(string(f.Verdict)) {
		return nil, fmt.Errorf("invalid feedback verdict %q", f.Verdict)
	}

	f.ID = uuid.New()
	f.CreatedAt = s.now()
	f.Processed = false
	if f.Verdict == domain.VerdictIncorrect {
		f.ErrorPattern = s.classifyError(f)
	}

	if err := s.store.Create(ctx, &f); err != nil {
		return nil, fmt.Errorf("persist feedback: %w", err)
	}

	s.mu.Lock()
	s.ledger = append(s.ledger, f)
	s.mu.Unlock()

	out := f
	return &out, nil
}

// ProcessDisputeOutcome converts a finalized dispute ruling into feedback:
// an overturned ruling means the automated outcome was wrong.
func (s *FeedbackService) ProcessDisputeOutcome(ctx context.Context, d *domain.Dispute, aiConfidence, verificationStrength float64) (*domain.ResolutionFeedback, error) {
	if d.Outcome == nil {
		return nil, fmt.Errorf("dispute %s has no ruling", d.ID)
	}

	verdict := domain.VerdictCorrect
	actual := d.DisputedOutcome
	if *d.Outcome == domain.DisputeOverturned {
		verdict = domain.VerdictIncorrect
		actual = d.ProposedOutcome
		if d.ResolvedOutcome != nil {
			actual = *d.ResolvedOutcome
		}
	}

	f := domain.ResolutionFeedback{
		MarketID:             d.MarketID,
		Verdict:              verdict,
		AIOutcome:            d.DisputedOutcome,
		ActualOutcome:        actual,
		AIConfidence:         aiConfidence,
		DisputeOutcome:       d.Outcome,
		RootCause:            d.ResolutionNotes,
		VerificationStrength: verificationStrength,
	}
	if d.PipelineID != nil {
		f.PipelineID = *d.PipelineID
	}
	return s.RecordFeedback(ctx, f)
}

// classifyError groups an incorrect resolution into a named pattern. Weak
// verification consensus points at missing evidence rather than a scoring
// problem; with strong consensus the flip direction decides.
func (s *FeedbackService) classifyError(f domain.ResolutionFeedback) *domain.ErrorPattern {
	var p domain.ErrorPattern
	switch {
	case f.VerificationStrength < s.EvidenceStrengthFloor:
		p = domain.PatternEvidenceMiss
	case f.AIOutcome == domain.OutcomeYes && f.ActualOutcome == domain.OutcomeNo:
		p = domain.PatternFalsePositive
	case f.AIOutcome == domain.OutcomeNo && f.ActualOutcome == domain.OutcomeYes:
		p = domain.PatternFalseNegative
	default:
		p = domain.PatternMiscalibration
	}
	return &p
}

func (s *FeedbackService) Metrics() domain.FeedbackMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := domain.FeedbackMetrics{
		ErrorCounts: make(map[domain.ErrorPattern]int),
	}
	var correct, graded, disputed, overturned int
	for _, f := range s.ledger {
		m.TotalFeedback++
		if !f.Processed {
			m.Unprocessed++
		}
		switch f.Verdict {
		case domain.VerdictCorrect:
			correct++
			graded++
		case domain.VerdictIncorrect:
			graded++
		}
		if f.ErrorPattern != nil {
			m.ErrorCounts[*f.ErrorPattern]++
		}
		if f.DisputeOutcome != nil {
			disputed++
			if *f.DisputeOutcome == domain.DisputeOverturned {
				overturned++
			}
		}
	}
	if graded > 0 {
		m.Accuracy = float64(correct) / float64(graded)
	}
	if m.TotalFeedback > 0 {
		m.DisputeRate = float64(disputed) / float64(m.TotalFeedback)
	}
	if disputed > 0 {
		m.OverturnRate = float64(overturned) / float64(disputed)
	}
	return m
}

// MaybeRetrain stages a new model version when the unprocessed ledger has
// reached the sample floor and the retrain interval has elapsed. With no
// prior active version the staged model is promoted directly; otherwise an
// A/B test against the active version begins. Returns nil when no cycle ran.
func (s *FeedbackService) MaybeRetrain(ctx context.Context) (*domain.ModelVersion, error) {
	s.mu.Lock()
	var pending []uuid.UUID
	for _, f := range s.ledger {
		if !f.Processed {
			pending = append(pending, f.ID)
		}
	}
	now := s.now()
	if len(pending) < s.RetrainSampleFloor || now.Sub(s.lastRetrain) < s.RetrainInterval {
		s.mu.Unlock()
		return nil, nil
	}
	version := fmt.Sprintf("v%d", len(s.models)+1)
	s.mu.Unlock()

	m := &domain.ModelVersion{
		ID:             uuid.New(),
		Version:        version,
		Status:         domain.ModelStaging,
		CanaryPercent:  s.CanaryPercent,
		TrainedSamples: len(pending),
		CreatedAt:      now,
	}
	if err := s.store.CreateModelVersion(ctx, m); err != nil {
		return nil, fmt.Errorf("persist model version: %w", err)
	}
	if err := s.store.MarkProcessed(ctx, pending); err != nil {
		return nil, fmt.Errorf("mark feedback processed: %w", err)
	}

	s.mu.Lock()
	for i := range s.ledger {
		s.ledger[i].Processed = true
	}
	s.models[m.ID] = m
	s.lastRetrain = now

	if s.activeID == nil {
		m.Status = domain.ModelActive
		s.activeID = &m.ID
		if err := s.store.UpdateModelStatus(ctx, m.ID, domain.ModelActive); err != nil {
			s.logger.Warn("model status update failed", zap.Error(err))
		}
	} else {
		s.abTest = &domain.ABTest{
			ID:         uuid.New(),
			Control:    domain.ABTestArm{ModelID: *s.activeID},
			Candidate:  domain.ABTestArm{ModelID: m.ID},
			MinSamples: s.ABMinSamples,
			Margin:     s.ABMargin,
			StartedAt:  now,
		}
	}
	s.mu.Unlock()

	s.logger.Info("retrain cycle staged model",
		zap.String("version", m.Version),
		zap.Int("samples", m.TrainedSamples),
		zap.String("status", string(m.Status)))

	return m, nil
}

// ModelForRequest picks the model version serving one request. During an
// A/B test the candidate receives its canary share of traffic.
func (s *FeedbackService) ModelForRequest() *domain.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abTest != nil && s.abTest.ConcludedAt == nil {
		candidate := s.models[s.abTest.Candidate.ModelID]
		if candidate != nil && s.rand() < candidate.CanaryPercent {
			out := *candidate
			return &out
		}
	}
	if s.activeID != nil {
		if m := s.models[*s.activeID]; m != nil {
			out := *m
			return &out
		}
	}
	return nil
}

// RecordABSample attributes one graded resolution to the arm that served it.
func (s *FeedbackService) RecordABSample(modelID uuid.UUID, correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abTest == nil || s.abTest.ConcludedAt != nil {
		return
	}
	var arm *domain.ABTestArm
	switch modelID {
	case s.abTest.Control.ModelID:
		arm = &s.abTest.Control
	case s.abTest.Candidate.ModelID:
		arm = &s.abTest.Candidate
	default:
		return
	}
	arm.Samples++
	if correct {
		arm.Correct++
	}
	arm.Accuracy = float64(arm.Correct) / float64(arm.Samples)
}

// EvaluateABTest concludes the running test once both arms have enough
// samples and their accuracies differ by more than the margin, promoting
// the winner and deprecating the loser. Returns the winner, or nil while
// the test is inconclusive.
func (s *FeedbackService) EvaluateABTest(ctx context.Context) (*domain.ModelVersion, error) {
	s.mu.Lock()
	t := s.abTest
	if t == nil || t.ConcludedAt != nil ||
		t.Control.Samples < t.MinSamples || t.Candidate.Samples < t.MinSamples {
		s.mu.Unlock()
		return nil, nil
	}
	diff := t.Candidate.Accuracy - t.Control.Accuracy
	if diff < 0 {
		diff = -diff
	}
	if diff <= t.Margin {
		s.mu.Unlock()
		return nil, nil
	}

	winnerID, loserID := t.Candidate.ModelID, t.Control.ModelID
	if t.Control.Accuracy > t.Candidate.Accuracy {
		winnerID, loserID = t.Control.ModelID, t.Candidate.ModelID
	}
	now := s.now()
	t.ConcludedAt = &now
	t.WinnerID = &winnerID

	winner := s.models[winnerID]
	loser := s.models[loserID]
	if winner != nil {
		winner.Status = domain.ModelActive
		winner.Accuracy = armAccuracy(t, winnerID)
	}
	if loser != nil {
		loser.Status = domain.ModelDeprecated
	}
	s.activeID = &winnerID
	s.mu.Unlock()

	if err := s.store.UpdateModelStatus(ctx, winnerID, domain.ModelActive); err != nil {
		s.logger.Warn("model status update failed", zap.Error(err))
	}
	if err := s.store.UpdateModelStatus(ctx, loserID, domain.ModelDeprecated); err != nil {
		s.logger.Warn("model status update failed", zap.Error(err))
	}

	s.logger.Info("ab test concluded", zap.String("winner", winnerID.String()))

	if winner == nil {
		return nil, nil
	}
	out := *winner
	return &out, nil
}

func armAccuracy(t *domain.ABTest, modelID uuid.UUID) float64 {
	if t.Control.ModelID == modelID {
		return t.Control.Accuracy
	}
	return t.Candidate.Accuracy
}

func (s *FeedbackService) Report() FeedbackReport {
	r := FeedbackReport{Metrics: s.Metrics()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != nil {
		if m := s.models[*s.activeID]; m != nil {
			cp := *m
			r.ActiveModel = &cp
		}
	}
	if s.abTest != nil {
		cp := *s.abTest
		r.ABTest = &cp
	}
	return r
}
