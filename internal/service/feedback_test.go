package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type mockFeedbackStore struct {
	feedback      []*domain.ResolutionFeedback
	processed     []uuid.UUID
	models        []*domain.ModelVersion
	statusChanges map[uuid.UUID]domain.ModelStatus
}

func newMockFeedbackStore() *mockFeedbackStore {
	return &mockFeedbackStore{statusChanges: make(map[uuid.UUID]domain.ModelStatus)}
}

func (m *mockFeedbackStore) Create(_ context.Context, f *domain.ResolutionFeedback) error {
	m.feedback = append(m.feedback, f)
	return nil
}

func (m *mockFeedbackStore) ListUnprocessed(_ context.Context, _ int) ([]domain.ResolutionFeedback, error) {
	return nil, nil
}

func (m *mockFeedbackStore) MarkProcessed(_ context.Context, ids []uuid.UUID) error {
	m.processed = append(m.processed, ids...)
	return nil
}

func (m *mockFeedbackStore) CountSince(_ context.Context, _ time.Time) (int, error) {
	return len(m.feedback), nil
}

func (m *mockFeedbackStore) CreateModelVersion(_ context.Context, mv *domain.ModelVersion) error {
	m.models = append(m.models, mv)
	return nil
}

func (m *mockFeedbackStore) UpdateModelStatus(_ context.Context, id uuid.UUID, status domain.ModelStatus) error {
	m.statusChanges[id] = status
	return nil
}

func (m *mockFeedbackStore) GetActiveModel(_ context.Context) (*domain.ModelVersion, error) {
	return nil, nil
}

func newTestFeedbackService(t *testing.T) (*FeedbackService, *mockFeedbackStore) {
	t.Helper()
	store := newMockFeedbackStore()
	return NewFeedbackService(store, zap.NewNop()), store
}

func feedbackEntry(verdict domain.FeedbackVerdict, ai, actual domain.Outcome, strength float64) domain.ResolutionFeedback {
	return domain.ResolutionFeedback{
		PipelineID:           uuid.New(),
		MarketID:             "m1",
		Verdict:              verdict,
		AIOutcome:            ai,
		ActualOutcome:        actual,
		AIConfidence:         0.9,
		VerificationStrength: strength,
	}
}

func TestRecordFeedbackClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		ai       domain.Outcome
		actual   domain.Outcome
		strength float64
		want     domain.ErrorPattern
	}{
		{"weak evidence", domain.OutcomeYes, domain.OutcomeNo, 0.3, domain.PatternEvidenceMiss},
		{"false positive", domain.OutcomeYes, domain.OutcomeNo, 0.9, domain.PatternFalsePositive},
		{"false negative", domain.OutcomeNo, domain.OutcomeYes, 0.9, domain.PatternFalseNegative},
		{"miscalibration", domain.OutcomeUncertain, domain.OutcomeYes, 0.9, domain.PatternMiscalibration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestFeedbackService(t)
			f, err := s.RecordFeedback(context.Background(),
				feedbackEntry(domain.VerdictIncorrect, tt.ai, tt.actual, tt.strength))
			if err != nil {
				t.Fatalf("RecordFeedback: %v", err)
			}
			if f.ErrorPattern == nil || *f.ErrorPattern != tt.want {
				t.Fatalf("pattern = %v, want %s", f.ErrorPattern, tt.want)
			}
		})
	}
}

func TestRecordFeedbackCorrectHasNoPattern(t *testing.T) {
	s, store := newTestFeedbackService(t)

	f, err := s.RecordFeedback(context.Background(),
		feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9))
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if f.ErrorPattern != nil {
		t.Fatalf("pattern = %v, want nil", *f.ErrorPattern)
	}
	if len(store.feedback) != 1 {
		t.Fatalf("store.feedback = %d, want 1", len(store.feedback))
	}

	if _, err := s.RecordFeedback(context.Background(),
		feedbackEntry(domain.FeedbackVerdict("maybe"), domain.OutcomeYes, domain.OutcomeYes, 0.9)); err == nil {
		t.Fatal("invalid verdict accepted")
	}
}

func TestProcessDisputeOutcome(t *testing.T) {
	s, _ := newTestFeedbackService(t)
	pipelineID := uuid.New()
	overturned := domain.DisputeOverturned
	no := domain.OutcomeNo

	d := &domain.Dispute{
		ID:              uuid.New(),
		MarketID:        "m1",
		PipelineID:      &pipelineID,
		DisputedOutcome: domain.OutcomeYes,
		ProposedOutcome: domain.OutcomeNo,
		Outcome:         &overturned,
		ResolvedOutcome: &no,
		ResolutionNotes: "recount",
	}

	f, err := s.ProcessDisputeOutcome(context.Background(), d, 0.92, 0.9)
	if err != nil {
		t.Fatalf("ProcessDisputeOutcome: %v", err)
	}
	if f.Verdict != domain.VerdictIncorrect {
		t.Fatalf("verdict = %s, want incorrect", f.Verdict)
	}
	if f.ActualOutcome != domain.OutcomeNo {
		t.Fatalf("actual = %s, want NO", f.ActualOutcome)
	}
	if f.DisputeOutcome == nil || *f.DisputeOutcome != domain.DisputeOverturned {
		t.Fatalf("dispute outcome = %v", f.DisputeOutcome)
	}
	if f.PipelineID != pipelineID {
		t.Fatalf("pipeline id = %s, want %s", f.PipelineID, pipelineID)
	}

	unruled := &domain.Dispute{ID: uuid.New()}
	if _, err := s.ProcessDisputeOutcome(context.Background(), unruled, 0.9, 0.9); err == nil {
		t.Fatal("dispute without a ruling accepted")
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestFeedbackService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
			t.Fatalf("RecordFeedback: %v", err)
		}
	}
	upheld := domain.DisputeUpheld
	disputed := feedbackEntry(domain.VerdictIncorrect, domain.OutcomeYes, domain.OutcomeNo, 0.9)
	disputed.DisputeOutcome = &upheld
	if _, err := s.RecordFeedback(ctx, disputed); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	m := s.Metrics()
	if m.TotalFeedback != 4 || m.Unprocessed != 4 {
		t.Fatalf("total=%d unprocessed=%d", m.TotalFeedback, m.Unprocessed)
	}
	if m.Accuracy != 0.75 {
		t.Fatalf("accuracy = %v, want 0.75", m.Accuracy)
	}
	if m.DisputeRate != 0.25 {
		t.Fatalf("dispute rate = %v, want 0.25", m.DisputeRate)
	}
	if m.OverturnRate != 0 {
		t.Fatalf("overturn rate = %v, want 0", m.OverturnRate)
	}
	if m.ErrorCounts[domain.PatternFalsePositive] != 1 {
		t.Fatalf("error counts = %v", m.ErrorCounts)
	}
}

func TestMaybeRetrainStagesModel(t *testing.T) {
	s, store := newTestFeedbackService(t)
	s.RetrainSampleFloor = 3
	ctx := context.Background()

	// Below the floor: no cycle.
	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	m, err := s.MaybeRetrain(ctx)
	if err != nil || m != nil {
		t.Fatalf("retrain below floor: model=%v err=%v", m, err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
			t.Fatalf("RecordFeedback: %v", err)
		}
	}

	m, err = s.MaybeRetrain(ctx)
	if err != nil {
		t.Fatalf("MaybeRetrain: %v", err)
	}
	if m == nil {
		t.Fatal("no model staged")
	}
	// First cycle with no prior active model promotes directly.
	if m.Status != domain.ModelActive {
		t.Fatalf("status = %s, want active", m.Status)
	}
	if m.TrainedSamples != 3 {
		t.Fatalf("trained samples = %d, want 3", m.TrainedSamples)
	}
	if len(store.processed) != 3 {
		t.Fatalf("processed = %d, want 3", len(store.processed))
	}
	if s.Metrics().Unprocessed != 0 {
		t.Fatal("ledger not marked processed")
	}

	// Immediately after a cycle the interval gate blocks another one.
	for i := 0; i < 3; i++ {
		if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
			t.Fatalf("RecordFeedback: %v", err)
		}
	}
	if m2, _ := s.MaybeRetrain(ctx); m2 != nil {
		t.Fatal("retrain ran inside the minimum interval")
	}

	// Past the interval a second cycle stages a candidate and opens a test.
	base := time.Now()
	s.now = func() time.Time { return base.Add(s.RetrainInterval + time.Minute) }
	m2, err := s.MaybeRetrain(ctx)
	if err != nil {
		t.Fatalf("second MaybeRetrain: %v", err)
	}
	if m2 == nil || m2.Status != domain.ModelStaging {
		t.Fatalf("second model = %+v, want staging", m2)
	}
	report := s.Report()
	if report.ABTest == nil {
		t.Fatal("no A/B test started against the active model")
	}
	if report.ABTest.Candidate.ModelID != m2.ID {
		t.Fatal("candidate arm is not the staged model")
	}
}

func TestEvaluateABTestPromotesWinner(t *testing.T) {
	s, store := newTestFeedbackService(t)
	s.RetrainSampleFloor = 1
	s.ABMinSamples = 10
	ctx := context.Background()

	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	control, err := s.MaybeRetrain(ctx)
	if err != nil || control == nil {
		t.Fatalf("first retrain: model=%v err=%v", control, err)
	}

	base := time.Now()
	s.now = func() time.Time { return base.Add(s.RetrainInterval + time.Minute) }
	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	candidate, err := s.MaybeRetrain(ctx)
	if err != nil || candidate == nil {
		t.Fatalf("second retrain: model=%v err=%v", candidate, err)
	}

	// Not enough samples yet: inconclusive.
	if w, _ := s.EvaluateABTest(ctx); w != nil {
		t.Fatal("test concluded without samples")
	}

	for i := 0; i < 10; i++ {
		s.RecordABSample(control.ID, i < 7)   // 70% accuracy
		s.RecordABSample(candidate.ID, i < 9) // 90% accuracy
	}

	winner, err := s.EvaluateABTest(ctx)
	if err != nil {
		t.Fatalf("EvaluateABTest: %v", err)
	}
	if winner == nil || winner.ID != candidate.ID {
		t.Fatalf("winner = %v, want the candidate", winner)
	}
	if winner.Status != domain.ModelActive {
		t.Fatalf("winner status = %s, want active", winner.Status)
	}
	if store.statusChanges[control.ID] != domain.ModelDeprecated {
		t.Fatal("loser not deprecated in the store")
	}

	report := s.Report()
	if report.ActiveModel == nil || report.ActiveModel.ID != candidate.ID {
		t.Fatal("active model not switched to the winner")
	}
	if report.ABTest.ConcludedAt == nil || report.ABTest.WinnerID == nil {
		t.Fatal("test not concluded")
	}
}

func TestEvaluateABTestInsideMarginStaysOpen(t *testing.T) {
	s, _ := newTestFeedbackService(t)
	s.RetrainSampleFloor = 1
	s.ABMinSamples = 10
	ctx := context.Background()

	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	control, _ := s.MaybeRetrain(ctx)

	base := time.Now()
	s.now = func() time.Time { return base.Add(s.RetrainInterval + time.Minute) }
	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	candidate, _ := s.MaybeRetrain(ctx)

	for i := 0; i < 10; i++ {
		s.RecordABSample(control.ID, i < 8)
		s.RecordABSample(candidate.ID, i < 8)
	}

	if w, _ := s.EvaluateABTest(ctx); w != nil {
		t.Fatal("equal arms produced a winner")
	}
	if s.Report().ABTest.ConcludedAt != nil {
		t.Fatal("inconclusive test was concluded")
	}
}

func TestModelForRequestCanarySplit(t *testing.T) {
	s, _ := newTestFeedbackService(t)
	s.RetrainSampleFloor = 1
	ctx := context.Background()

	if s.ModelForRequest() != nil {
		t.Fatal("model served before any version exists")
	}

	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	control, _ := s.MaybeRetrain(ctx)

	base := time.Now()
	s.now = func() time.Time { return base.Add(s.RetrainInterval + time.Minute) }
	if _, err := s.RecordFeedback(ctx, feedbackEntry(domain.VerdictCorrect, domain.OutcomeYes, domain.OutcomeYes, 0.9)); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	candidate, _ := s.MaybeRetrain(ctx)

	s.rand = func() float64 { return 0.01 }
	if got := s.ModelForRequest(); got == nil || got.ID != candidate.ID {
		t.Fatalf("canary draw served %v, want the candidate", got)
	}

	s.rand = func() float64 { return 0.99 }
	if got := s.ModelForRequest(); got == nil || got.ID != control.ID {
		t.Fatalf("majority draw served %v, want the control", got)
	}
}
