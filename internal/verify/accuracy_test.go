package verify

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

func newTestTracker(now *time.Time) *AccuracyTracker {
	tr := NewAccuracyTracker(nil, zap.NewNop())
	tr.now = func() time.Time { return *now }
	return tr
}

func TestRecordOutcomeAccuracy(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	tr.RecordOutcome(ctx, "reuters.com", domain.OutcomeYes, domain.OutcomeYes, 10, now)
	tr.RecordOutcome(ctx, "reuters.com", domain.OutcomeYes, domain.OutcomeYes, 20, now)
	tr.RecordOutcome(ctx, "reuters.com", domain.OutcomeNo, domain.OutcomeYes, 30, now)

	r, ok := tr.Record("reuters.com")
	if !ok {
		t.Fatal("record missing")
	}
	if r.TotalPredictions != 3 || r.CorrectPredictions != 2 {
		t.Fatalf("totals = %d/%d, want 2/3", r.CorrectPredictions, r.TotalPredictions)
	}
	if want := 2.0 / 3.0; math.Abs(r.Accuracy-want) > 1e-9 {
		t.Fatalf("accuracy = %v, want %v", r.Accuracy, want)
	}
	if r.FalseNegatives != 1 || r.FalsePositives != 0 {
		t.Fatalf("fp/fn = %d/%d, want 0/1", r.FalsePositives, r.FalseNegatives)
	}
	if want := 20.0; math.Abs(r.AvgDelayMins-want) > 1e-9 {
		t.Fatalf("avg delay = %v, want %v", r.AvgDelayMins, want)
	}
	if !r.FastSource {
		t.Fatal("source with 20min avg delay not flagged fast")
	}
}

func TestBiasScore(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	// One false positive and one false negative cancel out.
	tr.RecordOutcome(ctx, "biased.com", domain.OutcomeYes, domain.OutcomeNo, 10, now)
	tr.RecordOutcome(ctx, "biased.com", domain.OutcomeNo, domain.OutcomeYes, 10, now)

	r, _ := tr.Record("biased.com")
	if r.BiasScore != 0 {
		t.Fatalf("bias = %v, want 0 with equal fp/fn", r.BiasScore)
	}

	tr.RecordOutcome(ctx, "biased.com", domain.OutcomeYes, domain.OutcomeNo, 10, now)
	r, _ = tr.Record("biased.com")
	if want := 1.0 / 3.0; math.Abs(r.BiasScore-want) > 1e-9 {
		t.Fatalf("bias = %v, want %v", r.BiasScore, want)
	}
}

func TestAdjustmentNeutralBelowSampleFloor(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	for i := 0; i < tr.MinSamples-1; i++ {
		tr.RecordOutcome(ctx, "thin.com", domain.OutcomeYes, domain.OutcomeNo, 10, now)
	}

	adj := tr.Adjustment("thin.com")
	if adj.Combined != 1.0 {
		t.Fatalf("combined = %v, want neutral 1.0 below sample floor", adj.Combined)
	}
	if w := tr.AdjustedWeight("thin.com"); w != BaseWeight("thin.com") {
		t.Fatalf("adjusted weight = %v, want base weight", w)
	}
}

func TestAdjustmentFactors(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	// 8 correct, 2 false positives, slow reporting.
	for i := 0; i < 8; i++ {
		tr.RecordOutcome(ctx, "mixed.com", domain.OutcomeYes, domain.OutcomeYes, 300, now)
	}
	for i := 0; i < 2; i++ {
		tr.RecordOutcome(ctx, "mixed.com", domain.OutcomeYes, domain.OutcomeNo, 300, now)
	}

	adj := tr.Adjustment("mixed.com")
	if want := 0.5 + 0.8; math.Abs(adj.AccuracyFactor-want) > 1e-9 {
		t.Errorf("accuracy factor = %v, want %v", adj.AccuracyFactor, want)
	}
	// bias = (2-0)/2 = 1.0, factor = 1 - 0.3
	if want := 0.7; math.Abs(adj.BiasFactor-want) > 1e-9 {
		t.Errorf("bias factor = %v, want %v", adj.BiasFactor, want)
	}
	if adj.DelayFactor != 0.85 {
		t.Errorf("delay factor = %v, want 0.85 for slow source", adj.DelayFactor)
	}
	wantCombined := adj.AccuracyFactor * adj.BiasFactor * adj.DelayFactor * adj.RecencyFactor
	if math.Abs(adj.Combined-wantCombined) > 1e-9 {
		t.Errorf("combined = %v, want product %v", adj.Combined, wantCombined)
	}
}

func TestSmoothedWeightClamped(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	// Persistent wrongness drives the target weight to the floor.
	for i := 0; i < 50; i++ {
		tr.RecordOutcome(ctx, "wrong.com", domain.OutcomeYes, domain.OutcomeNo, 300, now)
	}

	base := BaseWeight("wrong.com")
	w := tr.AdjustedWeight("wrong.com")
	if w < base*0.5-1e-9 || w > base*1.2+1e-9 {
		t.Fatalf("weight %v outside clamp [%v, %v]", w, base*0.5, base*1.2)
	}
}

func TestSmoothingAvoidsWeightShock(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	base := BaseWeight("shock.com")

	// Exactly MinSamples wrong answers; the applied weight must have moved
	// only gradually from base, not snapped to the target.
	for i := 0; i < tr.MinSamples; i++ {
		tr.RecordOutcome(ctx, "shock.com", domain.OutcomeYes, domain.OutcomeNo, 300, now)
	}

	w := tr.AdjustedWeight("shock.com")
	target := base * tr.Adjustment("shock.com").Combined
	if w <= target+1e-9 {
		t.Fatalf("weight %v snapped to target %v instead of smoothing", w, target)
	}
	if w >= base {
		t.Fatalf("weight %v did not move down from base %v", w, base)
	}
}

func TestProblematicSources(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tr.RecordOutcome(ctx, "bad.com", domain.OutcomeYes, domain.OutcomeNo, 300, now)
	}

	issues := make(map[string]bool)
	for _, p := range tr.ProblematicSources() {
		if p.Domain == "bad.com" {
			issues[p.Issue] = true
		}
	}
	for _, want := range []string{"low_accuracy", "high_bias", "slow_reporting"} {
		if !issues[want] {
			t.Errorf("missing issue %q, got %v", want, issues)
		}
	}
}

type mockAccuracyStore struct {
	records []domain.SourceAccuracyRecord
	listErr error
}

func (m *mockAccuracyStore) Upsert(_ context.Context, r *domain.SourceAccuracyRecord) error {
	for i := range m.records {
		if m.records[i].Domain == r.Domain {
			m.records[i] = *r
			return nil
		}
	}
	m.records = append(m.records, *r)
	return nil
}

func (m *mockAccuracyStore) GetByDomain(_ context.Context, d string) (*domain.SourceAccuracyRecord, error) {
	for i := range m.records {
		if m.records[i].Domain == d {
			out := m.records[i]
			return &out, nil
		}
	}
	return nil, errors.New("no record")
}

func (m *mockAccuracyStore) ListAll(_ context.Context) ([]domain.SourceAccuracyRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.SourceAccuracyRecord(nil), m.records...), nil
}

func TestLoadPrimesLedgerFromStore(t *testing.T) {
	store := &mockAccuracyStore{records: []domain.SourceAccuracyRecord{
		{Domain: "reuters.com", TotalPredictions: 40, CorrectPredictions: 38,
			Accuracy: 0.95, RecentAccuracy: 0.95, FastSource: true, SmoothedWeight: 1.1},
		{Domain: "rumormill.example", TotalPredictions: 30, CorrectPredictions: 12,
			Accuracy: 0.4, RecentAccuracy: 0.4, SmoothedWeight: 0.6},
	}}
	tr := NewAccuracyTracker(store, zap.NewNop())

	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec, ok := tr.Record("reuters.com")
	if !ok {
		t.Fatal("reuters.com record not loaded")
	}
	if rec.TotalPredictions != 40 || rec.CorrectPredictions != 38 {
		t.Fatalf("record = %+v", rec)
	}

	// Loaded history feeds directly into the dynamic weighting.
	good := tr.Adjustment("reuters.com").Combined
	bad := tr.Adjustment("rumormill.example").Combined
	if good <= bad {
		t.Fatalf("adjustment good=%v bad=%v, want good > bad", good, bad)
	}

	store.listErr = errors.New("db down")
	if err := tr.Load(context.Background()); err == nil {
		t.Fatal("store failure not surfaced")
	}
}
