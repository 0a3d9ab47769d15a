package agent

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

func assessmentClient(outcome domain.Outcome, probability float64, interval [2]float64) *MockAssessmentClient {
	c := NewMockAssessmentClient()
	c.AssessResponse = &domain.Assessment{
		Outcome:            outcome,
		Probability:        probability,
		ConfidenceInterval: interval,
	}
	return c
}

func testSynthesis(outcome domain.Outcome, probability float64) *domain.SynthesisOutput {
	return &domain.SynthesisOutput{
		Assessment: domain.Assessment{
			Outcome:            outcome,
			Probability:        probability,
			ConfidenceInterval: [2]float64{probability - 0.05, probability + 0.05},
		},
		CredibilityAvg: 0.8,
	}
}

func defaultOpts(method domain.EnsembleMethod) domain.ResolveOptions {
	opts := domain.ResolveOptions{EnsembleMethod: method}
	opts.ApplyDefaults()
	return opts
}

func TestDeliberationWeightedVoteUnanimous(t *testing.T) {
	tight := [2]float64{0.85, 0.95}
	members := []EnsembleMember{
		{Model: "panel-a", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
		{Model: "panel-b", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
		{Model: "panel-c", Weight: 0.30, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
	}
	agent := NewDeliberationAgent(members, zap.NewNop())

	out, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeYes, 0.9), defaultOpts(domain.EnsembleWeightedVote))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != domain.OutcomeYes {
		t.Errorf("outcome = %s, want YES", out.Outcome)
	}
	// Unanimous vote: full margin maps to probability 1.0.
	if out.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", out.Confidence)
	}
	if out.Disagreement != "" {
		t.Errorf("unexpected disagreement analysis: %q", out.Disagreement)
	}
	if len(out.MemberVotes) != 3 {
		t.Fatalf("member votes = %d, want 3", len(out.MemberVotes))
	}
}

func TestDeliberationWeightedVoteSplit(t *testing.T) {
	tight := [2]float64{0.8, 0.9} // width 0.1, confidence 0.9
	members := []EnsembleMember{
		{Model: "panel-a", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
		{Model: "panel-b", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
		{Model: "panel-c", Weight: 0.30, Client: assessmentClient(domain.OutcomeNo, 0.1, tight)},
	}
	agent := NewDeliberationAgent(members, zap.NewNop())

	out, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeYes, 0.8), defaultOpts(domain.EnsembleWeightedVote))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != domain.OutcomeYes {
		t.Errorf("outcome = %s, want YES", out.Outcome)
	}
	// YES share 0.7, NO share 0.3: probability = 0.5 + 0.4*0.5 = 0.7.
	if math.Abs(out.Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want 0.7", out.Confidence)
	}
}

func TestDeliberationBayesian(t *testing.T) {
	tests := []struct {
		name        string
		probability float64
		wantOutcome domain.Outcome
	}{
		{"strong yes", 0.8, domain.OutcomeYes},
		{"strong no", 0.2, domain.OutcomeNo},
		{"even odds", 0.5, domain.OutcomeUncertain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interval := [2]float64{tt.probability - 0.05, tt.probability + 0.05}
			members := []EnsembleMember{
				{Model: "panel-a", Weight: 0.35, Client: assessmentClient(tt.wantOutcome, tt.probability, interval)},
				{Model: "panel-b", Weight: 0.35, Client: assessmentClient(tt.wantOutcome, tt.probability, interval)},
				{Model: "panel-c", Weight: 0.30, Client: assessmentClient(tt.wantOutcome, tt.probability, interval)},
			}
			agent := NewDeliberationAgent(members, zap.NewNop())

			out, err := agent.Execute(context.Background(), "q", testSynthesis(tt.wantOutcome, tt.probability), defaultOpts(domain.EnsembleBayesian))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", out.Outcome, tt.wantOutcome)
			}
			// Equal member probabilities with weights summing to 1 leave the
			// log-odds combination at the shared probability.
			if math.Abs(out.Confidence-tt.probability) > 1e-9 {
				t.Errorf("confidence = %v, want %v", out.Confidence, tt.probability)
			}
		})
	}
}

func TestDeliberationMaxConfidence(t *testing.T) {
	members := []EnsembleMember{
		{Model: "panel-a", Weight: 0.35, Client: assessmentClient(domain.OutcomeNo, 0.3, [2]float64{0.1, 0.6})},
		{Model: "panel-b", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.92, [2]float64{0.9, 0.95})},
		{Model: "panel-c", Weight: 0.30, Client: assessmentClient(domain.OutcomeUncertain, 0.5, [2]float64{0.2, 0.8})},
	}
	agent := NewDeliberationAgent(members, zap.NewNop())

	out, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeYes, 0.8), defaultOpts(domain.EnsembleMaxConfidence))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != domain.OutcomeYes {
		t.Errorf("outcome = %s, want YES (tightest interval)", out.Outcome)
	}
	if out.Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", out.Confidence)
	}
}

func TestDeliberationMemberFailureFallsBackToSynthesis(t *testing.T) {
	failing := NewMockAssessmentClient()
	failing.AssessError = errors.New("model down")

	tight := [2]float64{0.85, 0.95}
	members := []EnsembleMember{
		{Model: "panel-a", Weight: 0.35, Client: failing},
		{Model: "panel-b", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
		{Model: "panel-c", Weight: 0.30, Client: assessmentClient(domain.OutcomeYes, 0.9, tight)},
	}
	agent := NewDeliberationAgent(members, zap.NewNop())

	out, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeYes, 0.88), defaultOpts(domain.EnsembleWeightedVote))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != domain.OutcomeYes {
		t.Errorf("outcome = %s, want YES", out.Outcome)
	}
	if len(out.MemberVotes) != 3 {
		t.Fatalf("member votes = %d, want 3 including fallback", len(out.MemberVotes))
	}
	// The failed member's vote carries the synthesis assessment under its name.
	if out.MemberVotes[0].Model != "panel-a" {
		t.Errorf("fallback vote model = %q, want panel-a", out.MemberVotes[0].Model)
	}
	if out.MemberVotes[0].Probability != 0.88 {
		t.Errorf("fallback vote probability = %v, want synthesis 0.88", out.MemberVotes[0].Probability)
	}
}

func TestDeliberationDisagreementAnalysis(t *testing.T) {
	members := []EnsembleMember{
		{Model: "panel-a", Weight: 0.35, Client: assessmentClient(domain.OutcomeYes, 0.8, [2]float64{0.1, 0.2})},
		{Model: "panel-b", Weight: 0.35, Client: assessmentClient(domain.OutcomeNo, 0.2, [2]float64{0.1, 0.2})},
		{Model: "panel-c", Weight: 0.30, Client: assessmentClient(domain.OutcomeUncertain, 0.5, [2]float64{0, 1})},
	}
	agent := NewDeliberationAgent(members, zap.NewNop())

	out, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeUncertain, 0.5), defaultOpts(domain.EnsembleWeightedVote))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Disagreement == "" {
		t.Fatal("expected disagreement analysis below consensus threshold")
	}
	if !strings.Contains(out.Disagreement, "Polarized disagreement") {
		t.Errorf("missing polarization note: %q", out.Disagreement)
	}
	if !strings.Contains(out.Disagreement, "Split is nearly even") {
		t.Errorf("missing even-split note: %q", out.Disagreement)
	}
	if !strings.Contains(out.Disagreement, "abstained") {
		t.Errorf("missing abstention note: %q", out.Disagreement)
	}
	if !strings.Contains(out.Disagreement, "low confidence") {
		t.Errorf("missing low-confidence note: %q", out.Disagreement)
	}
}

func TestDeliberationSharedClientCallTracking(t *testing.T) {
	// All three members fan out concurrently against one shared client; the
	// mock's call tracking must account for every assessment without loss.
	client := assessmentClient(domain.OutcomeYes, 0.9, [2]float64{0.85, 0.95})
	agent := NewDeliberationAgent(DefaultEnsemble(client), zap.NewNop())

	const runs = 50
	for i := 0; i < runs; i++ {
		if _, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeYes, 0.9), defaultOpts(domain.EnsembleWeightedVote)); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if got, want := client.AssessCallCount(), runs*3; got != want {
		t.Errorf("assess calls = %d, want %d", got, want)
	}
}

func TestDeliberationEmptyEnsemble(t *testing.T) {
	agent := NewDeliberationAgent(nil, zap.NewNop())
	if _, err := agent.Execute(context.Background(), "q", testSynthesis(domain.OutcomeYes, 0.9), defaultOpts(domain.EnsembleWeightedVote)); err == nil {
		t.Fatal("expected error for empty ensemble")
	}
}
