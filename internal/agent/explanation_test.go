package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

func explanationPipeline(now time.Time) *domain.ResolutionPipeline {
	return &domain.ResolutionPipeline{
		ID:              uuid.New(),
		MarketID:        "mkt-1",
		Question:        "Will the bill pass?",
		Status:          domain.PipelineCompleted,
		FinalOutcome:    domain.OutcomeYes,
		FinalConfidence: 0.9,
		Retrieval: &domain.RetrievalOutput{
			Corpus: &domain.EvidenceCorpus{
				Sources: []domain.EvidenceSource{
					{
						ID:               uuid.New(),
						URL:              "https://parliament.gov.bd/notice",
						Domain:           "parliament.gov.bd",
						Title:            "Parliament Official Notice",
						PublishedAt:      now.Add(-2 * time.Hour),
						SourceType:       domain.SourceTypeGovernment,
						CredibilityScore: 0.97,
					},
					{
						ID:               uuid.New(),
						URL:              "https://thedailystar.net/story",
						Domain:           "thedailystar.net",
						Title:            "Daily Star Report",
						PublishedAt:      now.Add(-4 * time.Hour),
						SourceType:       domain.SourceTypePress,
						CredibilityScore: 0.88,
					},
				},
				CrossVerificationScore: 0.95,
				RetrievedAt:            now,
			},
		},
		Deliberation: &domain.DeliberationOutput{
			Outcome:    domain.OutcomeYes,
			Confidence: 0.92,
			Method:     domain.EnsembleWeightedVote,
			MemberVotes: []domain.Assessment{
				{Outcome: domain.OutcomeYes, Probability: 0.9, Model: "panel-a"},
				{Outcome: domain.OutcomeYes, Probability: 0.88, Model: "panel-b"},
				{Outcome: domain.OutcomeNo, Probability: 0.4, Model: "panel-c"},
			},
		},
		Synthesis: &domain.SynthesisOutput{
			Assessment: domain.Assessment{Outcome: domain.OutcomeYes, Probability: 0.9},
		},
		StartedAt: now.Add(-time.Minute),
	}
}

func TestExplanationUsesClient(t *testing.T) {
	client := NewMockAssessmentClient()
	client.ExplainResponse = "The bill passed according to official sources."
	agent := NewExplanationAgent(client, zap.NewNop())

	out := agent.Execute(context.Background(), explanationPipeline(time.Now()))
	if out.Summary != client.ExplainResponse {
		t.Errorf("summary = %q, want client response", out.Summary)
	}
	if len(client.ExplainCalls) != 1 {
		t.Fatalf("explain calls = %d, want 1", len(client.ExplainCalls))
	}
	if !strings.Contains(client.ExplainCalls[0], "Will the bill pass?") {
		t.Error("prompt missing market question")
	}
}

func TestExplanationTemplateFallback(t *testing.T) {
	client := NewMockAssessmentClient()
	client.ExplainError = errors.New("model down")
	agent := NewExplanationAgent(client, zap.NewNop())

	out := agent.Execute(context.Background(), explanationPipeline(time.Now()))
	if out.Summary == "" {
		t.Fatal("template fallback produced empty summary")
	}
	if !strings.Contains(out.Summary, "YES") {
		t.Errorf("summary missing outcome: %q", out.Summary)
	}
	if !strings.Contains(out.Summary, "90.0%") {
		t.Errorf("summary missing confidence: %q", out.Summary)
	}
	if !strings.Contains(out.Summary, "official government source") {
		t.Errorf("summary missing government attribution: %q", out.Summary)
	}
	if !strings.Contains(out.Summary, "consensus among 2 of 3") {
		t.Errorf("summary missing model consensus: %q", out.Summary)
	}
}

func TestExplanationCitations(t *testing.T) {
	agent := NewExplanationAgent(NewMockAssessmentClient(), zap.NewNop())

	citations := agent.Citations(explanationPipeline(time.Now()))
	if len(citations) != 3 {
		t.Fatalf("citations = %d, want 2 sources + consensus line", len(citations))
	}
	if !strings.Contains(citations[0], "(Official)") {
		t.Errorf("top citation missing official badge: %q", citations[0])
	}
	if !strings.Contains(citations[len(citations)-1], "[MODEL CONSENSUS] panel-a, panel-b") {
		t.Errorf("missing consensus citation: %q", citations[len(citations)-1])
	}
}

func TestExplanationUncertaintyNotesStaleEvidence(t *testing.T) {
	now := time.Now()
	agent := NewExplanationAgent(NewMockAssessmentClient(), zap.NewNop())
	agent.now = func() time.Time { return now }

	p := explanationPipeline(now)
	for i := range p.Retrieval.Corpus.Sources {
		p.Retrieval.Corpus.Sources[i].PublishedAt = now.Add(-5 * 24 * time.Hour)
	}

	notes := agent.UncertaintyNotes(p)
	found := false
	for _, n := range notes {
		if strings.Contains(n, "evidence older than threshold") {
			found = true
		}
	}
	if !found {
		t.Fatalf("stale evidence note missing from %v", notes)
	}
}

func TestExplanationUncertaintyNotesFreshEvidence(t *testing.T) {
	now := time.Now()
	agent := NewExplanationAgent(NewMockAssessmentClient(), zap.NewNop())
	agent.now = func() time.Time { return now }

	// One fresh source is enough to suppress the staleness note.
	p := explanationPipeline(now)
	p.Retrieval.Corpus.Sources[0].PublishedAt = now.Add(-5 * 24 * time.Hour)

	for _, n := range agent.UncertaintyNotes(p) {
		if strings.Contains(n, "older than threshold") {
			t.Fatalf("unexpected staleness note: %q", n)
		}
	}
}

func TestExplanationUncertaintyNotesLowConfidenceAndDisagreement(t *testing.T) {
	agent := NewExplanationAgent(NewMockAssessmentClient(), zap.NewNop())

	p := explanationPipeline(time.Now())
	p.FinalConfidence = 0.7
	p.Deliberation.Disagreement = "Polarized disagreement: YES (40%) vs NO (40%)"
	p.Synthesis.Contradictions = []domain.Contradiction{
		{SourceA: uuid.New(), SourceB: uuid.New(), Severity: "high", Detail: "conflict"},
	}

	notes := agent.UncertaintyNotes(p)
	joined := strings.Join(notes, "; ")
	if !strings.Contains(joined, "below automated threshold") {
		t.Errorf("missing low-confidence note: %v", notes)
	}
	if !strings.Contains(joined, "disagreement") {
		t.Errorf("missing disagreement note: %v", notes)
	}
	if !strings.Contains(joined, "contradictory reports") {
		t.Errorf("missing contradiction note: %v", notes)
	}
}
