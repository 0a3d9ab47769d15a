package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	// DefaultStalenessThreshold is the age past which evidence is flagged in
	// the uncertainty notes.
	DefaultStalenessThreshold = 72 * time.Hour

	reviewThreshold = 0.85
	citationLimit   = 3
)

// ExplanationAgent renders a completed pipeline into human-readable reasoning,
// citations, and uncertainty notes. It is strictly best-effort: a failed model
// call falls back to templated text and never fails the caller.
type ExplanationAgent struct {
	StalenessThreshold time.Duration

	client domain.AssessmentClient
	logger *zap.Logger
	now    func() time.Time
}

func NewExplanationAgent(client domain.AssessmentClient, logger *zap.Logger) *ExplanationAgent {
	return &ExplanationAgent{
		StalenessThreshold: DefaultStalenessThreshold,
		client:             client,
		logger:             logger,
		now:                time.Now,
	}
}

func (a *ExplanationAgent) Execute(ctx context.Context, pipeline *domain.ResolutionPipeline) *domain.ExplanationOutput {
	started := a.now()

	summary, err := a.client.Explain(ctx, a.buildPrompt(pipeline))
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			a.logger.Warn("explanation call failed, using template", zap.Error(err))
		}
		summary = a.templateSummary(pipeline)
	}

	return &domain.ExplanationOutput{
		Summary:          summary,
		Citations:        a.Citations(pipeline),
		UncertaintyNotes: a.UncertaintyNotes(pipeline),
		DurationMS:       a.now().Sub(started).Milliseconds(),
	}
}

func (a *ExplanationAgent) buildPrompt(p *domain.ResolutionPipeline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MARKET QUESTION: %q\n\nRESOLUTION OUTCOME: %s\nCONFIDENCE: %.1f%%\n\n", p.Question, p.FinalOutcome, p.FinalConfidence*100)

	if p.Retrieval != nil && p.Retrieval.Corpus != nil {
		b.WriteString("EVIDENCE SOURCES:\n")
		for i, s := range topSources(p.Retrieval.Corpus.Sources, citationLimit) {
			fmt.Fprintf(&b, "%d. %s (%s, credibility %.0f%%)\n", i+1, s.Title, s.Domain, s.CredibilityScore*100)
		}
		b.WriteString("\n")
	}

	if p.Synthesis != nil && len(p.Synthesis.Contradictions) > 0 {
		b.WriteString("CONTRADICTIONS NOTED:\n")
		for _, c := range p.Synthesis.Contradictions {
			fmt.Fprintf(&b, "- %s: %s\n", c.Severity, c.Detail)
		}
		b.WriteString("\n")
	}

	b.WriteString("Explain this resolution for traders: state the outcome, cite the strongest sources, and acknowledge any uncertainty.")
	return b.String()
}

func (a *ExplanationAgent) templateSummary(p *domain.ResolutionPipeline) string {
	var paragraphs []string

	paragraphs = append(paragraphs, fmt.Sprintf(
		"Based on analysis of the available evidence, the market %q has been resolved as %s with %.1f%% confidence.",
		p.Question, p.FinalOutcome, p.FinalConfidence*100))

	if p.Retrieval != nil && p.Retrieval.Corpus != nil && len(p.Retrieval.Corpus.Sources) > 0 {
		top := topSources(p.Retrieval.Corpus.Sources, 1)[0]
		if top.SourceType == domain.SourceTypeGovernment {
			paragraphs = append(paragraphs, fmt.Sprintf("Key confirmation comes from %s, an official government source.", top.Title))
		} else {
			paragraphs = append(paragraphs, fmt.Sprintf("The resolution is supported by evidence from %s.", top.Title))
		}
		if p.Retrieval.Corpus.CrossVerificationScore > 0.8 {
			paragraphs = append(paragraphs, fmt.Sprintf(
				"Multiple independent sources confirm this outcome, with a cross-verification score of %.0f%%.",
				p.Retrieval.Corpus.CrossVerificationScore*100))
		}
	}

	if p.Deliberation != nil && len(p.Deliberation.MemberVotes) > 1 {
		agreeing := 0
		for _, v := range p.Deliberation.MemberVotes {
			if v.Outcome == p.FinalOutcome {
				agreeing++
			}
		}
		if agreeing >= 2 {
			paragraphs = append(paragraphs, fmt.Sprintf(
				"This conclusion represents consensus among %d of %d independent model assessments.",
				agreeing, len(p.Deliberation.MemberVotes)))
		}
	}

	if p.Synthesis != nil && hasHighSeverity(p.Synthesis.Contradictions) {
		paragraphs = append(paragraphs, "Note: some conflicting reports were identified during analysis. The final resolution prioritizes higher-authority sources and cross-verified information.")
	}

	return strings.Join(paragraphs, "\n\n")
}

// Citations lists the most credible sources backing the resolution.
func (a *ExplanationAgent) Citations(p *domain.ResolutionPipeline) []string {
	var citations []string

	if p.Retrieval != nil && p.Retrieval.Corpus != nil {
		for _, s := range topSources(p.Retrieval.Corpus.Sources, citationLimit) {
			citation := fmt.Sprintf("[%s] %s", strings.ToUpper(string(s.SourceType)), s.Title)
			if s.SourceType == domain.SourceTypeGovernment {
				citation += " (Official)"
			} else if s.CredibilityScore > 0.9 {
				citation += " (Tier-1 Authority)"
			}
			citations = append(citations, citation+" - "+s.URL)
		}
	}

	if p.Deliberation != nil {
		var consensus []string
		for _, v := range p.Deliberation.MemberVotes {
			if v.Outcome == p.FinalOutcome && v.Model != "" {
				consensus = append(consensus, v.Model)
			}
		}
		if len(consensus) > 0 {
			citations = append(citations, "[MODEL CONSENSUS] "+strings.Join(consensus, ", "))
		}
	}

	return citations
}

// UncertaintyNotes surfaces everything a reviewer should weigh before
// trusting the resolution.
func (a *ExplanationAgent) UncertaintyNotes(p *domain.ResolutionPipeline) []string {
	var notes []string

	if p.Synthesis != nil {
		high := 0
		for _, c := range p.Synthesis.Contradictions {
			if c.Severity == "high" {
				high++
			}
		}
		if high > 0 {
			notes = append(notes, fmt.Sprintf("%d significant contradictory reports were found among sources", high))
		}
	}

	if p.FinalConfidence < reviewThreshold {
		notes = append(notes, fmt.Sprintf("Confidence level (%.1f%%) below automated threshold", p.FinalConfidence*100))
	}

	if p.Deliberation != nil && p.Deliberation.Disagreement != "" {
		notes = append(notes, "Independent model assessments showed disagreement on outcome")
	}

	if p.Retrieval != nil && p.Retrieval.Corpus != nil && len(p.Retrieval.Corpus.Sources) > 0 {
		cutoff := a.now().Add(-a.StalenessThreshold)
		stale := 0
		for _, s := range p.Retrieval.Corpus.Sources {
			if s.PublishedAt.Before(cutoff) {
				stale++
			}
		}
		if stale == len(p.Retrieval.Corpus.Sources) {
			notes = append(notes, fmt.Sprintf("All evidence older than threshold (%s)", a.StalenessThreshold))
		}
	}

	return notes
}

func topSources(sources []domain.EvidenceSource, n int) []domain.EvidenceSource {
	sorted := make([]domain.EvidenceSource, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CredibilityScore > sorted[j].CredibilityScore
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func hasHighSeverity(contradictions []domain.Contradiction) bool {
	for _, c := range contradictions {
		if c.Severity == "high" {
			return true
		}
	}
	return false
}
