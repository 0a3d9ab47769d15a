package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/verify"
)

const (
	// DefaultContradictionPenalty is subtracted from fallback confidence per
	// high-severity contradiction.
	DefaultContradictionPenalty = 0.15

	// DefaultFallbackFloor is the minimum confidence the rule-based fallback
	// assessment will report.
	DefaultFallbackFloor = 0.3

	contradictionMinCredibility = 0.7
	similarityGate              = 0.3
	promptSourceLimit           = 5
	fallbackSourceLimit         = 10
)

// SynthesisAgent evaluates source credibility, detects contradictions between
// sources, and produces a probabilistic assessment. When the assessment client
// is unavailable it falls back to a rule-based estimate so an unreachable
// model degrades quality rather than aborting the pipeline.
type SynthesisAgent struct {
	ContradictionPenalty float64
	FallbackFloor        float64

	client   domain.AssessmentClient
	polarity verify.PolarityClassifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewSynthesisAgent(client domain.AssessmentClient, logger *zap.Logger) *SynthesisAgent {
	return &SynthesisAgent{
		ContradictionPenalty: DefaultContradictionPenalty,
		FallbackFloor:        DefaultFallbackFloor,
		client:               client,
		polarity:             verify.LexicalPolarity{},
		logger:               logger,
		now:                  time.Now,
	}
}

func (a *SynthesisAgent) Execute(ctx context.Context, question string, corpus *domain.EvidenceCorpus) (*domain.SynthesisOutput, error) {
	started := a.now()

	contradictions := a.DetectContradictions(corpus.Sources)

	out := &domain.SynthesisOutput{
		Contradictions: contradictions,
		CredibilityAvg: averageCredibility(corpus.Sources),
	}

	assessment, err := a.client.Assess(ctx, a.buildPrompt(question, corpus, contradictions))
	if err != nil {
		a.logger.Warn("assessment call failed, using rule-based fallback", zap.Error(err))
		out.Assessment = a.FallbackAssessment(corpus, contradictions)
		out.UsedFallback = true
	} else {
		out.Assessment = *assessment
	}

	out.DurationMS = a.now().Sub(started).Milliseconds()
	return out, nil
}

// DetectContradictions finds pairs of credible sources that assert opposite
// outcomes about overlapping content. Low-credibility sources are skipped so
// noise does not manufacture conflicts, and a content-similarity gate keeps
// pairs that discuss unrelated facts from being flagged.
func (a *SynthesisAgent) DetectContradictions(sources []domain.EvidenceSource) []domain.Contradiction {
	credible := make([]domain.EvidenceSource, 0, len(sources))
	for _, s := range sources {
		if s.CredibilityScore > contradictionMinCredibility {
			credible = append(credible, s)
		}
	}

	var contradictions []domain.Contradiction
	for i := 0; i < len(credible); i++ {
		for j := i + 1; j < len(credible); j++ {
			pa := a.polarity.Classify(credible[i])
			pb := a.polarity.Classify(credible[j])
			if pa == domain.OutcomeUncertain || pb == domain.OutcomeUncertain || pa == pb {
				continue
			}
			if contentSimilarity(credible[i].Content, credible[j].Content) < similarityGate {
				continue
			}
			contradictions = append(contradictions, domain.Contradiction{
				SourceA:  credible[i].ID,
				SourceB:  credible[j].ID,
				Severity: "high",
				Detail:   fmt.Sprintf("opposite outcomes: %s reports %s, %s reports %s", credible[i].Domain, pa, credible[j].Domain, pb),
			})
		}
	}
	return contradictions
}

// FallbackAssessment is the rule-based estimate used when the model call
// fails: credibility-weighted lexical votes with a penalty per high-severity
// contradiction and a neutral-uncertain floor.
func (a *SynthesisAgent) FallbackAssessment(corpus *domain.EvidenceCorpus, contradictions []domain.Contradiction) domain.Assessment {
	sources := corpus.Sources
	if len(sources) > fallbackSourceLimit {
		sources = sources[:fallbackSourceLimit]
	}

	var yesWeight, noWeight, totalWeight float64
	for _, s := range sources {
		switch a.polarity.Classify(s) {
		case domain.OutcomeYes:
			yesWeight += s.CredibilityScore
		case domain.OutcomeNo:
			noWeight += s.CredibilityScore
		}
		totalWeight += s.CredibilityScore
	}

	if totalWeight == 0 {
		return domain.Assessment{
			Outcome:            domain.OutcomeUncertain,
			Probability:        0.5,
			ConfidenceInterval: [2]float64{0.3, 0.7},
			Reasoning:          "no weighted evidence available",
			Model:              "rule-based",
		}
	}

	voteWeight := yesWeight + noWeight
	if voteWeight == 0 {
		voteWeight = 1
	}
	yesProb := yesWeight / voteWeight

	var penalty float64
	for _, c := range contradictions {
		if c.Severity == "high" {
			penalty += a.ContradictionPenalty
		}
	}
	confidence := corpus.CrossVerificationScore - penalty
	if confidence < a.FallbackFloor {
		confidence = a.FallbackFloor
	}

	outcome := domain.OutcomeUncertain
	probability := 0.5
	switch {
	case yesProb > 0.7:
		outcome = domain.OutcomeYes
		probability = yesProb
	case yesProb < 0.3:
		outcome = domain.OutcomeNo
		probability = yesProb
	}

	margin := (1 - confidence) / 2
	return domain.Assessment{
		Outcome:            outcome,
		Probability:        probability,
		ConfidenceInterval: [2]float64{clamp01(probability - margin), clamp01(probability + margin)},
		Reasoning:          fmt.Sprintf("rule-based vote: yes=%.2f no=%.2f of %.2f total weight", yesWeight, noWeight, totalWeight),
		Model:              "rule-based",
	}
}

func (a *SynthesisAgent) buildPrompt(question string, corpus *domain.EvidenceCorpus, contradictions []domain.Contradiction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MARKET QUESTION: %q\n\nEVIDENCE SOURCES:\n", question)

	sources := corpus.Sources
	if len(sources) > promptSourceLimit {
		sources = sources[:promptSourceLimit]
	}
	for i, s := range sources {
		content := s.Content
		if len(content) > 300 {
			content = content[:300]
		}
		fmt.Fprintf(&b, "[Source %d] credibility %.0f%% type %s\nTitle: %s\nContent: %s\n\n",
			i+1, s.CredibilityScore*100, s.SourceType, s.Title, content)
	}

	if len(contradictions) > 0 {
		b.WriteString("CONTRADICTIONS DETECTED:\n")
		for _, c := range contradictions {
			fmt.Fprintf(&b, "- %s: %s\n", strings.ToUpper(c.Severity), c.Detail)
		}
		b.WriteString("\n")
	}

	b.WriteString("Determine the most likely outcome (YES, NO, or UNCERTAIN), treating government sources as authoritative for official matters, and assign a probability with a confidence interval.")
	return b.String()
}

func averageCredibility(sources []domain.EvidenceSource) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.CredibilityScore
	}
	return sum / float64(len(sources))
}

// contentSimilarity is token Jaccard over words longer than 4 characters.
func contentSimilarity(textA, textB string) float64 {
	setA := significantWords(textA)
	setB := significantWords(textB)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	union := len(setB)
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func significantWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) > 4 {
			words[w] = struct{}{}
		}
	}
	return words
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
