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

// RetrievalAgent gathers an evidence corpus for a market question, deduplicates
// and ranks it, and scores how well the sources cross-verify each other.
type RetrievalAgent struct {
	retriever domain.EvidenceRetriever
	logger    *zap.Logger
	now       func() time.Time
}

func NewRetrievalAgent(retriever domain.EvidenceRetriever, logger *zap.Logger) *RetrievalAgent {
	return &RetrievalAgent{
		retriever: retriever,
		logger:    logger,
		now:       time.Now,
	}
}

func (a *RetrievalAgent) Execute(ctx context.Context, question string, maxSources int) (*domain.RetrievalOutput, error) {
	started := a.now()

	corpus, err := a.retriever.Retrieve(ctx, question, maxSources)
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	corpus.Sources = dedupeByURL(corpus.Sources)
	sort.SliceStable(corpus.Sources, func(i, j int) bool {
		return corpus.Sources[i].CredibilityScore > corpus.Sources[j].CredibilityScore
	})
	if maxSources > 0 && len(corpus.Sources) > maxSources {
		corpus.Sources = corpus.Sources[:maxSources]
	}

	corpus.CrossVerificationScore = crossVerificationScore(corpus.Sources)
	if corpus.RetrievedAt.IsZero() {
		corpus.RetrievedAt = a.now()
	}

	byType := make(map[domain.SourceType]int, len(corpus.Sources))
	for _, s := range corpus.Sources {
		byType[s.SourceType]++
	}

	a.logger.Debug("evidence retrieved",
		zap.Int("sources", len(corpus.Sources)),
		zap.Float64("cross_verification", corpus.CrossVerificationScore))

	return &domain.RetrievalOutput{
		Corpus:        corpus,
		SourcesByType: byType,
		DurationMS:    a.now().Sub(started).Milliseconds(),
	}, nil
}

func dedupeByURL(sources []domain.EvidenceSource) []domain.EvidenceSource {
	seen := make(map[string]struct{}, len(sources))
	out := sources[:0]
	for _, s := range sources {
		key := strings.TrimSuffix(strings.ToLower(s.URL), "/")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// crossVerificationScore estimates how strongly the corpus corroborates
// itself. Government sources with high credibility dominate; otherwise the
// count of high-authority sources drives the score.
func crossVerificationScore(sources []domain.EvidenceSource) float64 {
	if len(sources) < 2 {
		return 0.5
	}

	gov := 0
	for _, s := range sources {
		if s.SourceType == domain.SourceTypeGovernment && s.CredibilityScore > 0.9 {
			gov++
		}
	}
	if gov >= 2 {
		return 0.98
	}
	if gov == 1 {
		return 0.95
	}

	high := 0
	for _, s := range sources {
		if s.CredibilityScore > 0.85 {
			high++
		}
	}
	if high >= 3 {
		return 0.9
	}
	if high == 2 {
		return 0.8
	}
	return 0.6
}
