package verify

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// EngineConfig tunes the thresholds the verification engine enforces.
type EngineConfig struct {
	MinIndependenceScore   float64
	MaxOutOfSequence       float64
	MinConsensusConfidence float64
	DynamicWeighting       bool
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinIndependenceScore:   0.8,
		MaxOutOfSequence:       0.2,
		MinConsensusConfidence: 0.7,
		DynamicWeighting:       true,
	}
}

// Engine composes tier classification, ownership independence, historical
// weighting, and temporal validation into one consensus computation per
// resolution attempt.
type Engine struct {
	classifier *Classifier
	ownership  *OwnershipAnalyzer
	accuracy   *AccuracyTracker
	temporal   *TemporalValidator
	polarity   PolarityClassifier
	cfg        EngineConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(classifier *Classifier, ownership *OwnershipAnalyzer, accuracy *AccuracyTracker, temporal *TemporalValidator, cfg EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		ownership:  ownership,
		accuracy:   accuracy,
		temporal:   temporal,
		polarity:   LexicalPolarity{},
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetPolarityClassifier swaps the polarity extraction strategy.
func (e *Engine) SetPolarityClassifier(p PolarityClassifier) {
	e.polarity = p
}

// Verify runs the full cross-verification over a corpus. The timeline is
// optional; without one, temporal validation is skipped.
func (e *Engine) Verify(ctx context.Context, sources []domain.EvidenceSource, timeline *domain.EventTimeline) *domain.VerificationResult {
	counts := make(map[domain.SourceTier]int, 3)
	for _, s := range sources {
		counts[e.classifier.Tier(s.Domain)]++
	}
	tierChecks := e.classifier.CheckRequirements(counts)

	domains := make([]string, 0, len(sources))
	for _, s := range sources {
		domains = append(domains, s.Domain)
	}
	independence, conflicts := e.ownership.SetIndependence(domains)
	selected, _ := e.ownership.SelectIndependent(domains)

	selectedSet := make(map[string]bool, len(selected))
	for _, d := range selected {
		selectedSet[d] = true
	}
	independent := make([]domain.EvidenceSource, 0, len(sources))
	for _, s := range sources {
		if selectedSet[s.Domain] {
			independent = append(independent, s)
			delete(selectedSet, s.Domain)
		}
	}

	weights := e.weigh(independent)

	var temporal *domain.TemporalResult
	if timeline != nil {
		temporal = e.temporal.Validate(*timeline, independent)
	}

	outcome, confidence := e.consensus(weights)

	result := &domain.VerificationResult{
		TierChecks: tierChecks,
		Independence: domain.IndependenceReport{
			Score:          independence,
			Conflicts:      conflicts,
			SelectedSubset: selected,
		},
		SourceWeights:       weights,
		Temporal:            temporal,
		ConsensusOutcome:    outcome,
		ConsensusConfidence: confidence,
		VerifiedAt:          e.now(),
	}

	result.Blockers = e.identifyBlockers(tierChecks, independence, temporal, confidence, len(independent))
	result.Recommendations = e.recommend(tierChecks, independence, len(conflicts), temporal, confidence)
	result.CanAutoResolve = len(result.Blockers) == 0
	result.Status = determineStatus(result.CanAutoResolve, confidence, independence)

	e.logger.Debug("cross verification complete",
		zap.String("status", string(result.Status)),
		zap.String("outcome", string(outcome)),
		zap.Float64("confidence", confidence),
		zap.Float64("independence", independence),
		zap.Int("blockers", len(result.Blockers)))

	return result
}

// RecordOutcome feeds ground truth back into the accuracy ledger for every
// source that contributed to a resolution.
func (e *Engine) RecordOutcome(ctx context.Context, sources []domain.EvidenceSource, actual domain.Outcome, eventTime time.Time) {
	for _, s := range sources {
		predicted := e.polarity.Classify(s)
		delayMins := s.PublishedAt.Sub(eventTime).Minutes()
		e.accuracy.RecordOutcome(ctx, s.Domain, predicted, actual, delayMins, e.now())
	}
}

// weigh computes adjusted weight = tier base weight x historical factor,
// clamped to 0.99 so no single source can fully determine consensus.
func (e *Engine) weigh(sources []domain.EvidenceSource) []domain.SourceWeight {
	weights := make([]domain.SourceWeight, 0, len(sources))
	for _, s := range sources {
		tier := e.classifier.Tier(s.Domain)
		base := e.classifier.BaseWeight(tier)

		factor := 1.0
		if e.cfg.DynamicWeighting {
			factor = e.accuracy.Adjustment(s.Domain).Combined
		}

		weights = append(weights, domain.SourceWeight{
			SourceID:         s.ID,
			Domain:           s.Domain,
			Tier:             tier,
			BaseWeight:       base,
			HistoricalFactor: factor,
			AdjustedWeight:   math.Min(0.99, base*factor),
			Polarity:         e.polarity.Classify(s),
		})
	}
	return weights
}

// consensus aggregates polarity votes into the winning outcome and its share
// of total weight.
func (e *Engine) consensus(weights []domain.SourceWeight) (domain.Outcome, float64) {
	if len(weights) == 0 {
		return domain.OutcomeUncertain, 0
	}

	votes := make(map[domain.Outcome]float64, 3)
	var total float64
	for _, w := range weights {
		votes[w.Polarity] += w.AdjustedWeight
		total += w.AdjustedWeight
	}

	winner := domain.OutcomeUncertain
	best := -1.0
	for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeUncertain} {
		if v, ok := votes[o]; ok && v > best {
			best = v
			winner = o
		}
	}
	if total == 0 {
		return winner, 0.5
	}
	return winner, best / total
}

func (e *Engine) identifyBlockers(checks []domain.TierCheck, independence float64, temporal *domain.TemporalResult, confidence float64, sourceCount int) []string {
	var blockers []string

	if !CanAutoResolve(checks) {
		blockers = append(blockers, "insufficient sources: need 1 primary or 2 secondary sources")
	}
	if independence < e.cfg.MinIndependenceScore {
		blockers = append(blockers, fmt.Sprintf("source independence too low: %.1f%% (need %.0f%%)",
			independence*100, e.cfg.MinIndependenceScore*100))
	}
	if temporal != nil && sourceCount > 0 {
		frac := float64(temporal.OutOfSequence) / float64(sourceCount)
		if frac > e.cfg.MaxOutOfSequence {
			blockers = append(blockers, fmt.Sprintf("too many out-of-sequence sources: %.0f%%", frac*100))
		}
	}
	if confidence < e.cfg.MinConsensusConfidence {
		blockers = append(blockers, fmt.Sprintf("consensus confidence too low: %.1f%% (need %.0f%%)",
			confidence*100, e.cfg.MinConsensusConfidence*100))
	}
	return blockers
}

func (e *Engine) recommend(checks []domain.TierCheck, independence float64, conflictCount int, temporal *domain.TemporalResult, confidence float64) []string {
	var recs []string

	for _, ch := range checks {
		if ch.Tier == domain.TierPrimary && ch.Count < ch.Required {
			recs = append(recs, fmt.Sprintf("add %d more primary source(s) for stronger verification", ch.Required-ch.Count))
		}
	}
	if independence < 0.9 && conflictCount > 0 {
		recs = append(recs, fmt.Sprintf("%d source ownership conflicts detected, consider diversifying sources", conflictCount))
	}
	if temporal != nil && temporal.OutOfSequence > 0 {
		recs = append(recs, fmt.Sprintf("%d sources have timing issues, manual review recommended", temporal.OutOfSequence))
	}
	if confidence < 0.8 {
		recs = append(recs, "low consensus confidence, consider human review")
	}
	return recs
}

func determineStatus(canAutoResolve bool, confidence, independence float64) domain.VerificationStatus {
	switch {
	case canAutoResolve && confidence >= 0.9 && independence >= 0.9:
		return domain.VerificationVerified
	case canAutoResolve:
		return domain.VerificationPartial
	case confidence < 0.5:
		return domain.VerificationRejected
	}
	return domain.VerificationInsufficient
}

// HasPrimaryGovernment reports whether any source classifies as primary with
// a government source type, used by the pipeline's escalation override.
func (e *Engine) HasPrimaryGovernment(sources []domain.EvidenceSource) bool {
	for _, s := range sources {
		if e.classifier.Tier(s.Domain) == domain.TierPrimary && s.SourceType == domain.SourceTypeGovernment {
			return true
		}
	}
	return false
}
