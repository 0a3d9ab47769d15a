package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/agent"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/resilience"
	"github.com/arbiterhq/arbiter/internal/verify"
)

// Service names used for circuit breaking and rate limiting.
const (
	ServiceRetrieval = "evidence_retrieval"
	ServiceSynthesis = "model_synthesis"
)

const DefaultRetrievalCacheTTL = 5 * time.Minute

// StageError reports which pipeline stage failed and why.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ResolveResult is what a resolution attempt hands back to the caller: the
// pipeline (completed or failed) and the action that was dispatched.
type ResolveResult struct {
	Pipeline    *domain.ResolutionPipeline `json:"pipeline"`
	ActionTaken domain.ResolutionAction    `json:"action_taken"`
	ReviewItem  *domain.HumanReviewItem    `json:"review_item,omitempty"`
}

// Orchestrator sequences the resolution stages for one market question and
// dispatches the confidence-gated action. Pipelines for different markets run
// fully concurrently; all mutable state lives on the pipeline value itself.
type Orchestrator struct {
	Bands             []domain.ConfidenceBand
	RetrievalCacheTTL time.Duration

	retrieval    *agent.RetrievalAgent
	synthesis    *agent.SynthesisAgent
	deliberation *agent.DeliberationAgent
	explanation  *agent.ExplanationAgent
	engine       *verify.Engine

	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	cache   *resilience.Cache

	pipelines domain.PipelineStore
	reviews   *ReviewService

	logger *zap.Logger
	now    func() time.Time
}

func NewOrchestrator(
	retrieval *agent.RetrievalAgent,
	synthesis *agent.SynthesisAgent,
	deliberation *agent.DeliberationAgent,
	explanation *agent.ExplanationAgent,
	engine *verify.Engine,
	breaker *resilience.CircuitBreaker,
	limiter *resilience.RateLimiter,
	cache *resilience.Cache,
	pipelines domain.PipelineStore,
	reviews *ReviewService,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		Bands:             domain.DefaultConfidenceBands(),
		RetrievalCacheTTL: DefaultRetrievalCacheTTL,
		retrieval:         retrieval,
		synthesis:         synthesis,
		deliberation:      deliberation,
		explanation:       explanation,
		engine:            engine,
		breaker:           breaker,
		limiter:           limiter,
		cache:             cache,
		pipelines:         pipelines,
		reviews:           reviews,
		logger:            logger,
		now:               time.Now,
	}
}

// Resolve runs the full stage pipeline for one market question. The returned
// result always carries the pipeline; the error is non-nil only when a
// required stage produced no usable output.
func (o *Orchestrator) Resolve(ctx context.Context, marketID, question string, opts domain.ResolveOptions) (*ResolveResult, error) {
	opts.ApplyDefaults()

	p := &domain.ResolutionPipeline{
		ID:        uuid.New(),
		MarketID:  marketID,
		Question:  question,
		Status:    domain.PipelineRunning,
		StartedAt: o.now(),
	}
	if err := o.pipelines.Create(ctx, p); err != nil {
		o.logger.Warn("pipeline create failed", zap.Error(err))
	}

	log := o.logger.With(zap.String("pipeline_id", p.ID.String()), zap.String("market_id", marketID))

	// Retrieval: cached, circuit-broken, rate-limited. A retrieval failure
	// with no cached corpus is fatal to the pipeline.
	retrievalOut, err := o.runRetrieval(ctx, question, opts.MaxSources)
	if err != nil {
		return o.fail(ctx, p, "retrieval", err)
	}
	p.Retrieval = retrievalOut

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, p, "retrieval", err)
	}

	// Cross-verification runs locally over the corpus and cannot fail.
	p.Verification = o.engine.Verify(ctx, retrievalOut.Corpus.Sources, opts.Timeline)

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, p, "verification", err)
	}

	// Synthesis: circuit-broken and rate-limited, degrading to the rule-based
	// assessment when the model path is unavailable.
	p.Synthesis = o.runSynthesis(ctx, question, retrievalOut.Corpus, log)

	deliberationOut, err := o.deliberation.Execute(ctx, question, p.Synthesis, opts)
	if err != nil {
		return o.fail(ctx, p, "deliberation", err)
	}
	p.Deliberation = deliberationOut

	o.combine(p)

	// Explanation is best-effort; it can never fail the pipeline.
	p.Explanation = o.explanation.Execute(ctx, p)

	p.Status = domain.PipelineCompleted
	completed := o.now()
	p.CompletedAt = &completed
	if err := o.pipelines.Update(ctx, p); err != nil {
		log.Warn("pipeline update failed", zap.Error(err))
	}

	result := &ResolveResult{Pipeline: p, ActionTaken: p.RecommendedAction}
	if p.RecommendedAction == domain.ActionQueued && o.reviews != nil {
		item, err := o.reviews.Enqueue(ctx, p, priorityForConfidence(p.FinalConfidence, len(p.Verification.Blockers) > 0))
		if err != nil {
			log.Warn("review enqueue failed", zap.Error(err))
		} else {
			result.ReviewItem = item
		}
	}

	log.Info("pipeline completed",
		zap.String("outcome", string(p.FinalOutcome)),
		zap.Float64("confidence", p.FinalConfidence),
		zap.String("action", string(p.RecommendedAction)))

	return result, nil
}

// RecordGroundTruth feeds a confirmed outcome back into the source accuracy
// ledger for every source in the pipeline's corpus. Called when a dispute
// ruling or graded feedback establishes what actually happened.
func (o *Orchestrator) RecordGroundTruth(ctx context.Context, pipelineID uuid.UUID, actual domain.Outcome) error {
	p, err := o.pipelines.GetByID(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}
	if p.Retrieval == nil || p.Retrieval.Corpus == nil || len(p.Retrieval.Corpus.Sources) == 0 {
		return fmt.Errorf("pipeline %s has no retrieved corpus", pipelineID)
	}

	// The pipeline starts after the market event; StartedAt bounds the
	// per-source reporting delay.
	o.engine.RecordOutcome(ctx, p.Retrieval.Corpus.Sources, actual, p.StartedAt)

	o.logger.Info("ground truth recorded",
		zap.String("pipeline_id", pipelineID.String()),
		zap.String("actual", string(actual)),
		zap.Int("sources", len(p.Retrieval.Corpus.Sources)))
	return nil
}

func (o *Orchestrator) runRetrieval(ctx context.Context, question string, maxSources int) (*domain.RetrievalOutput, error) {
	key := resilience.Key("evidence", question, fmt.Sprintf("%d", maxSources))

	value, hit, err := o.cache.GetOrCompute(ctx, key, o.RetrievalCacheTTL, func(ctx context.Context) (any, error) {
		return resilience.ExecuteBreaker(ctx, o.breaker, ServiceRetrieval, func(ctx context.Context) (*domain.RetrievalOutput, error) {
			return resilience.ExecuteLimited(ctx, o.limiter, ServiceRetrieval, func(ctx context.Context) (*domain.RetrievalOutput, error) {
				return o.retrieval.Execute(ctx, question, maxSources)
			}, nil)
		}, nil)
	}, "evidence")
	if err != nil {
		return nil, err
	}

	out, ok := value.(*domain.RetrievalOutput)
	if !ok {
		return nil, fmt.Errorf("unexpected cache value type %T", value)
	}
	if hit {
		// Copy so the cached entry's FromCache flag stays false.
		cached := *out
		cached.FromCache = true
		out = &cached
	}
	return out, nil
}

func (o *Orchestrator) runSynthesis(ctx context.Context, question string, corpus *domain.EvidenceCorpus, log *zap.Logger) *domain.SynthesisOutput {
	fallback := func() (*domain.SynthesisOutput, error) {
		contradictions := o.synthesis.DetectContradictions(corpus.Sources)
		return &domain.SynthesisOutput{
			Assessment:     o.synthesis.FallbackAssessment(corpus, contradictions),
			Contradictions: contradictions,
			UsedFallback:   true,
		}, nil
	}

	out, err := resilience.ExecuteBreaker(ctx, o.breaker, ServiceSynthesis, func(ctx context.Context) (*domain.SynthesisOutput, error) {
		return resilience.ExecuteLimited(ctx, o.limiter, ServiceSynthesis, func(ctx context.Context) (*domain.SynthesisOutput, error) {
			return o.synthesis.Execute(ctx, question, corpus)
		}, fallback)
	}, fallback)
	if err != nil {
		// Both paths returned errors; degrade to the rule-based output anyway.
		log.Warn("synthesis degraded to rule-based output", zap.Error(err))
		out, _ = fallback()
	}
	return out
}

// combine derives the final outcome, confidence, and action. Confidence is the
// minimum of the verification and deliberation confidences so the pipeline is
// never more certain than its weakest signal.
func (o *Orchestrator) combine(p *domain.ResolutionPipeline) {
	ver := p.Verification
	del := p.Deliberation

	outcome := ver.ConsensusOutcome
	if len(ver.SourceWeights) == 0 {
		outcome = del.Outcome
	}
	confidence := ver.ConsensusConfidence
	if del.Confidence < confidence {
		confidence = del.Confidence
	}

	p.FinalOutcome = outcome
	p.FinalConfidence = confidence

	band := domain.BandFor(o.Bands, confidence)
	p.ConfidenceLevel = band.Level
	p.RecommendedAction = band.Action

	// Blockers without a primary government-grade source force escalation no
	// matter how confident the raw numbers look.
	if len(ver.Blockers) > 0 && !o.engine.HasPrimaryGovernment(p.Retrieval.Corpus.Sources) {
		p.ConfidenceLevel = domain.ConfidenceEscalation
		p.RecommendedAction = domain.ActionEscalated
	}
}

func (o *Orchestrator) fail(ctx context.Context, p *domain.ResolutionPipeline, stage string, cause error) (*ResolveResult, error) {
	p.Status = domain.PipelineFailed
	p.FailedStage = stage
	p.FailReason = cause.Error()
	completed := o.now()
	p.CompletedAt = &completed
	if err := o.pipelines.Update(ctx, p); err != nil {
		o.logger.Warn("failed pipeline update", zap.Error(err))
	}

	o.logger.Error("pipeline failed",
		zap.String("pipeline_id", p.ID.String()),
		zap.String("stage", stage),
		zap.Error(cause))

	return &ResolveResult{Pipeline: p}, &StageError{Stage: stage, Err: cause}
}

// priorityForConfidence maps review-band confidence to queue priority: the
// closer to the escalation boundary, the more urgent the review.
func priorityForConfidence(confidence float64, hasBlockers bool) domain.ReviewPriority {
	if hasBlockers {
		return domain.PriorityCritical
	}
	switch {
	case confidence >= 0.92:
		return domain.PriorityLow
	case confidence >= 0.88:
		return domain.PriorityMedium
	default:
		return domain.PriorityHigh
	}
}
