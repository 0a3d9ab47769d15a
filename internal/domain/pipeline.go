package domain

import (
	"time"

	"github.com/google/uuid"
)

type PipelineStatus string

const (
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
)

type Outcome string

const (
	OutcomeYes       Outcome = "YES"
	OutcomeNo        Outcome = "NO"
	OutcomeUncertain Outcome = "UNCERTAIN"
)

func ValidOutcome(o string) bool {
	switch Outcome(o) {
	case OutcomeYes, OutcomeNo, OutcomeUncertain:
		return true
	}
	return false
}

// Opposite returns the inverse polarity. UNCERTAIN has no inverse.
func (o Outcome) Opposite() Outcome {
	switch o {
	case OutcomeYes:
		return OutcomeNo
	case OutcomeNo:
		return OutcomeYes
	default:
		return OutcomeUncertain
	}
}

type ConfidenceLevel string

const (
	ConfidenceAutomated   ConfidenceLevel = "automated"
	ConfidenceHumanReview ConfidenceLevel = "human_review"
	ConfidenceEscalation  ConfidenceLevel = "escalation"
)

type ResolutionAction string

const (
	ActionAutoResolved ResolutionAction = "auto_resolved"
	ActionQueued       ResolutionAction = "queued_for_review"
	ActionEscalated    ResolutionAction = "escalated"
)

// ConfidenceBand maps a half-open confidence range [Min, Max) to a level and
// action. Bands are evaluated in order; the last band's Max is inclusive so
// 1.0 falls in it.
type ConfidenceBand struct {
	Min    float64
	Max    float64
	Level  ConfidenceLevel
	Action ResolutionAction
}

func DefaultConfidenceBands() []ConfidenceBand {
	return []ConfidenceBand{
		{Min: 0.95, Max: 1.0, Level: ConfidenceAutomated, Action: ActionAutoResolved},
		{Min: 0.85, Max: 0.95, Level: ConfidenceHumanReview, Action: ActionQueued},
		{Min: 0.0, Max: 0.85, Level: ConfidenceEscalation, Action: ActionEscalated},
	}
}

// BandFor returns the band containing confidence. Bands sorted descending by
// Min are scanned first-match; out-of-range values fall into the last band.
func BandFor(bands []ConfidenceBand, confidence float64) ConfidenceBand {
	for _, b := range bands {
		if confidence >= b.Min && (confidence < b.Max || b.Max >= 1.0) {
			return b
		}
	}
	return bands[len(bands)-1]
}

type EnsembleMethod string

const (
	EnsembleWeightedVote  EnsembleMethod = "weighted_vote"
	EnsembleBayesian      EnsembleMethod = "bayesian"
	EnsembleMaxConfidence EnsembleMethod = "max_confidence"
)

func ValidEnsembleMethod(m string) bool {
	switch EnsembleMethod(m) {
	case EnsembleWeightedVote, EnsembleBayesian, EnsembleMaxConfidence:
		return true
	}
	return false
}

// Assessment is a structured probabilistic judgement produced by one model.
type Assessment struct {
	Outcome            Outcome    `json:"outcome"`
	Probability        float64    `json:"probability"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	Reasoning          string     `json:"reasoning,omitempty"`
	Model              string     `json:"model,omitempty"`
}

type RetrievalOutput struct {
	Corpus          *EvidenceCorpus    `json:"corpus"`
	SourcesByType   map[SourceType]int `json:"sources_by_type"`
	DurationMS      int64              `json:"duration_ms"`
	FromCache       bool               `json:"from_cache"`
	RetrievalErrors []string           `json:"retrieval_errors,omitempty"`
}

type SynthesisOutput struct {
	Assessment     Assessment      `json:"assessment"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	CredibilityAvg float64         `json:"credibility_avg"`
	UsedFallback   bool            `json:"used_fallback"`
	DurationMS     int64           `json:"duration_ms"`
}

type Contradiction struct {
	SourceA  uuid.UUID `json:"source_a"`
	SourceB  uuid.UUID `json:"source_b"`
	Severity string    `json:"severity"`
	Detail   string    `json:"detail"`
}

type DeliberationOutput struct {
	Outcome      Outcome        `json:"outcome"`
	Confidence   float64        `json:"confidence"`
	Method       EnsembleMethod `json:"method"`
	MemberVotes  []Assessment   `json:"member_votes"`
	Disagreement string         `json:"disagreement,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
}

type ExplanationOutput struct {
	Summary          string   `json:"summary"`
	Citations        []string `json:"citations"`
	UncertaintyNotes []string `json:"uncertainty_notes,omitempty"`
	DurationMS       int64    `json:"duration_ms"`
}

// ResolutionPipeline is created when a resolve request starts, mutated only by
// the orchestrator, and append-only across stages. Immutable once completed or
// failed.
type ResolutionPipeline struct {
	ID          uuid.UUID      `json:"id"`
	MarketID    string         `json:"market_id"`
	Question    string         `json:"question"`
	Status      PipelineStatus `json:"status"`
	FailedStage string         `json:"failed_stage,omitempty"`
	FailReason  string         `json:"fail_reason,omitempty"`

	Retrieval    *RetrievalOutput    `json:"retrieval,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Synthesis    *SynthesisOutput    `json:"synthesis,omitempty"`
	Deliberation *DeliberationOutput `json:"deliberation,omitempty"`
	Explanation  *ExplanationOutput  `json:"explanation,omitempty"`

	FinalOutcome      Outcome          `json:"final_outcome,omitempty"`
	FinalConfidence   float64          `json:"final_confidence"`
	ConfidenceLevel   ConfidenceLevel  `json:"confidence_level,omitempty"`
	RecommendedAction ResolutionAction `json:"recommended_action,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ResolveOptions is the closed set of per-request knobs the pipeline accepts.
type ResolveOptions struct {
	EnsembleMethod        EnsembleMethod
	MinConsensusThreshold float64
	Timeline              *EventTimeline
	MaxSources            int
}

func (o *ResolveOptions) ApplyDefaults() {
	if o.EnsembleMethod == "" {
		o.EnsembleMethod = EnsembleWeightedVote
	}
	if o.MinConsensusThreshold <= 0 {
		o.MinConsensusThreshold = 0.7
	}
	if o.MaxSources <= 0 {
		o.MaxSources = 20
	}
}
