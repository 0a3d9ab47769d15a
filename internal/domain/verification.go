package domain

import (
	"time"

	"github.com/google/uuid"
)

type VerificationStatus string

const (
	VerificationVerified     VerificationStatus = "verified"
	VerificationPartial      VerificationStatus = "partial"
	VerificationInsufficient VerificationStatus = "insufficient"
	VerificationRejected     VerificationStatus = "rejected"
)

type TierCheck struct {
	Tier      SourceTier `json:"tier"`
	Count     int        `json:"count"`
	Required  int        `json:"required"`
	Satisfied bool       `json:"satisfied"`
}

type OwnershipConflict struct {
	Owner   string   `json:"owner"`
	Domains []string `json:"domains"`
}

type IndependenceReport struct {
	Score          float64             `json:"score"`
	Conflicts      []OwnershipConflict `json:"conflicts,omitempty"`
	SelectedSubset []string            `json:"selected_subset"`
}

type SourceWeight struct {
	SourceID         uuid.UUID  `json:"source_id"`
	Domain           string     `json:"domain"`
	Tier             SourceTier `json:"tier"`
	BaseWeight       float64    `json:"base_weight"`
	HistoricalFactor float64    `json:"historical_factor"`
	AdjustedWeight   float64    `json:"adjusted_weight"`
	Polarity         Outcome    `json:"polarity"`
}

// VerificationResult is a per-pipeline value object; never mutated after the
// engine produces it.
type VerificationResult struct {
	Status              VerificationStatus `json:"status"`
	CanAutoResolve      bool               `json:"can_auto_resolve"`
	TierChecks          []TierCheck        `json:"tier_checks"`
	Independence        IndependenceReport `json:"independence"`
	SourceWeights       []SourceWeight     `json:"source_weights"`
	Temporal            *TemporalResult    `json:"temporal,omitempty"`
	ConsensusOutcome    Outcome            `json:"consensus_outcome"`
	ConsensusConfidence float64            `json:"consensus_confidence"`
	Blockers            []string           `json:"blockers,omitempty"`
	Recommendations     []string           `json:"recommendations,omitempty"`
	VerifiedAt          time.Time          `json:"verified_at"`
}

type TemporalStatus string

const (
	TemporalBefore TemporalStatus = "before"
	TemporalDuring TemporalStatus = "during"
	TemporalAfter  TemporalStatus = "after"
)

type TemporalIssueType string

const (
	IssueFutureDated          TemporalIssueType = "future_dated"
	IssuePrematureReport      TemporalIssueType = "premature_report"
	IssueDelayedReport        TemporalIssueType = "delayed_report"
	IssueInconsistentSequence TemporalIssueType = "inconsistent_sequence"
)

type IssueSeverity string

const (
	SeverityHigh   IssueSeverity = "high"
	SeverityMedium IssueSeverity = "medium"
	SeverityLow    IssueSeverity = "low"
)

type TemporalIssue struct {
	SourceID uuid.UUID         `json:"source_id"`
	Type     TemporalIssueType `json:"type"`
	Severity IssueSeverity     `json:"severity"`
	Detail   string            `json:"detail"`
}

type SourceTiming struct {
	SourceID    uuid.UUID      `json:"source_id"`
	PublishedAt time.Time      `json:"published_at"`
	Status      TemporalStatus `json:"status"`
	Valid       bool           `json:"valid"`
}

type TemporalResult struct {
	Valid           bool            `json:"valid"`
	Timings         []SourceTiming  `json:"timings"`
	Issues          []TemporalIssue `json:"issues,omitempty"`
	OutOfSequence   int             `json:"out_of_sequence"`
	ConsensusWindow *TimeWindow     `json:"consensus_window,omitempty"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EventTimeline is supplied by the market system when the question concerns a
// scheduled or breaking event.
type EventTimeline struct {
	ExpectedStart time.Time `json:"expected_start"`
	ExpectedEnd   time.Time `json:"expected_end"`
	BreakingNews  bool      `json:"breaking_news"`
}
