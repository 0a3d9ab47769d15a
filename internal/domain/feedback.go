package domain

import (
	"time"

	"github.com/google/uuid"
)

type FeedbackVerdict string

const (
	VerdictCorrect   FeedbackVerdict = "correct"
	VerdictIncorrect FeedbackVerdict = "incorrect"
	VerdictNeutral   FeedbackVerdict = "neutral"
)

func ValidFeedbackVerdict(v string) bool {
	switch FeedbackVerdict(v) {
	case VerdictCorrect, VerdictIncorrect, VerdictNeutral:
		return true
	}
	return false
}

type ErrorPattern string

const (
	PatternFalsePositive  ErrorPattern = "false_positive"
	PatternFalseNegative  ErrorPattern = "false_negative"
	PatternMiscalibration ErrorPattern = "confidence_miscalibration"
	PatternEvidenceMiss   ErrorPattern = "evidence_miss"
)

type ResolutionFeedback struct {
	ID             uuid.UUID       `json:"id"`
	PipelineID     uuid.UUID       `json:"pipeline_id"`
	MarketID       string          `json:"market_id"`
	Verdict        FeedbackVerdict `json:"verdict"`
	AIOutcome      Outcome         `json:"ai_outcome"`
	ActualOutcome  Outcome         `json:"actual_outcome"`
	AIConfidence   float64         `json:"ai_confidence"`
	DisputeOutcome *DisputeOutcome `json:"dispute_outcome,omitempty"`
	ErrorPattern   *ErrorPattern   `json:"error_pattern,omitempty"`
	RootCause      string          `json:"root_cause,omitempty"`
	// Consensus strength the verification engine reported for the pipeline,
	// used to distinguish evidence misses from miscalibration.
	VerificationStrength float64   `json:"verification_strength"`
	Processed            bool      `json:"processed"`
	CreatedAt            time.Time `json:"created_at"`
}

type FeedbackMetrics struct {
	TotalFeedback int                  `json:"total_feedback"`
	Accuracy      float64              `json:"accuracy"`
	DisputeRate   float64              `json:"dispute_rate"`
	OverturnRate  float64              `json:"overturn_rate"`
	ErrorCounts   map[ErrorPattern]int `json:"error_counts"`
	Unprocessed   int                  `json:"unprocessed"`
}

type ModelStatus string

const (
	ModelStaging    ModelStatus = "staging"
	ModelActive     ModelStatus = "active"
	ModelDeprecated ModelStatus = "deprecated"
)

type ModelVersion struct {
	ID             uuid.UUID   `json:"id"`
	Version        string      `json:"version"`
	Status         ModelStatus `json:"status"`
	CanaryPercent  float64     `json:"canary_percent"`
	TrainedSamples int         `json:"trained_samples"`
	Accuracy       float64     `json:"accuracy"`
	CreatedAt      time.Time   `json:"created_at"`
}

type ABTestArm struct {
	ModelID  uuid.UUID `json:"model_id"`
	Samples  int       `json:"samples"`
	Correct  int       `json:"correct"`
	Accuracy float64   `json:"accuracy"`
}

type ABTest struct {
	ID          uuid.UUID  `json:"id"`
	Control     ABTestArm  `json:"control"`
	Candidate   ABTestArm  `json:"candidate"`
	MinSamples  int        `json:"min_samples"`
	Margin      float64    `json:"margin"`
	StartedAt   time.Time  `json:"started_at"`
	ConcludedAt *time.Time `json:"concluded_at,omitempty"`
	WinnerID    *uuid.UUID `json:"winner_id,omitempty"`
}
