package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReviewPriority string

const (
	PriorityLow      ReviewPriority = "low"
	PriorityMedium   ReviewPriority = "medium"
	PriorityHigh     ReviewPriority = "high"
	PriorityCritical ReviewPriority = "critical"
)

func ValidReviewPriority(p string) bool {
	switch ReviewPriority(p) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// PrioritySLA maps each priority to its review deadline.
var PrioritySLA = map[ReviewPriority]time.Duration{
	PriorityLow:      48 * time.Hour,
	PriorityMedium:   24 * time.Hour,
	PriorityHigh:     8 * time.Hour,
	PriorityCritical: 2 * time.Hour,
}

// Bump returns the next-higher priority, saturating at critical.
func (p ReviewPriority) Bump() ReviewPriority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

func (p ReviewPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewAssigned  ReviewStatus = "assigned"
	ReviewCompleted ReviewStatus = "completed"
	ReviewEscalated ReviewStatus = "escalated"
)

type ReviewDecision string

const (
	DecisionAccept   ReviewDecision = "accept"
	DecisionModify   ReviewDecision = "modify"
	DecisionEscalate ReviewDecision = "escalate"
)

func ValidReviewDecision(d string) bool {
	switch ReviewDecision(d) {
	case DecisionAccept, DecisionModify, DecisionEscalate:
		return true
	}
	return false
}

type HumanReviewItem struct {
	ID           uuid.UUID      `json:"id"`
	PipelineID   uuid.UUID      `json:"pipeline_id"`
	MarketID     string         `json:"market_id"`
	Question     string         `json:"question"`
	AIOutcome    Outcome        `json:"ai_outcome"`
	AIConfidence float64        `json:"ai_confidence"`
	Priority     ReviewPriority `json:"priority"`
	Status       ReviewStatus   `json:"status"`
	Deadline     time.Time      `json:"deadline"`

	AssignedTo *string    `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	Decision      *ReviewDecision `json:"decision,omitempty"`
	FinalOutcome  *Outcome        `json:"final_outcome,omitempty"`
	ReviewerNotes string          `json:"reviewer_notes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ReviewQueueStats struct {
	Pending     int                    `json:"pending"`
	Assigned    int                    `json:"assigned"`
	Completed   int                    `json:"completed"`
	Escalated   int                    `json:"escalated"`
	Overdue     int                    `json:"overdue"`
	ByPriority  map[ReviewPriority]int `json:"by_priority"`
	AvgWaitMins float64                `json:"avg_wait_mins"`
}
