package domain

import (
	"time"

	"github.com/google/uuid"
)

type DisputeLevel string

const (
	DisputeInitial DisputeLevel = "initial"
	DisputeAppeal  DisputeLevel = "appeal"
	DisputeFinal   DisputeLevel = "final"
)

func ValidDisputeLevel(l string) bool {
	switch DisputeLevel(l) {
	case DisputeInitial, DisputeAppeal, DisputeFinal:
		return true
	}
	return false
}

// Next returns the escalation target and whether one exists.
func (l DisputeLevel) Next() (DisputeLevel, bool) {
	switch l {
	case DisputeInitial:
		return DisputeAppeal, true
	case DisputeAppeal:
		return DisputeFinal, true
	}
	return "", false
}

type DisputeStatus string

const (
	DisputeOpen         DisputeStatus = "open"
	DisputeUnderReview  DisputeStatus = "under_review"
	DisputeResolvedStat DisputeStatus = "resolved"
)

type DisputeOutcome string

const (
	DisputeUpheld     DisputeOutcome = "upheld"
	DisputeOverturned DisputeOutcome = "overturned"
)

type ResolutionMethod string

const (
	MethodAutomatedReverify ResolutionMethod = "automated_reverification"
	MethodExpertPanel       ResolutionMethod = "expert_panel"
	MethodDecentralized     ResolutionMethod = "decentralized_arbitration"
)

// DisputeLevelConfig fixes the economics and process for one level.
type DisputeLevelConfig struct {
	Level       DisputeLevel
	BondPercent float64
	SLA         time.Duration
	Method      ResolutionMethod
}

var DisputeLevelConfigs = map[DisputeLevel]DisputeLevelConfig{
	DisputeInitial: {Level: DisputeInitial, BondPercent: 0.02, SLA: 24 * time.Hour, Method: MethodAutomatedReverify},
	DisputeAppeal:  {Level: DisputeAppeal, BondPercent: 0.05, SLA: 48 * time.Hour, Method: MethodExpertPanel},
	DisputeFinal:   {Level: DisputeFinal, BondPercent: 0.10, SLA: 168 * time.Hour, Method: MethodDecentralized},
}

// BondPolicy clamps computed bonds to an absolute range and fixes the
// challenger's share of the forfeited counterpart bond on an overturn.
type BondPolicy struct {
	MinBond         float64
	MaxBond         float64
	ChallengerShare float64
	TreasuryShare   float64
}

func DefaultBondPolicy() BondPolicy {
	return BondPolicy{
		MinBond:         1_000,
		MaxBond:         10_000_000,
		ChallengerShare: 0.25,
		TreasuryShare:   0.75,
	}
}

type Dispute struct {
	ID         uuid.UUID     `json:"id"`
	MarketID   string        `json:"market_id"`
	PipelineID *uuid.UUID    `json:"pipeline_id,omitempty"`
	Level      DisputeLevel  `json:"level"`
	Status     DisputeStatus `json:"status"`

	ChallengerID    string  `json:"challenger_id"`
	ChallengeReason string  `json:"challenge_reason"`
	DisputedOutcome Outcome `json:"disputed_outcome"`
	ProposedOutcome Outcome `json:"proposed_outcome"`

	MarketValue  float64 `json:"market_value"`
	BondAmount   float64 `json:"bond_amount"`
	BondCurrency string  `json:"bond_currency"`

	Outcome          *DisputeOutcome `json:"outcome,omitempty"`
	ResolvedOutcome  *Outcome        `json:"resolved_outcome,omitempty"`
	ChallengerReward float64         `json:"challenger_reward"`
	TreasuryFee      float64         `json:"treasury_fee"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`

	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	ChildID  *uuid.UUID `json:"child_id,omitempty"`

	Deadline   time.Time  `json:"deadline"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type DisputeRequest struct {
	MarketID        string     `json:"market_id"`
	PipelineID      *uuid.UUID `json:"pipeline_id,omitempty"`
	ChallengerID    string     `json:"challenger_id"`
	ChallengeReason string     `json:"challenge_reason"`
	DisputedOutcome Outcome    `json:"disputed_outcome"`
	ProposedOutcome Outcome    `json:"proposed_outcome"`
	MarketValue     float64    `json:"market_value"`
	BondCurrency    string     `json:"bond_currency"`
}

type DisputeStats struct {
	Total        int                  `json:"total"`
	Open         int                  `json:"open"`
	Resolved     int                  `json:"resolved"`
	Overturned   int                  `json:"overturned"`
	Upheld       int                  `json:"upheld"`
	ByLevel      map[DisputeLevel]int `json:"by_level"`
	OverturnRate float64              `json:"overturn_rate"`
}

// ExpertProfile is a panel candidate for appeal-level disputes.
type ExpertProfile struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
	Rating  float64  `json:"rating"`
}
