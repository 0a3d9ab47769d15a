package domain

import (
	"time"

	"github.com/google/uuid"
)

type SourceTier string

const (
	TierPrimary   SourceTier = "primary"
	TierSecondary SourceTier = "secondary"
	TierTertiary  SourceTier = "tertiary"
)

func ValidSourceTier(t string) bool {
	switch SourceTier(t) {
	case TierPrimary, TierSecondary, TierTertiary:
		return true
	}
	return false
}

func AllSourceTiers() []SourceTier {
	return []SourceTier{TierPrimary, TierSecondary, TierTertiary}
}

type SourceType string

const (
	SourceTypeGovernment SourceType = "government"
	SourceTypeNewsWire   SourceType = "news_wire"
	SourceTypePress      SourceType = "press"
	SourceTypeSocial     SourceType = "social"
	SourceTypeAggregator SourceType = "aggregator"
	SourceTypeOther      SourceType = "other"
)

// TierRequirement is the per-tier policy used when checking whether a corpus
// carries enough authoritative coverage.
type TierRequirement struct {
	Tier        SourceTier
	MinRequired int
	BaseWeight  float64
}

var DefaultTierRequirements = map[SourceTier]TierRequirement{
	TierPrimary:   {Tier: TierPrimary, MinRequired: 1, BaseWeight: 0.95},
	TierSecondary: {Tier: TierSecondary, MinRequired: 2, BaseWeight: 0.85},
	TierTertiary:  {Tier: TierTertiary, MinRequired: 2, BaseWeight: 0.70},
}

// EvidenceSource is immutable once fetched; it belongs to the corpus that
// retrieved it.
type EvidenceSource struct {
	ID               uuid.UUID  `json:"id"`
	URL              string     `json:"url"`
	Domain           string     `json:"domain"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	PublishedAt      time.Time  `json:"published_at"`
	SourceType       SourceType `json:"source_type"`
	CredibilityScore float64    `json:"credibility_score"`
}

type EvidenceCorpus struct {
	Sources                []EvidenceSource `json:"sources"`
	CrossVerificationScore float64          `json:"cross_verification_score"`
	RetrievedAt            time.Time        `json:"retrieved_at"`
}

func (c *EvidenceCorpus) CountByTier(classify func(domain string) SourceTier) map[SourceTier]int {
	counts := make(map[SourceTier]int, 3)
	for _, s := range c.Sources {
		counts[classify(s.Domain)]++
	}
	return counts
}

func (c *EvidenceCorpus) Domains() []string {
	seen := make(map[string]struct{}, len(c.Sources))
	domains := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if _, ok := seen[s.Domain]; ok {
			continue
		}
		seen[s.Domain] = struct{}{}
		domains = append(domains, s.Domain)
	}
	return domains
}
