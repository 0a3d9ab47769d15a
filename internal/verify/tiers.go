package verify

import (
	"strings"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// defaultTierTable maps known source domains to their authority tier. The
// deployment targets Bangladeshi markets, so the table is weighted toward
// Bangladeshi official and press domains plus the international wires.
var defaultTierTable = map[string]domain.SourceTier{
	// Government and official bodies
	"eci.gov.bd":          domain.TierPrimary,
	"bb.org.bd":           domain.TierPrimary,
	"sec.gov.bd":          domain.TierPrimary,
	"dse.com.bd":          domain.TierPrimary,
	"cse.com.bd":          domain.TierPrimary,
	"bmd.gov.bd":          domain.TierPrimary,
	"tigercricket.com.bd": domain.TierPrimary,
	"bff.com.bd":          domain.TierPrimary,
	"bangladesh.gov.bd":   domain.TierPrimary,
	"mof.gov.bd":          domain.TierPrimary,
	"mofa.gov.bd":         domain.TierPrimary,
	"cabinet.gov.bd":      domain.TierPrimary,
	"btrc.gov.bd":         domain.TierPrimary,
	"dmp.gov.bd":          domain.TierPrimary,
	"rab.gov.bd":          domain.TierPrimary,

	// Established press and wires
	"reuters.com":                domain.TierSecondary,
	"bloomberg.com":              domain.TierSecondary,
	"apnews.com":                 domain.TierSecondary,
	"afp.com":                    domain.TierSecondary,
	"thedailystar.net":           domain.TierSecondary,
	"bdnews24.com":               domain.TierSecondary,
	"dhakatribune.com":           domain.TierSecondary,
	"prothomalo.com":             domain.TierSecondary,
	"jugantor.com":               domain.TierSecondary,
	"kalerkantho.com":            domain.TierSecondary,
	"ittefaq.com.bd":             domain.TierSecondary,
	"newagebd.net":               domain.TierSecondary,
	"observerbd.com":             domain.TierSecondary,
	"thefinancialexpress.com.bd": domain.TierSecondary,
	"theindependentbd.com":       domain.TierSecondary,
	"daily-sun.com":              domain.TierSecondary,
	"bbc.com":                    domain.TierSecondary,
	"bbc.co.uk":                  domain.TierSecondary,
	"aljazeera.com":              domain.TierSecondary,

	// Online outlets and social platforms
	"banglanews24.com":   domain.TierTertiary,
	"banglatribune.com":  domain.TierTertiary,
	"jagonews24.com":     domain.TierTertiary,
	"risingbd.com":       domain.TierTertiary,
	"somoynews.tv":       domain.TierTertiary,
	"channelionline.com": domain.TierTertiary,
	"ekattor.tv":         domain.TierTertiary,
	"independent24.com":  domain.TierTertiary,
	"rtvonline.com":      domain.TierTertiary,
	"twitter.com":        domain.TierTertiary,
	"x.com":              domain.TierTertiary,
	"facebook.com":       domain.TierTertiary,
	"reddit.com":         domain.TierTertiary,
	"youtube.com":        domain.TierTertiary,
}

// Classifier assigns authority tiers to source domains from a lookup table
// plus TLD heuristics.
type Classifier struct {
	table        map[string]domain.SourceTier
	requirements map[domain.SourceTier]domain.TierRequirement
	// GovSuffix is the official government TLD that classifies as primary.
	GovSuffix string
}

func NewClassifier() *Classifier {
	return &Classifier{
		table:        defaultTierTable,
		requirements: domain.DefaultTierRequirements,
		GovSuffix:    ".gov.bd",
	}
}

// NewClassifierWithTable overrides the domain table, for deployments covering
// a different market region.
func NewClassifierWithTable(table map[string]domain.SourceTier, govSuffix string) *Classifier {
	return &Classifier{
		table:        table,
		requirements: domain.DefaultTierRequirements,
		GovSuffix:    govSuffix,
	}
}

// Tier classifies a domain. Unknown domains fall back to TLD heuristics;
// anything unrecognized is tertiary.
func (c *Classifier) Tier(d string) domain.SourceTier {
	d = normalizeDomain(d)

	if tier, ok := c.table[d]; ok {
		return tier
	}
	for known, tier := range c.table {
		if strings.HasSuffix(d, "."+known) {
			return tier
		}
	}

	switch {
	case strings.HasSuffix(d, c.GovSuffix):
		return domain.TierPrimary
	case strings.HasSuffix(d, ".bd") && !strings.Contains(d, "blog") && !strings.Contains(d, "forum"):
		return domain.TierSecondary
	}
	return domain.TierTertiary
}

// BaseWeight returns the consensus base weight for a tier.
func (c *Classifier) BaseWeight(tier domain.SourceTier) float64 {
	if req, ok := c.requirements[tier]; ok {
		return req.BaseWeight
	}
	return c.requirements[domain.TierTertiary].BaseWeight
}

// CheckRequirements evaluates per-tier minimum counts.
func (c *Classifier) CheckRequirements(counts map[domain.SourceTier]int) []domain.TierCheck {
	checks := make([]domain.TierCheck, 0, len(c.requirements))
	for _, tier := range domain.AllSourceTiers() {
		req := c.requirements[tier]
		n := counts[tier]
		checks = append(checks, domain.TierCheck{
			Tier:      tier,
			Count:     n,
			Required:  req.MinRequired,
			Satisfied: n >= req.MinRequired,
		})
	}
	return checks
}

// CanAutoResolve requires at least one primary source or two secondary
// sources.
func CanAutoResolve(checks []domain.TierCheck) bool {
	var primary, secondary int
	for _, ch := range checks {
		switch ch.Tier {
		case domain.TierPrimary:
			primary = ch.Count
		case domain.TierSecondary:
			secondary = ch.Count
		}
	}
	return primary >= 1 || secondary >= 2
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, "www.")
}
