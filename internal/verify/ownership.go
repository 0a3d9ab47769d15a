package verify

import (
	"sort"
	"strings"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type OwnerType string

const (
	OwnerParentCompany OwnerType = "parent_company"
	OwnerMediaGroup    OwnerType = "media_group"
	OwnerGovernment    OwnerType = "government"
)

type OwnerNode struct {
	ID           string
	Name         string
	Type         OwnerType
	Country      string
	Subsidiaries []string
}

// defaultOwnershipGraph covers the government bodies, media conglomerates,
// and international wire services relevant to the target market.
var defaultOwnershipGraph = []OwnerNode{
	{
		ID: "gov_bangladesh", Name: "Government of Bangladesh", Type: OwnerGovernment, Country: "Bangladesh",
		Subsidiaries: []string{
			"eci.gov.bd", "bb.org.bd", "sec.gov.bd", "dse.com.bd", "cse.com.bd",
			"bmd.gov.bd", "tigercricket.com.bd", "bff.com.bd", "bangladesh.gov.bd",
			"mof.gov.bd", "mofa.gov.bd", "cabinet.gov.bd", "btrc.gov.bd",
		},
	},
	{
		ID: "transcom_group", Name: "Transcom Group", Type: OwnerParentCompany, Country: "Bangladesh",
		Subsidiaries: []string{"prothomalo.com", "abcradio.fm"},
	},
	{
		ID: "ewmg", Name: "East West Media Group", Type: OwnerMediaGroup, Country: "Bangladesh",
		Subsidiaries: []string{"banglatribune.com", "banglanews24.com", "news24bd.tv"},
	},
	{
		ID: "impress_group", Name: "Impress Group", Type: OwnerMediaGroup, Country: "Bangladesh",
		Subsidiaries: []string{"thedailystar.net", "channeli.tv"},
	},
	{
		ID: "beximco", Name: "BEXIMCO Group", Type: OwnerParentCompany, Country: "Bangladesh",
		Subsidiaries: []string{"independent24.com", "independenttv.com"},
	},
	{
		ID: "ipdc", Name: "IPDC Finance", Type: OwnerParentCompany, Country: "Bangladesh",
		Subsidiaries: []string{"somoynews.tv"},
	},
	{
		ID: "reuters", Name: "Thomson Reuters", Type: OwnerParentCompany, Country: "Canada/UK",
		Subsidiaries: []string{"reuters.com"},
	},
	{
		ID: "bloomberg", Name: "Bloomberg LP", Type: OwnerParentCompany, Country: "USA",
		Subsidiaries: []string{"bloomberg.com"},
	},
	{
		ID: "bbc", Name: "British Broadcasting Corporation", Type: OwnerParentCompany, Country: "UK",
		Subsidiaries: []string{"bbc.com", "bbc.co.uk"},
	},
	{
		ID: "al_jazeera", Name: "Al Jazeera Media Network", Type: OwnerParentCompany, Country: "Qatar",
		Subsidiaries: []string{"aljazeera.com"},
	},
	{
		ID: "ap", Name: "Associated Press", Type: OwnerParentCompany, Country: "USA",
		Subsidiaries: []string{"apnews.com"},
	},
	{
		ID: "afp", Name: "Agence France-Presse", Type: OwnerParentCompany, Country: "France",
		Subsidiaries: []string{"afp.com"},
	},
}

// Independence scores by relationship class.
const (
	scoreSameOwner    = 0.0
	scoreUnknownOwner = 0.8
	scoreSameGov      = 0.85
	scoreIndependent  = 1.0
)

type IndependencePair struct {
	DomainA     string
	DomainB     string
	Independent bool
	Score       float64
	CommonOwner string
}

// OwnershipAnalyzer detects common-source collapse: multiple outlets under one
// owner must not be double-counted as corroboration.
type OwnershipAnalyzer struct {
	nodes         map[string]OwnerNode
	domainToOwner map[string]string
}

func NewOwnershipAnalyzer() *OwnershipAnalyzer {
	return NewOwnershipAnalyzerWithGraph(defaultOwnershipGraph)
}

func NewOwnershipAnalyzerWithGraph(graph []OwnerNode) *OwnershipAnalyzer {
	a := &OwnershipAnalyzer{
		nodes:         make(map[string]OwnerNode, len(graph)),
		domainToOwner: make(map[string]string),
	}
	for _, n := range graph {
		a.nodes[n.ID] = n
		for _, d := range n.Subsidiaries {
			a.domainToOwner[d] = n.ID
		}
	}
	return a
}

// FindOwner resolves the controlling owner of a domain, checking parent
// domains for subdomain matches. Returns "" when unknown.
func (a *OwnershipAnalyzer) FindOwner(d string) string {
	d = normalizeDomain(d)
	if owner, ok := a.domainToOwner[d]; ok {
		return owner
	}
	parts := strings.Split(d, ".")
	for i := 1; i < len(parts)-1; i++ {
		if owner, ok := a.domainToOwner[strings.Join(parts[i:], ".")]; ok {
			return owner
		}
	}
	return ""
}

// CheckIndependence scores a pair of domains. Same owner is fully dependent;
// an unknown owner on either side is assumed independent at a conservative
// discount; two agencies of the same government count as distinct voices.
func (a *OwnershipAnalyzer) CheckIndependence(domainA, domainB string) IndependencePair {
	ownerA := a.FindOwner(domainA)
	ownerB := a.FindOwner(domainB)

	pair := IndependencePair{DomainA: domainA, DomainB: domainB, Independent: true}

	if ownerA == "" || ownerB == "" {
		pair.Score = scoreUnknownOwner
		return pair
	}
	if ownerA == ownerB {
		if a.nodes[ownerA].Type == OwnerGovernment && normalizeDomain(domainA) != normalizeDomain(domainB) {
			pair.Score = scoreSameGov
			return pair
		}
		pair.Independent = false
		pair.Score = scoreSameOwner
		pair.CommonOwner = a.nodes[ownerA].Name
		return pair
	}
	pair.Score = scoreIndependent
	return pair
}

// SetIndependence computes the fraction of independent pairs over all pairs
// and lists the ownership conflicts. A singleton or empty set scores 1.0.
func (a *OwnershipAnalyzer) SetIndependence(domains []string) (float64, []domain.OwnershipConflict) {
	var independent, total int
	byOwner := make(map[string][]string)

	for i := 0; i < len(domains); i++ {
		for j := i + 1; j < len(domains); j++ {
			total++
			pair := a.CheckIndependence(domains[i], domains[j])
			if pair.Independent {
				independent++
				continue
			}
			byOwner[pair.CommonOwner] = append(byOwner[pair.CommonOwner], domains[i], domains[j])
		}
	}
	if total == 0 {
		return 1.0, nil
	}

	conflicts := make([]domain.OwnershipConflict, 0, len(byOwner))
	for owner, ds := range byOwner {
		conflicts = append(conflicts, domain.OwnershipConflict{Owner: owner, Domains: dedupe(ds)})
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Owner < conflicts[j].Owner })

	return float64(independent) / float64(total), conflicts
}

// SelectIndependent keeps at most one domain per owner group, preserving input
// order so higher-ranked sources win within a group.
func (a *OwnershipAnalyzer) SelectIndependent(domains []string) (selected, excluded []string) {
	seen := make(map[string]bool)
	for _, d := range domains {
		owner := a.FindOwner(d)
		if owner == "" {
			owner = "independent:" + normalizeDomain(d)
		}
		if seen[owner] {
			excluded = append(excluded, d)
			continue
		}
		seen[owner] = true
		selected = append(selected, d)
	}
	return selected, excluded
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
