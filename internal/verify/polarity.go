package verify

import (
	"strings"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// PolarityClassifier extracts the outcome a source's content asserts. The
// engine treats it as a pluggable strategy so the lexical default can be
// swapped for a trained classifier without changing the consensus contract.
type PolarityClassifier interface {
	Classify(source domain.EvidenceSource) domain.Outcome
}

// LexicalPolarity votes from affirmation and negation cue words. Negation cues
// win ties since press coverage denying an event tends to quote the claim it
// denies.
type LexicalPolarity struct{}

var (
	yesCues = []string{"yes", "will", "confirmed", "wins", "won", "approved", "passed", "announced"}
	noCues  = []string{"no", "not", "denied", "rejected", "loses", "lost", "cancelled", "failed"}
)

func (LexicalPolarity) Classify(source domain.EvidenceSource) domain.Outcome {
	content := strings.ToLower(source.Content)

	var yes, no int
	for _, cue := range yesCues {
		yes += strings.Count(content, cue)
	}
	for _, cue := range noCues {
		no += strings.Count(content, cue)
	}

	switch {
	case no >= yes && no > 0:
		return domain.OutcomeNo
	case yes > 0:
		return domain.OutcomeYes
	}
	return domain.OutcomeUncertain
}
