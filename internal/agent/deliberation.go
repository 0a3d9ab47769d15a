package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	memberConfidenceFloor = 0.3
	lowConfidenceCutoff   = 0.6
)

// EnsembleMember is one independent model in the deliberation ensemble.
type EnsembleMember struct {
	Model  string
	Weight float64
	Client domain.AssessmentClient
}

// DefaultEnsemble builds the standard three-member panel backed by a single
// client. Members share the client but receive independent prompts, so a
// provider that routes by model name still produces uncorrelated assessments.
func DefaultEnsemble(client domain.AssessmentClient) []EnsembleMember {
	return []EnsembleMember{
		{Model: "panel-a", Weight: 0.35, Client: client},
		{Model: "panel-b", Weight: 0.35, Client: client},
		{Model: "panel-c", Weight: 0.30, Client: client},
	}
}

// DeliberationAgent fans a question out to an ensemble of independent model
// assessments and combines them into a consensus outcome. A member whose call
// fails contributes a vote derived from the synthesis assessment instead, so
// one unreachable model never empties the panel.
type DeliberationAgent struct {
	members []EnsembleMember
	logger  *zap.Logger
	now     func() time.Time
}

func NewDeliberationAgent(members []EnsembleMember, logger *zap.Logger) *DeliberationAgent {
	return &DeliberationAgent{
		members: members,
		logger:  logger,
		now:     time.Now,
	}
}

type memberVote struct {
	assessment domain.Assessment
	weight     float64
	confidence float64
}

func (a *DeliberationAgent) Execute(ctx context.Context, question string, synthesis *domain.SynthesisOutput, opts domain.ResolveOptions) (*domain.DeliberationOutput, error) {
	started := a.now()
	if len(a.members) == 0 {
		return nil, fmt.Errorf("deliberation ensemble is empty")
	}

	votes := a.gatherVotes(ctx, question, synthesis)

	var outcome domain.Outcome
	var confidence float64
	switch opts.EnsembleMethod {
	case domain.EnsembleBayesian:
		outcome, confidence = bayesianEnsemble(votes)
	case domain.EnsembleMaxConfidence:
		outcome, confidence = maxConfidenceEnsemble(votes)
	default:
		outcome, confidence = weightedVoteEnsemble(votes)
	}

	out := &domain.DeliberationOutput{
		Outcome:    outcome,
		Confidence: confidence,
		Method:     opts.EnsembleMethod,
	}
	for _, v := range votes {
		out.MemberVotes = append(out.MemberVotes, v.assessment)
	}
	if confidence < opts.MinConsensusThreshold {
		out.Disagreement = analyzeDisagreement(votes)
	}

	out.DurationMS = a.now().Sub(started).Milliseconds()
	return out, nil
}

// gatherVotes runs every member assessment concurrently. Results land in a
// preallocated slice indexed by member so no locking is needed.
func (a *DeliberationAgent) gatherVotes(ctx context.Context, question string, synthesis *domain.SynthesisOutput) []memberVote {
	votes := make([]memberVote, len(a.members))

	var wg sync.WaitGroup
	for i, member := range a.members {
		wg.Add(1)
		go func(i int, m EnsembleMember) {
			defer wg.Done()

			assessment, err := m.Client.Assess(ctx, buildMemberPrompt(question, synthesis, m.Model))
			if err != nil {
				a.logger.Warn("ensemble member failed, voting from synthesis",
					zap.String("model", m.Model), zap.Error(err))
				fallback := synthesis.Assessment
				fallback.Model = m.Model
				votes[i] = memberVote{
					assessment: fallback,
					weight:     m.Weight,
					confidence: memberConfidence(fallback),
				}
				return
			}

			assessment.Model = m.Model
			votes[i] = memberVote{
				assessment: *assessment,
				weight:     m.Weight,
				confidence: memberConfidence(*assessment),
			}
		}(i, member)
	}
	wg.Wait()

	return votes
}

// memberConfidence derives a scalar confidence from the interval width. A
// tight interval means the model committed to its estimate.
func memberConfidence(a domain.Assessment) float64 {
	width := a.ConfidenceInterval[1] - a.ConfidenceInterval[0]
	conf := 1 - width
	if conf < memberConfidenceFloor {
		conf = memberConfidenceFloor
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func buildMemberPrompt(question string, synthesis *domain.SynthesisOutput, model string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MARKET QUESTION: %q\n\nEVIDENCE SUMMARY:\n", question)
	fmt.Fprintf(&b, "- Synthesis assessment: %s with probability %.2f\n", synthesis.Assessment.Outcome, synthesis.Assessment.Probability)
	fmt.Fprintf(&b, "- Contradictions detected: %d\n", len(synthesis.Contradictions))
	fmt.Fprintf(&b, "- Average source credibility: %.0f%%\n", synthesis.CredibilityAvg*100)
	if synthesis.Assessment.Reasoning != "" {
		fmt.Fprintf(&b, "- Synthesis reasoning: %s\n", synthesis.Assessment.Reasoning)
	}
	fmt.Fprintf(&b, "\nYou are panel member %s. Form your own independent conclusion; do not simply agree with the summary.", model)
	return b.String()
}

// weightedVoteEnsemble buckets confidence-weighted votes per outcome and
// converts the winner's margin over the runner-up into a probability in
// [0.5, 1].
func weightedVoteEnsemble(votes []memberVote) (domain.Outcome, float64) {
	scores := map[domain.Outcome]float64{
		domain.OutcomeYes:       0,
		domain.OutcomeNo:        0,
		domain.OutcomeUncertain: 0,
	}
	var total float64
	for _, v := range votes {
		w := v.weight * v.confidence
		scores[v.assessment.Outcome] += w
		total += w
	}
	if total == 0 {
		return domain.OutcomeUncertain, 0.5
	}

	type bucket struct {
		outcome domain.Outcome
		score   float64
	}
	ranked := []bucket{
		{domain.OutcomeYes, scores[domain.OutcomeYes] / total},
		{domain.OutcomeNo, scores[domain.OutcomeNo] / total},
		{domain.OutcomeUncertain, scores[domain.OutcomeUncertain] / total},
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	margin := ranked[0].score - ranked[1].score
	probability := 0.5 + margin*0.5
	if probability > 1 {
		probability = 1
	}
	return ranked[0].outcome, probability
}

// bayesianEnsemble combines member probabilities in log-odds space. Member
// probability is read as the probability of a YES outcome.
func bayesianEnsemble(votes []memberVote) (domain.Outcome, float64) {
	var logOdds float64
	for _, v := range votes {
		p := v.assessment.Probability
		if p > 0 && p < 1 {
			logOdds += v.weight * math.Log(p/(1-p))
		}
	}
	probYes := 1 / (1 + math.Exp(-logOdds))

	outcome := domain.OutcomeUncertain
	if probYes > 0.7 {
		outcome = domain.OutcomeYes
	} else if probYes < 0.3 {
		outcome = domain.OutcomeNo
	}
	return outcome, probYes
}

func maxConfidenceEnsemble(votes []memberVote) (domain.Outcome, float64) {
	best := votes[0]
	for _, v := range votes[1:] {
		if v.confidence > best.confidence {
			best = v
		}
	}
	return best.assessment.Outcome, best.assessment.Probability
}

// analyzeDisagreement describes why the panel failed to reach consensus.
func analyzeDisagreement(votes []memberVote) string {
	outcomes := make(map[domain.Outcome]bool, 3)
	for _, v := range votes {
		outcomes[v.assessment.Outcome] = true
	}
	if len(outcomes) == 1 {
		return "Models agree on outcome but with varying confidence levels"
	}

	var yesStrength, noStrength float64
	uncertain := 0
	for _, v := range votes {
		switch v.assessment.Outcome {
		case domain.OutcomeYes:
			yesStrength += v.weight * v.confidence
		case domain.OutcomeNo:
			noStrength += v.weight * v.confidence
		case domain.OutcomeUncertain:
			uncertain++
		}
	}

	var analysis []string
	if yesStrength > 0 && noStrength > 0 {
		analysis = append(analysis, fmt.Sprintf("Polarized disagreement: YES (%.0f%%) vs NO (%.0f%%)", yesStrength*100, noStrength*100))
		if math.Abs(yesStrength-noStrength) < 0.2 {
			analysis = append(analysis, "Split is nearly even - strong evidence conflict")
		}
	}
	if uncertain > 0 {
		analysis = append(analysis, fmt.Sprintf("%d model(s) abstained due to insufficient confidence", uncertain))
	}

	lowConfidence := 0
	for _, v := range votes {
		if v.confidence < lowConfidenceCutoff {
			lowConfidence++
		}
	}
	if lowConfidence > 0 {
		analysis = append(analysis, fmt.Sprintf("%d model(s) have low confidence (<60%%)", lowConfidence))
	}

	return strings.Join(analysis, "; ")
}
