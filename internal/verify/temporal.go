package verify

import (
	"fmt"
	"sort"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	DefaultPrematureThreshold   = 30 * time.Minute
	DefaultDelayedThreshold     = 240 * time.Minute
	DefaultBreakingNewsLeniency = 60 * time.Minute
)

// TemporalValidator checks that source publication times align with the event
// they report on.
type TemporalValidator struct {
	PrematureThreshold   time.Duration
	DelayedThreshold     time.Duration
	BreakingNewsLeniency time.Duration

	now func() time.Time
}

func NewTemporalValidator() *TemporalValidator {
	return &TemporalValidator{
		PrematureThreshold:   DefaultPrematureThreshold,
		DelayedThreshold:     DefaultDelayedThreshold,
		BreakingNewsLeniency: DefaultBreakingNewsLeniency,
		now:                  time.Now,
	}
}

// Validate classifies every source against the event window and collects
// timing issues. Validity requires zero high-severity issues.
func (v *TemporalValidator) Validate(timeline domain.EventTimeline, sources []domain.EvidenceSource) *domain.TemporalResult {
	eventStart := timeline.ExpectedStart
	eventEnd := timeline.ExpectedEnd
	if eventEnd.IsZero() || eventEnd.Before(eventStart) {
		eventEnd = eventStart.Add(2 * time.Hour)
	}

	result := &domain.TemporalResult{}
	for _, s := range sources {
		diff := s.PublishedAt.Sub(eventStart)

		var status domain.TemporalStatus
		switch {
		case diff < -v.PrematureThreshold:
			status = domain.TemporalBefore
		case !s.PublishedAt.After(eventEnd):
			status = domain.TemporalDuring
		default:
			status = domain.TemporalAfter
		}

		issue := v.checkTiming(s, eventStart, timeline.BreakingNews)
		valid := issue == nil || issue.Severity != domain.SeverityHigh
		if issue != nil {
			result.Issues = append(result.Issues, *issue)
			if issue.Severity == domain.SeverityHigh {
				result.OutOfSequence++
			}
		}

		result.Timings = append(result.Timings, domain.SourceTiming{
			SourceID:    s.ID,
			PublishedAt: s.PublishedAt,
			Status:      status,
			Valid:       valid,
		})
	}

	if seq := v.detectInconsistentSequence(result.Timings); seq != nil {
		result.Issues = append(result.Issues, *seq)
	}

	result.ConsensusWindow = consensusWindow(result.Timings)
	result.Valid = true
	for _, issue := range result.Issues {
		if issue.Severity == domain.SeverityHigh {
			result.Valid = false
			break
		}
	}
	return result
}

// MeetsRequirements reports whether the temporal picture permits automatic
// resolution given a ceiling on the out-of-sequence fraction.
func (v *TemporalValidator) MeetsRequirements(result *domain.TemporalResult, maxOutOfSequence float64) (bool, string) {
	total := len(result.Timings)
	if total > 0 {
		frac := float64(result.OutOfSequence) / float64(total)
		if frac > maxOutOfSequence {
			return false, fmt.Sprintf("%.0f%% of sources have temporal issues (max %.0f%%)", frac*100, maxOutOfSequence*100)
		}
	}
	if !result.Valid {
		return false, "high-severity temporal issues detected"
	}
	return true, ""
}

func (v *TemporalValidator) checkTiming(s domain.EvidenceSource, eventStart time.Time, breakingNews bool) *domain.TemporalIssue {
	now := v.now()
	if s.PublishedAt.After(now) {
		return &domain.TemporalIssue{
			SourceID: s.ID,
			Type:     domain.IssueFutureDated,
			Severity: domain.SeverityHigh,
			Detail:   "source timestamp is in the future",
		}
	}

	diff := s.PublishedAt.Sub(eventStart)
	if diff < -v.PrematureThreshold {
		// Breaking news gets a wider leniency window before the report counts
		// as out of sequence.
		if breakingNews && diff > -v.BreakingNewsLeniency {
			return &domain.TemporalIssue{
				SourceID: s.ID,
				Type:     domain.IssuePrematureReport,
				Severity: domain.SeverityLow,
				Detail:   fmt.Sprintf("reported %s before event, within breaking news lead", (-diff).Round(time.Minute)),
			}
		}
		return &domain.TemporalIssue{
			SourceID: s.ID,
			Type:     domain.IssuePrematureReport,
			Severity: domain.SeverityHigh,
			Detail:   fmt.Sprintf("reported %s before event occurred", (-diff).Round(time.Minute)),
		}
	}
	if diff > v.DelayedThreshold {
		return &domain.TemporalIssue{
			SourceID: s.ID,
			Type:     domain.IssueDelayedReport,
			Severity: domain.SeverityLow,
			Detail:   fmt.Sprintf("reported %s after event start", diff.Round(time.Minute)),
		}
	}
	return nil
}

// detectInconsistentSequence flags a source claiming the event concluded while
// an even later source still reported it ongoing.
func (v *TemporalValidator) detectInconsistentSequence(timings []domain.SourceTiming) *domain.TemporalIssue {
	var earliestAfter, latestDuring *domain.SourceTiming
	for i := range timings {
		t := &timings[i]
		switch t.Status {
		case domain.TemporalAfter:
			if earliestAfter == nil || t.PublishedAt.Before(earliestAfter.PublishedAt) {
				earliestAfter = t
			}
		case domain.TemporalDuring:
			if latestDuring == nil || t.PublishedAt.After(latestDuring.PublishedAt) {
				latestDuring = t
			}
		}
	}
	if earliestAfter == nil || latestDuring == nil {
		return nil
	}
	if earliestAfter.PublishedAt.Before(latestDuring.PublishedAt) {
		return &domain.TemporalIssue{
			SourceID: earliestAfter.SourceID,
			Type:     domain.IssueInconsistentSequence,
			Severity: domain.SeverityMedium,
			Detail:   "source claims event ended before other sources confirmed it was ongoing",
		}
	}
	return nil
}

// consensusWindow spans the min and max publication times of sources not
// classified as premature.
func consensusWindow(timings []domain.SourceTiming) *domain.TimeWindow {
	valid := make([]time.Time, 0, len(timings))
	for _, t := range timings {
		if t.Status != domain.TemporalBefore {
			valid = append(valid, t.PublishedAt)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Before(valid[j]) })
	return &domain.TimeWindow{Start: valid[0], End: valid[len(valid)-1]}
}
