package verify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

const (
	DefaultMinSamplesForAdjustment = 5
	DefaultWeightSmoothingRate     = 0.1
	DefaultFastSourceDelayMins     = 60
	DefaultRecentWindow            = 30 * 24 * time.Hour
)

// Per-domain base weights for well-known sources; anything else starts at the
// tertiary default.
var sourceBaseWeights = map[string]float64{
	"eci.gov.bd":          0.98,
	"bb.org.bd":           0.97,
	"sec.gov.bd":          0.97,
	"dse.com.bd":          0.96,
	"cse.com.bd":          0.95,
	"bmd.gov.bd":          0.97,
	"tigercricket.com.bd": 0.96,
	"bff.com.bd":          0.94,

	"reuters.com":      0.95,
	"bloomberg.com":    0.95,
	"apnews.com":       0.94,
	"thedailystar.net": 0.92,
	"bdnews24.com":     0.91,
	"dhakatribune.com": 0.90,
	"prothomalo.com":   0.93,
	"jugantor.com":     0.90,
	"kalerkantho.com":  0.90,
	"ittefaq.com.bd":   0.89,
	"bbc.com":          0.93,

	"banglanews24.com":   0.85,
	"banglatribune.com":  0.84,
	"jagonews24.com":     0.84,
	"risingbd.com":       0.83,
	"somoynews.tv":       0.85,
	"channelionline.com": 0.84,
}

const defaultBaseWeight = 0.70

// ProblematicSource flags a domain whose history warrants attention.
type ProblematicSource struct {
	Domain string  `json:"domain"`
	Issue  string  `json:"issue"` // low_accuracy | high_bias | slow_reporting
	Value  float64 `json:"value"`
}

type AccuracyReport struct {
	TotalSources    int      `json:"total_sources"`
	AvgAccuracy     float64  `json:"avg_accuracy"`
	TopPerformer    string   `json:"top_performer"`
	MostBiased      string   `json:"most_biased"`
	Recommendations []string `json:"recommendations"`
}

// AccuracyTracker keeps the per-domain prediction ledger and derives weight
// multipliers from it. The in-memory map is authoritative at runtime; updates
// are written through to the store when one is attached.
type AccuracyTracker struct {
	MinSamples    int
	SmoothingRate float64
	FastDelayMins float64

	mu      sync.Mutex
	records map[string]*domain.SourceAccuracyRecord
	store   domain.AccuracyStore
	now     func() time.Time
	logger  *zap.Logger
}

func NewAccuracyTracker(store domain.AccuracyStore, logger *zap.Logger) *AccuracyTracker {
	return &AccuracyTracker{
		MinSamples:    DefaultMinSamplesForAdjustment,
		SmoothingRate: DefaultWeightSmoothingRate,
		FastDelayMins: DefaultFastSourceDelayMins,
		records:       make(map[string]*domain.SourceAccuracyRecord),
		store:         store,
		now:           time.Now,
		logger:        logger,
	}
}

// Load primes the in-memory ledger from the store.
func (t *AccuracyTracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	records, err := t.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load accuracy records: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range records {
		r := records[i]
		t.records[r.Domain] = &r
	}
	t.logger.Info("accuracy ledger loaded", zap.Int("domains", len(records)))
	return nil
}

func BaseWeight(d string) float64 {
	if w, ok := sourceBaseWeights[d]; ok {
		return w
	}
	return defaultBaseWeight
}

// RecordOutcome updates the domain's ledger with one prediction result.
func (t *AccuracyTracker) RecordOutcome(ctx context.Context, d string, predicted, actual domain.Outcome, delayMins float64, at time.Time) {
	t.mu.Lock()
	r := t.recordLocked(d)

	r.TotalPredictions++
	correct := predicted == actual
	if correct {
		r.CorrectPredictions++
	} else if predicted == domain.OutcomeYes && actual == domain.OutcomeNo {
		r.FalsePositives++
	} else if predicted == domain.OutcomeNo && actual == domain.OutcomeYes {
		r.FalseNegatives++
	}
	r.Accuracy = float64(r.CorrectPredictions) / float64(r.TotalPredictions)

	n := float64(r.TotalPredictions)
	r.AvgDelayMins = (r.AvgDelayMins*(n-1) + delayMins) / n
	r.FastSource = r.AvgDelayMins < t.FastDelayMins

	month := at.Format("2006-01")
	idx := -1
	for i := range r.Monthly {
		if r.Monthly[i].Month == month {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.Monthly = append(r.Monthly, domain.MonthlyBucket{Month: month})
		idx = len(r.Monthly) - 1
	}
	r.Monthly[idx].Total++
	if correct {
		r.Monthly[idx].Correct++
	}

	if errs := r.FalsePositives + r.FalseNegatives; errs > 0 {
		r.BiasScore = float64(r.FalsePositives-r.FalseNegatives) / float64(errs)
	} else {
		r.BiasScore = 0
	}

	t.updateRecentLocked(r)
	t.smoothWeightLocked(r)
	r.UpdatedAt = at

	snapshot := *r
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Upsert(ctx, &snapshot); err != nil {
			t.logger.Warn("accuracy record persist failed",
				zap.String("domain", d), zap.Error(err))
		}
	}
}

// Adjustment returns the multiplicative weight factors for a domain. Domains
// below the minimum sample count get neutral factors.
func (t *AccuracyTracker) Adjustment(d string) domain.WeightAdjustment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adjustmentLocked(d)
}

func (t *AccuracyTracker) adjustmentLocked(d string) domain.WeightAdjustment {
	neutral := domain.WeightAdjustment{
		Domain: d, AccuracyFactor: 1, BiasFactor: 1, DelayFactor: 1, RecencyFactor: 1, Combined: 1,
	}
	r, ok := t.records[d]
	if !ok || r.TotalPredictions < t.MinSamples {
		if ok {
			neutral.SampleCount = r.TotalPredictions
		}
		return neutral
	}

	adj := domain.WeightAdjustment{
		Domain:         d,
		AccuracyFactor: 0.5 + r.Accuracy,
		BiasFactor:     1.0 - math.Abs(r.BiasScore)*0.3,
		DelayFactor:    1.0,
		RecencyFactor:  1.0 + clamp(r.RecentAccuracy-r.Accuracy, -0.2, 0.2),
		SampleCount:    r.TotalPredictions,
	}
	if !r.FastSource {
		adj.DelayFactor = 0.85
	}
	adj.Combined = adj.AccuracyFactor * adj.BiasFactor * adj.DelayFactor * adj.RecencyFactor
	return adj
}

// AdjustedWeight returns the smoothed applied weight for a domain, or its base
// weight when history is too thin.
func (t *AccuracyTracker) AdjustedWeight(d string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[d]
	if !ok || r.TotalPredictions < t.MinSamples {
		return BaseWeight(d)
	}
	return r.SmoothedWeight
}

func (t *AccuracyTracker) Record(d string) (domain.SourceAccuracyRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[d]
	if !ok {
		return domain.SourceAccuracyRecord{}, false
	}
	return *r, true
}

// ProblematicSources lists domains with low accuracy, strong bias, or chronic
// delay. Only domains past the sample floor are reported.
func (t *AccuracyTracker) ProblematicSources() []ProblematicSource {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ProblematicSource
	for d, r := range t.records {
		if r.TotalPredictions < t.MinSamples {
			continue
		}
		if r.Accuracy < 0.7 {
			out = append(out, ProblematicSource{Domain: d, Issue: "low_accuracy", Value: r.Accuracy})
		}
		if math.Abs(r.BiasScore) > 0.3 {
			out = append(out, ProblematicSource{Domain: d, Issue: "high_bias", Value: r.BiasScore})
		}
		if !r.FastSource {
			out = append(out, ProblematicSource{Domain: d, Issue: "slow_reporting", Value: r.AvgDelayMins})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Issue < out[j].Issue
	})
	return out
}

// Report summarizes the ledger across domains with enough history.
func (t *AccuracyTracker) Report() AccuracyReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		rep       AccuracyReport
		sum       float64
		lowAcc    int
		biased    int
		slow      int
		improving int
		topAcc    = -1.0
		worstBias = -1.0
	)
	for d, r := range t.records {
		if r.TotalPredictions < t.MinSamples {
			continue
		}
		rep.TotalSources++
		sum += r.Accuracy
		if r.Accuracy > topAcc {
			topAcc = r.Accuracy
			rep.TopPerformer = d
		}
		if b := math.Abs(r.BiasScore); b > worstBias {
			worstBias = b
			rep.MostBiased = d
		}
		if r.Accuracy < 0.7 {
			lowAcc++
		}
		if math.Abs(r.BiasScore) > 0.3 {
			biased++
		}
		if !r.FastSource {
			slow++
		}
		if r.Trend == domain.TrendImproving {
			improving++
		}
	}
	if rep.TotalSources > 0 {
		rep.AvgAccuracy = sum / float64(rep.TotalSources)
	}
	if lowAcc > 0 {
		rep.Recommendations = append(rep.Recommendations, fmt.Sprintf("consider reducing weight for %d low-accuracy sources", lowAcc))
	}
	if biased > 0 {
		rep.Recommendations = append(rep.Recommendations, fmt.Sprintf("review %d sources showing systematic bias", biased))
	}
	if slow > 0 {
		rep.Recommendations = append(rep.Recommendations, fmt.Sprintf("%d sources consistently report with delay", slow))
	}
	if improving > 0 {
		rep.Recommendations = append(rep.Recommendations, fmt.Sprintf("%d sources showing accuracy improvement", improving))
	}
	return rep
}

func (t *AccuracyTracker) recordLocked(d string) *domain.SourceAccuracyRecord {
	r, ok := t.records[d]
	if !ok {
		base := BaseWeight(d)
		r = &domain.SourceAccuracyRecord{
			Domain:         d,
			FastSource:     true,
			Trend:          domain.TrendStable,
			SmoothedWeight: base,
			FirstSeen:      t.now(),
		}
		t.records[d] = r
	}
	return r
}

func (t *AccuracyTracker) updateRecentLocked(r *domain.SourceAccuracyRecord) {
	cutoff := t.now().Add(-DefaultRecentWindow)
	var total, correct int
	for _, b := range r.Monthly {
		monthStart, err := time.Parse("2006-01", b.Month)
		if err != nil {
			continue
		}
		// A bucket counts as recent when any of its days fall in the window.
		if monthStart.AddDate(0, 1, 0).After(cutoff) {
			total += b.Total
			correct += b.Correct
		}
	}
	if total > 0 {
		r.RecentAccuracy = float64(correct) / float64(total)
	} else {
		r.RecentAccuracy = r.Accuracy
	}

	switch diff := r.RecentAccuracy - r.Accuracy; {
	case math.Abs(diff) < 0.05:
		r.Trend = domain.TrendStable
	case diff > 0:
		r.Trend = domain.TrendImproving
	default:
		r.Trend = domain.TrendDeclining
	}
}

// smoothWeightLocked moves the applied weight toward the target by the
// smoothing rate instead of snapping, then clamps to [0.5, 1.2] of base.
func (t *AccuracyTracker) smoothWeightLocked(r *domain.SourceAccuracyRecord) {
	base := BaseWeight(r.Domain)
	target := base * t.adjustmentLocked(r.Domain).Combined
	r.SmoothedWeight += (target - r.SmoothedWeight) * t.SmoothingRate
	r.SmoothedWeight = clamp(r.SmoothedWeight, base*0.5, base*1.2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
