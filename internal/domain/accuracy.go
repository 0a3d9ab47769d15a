package domain

import "time"

type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
)

type MonthlyBucket struct {
	Month   string `json:"month"` // "2026-08"
	Total   int    `json:"total"`
	Correct int    `json:"correct"`
}

// SourceAccuracyRecord is the per-domain historical ledger. Created lazily on
// first observation, updated only by outcome recording, never deleted.
type SourceAccuracyRecord struct {
	Domain             string          `json:"domain"`
	TotalPredictions   int             `json:"total_predictions"`
	CorrectPredictions int             `json:"correct_predictions"`
	FalsePositives     int             `json:"false_positives"`
	FalseNegatives     int             `json:"false_negatives"`
	Accuracy           float64         `json:"accuracy"`
	// BiasScore in [-1, 1]; positive skews toward YES claims.
	BiasScore      float64         `json:"bias_score"`
	AvgDelayMins   float64         `json:"avg_delay_mins"`
	FastSource     bool            `json:"fast_source"`
	Monthly        []MonthlyBucket `json:"monthly"`
	RecentAccuracy float64         `json:"recent_accuracy"`
	Trend          TrendDirection  `json:"trend"`
	// SmoothedWeight is the applied multiplier, moved toward the target by
	// exponential smoothing instead of snapping.
	SmoothedWeight float64   `json:"smoothed_weight"`
	FirstSeen      time.Time `json:"first_seen"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WeightAdjustment carries the multiplicative factors behind a domain's
// historical weight multiplier.
type WeightAdjustment struct {
	Domain         string  `json:"domain"`
	AccuracyFactor float64 `json:"accuracy_factor"`
	BiasFactor     float64 `json:"bias_factor"`
	DelayFactor    float64 `json:"delay_factor"`
	RecencyFactor  float64 `json:"recency_factor"`
	Combined       float64 `json:"combined"`
	SampleCount    int     `json:"sample_count"`
}
