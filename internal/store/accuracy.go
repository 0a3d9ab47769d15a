package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type AccuracyStore struct {
	db *pgxpool.Pool
}

var _ domain.AccuracyStore = (*AccuracyStore)(nil)

func NewAccuracyStore(db *pgxpool.Pool) *AccuracyStore {
	return &AccuracyStore{db: db}
}

func (s *AccuracyStore) Upsert(ctx context.Context, r *domain.SourceAccuracyRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO source_accuracy (domain, total_predictions, correct_predictions, false_positives, false_negatives,
		                              accuracy, bias_score, avg_delay_mins, fast_source, monthly,
		                              recent_accuracy, trend, smoothed_weight, first_seen, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (domain) DO UPDATE SET
		     total_predictions = EXCLUDED.total_predictions,
		     correct_predictions = EXCLUDED.correct_predictions,
		     false_positives = EXCLUDED.false_positives,
		     false_negatives = EXCLUDED.false_negatives,
		     accuracy = EXCLUDED.accuracy,
		     bias_score = EXCLUDED.bias_score,
		     avg_delay_mins = EXCLUDED.avg_delay_mins,
		     fast_source = EXCLUDED.fast_source,
		     monthly = EXCLUDED.monthly,
		     recent_accuracy = EXCLUDED.recent_accuracy,
		     trend = EXCLUDED.trend,
		     smoothed_weight = EXCLUDED.smoothed_weight,
		     updated_at = EXCLUDED.updated_at`,
		r.Domain, r.TotalPredictions, r.CorrectPredictions, r.FalsePositives, r.FalseNegatives,
		r.Accuracy, r.BiasScore, r.AvgDelayMins, r.FastSource, r.Monthly,
		r.RecentAccuracy, r.Trend, r.SmoothedWeight, r.FirstSeen, r.UpdatedAt,
	)
	return err
}

func (s *AccuracyStore) GetByDomain(ctx context.Context, d string) (*domain.SourceAccuracyRecord, error) {
	r := &domain.SourceAccuracyRecord{}
	err := s.db.QueryRow(ctx,
		`SELECT domain, total_predictions, correct_predictions, false_positives, false_negatives,
		        accuracy, bias_score, avg_delay_mins, fast_source, monthly,
		        recent_accuracy, trend, smoothed_weight, first_seen, updated_at
		 FROM source_accuracy WHERE domain = $1`,
		d,
	).Scan(&r.Domain, &r.TotalPredictions, &r.CorrectPredictions, &r.FalsePositives, &r.FalseNegatives,
		&r.Accuracy, &r.BiasScore, &r.AvgDelayMins, &r.FastSource, &r.Monthly,
		&r.RecentAccuracy, &r.Trend, &r.SmoothedWeight, &r.FirstSeen, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *AccuracyStore) ListAll(ctx context.Context) ([]domain.SourceAccuracyRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT domain, total_predictions, correct_predictions, false_positives, false_negatives,
		        accuracy, bias_score, avg_delay_mins, fast_source, monthly,
		        recent_accuracy, trend, smoothed_weight, first_seen, updated_at
		 FROM source_accuracy
		 ORDER BY domain ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SourceAccuracyRecord
	for rows.Next() {
		var r domain.SourceAccuracyRecord
		if err := rows.Scan(&r.Domain, &r.TotalPredictions, &r.CorrectPredictions, &r.FalsePositives, &r.FalseNegatives,
			&r.Accuracy, &r.BiasScore, &r.AvgDelayMins, &r.FastSource, &r.Monthly,
			&r.RecentAccuracy, &r.Trend, &r.SmoothedWeight, &r.FirstSeen, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
