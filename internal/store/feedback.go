package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type FeedbackStore struct {
	db *pgxpool.Pool
}

var _ domain.FeedbackStore = (*FeedbackStore)(nil)

func NewFeedbackStore(db *pgxpool.Pool) *FeedbackStore {
	return &FeedbackStore{db: db}
}

func (s *FeedbackStore) Create(ctx context.Context, f *domain.ResolutionFeedback) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO resolution_feedback (id, pipeline_id, market_id, verdict, ai_outcome, actual_outcome,
		                                  ai_confidence, dispute_outcome, error_pattern, root_cause,
		                                  verification_strength, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, f.PipelineID, f.MarketID, f.Verdict, f.AIOutcome, f.ActualOutcome,
		f.AIConfidence, f.DisputeOutcome, f.ErrorPattern, f.RootCause,
		f.VerificationStrength, f.Processed, f.CreatedAt,
	)
	return err
}

func (s *FeedbackStore) ListUnprocessed(ctx context.Context, limit int) ([]domain.ResolutionFeedback, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, pipeline_id, market_id, verdict, ai_outcome, actual_outcome,
		        ai_confidence, dispute_outcome, error_pattern, root_cause,
		        verification_strength, processed, created_at
		 FROM resolution_feedback
		 WHERE processed = false
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedback []domain.ResolutionFeedback
	for rows.Next() {
		var f domain.ResolutionFeedback
		if err := rows.Scan(&f.ID, &f.PipelineID, &f.MarketID, &f.Verdict, &f.AIOutcome, &f.ActualOutcome,
			&f.AIConfidence, &f.DisputeOutcome, &f.ErrorPattern, &f.RootCause,
			&f.VerificationStrength, &f.Processed, &f.CreatedAt); err != nil {
			return nil, err
		}
		feedback = append(feedback, f)
	}
	return feedback, rows.Err()
}

func (s *FeedbackStore) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE resolution_feedback SET processed = true WHERE id = ANY($1)`,
		ids,
	)
	return err
}

func (s *FeedbackStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM resolution_feedback WHERE created_at >= $1`,
		since,
	).Scan(&count)
	return count, err
}

func (s *FeedbackStore) CreateModelVersion(ctx context.Context, m *domain.ModelVersion) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO model_versions (id, version, status, canary_percent, trained_samples, accuracy, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Version, m.Status, m.CanaryPercent, m.TrainedSamples, m.Accuracy, m.CreatedAt,
	)
	return err
}

func (s *FeedbackStore) UpdateModelStatus(ctx context.Context, id uuid.UUID, status domain.ModelStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE model_versions SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *FeedbackStore) GetActiveModel(ctx context.Context) (*domain.ModelVersion, error) {
	m := &domain.ModelVersion{}
	err := s.db.QueryRow(ctx,
		`SELECT id, version, status, canary_percent, trained_samples, accuracy, created_at
		 FROM model_versions
		 WHERE status = 'active'
		 ORDER BY created_at DESC
		 LIMIT 1`,
	).Scan(&m.ID, &m.Version, &m.Status, &m.CanaryPercent, &m.TrainedSamples, &m.Accuracy, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}
