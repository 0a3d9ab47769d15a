package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type ReviewStore struct {
	db *pgxpool.Pool
}

var _ domain.ReviewStore = (*ReviewStore)(nil)

func NewReviewStore(db *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{db: db}
}

func (s *ReviewStore) Create(ctx context.Context, item *domain.HumanReviewItem) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO review_items (id, pipeline_id, market_id, question, ai_outcome, ai_confidence,
		                           priority, status, deadline, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.PipelineID, item.MarketID, item.Question, item.AIOutcome, item.AIConfidence,
		item.Priority, item.Status, item.Deadline, item.CreatedAt,
	)
	return err
}

func (s *ReviewStore) Update(ctx context.Context, item *domain.HumanReviewItem) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE review_items
		 SET priority = $2, status = $3, deadline = $4,
		     assigned_to = $5, assigned_at = $6,
		     decision = $7, final_outcome = $8, reviewer_notes = $9, completed_at = $10
		 WHERE id = $1`,
		item.ID, item.Priority, item.Status, item.Deadline,
		item.AssignedTo, item.AssignedAt,
		item.Decision, item.FinalOutcome, item.ReviewerNotes, item.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ReviewStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.HumanReviewItem, error) {
	item := &domain.HumanReviewItem{}
	err := s.db.QueryRow(ctx,
		`SELECT id, pipeline_id, market_id, question, ai_outcome, ai_confidence,
		        priority, status, deadline, assigned_to, assigned_at,
		        decision, final_outcome, reviewer_notes, created_at, completed_at
		 FROM review_items WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.PipelineID, &item.MarketID, &item.Question, &item.AIOutcome, &item.AIConfidence,
		&item.Priority, &item.Status, &item.Deadline, &item.AssignedTo, &item.AssignedAt,
		&item.Decision, &item.FinalOutcome, &item.ReviewerNotes, &item.CreatedAt, &item.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *ReviewStore) ListByStatus(ctx context.Context, status domain.ReviewStatus, limit int) ([]domain.HumanReviewItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, pipeline_id, market_id, question, ai_outcome, ai_confidence,
		        priority, status, deadline, assigned_to, assigned_at,
		        decision, final_outcome, reviewer_notes, created_at, completed_at
		 FROM review_items
		 WHERE status = $1
		 ORDER BY deadline ASC
		 LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.HumanReviewItem
	for rows.Next() {
		var item domain.HumanReviewItem
		if err := rows.Scan(&item.ID, &item.PipelineID, &item.MarketID, &item.Question, &item.AIOutcome, &item.AIConfidence,
			&item.Priority, &item.Status, &item.Deadline, &item.AssignedTo, &item.AssignedAt,
			&item.Decision, &item.FinalOutcome, &item.ReviewerNotes, &item.CreatedAt, &item.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
