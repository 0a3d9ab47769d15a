package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type PipelineStore struct {
	db *pgxpool.Pool
}

var _ domain.PipelineStore = (*PipelineStore)(nil)

func NewPipelineStore(db *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{db: db}
}

func (s *PipelineStore) Create(ctx context.Context, p *domain.ResolutionPipeline) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO resolution_pipelines (id, market_id, question, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.MarketID, p.Question, p.Status, p.StartedAt,
	)
	return err
}

func (s *PipelineStore) Update(ctx context.Context, p *domain.ResolutionPipeline) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE resolution_pipelines
		 SET status = $2, failed_stage = $3, fail_reason = $4,
		     retrieval = $5, verification = $6, synthesis = $7, deliberation = $8, explanation = $9,
		     final_outcome = $10, final_confidence = $11, confidence_level = $12, recommended_action = $13,
		     completed_at = $14
		 WHERE id = $1`,
		p.ID, p.Status, p.FailedStage, p.FailReason,
		p.Retrieval, p.Verification, p.Synthesis, p.Deliberation, p.Explanation,
		p.FinalOutcome, p.FinalConfidence, p.ConfidenceLevel, p.RecommendedAction,
		p.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PipelineStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ResolutionPipeline, error) {
	p := &domain.ResolutionPipeline{}
	err := s.db.QueryRow(ctx,
		`SELECT id, market_id, question, status, failed_stage, fail_reason,
		        retrieval, verification, synthesis, deliberation, explanation,
		        final_outcome, final_confidence, confidence_level, recommended_action,
		        started_at, completed_at
		 FROM resolution_pipelines WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.MarketID, &p.Question, &p.Status, &p.FailedStage, &p.FailReason,
		&p.Retrieval, &p.Verification, &p.Synthesis, &p.Deliberation, &p.Explanation,
		&p.FinalOutcome, &p.FinalConfidence, &p.ConfidenceLevel, &p.RecommendedAction,
		&p.StartedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PipelineStore) ListByMarket(ctx context.Context, marketID string, limit int) ([]domain.ResolutionPipeline, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, market_id, question, status, failed_stage, fail_reason,
		        final_outcome, final_confidence, confidence_level, recommended_action,
		        started_at, completed_at
		 FROM resolution_pipelines
		 WHERE market_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		marketID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []domain.ResolutionPipeline
	for rows.Next() {
		var p domain.ResolutionPipeline
		if err := rows.Scan(&p.ID, &p.MarketID, &p.Question, &p.Status, &p.FailedStage, &p.FailReason,
			&p.FinalOutcome, &p.FinalConfidence, &p.ConfidenceLevel, &p.RecommendedAction,
			&p.StartedAt, &p.CompletedAt); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}
