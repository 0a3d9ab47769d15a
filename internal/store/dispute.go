package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type DisputeStore struct {
	db *pgxpool.Pool
}

var _ domain.DisputeStore = (*DisputeStore)(nil)

func NewDisputeStore(db *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{db: db}
}

func (s *DisputeStore) Create(ctx context.Context, d *domain.Dispute) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO disputes (id, market_id, pipeline_id, level, status,
		                       challenger_id, challenge_reason, disputed_outcome, proposed_outcome,
		                       market_value, bond_amount, bond_currency, parent_id, deadline, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.MarketID, d.PipelineID, d.Level, d.Status,
		d.ChallengerID, d.ChallengeReason, d.DisputedOutcome, d.ProposedOutcome,
		d.MarketValue, d.BondAmount, d.BondCurrency, d.ParentID, d.Deadline, d.CreatedAt,
	)
	return err
}

func (s *DisputeStore) Update(ctx context.Context, d *domain.Dispute) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE disputes
		 SET status = $2, outcome = $3, resolved_outcome = $4,
		     challenger_reward = $5, treasury_fee = $6, resolution_notes = $7,
		     child_id = $8, resolved_at = $9
		 WHERE id = $1`,
		d.ID, d.Status, d.Outcome, d.ResolvedOutcome,
		d.ChallengerReward, d.TreasuryFee, d.ResolutionNotes,
		d.ChildID, d.ResolvedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DisputeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d := &domain.Dispute{}
	err := s.db.QueryRow(ctx,
		`SELECT id, market_id, pipeline_id, level, status,
		        challenger_id, challenge_reason, disputed_outcome, proposed_outcome,
		        market_value, bond_amount, bond_currency,
		        outcome, resolved_outcome, challenger_reward, treasury_fee, resolution_notes,
		        parent_id, child_id, deadline, created_at, resolved_at
		 FROM disputes WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.MarketID, &d.PipelineID, &d.Level, &d.Status,
		&d.ChallengerID, &d.ChallengeReason, &d.DisputedOutcome, &d.ProposedOutcome,
		&d.MarketValue, &d.BondAmount, &d.BondCurrency,
		&d.Outcome, &d.ResolvedOutcome, &d.ChallengerReward, &d.TreasuryFee, &d.ResolutionNotes,
		&d.ParentID, &d.ChildID, &d.Deadline, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *DisputeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Dispute, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, market_id, pipeline_id, level, status,
		        challenger_id, challenge_reason, disputed_outcome, proposed_outcome,
		        market_value, bond_amount, bond_currency,
		        outcome, resolved_outcome, challenger_reward, treasury_fee, resolution_notes,
		        parent_id, child_id, deadline, created_at, resolved_at
		 FROM disputes
		 WHERE market_id = $1
		 ORDER BY created_at ASC`,
		marketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		var d domain.Dispute
		if err := rows.Scan(&d.ID, &d.MarketID, &d.PipelineID, &d.Level, &d.Status,
			&d.ChallengerID, &d.ChallengeReason, &d.DisputedOutcome, &d.ProposedOutcome,
			&d.MarketValue, &d.BondAmount, &d.BondCurrency,
			&d.Outcome, &d.ResolvedOutcome, &d.ChallengerReward, &d.TreasuryFee, &d.ResolutionNotes,
			&d.ParentID, &d.ChildID, &d.Deadline, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}
