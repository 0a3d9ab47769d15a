package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PipelineStore interface {
	Create(ctx context.Context, p *ResolutionPipeline) error
	Update(ctx context.Context, p *ResolutionPipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*ResolutionPipeline, error)
	ListByMarket(ctx context.Context, marketID string, limit int) ([]ResolutionPipeline, error)
}

type FeedbackStore interface {
	Create(ctx context.Context, f *ResolutionFeedback) error
	ListUnprocessed(ctx context.Context, limit int) ([]ResolutionFeedback, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
	CountSince(ctx context.Context, since time.Time) (int, error)
	CreateModelVersion(ctx context.Context, m *ModelVersion) error
	UpdateModelStatus(ctx context.Context, id uuid.UUID, status ModelStatus) error
	GetActiveModel(ctx context.Context) (*ModelVersion, error)
}

type DisputeStore interface {
	Create(ctx context.Context, d *Dispute) error
	Update(ctx context.Context, d *Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispute, error)
	ListByMarket(ctx context.Context, marketID string) ([]Dispute, error)
}

type AccuracyStore interface {
	Upsert(ctx context.Context, r *SourceAccuracyRecord) error
	GetByDomain(ctx context.Context, domain string) (*SourceAccuracyRecord, error)
	ListAll(ctx context.Context) ([]SourceAccuracyRecord, error)
}

type ReviewStore interface {
	Create(ctx context.Context, item *HumanReviewItem) error
	Update(ctx context.Context, item *HumanReviewItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*HumanReviewItem, error)
	ListByStatus(ctx context.Context, status ReviewStatus, limit int) ([]HumanReviewItem, error)
}

// AssessmentClient is the LLM-style assessment capability used by the
// synthesis, deliberation, and explanation stages. Failures are tolerated via
// stage-level fallbacks.
type AssessmentClient interface {
	Assess(ctx context.Context, prompt string) (*Assessment, error)
	Explain(ctx context.Context, prompt string) (string, error)
}

// EvidenceRetriever fetches an evidence corpus for a question. Implementations
// wrap search APIs, news aggregators, or fixtures.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, question string, maxSources int) (*EvidenceCorpus, error)
}
