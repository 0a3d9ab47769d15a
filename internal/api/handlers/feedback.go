package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FeedbackHandler struct {
	svc          *service.FeedbackService
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

func NewFeedbackHandler(svc *service.FeedbackService, orchestrator *service.Orchestrator, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{svc: svc, orchestrator: orchestrator, logger: logger}
}

type createFeedbackRequest struct {
	PipelineID    string  `json:"pipeline_id"`
	MarketID      string  `json:"market_id"`
	AIOutcome     string  `json:"ai_outcome"`
	ActualOutcome string  `json:"actual_outcome"`
	AIConfidence  float64 `json:"ai_confidence"`
	Verdict       string  `json:"verdict"`
	Strength      float64 `json:"strength"`
}

func (h *FeedbackHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pipelineID, err := uuid.Parse(req.PipelineID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pipeline_id")
		return
	}

	feedback, err := h.svc.RecordFeedback(r.Context(), domain.ResolutionFeedback{
		PipelineID:           pipelineID,
		MarketID:             req.MarketID,
		AIOutcome:            domain.Outcome(req.AIOutcome),
		ActualOutcome:        domain.Outcome(req.ActualOutcome),
		AIConfidence:         req.AIConfidence,
		Verdict:              domain.FeedbackVerdict(req.Verdict),
		VerificationStrength: req.Strength,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Graded feedback carries ground truth for the source accuracy ledger.
	if feedback.Verdict != domain.VerdictNeutral && domain.ValidOutcome(string(feedback.ActualOutcome)) {
		if err := h.orchestrator.RecordGroundTruth(r.Context(), feedback.PipelineID, feedback.ActualOutcome); err != nil {
			h.logger.Warn("source accuracy not updated",
				zap.String("pipeline_id", feedback.PipelineID.String()),
				zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, feedback)
}

func (h *FeedbackHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Metrics())
}

func (h *FeedbackHandler) Report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Report())
}
