package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	svc          *service.DisputeService
	feedback     *service.FeedbackService
	orchestrator *service.Orchestrator
	pipelines    domain.PipelineStore
	logger       *zap.Logger
}

func NewDisputeHandler(svc *service.DisputeService, feedback *service.FeedbackService, orchestrator *service.Orchestrator, pipelines domain.PipelineStore, logger *zap.Logger) *DisputeHandler {
	return &DisputeHandler{svc: svc, feedback: feedback, orchestrator: orchestrator, pipelines: pipelines, logger: logger}
}

func (h *DisputeHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req domain.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dispute, err := h.svc.Initiate(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dispute)
}

type escalateDisputeRequest struct {
	ChallengerID string `json:"challenger_id"`
}

func (h *DisputeHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return
	}

	var req escalateDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengerID == "" {
		writeError(w, http.StatusBadRequest, "challenger_id is required")
		return
	}

	appeal, err := h.svc.Escalate(r.Context(), disputeID, req.ChallengerID)
	if err != nil {
		var stateErr *service.DisputeStateError
		switch {
		case errors.Is(err, service.ErrDisputeNotFound):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.As(err, &stateErr):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to escalate dispute")
		}
		return
	}

	writeJSON(w, http.StatusCreated, appeal)
}

type finalizeDisputeRequest struct {
	Outcome         string `json:"outcome"`
	ResolvedOutcome string `json:"resolved_outcome,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (h *DisputeHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return
	}

	var req finalizeDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome := domain.DisputeOutcome(req.Outcome)
	if outcome != domain.DisputeUpheld && outcome != domain.DisputeOverturned {
		writeError(w, http.StatusBadRequest, "outcome must be upheld or overturned")
		return
	}

	var resolvedOutcome *domain.Outcome
	if req.ResolvedOutcome != "" {
		if !domain.ValidOutcome(req.ResolvedOutcome) {
			writeError(w, http.StatusBadRequest, "invalid resolved_outcome")
			return
		}
		ro := domain.Outcome(req.ResolvedOutcome)
		resolvedOutcome = &ro
	}

	dispute, err := h.svc.Finalize(r.Context(), disputeID, outcome, resolvedOutcome, req.Notes)
	if err != nil {
		var stateErr *service.DisputeStateError
		switch {
		case errors.Is(err, service.ErrDisputeNotFound):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.As(err, &stateErr):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to finalize dispute")
		}
		return
	}

	h.recordFeedback(r, dispute)

	writeJSON(w, http.StatusOK, dispute)
}

// recordFeedback feeds the ruling into the learning loop: the feedback ledger
// for model retraining, and the source accuracy ledger with the outcome the
// ruling established. The ruling stands regardless of whether either entry
// could be written.
func (h *DisputeHandler) recordFeedback(r *http.Request, dispute *domain.Dispute) {
	aiConfidence := 0.0
	verificationStrength := 1.0
	if dispute.PipelineID != nil {
		if p, err := h.pipelines.GetByID(r.Context(), *dispute.PipelineID); err == nil {
			aiConfidence = p.FinalConfidence
			if p.Verification != nil {
				verificationStrength = p.Verification.ConsensusConfidence
			}
		}
	}

	if _, err := h.feedback.ProcessDisputeOutcome(r.Context(), dispute, aiConfidence, verificationStrength); err != nil {
		h.logger.Warn("dispute feedback not recorded",
			zap.String("dispute_id", dispute.ID.String()),
			zap.Error(err))
	}

	if dispute.PipelineID == nil {
		return
	}
	if err := h.orchestrator.RecordGroundTruth(r.Context(), *dispute.PipelineID, disputeActualOutcome(dispute)); err != nil {
		h.logger.Warn("source accuracy not updated",
			zap.String("dispute_id", dispute.ID.String()),
			zap.Error(err))
	}
}

// disputeActualOutcome is what the ruling says actually happened: an upheld
// ruling confirms the disputed outcome, an overturned one replaces it.
func disputeActualOutcome(d *domain.Dispute) domain.Outcome {
	if d.Outcome != nil && *d.Outcome == domain.DisputeOverturned {
		if d.ResolvedOutcome != nil {
			return *d.ResolvedOutcome
		}
		return d.ProposedOutcome
	}
	return d.DisputedOutcome
}

func (h *DisputeHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return
	}

	dispute, err := h.svc.Get(r.Context(), disputeID)
	if err != nil {
		writeError(w, http.StatusNotFound, "dispute not found")
		return
	}

	writeJSON(w, http.StatusOK, dispute)
}

func (h *DisputeHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	disputes, err := h.svc.ListByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list disputes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"disputes":  disputes,
		"count":     len(disputes),
	})
}

func (h *DisputeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *DisputeHandler) ExpertPanel(w http.ResponseWriter, r *http.Request) {
	tags := r.URL.Query()["tag"]

	n := 3
	if v := r.URL.Query().Get("size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		n = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experts": h.svc.ExpertPanel(tags, n),
	})
}
