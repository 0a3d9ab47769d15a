package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ReviewHandler struct {
	svc *service.ReviewService
}

func NewReviewHandler(svc *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

func (h *ReviewHandler) Next(w http.ResponseWriter, r *http.Request) {
	reviewerID := r.URL.Query().Get("reviewer_id")
	if reviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewer_id is required")
		return
	}

	item, err := h.svc.GetNextItem(r.Context(), reviewerID)
	if err != nil {
		if errors.Is(err, service.ErrNothingToReview) {
			writeError(w, http.StatusNotFound, "no pending review items")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to assign review item")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type submitReviewRequest struct {
	ReviewerID   string `json:"reviewer_id"`
	Decision     string `json:"decision"`
	FinalOutcome string `json:"final_outcome,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (h *ReviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid review item id")
		return
	}

	var req submitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewer_id is required")
		return
	}

	var finalOutcome *domain.Outcome
	if req.FinalOutcome != "" {
		if !domain.ValidOutcome(req.FinalOutcome) {
			writeError(w, http.StatusBadRequest, "invalid final_outcome")
			return
		}
		outcome := domain.Outcome(req.FinalOutcome)
		finalOutcome = &outcome
	}

	item, err := h.svc.SubmitReview(r.Context(), itemID, req.ReviewerID, domain.ReviewDecision(req.Decision), finalOutcome, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReviewNotFound):
			writeError(w, http.StatusNotFound, "review item not found")
		case errors.Is(err, service.ErrReviewNotYours):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrReviewFinished):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInvalidDecision), errors.Is(err, service.ErrMissingOutcome):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to submit review")
		}
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *ReviewHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}
