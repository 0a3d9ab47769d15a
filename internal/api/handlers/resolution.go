package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ResolutionHandler struct {
	orchestrator *service.Orchestrator
	pipelines    domain.PipelineStore
	defaults     domain.ResolveOptions
}

// NewResolutionHandler wires the resolve endpoint. Request fields left empty
// fall back to defaults (deployment-level configuration).
func NewResolutionHandler(orchestrator *service.Orchestrator, pipelines domain.PipelineStore, defaults domain.ResolveOptions) *ResolutionHandler {
	return &ResolutionHandler{orchestrator: orchestrator, pipelines: pipelines, defaults: defaults}
}

type resolveRequest struct {
	MarketID              string                `json:"market_id"`
	Question              string                `json:"question"`
	EnsembleMethod        string                `json:"ensemble_method,omitempty"`
	MinConsensusThreshold float64               `json:"min_consensus_threshold,omitempty"`
	MaxSources            int                   `json:"max_sources,omitempty"`
	Timeline              *domain.EventTimeline `json:"timeline,omitempty"`
}

func (h *ResolutionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.EnsembleMethod != "" && !domain.ValidEnsembleMethod(req.EnsembleMethod) {
		writeError(w, http.StatusBadRequest, "invalid ensemble_method")
		return
	}

	opts := domain.ResolveOptions{
		EnsembleMethod:        domain.EnsembleMethod(req.EnsembleMethod),
		MinConsensusThreshold: req.MinConsensusThreshold,
		MaxSources:            req.MaxSources,
		Timeline:              req.Timeline,
	}
	if opts.EnsembleMethod == "" {
		opts.EnsembleMethod = h.defaults.EnsembleMethod
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = h.defaults.MaxSources
	}

	result, err := h.orchestrator.Resolve(r.Context(), req.MarketID, req.Question, opts)
	if err != nil {
		var stageErr *service.StageError
		if errors.As(err, &stageErr) {
			// The pipeline record carries the failed stage and reason.
			writeJSON(w, http.StatusBadGateway, result.Pipeline)
			return
		}
		writeError(w, http.StatusInternalServerError, "resolution failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ResolutionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pipeline id")
		return
	}

	p, err := h.pipelines.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pipeline not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch pipeline")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *ResolutionHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	pipelines, err := h.pipelines.ListByMarket(r.Context(), marketID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pipelines")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"pipelines": pipelines,
		"count":     len(pipelines),
	})
}
