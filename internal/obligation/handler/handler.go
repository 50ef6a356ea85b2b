// Package handler exposes the obligation lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"conformo/internal/obligation/models"
	"conformo/internal/obligation/service"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/httputil"
	"conformo/pkg/requestcontext"
)

// Service defines the obligation operations the HTTP layer needs.
type Service interface {
	SetStatus(ctx context.Context, id domain.ObligationID, in service.SetStatusInput) (*models.Obligation, error)
	Reactivate(ctx context.Context, id domain.ObligationID, note string) (*models.Obligation, error)
	Get(ctx context.Context, id domain.ObligationID) (*models.Obligation, error)
	List(ctx context.Context, companyID domain.CompanyID) ([]*models.Obligation, error)
	History(ctx context.Context, id domain.ObligationID) ([]models.ObligationHistory, error)
	ListPlans(ctx context.Context, companyID domain.CompanyID) ([]*models.ActionPlan, error)
}

type Handler struct {
	obligations Service
	logger      *slog.Logger
}

func New(obligations Service, logger *slog.Logger) *Handler {
	return &Handler{obligations: obligations, logger: logger}
}

// Register wires the obligation routes. Authentication middleware is applied
// by the router; every route here expects an actor in the context.
func (h *Handler) Register(r chi.Router) {
	r.Patch("/obligations/{id}/status", h.handleSetStatus)
	r.Post("/obligations/{id}/reactivate", h.handleReactivate)
	r.Get("/obligations/{id}", h.handleGet)
	r.Get("/obligations/{id}/history", h.handleHistory)
	r.Get("/companies/{companyID}/obligations", h.handleList)
	r.Get("/companies/{companyID}/action-plans", h.handleListPlans)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, ok := h.obligationID(w, r)
	if !ok {
		return
	}
	in, ok := httputil.DecodeAndPrepare[service.SetStatusInput](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	updated, err := h.obligations.SetStatus(ctx, id, in)
	if err != nil {
		h.writeServiceError(w, r, "set obligation status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// handleReactivate puts a retired obligation back into the evaluation flow.
// Companies use it when a requirement the engine retired turns out to still
// apply; the engine itself never revives anything.
func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, ok := h.obligationID(w, r)
	if !ok {
		return
	}
	// The note is optional; an empty body means reactivate without one.
	var in reactivateRequest
	if r.ContentLength != 0 {
		if in, ok = httputil.DecodeAndPrepare[reactivateRequest](w, r, h.logger, ctx, requestID); !ok {
			return
		}
	}

	updated, err := h.obligations.Reactivate(ctx, id, in.Note)
	if err != nil {
		h.writeServiceError(w, r, "reactivate obligation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

type reactivateRequest struct {
	Note string `json:"note,omitempty"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.obligationID(w, r)
	if !ok {
		return
	}
	o, err := h.obligations.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get obligation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.obligationID(w, r)
	if !ok {
		return
	}
	history, err := h.obligations.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get obligation history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"obligation_id": id,
		"history":       history,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companyID := domain.CompanyID(chi.URLParam(r, "companyID"))
	obligations, err := h.obligations.List(r.Context(), companyID)
	if err != nil {
		h.writeServiceError(w, r, "list obligations", err)
		return
	}
	if obligations == nil {
		obligations = []*models.Obligation{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"company_id":  companyID,
		"obligations": obligations,
	})
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	companyID := domain.CompanyID(chi.URLParam(r, "companyID"))
	plans, err := h.obligations.ListPlans(r.Context(), companyID)
	if err != nil {
		h.writeServiceError(w, r, "list action plans", err)
		return
	}
	if plans == nil {
		plans = []*models.ActionPlan{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"company_id":   companyID,
		"action_plans": plans,
	})
}

func (h *Handler) obligationID(w http.ResponseWriter, r *http.Request) (domain.ObligationID, bool) {
	id, err := domain.ParseObligationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid obligation id"))
		return domain.ObligationID{}, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, op,
			slog.String("request_id", requestcontext.RequestID(ctx)),
			slog.String("error", err.Error()))
	default:
		h.logger.WarnContext(ctx, op,
			slog.String("request_id", requestcontext.RequestID(ctx)),
			slog.String("error", err.Error()))
	}
	httputil.WriteError(w, err)
}
