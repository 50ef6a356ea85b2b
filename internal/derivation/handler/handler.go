// Package handler exposes re-evaluation triggers over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"conformo/internal/derivation"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/httputil"
	"conformo/pkg/requestcontext"
)

// Service defines the derivation operations the HTTP layer needs.
type Service interface {
	Reevaluate(ctx context.Context, companyID domain.CompanyID, trigger string) (derivation.Result, error)
}

type Handler struct {
	derivation Service
	logger     *slog.Logger
}

func New(derivationService Service, logger *slog.Logger) *Handler {
	return &Handler{derivation: derivationService, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/companies/{companyID}/reevaluate", h.handleReevaluate)
	// Alias for the initial derivation after onboarding; same pipeline.
	r.Post("/companies/{companyID}/derive", h.handleReevaluate)
}

// handleReevaluate runs a synchronous derivation and answers 202 with the
// diff summary. A run already in flight for the company yields 429; the
// caller retries.
func (h *Handler) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := domain.CompanyID(chi.URLParam(r, "companyID"))

	result, err := h.derivation.Reevaluate(ctx, companyID, derivation.TriggerManual)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeInternal:
			h.logger.ErrorContext(ctx, "re-evaluation failed",
				slog.String("request_id", requestcontext.RequestID(ctx)),
				slog.String("company_id", string(companyID)),
				slog.String("error", err.Error()))
		default:
			h.logger.WarnContext(ctx, "re-evaluation rejected",
				slog.String("request_id", requestcontext.RequestID(ctx)),
				slog.String("company_id", string(companyID)),
				slog.String("error", err.Error()))
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, result)
}
