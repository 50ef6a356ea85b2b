// Package handler exposes catalog administration and reads over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"conformo/internal/catalog/models"
	"conformo/internal/derivation"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/httputil"
	"conformo/pkg/requestcontext"
)

// Service defines the catalog operations the HTTP layer needs.
type Service interface {
	Load(ctx context.Context, rules []models.LegalRequirement) (*models.CatalogVersion, error)
	Current(ctx context.Context) (*models.CatalogVersion, error)
	Diff(ctx context.Context, from, to int) (models.VersionDiff, error)
}

// Upgrader fans re-evaluation out after a successful catalog load.
type Upgrader interface {
	OnCatalogUpgraded(ctx context.Context, old, current *models.CatalogVersion) (derivation.UpgradeReport, error)
}

type Handler struct {
	catalog  Service
	upgrader Upgrader
	logger   *slog.Logger
}

func New(catalog Service, upgrader Upgrader, logger *slog.Logger) *Handler {
	return &Handler{catalog: catalog, upgrader: upgrader, logger: logger}
}

// Register wires the catalog routes. The write route sits behind the admin
// key middleware; reads are open to any authenticated caller.
func (h *Handler) Register(r chi.Router, adminOnly func(http.Handler) http.Handler) {
	r.With(adminOnly).Post("/catalog", h.handleLoad)
	r.Get("/catalog/current", h.handleCurrent)
	r.Get("/catalog/diff", h.handleDiff)
}

type loadRequest struct {
	Rules []models.LegalRequirement `json:"rules"`
}

type loadResponse struct {
	Version  int                      `json:"version"`
	RuleSize int                      `json:"rule_count"`
	Upgrade  derivation.UpgradeReport `json:"upgrade"`
}

// handleLoad validates and swaps in a whole new catalog version, then fans
// re-evaluation out over the affected companies before answering.
func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[loadRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	// The previous version drives affected-company selection; absent on the
	// first load.
	previous, err := h.catalog.Current(ctx)
	if err != nil && !dErrors.Is(err, dErrors.CodeNotFound) {
		h.logger.ErrorContext(ctx, "read current catalog",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}

	version, err := h.catalog.Load(ctx, req.Rules)
	if err != nil {
		h.logger.WarnContext(ctx, "catalog load rejected",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}

	report, err := h.upgrader.OnCatalogUpgraded(ctx, previous, version)
	if err != nil {
		// The new version is already live; the fan-out can be replayed via
		// per-company re-evaluation.
		h.logger.ErrorContext(ctx, "catalog upgrade fan-out failed",
			slog.String("request_id", requestID),
			slog.Int("version", version.Number()),
			slog.String("error", err.Error()))
	}

	httputil.WriteJSON(w, http.StatusCreated, loadResponse{
		Version:  version.Number(),
		RuleSize: version.Len(),
		Upgrade:  report,
	})
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	version, err := h.catalog.Current(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"version":   version.Number(),
		"loaded_at": version.LoadedAt(),
		"rules":     version.Rules(),
	})
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be a version number"))
		return
	}
	to, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "to must be a version number"))
		return
	}

	diff, err := h.catalog.Diff(r.Context(), from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"from": from,
		"to":   to,
		"diff": diff,
	})
}
