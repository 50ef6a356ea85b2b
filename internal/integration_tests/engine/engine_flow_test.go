package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	cataloghandler "conformo/internal/catalog/handler"
	"conformo/internal/catalog/seed"
	catalogservice "conformo/internal/catalog/service"
	catalogstore "conformo/internal/catalog/store"
	"conformo/internal/company"
	companymodels "conformo/internal/company/models"
	"conformo/internal/derivation"
	derivationhandler "conformo/internal/derivation/handler"
	httpapi "conformo/internal/http"
	obligationhandler "conformo/internal/obligation/handler"
	obligationmodels "conformo/internal/obligation/models"
	obligationservice "conformo/internal/obligation/service"
	obligationstore "conformo/internal/obligation/store"
	"conformo/internal/platform/token"
)

const (
	signingKey = "integration-signing-key"
	adminKey   = "integration-admin-key"
)

// newEngine assembles the whole stack on in-memory stores, exactly as the
// server wires it, and returns the public router.
func newEngine(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalogService, err := catalogservice.New(catalogstore.NewInMemory(), catalogservice.WithLogger(logger))
	require.NoError(t, err)

	registry := company.NewInMemoryRegistry()
	registry.Put(context.Background(), companymodels.CompanyProfile{
		CompanyID:      "empresa-navegacao",
		CNAECodes:      []string{"5011200"},
		States:         []string{"AM"},
		ProfileVersion: "v1",
	})

	obligationService, err := obligationservice.New(obligationstore.NewInMemory(), catalogService,
		obligationservice.WithLogger(logger))
	require.NoError(t, err)

	derivationService, err := derivation.New(catalogService, registry, obligationService,
		derivation.WithLogger(logger))
	require.NoError(t, err)
	scheduler := derivation.NewScheduler(derivationService, registry,
		derivation.WithSchedulerLogger(logger))

	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	return httpapi.NewRouter(httpapi.Deps{
		Catalog:        cataloghandler.New(catalogService, scheduler, logger),
		Obligation:     obligationhandler.New(obligationService, logger),
		Derivation:     derivationhandler.New(derivationService, logger),
		TokenValidator: token.New(signingKey),
		AdminKeyHash:   string(adminHash),
		Logger:         logger,
	})
}

func issueToken(t *testing.T, actorID string) string {
	t.Helper()
	claims := token.Claims{
		ActorID: actorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, router http.Handler, method, path, bearer, admin string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if admin != "" {
		req.Header.Set("X-Admin-Key", admin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEngineFlow_CatalogLoadToStatusChange(t *testing.T) {
	router := newEngine(t)
	bearer := issueToken(t, "auditor-1")

	// Catalog load fans out to the registered company.
	body := map[string]any{"rules": seed.Requirements()}
	w := doJSON(t, router, http.MethodPost, "/catalog", bearer, adminKey, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var loaded struct {
		Version int                      `json:"version"`
		Upgrade derivation.UpgradeReport `json:"upgrade"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, 1, loaded.Upgrade.Companies)
	assert.Equal(t, 1, loaded.Upgrade.Reevaluated)

	// The fan-out derived obligations for the shipping company: federal
	// rules plus the waterway and Amazonas ones.
	w = doJSON(t, router, http.MethodGet, "/companies/empresa-navegacao/obligations", bearer, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Obligations []*obligationmodels.Obligation `json:"obligations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.NotEmpty(t, listed.Obligations)

	codes := make(map[string]bool, len(listed.Obligations))
	var first *obligationmodels.Obligation
	for _, o := range listed.Obligations {
		codes[o.RequirementCode.String()] = true
		if first == nil {
			first = o
		}
		assert.Equal(t, obligationmodels.StatusNaoAvaliado, o.Status)
	}
	assert.True(t, codes["RL-NR01"], "federal rules apply to everyone")
	assert.True(t, codes["RL-IPAAM-001"], "Amazonas state rules apply")
	assert.False(t, codes["RL-CETESB-001"], "São Paulo rules must not apply")

	// A second manual run is idempotent.
	w = doJSON(t, router, http.MethodPost, "/companies/empresa-navegacao/reevaluate", bearer, "", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var result derivation.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Zero(t, result.Added)
	assert.Zero(t, result.Retired)
	assert.Equal(t, len(listed.Obligations), result.Retained)

	// A manual status change is attributed to the token's actor.
	w = doJSON(t, router, http.MethodPatch, "/obligations/"+first.ID.String()+"/status", bearer, "", map[string]any{
		"status": "pendente",
		"note":   "levantamento iniciado",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated obligationmodels.Obligation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, obligationmodels.StatusPendente, updated.Status)
	require.NotEmpty(t, updated.History)
	assert.Equal(t, "auditor-1", updated.History[len(updated.History)-1].Actor)
}

func TestEngineFlow_AuthBoundaries(t *testing.T) {
	router := newEngine(t)
	bearer := issueToken(t, "auditor-1")

	t.Run("business routes need a bearer token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/companies/empresa-navegacao/obligations", "", "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		claims := token.Claims{
			ActorID: "auditor-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		}
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
		require.NoError(t, err)

		w := doJSON(t, router, http.MethodGet, "/companies/empresa-navegacao/obligations", expired, "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "token has expired")
	})

	t.Run("catalog writes need the admin key", func(t *testing.T) {
		body := map[string]any{"rules": seed.Requirements()}

		w := doJSON(t, router, http.MethodPost, "/catalog", bearer, "", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, router, http.MethodPost, "/catalog", bearer, "wrong-key", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("catalog reads need no admin key", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/catalog/current", bearer, "", nil)
		require.Equal(t, http.StatusNotFound, w.Code, "no catalog loaded yet")
	})

	t.Run("healthz is public", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/healthz", "", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestEngineFlow_ProfileChangeRetires(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalogService, err := catalogservice.New(catalogstore.NewInMemory())
	require.NoError(t, err)
	_, err = catalogService.Load(context.Background(), seed.Requirements())
	require.NoError(t, err)

	registry := company.NewInMemoryRegistry()
	obligationService, err := obligationservice.New(obligationstore.NewInMemory(), catalogService)
	require.NoError(t, err)
	derivationService, err := derivation.New(catalogService, registry, obligationService,
		derivation.WithLogger(logger))
	require.NoError(t, err)
	scheduler := derivation.NewScheduler(derivationService, registry)

	ctx := context.Background()
	registry.Put(ctx, companymodels.CompanyProfile{
		CompanyID: "empresa-mudanca",
		CNAECodes: []string{"5011200"},
		States:    []string{"AM"},
	})
	result, err := scheduler.OnProfileChanged(ctx, "empresa-mudanca")
	require.NoError(t, err)
	require.Positive(t, result.Added)

	// The company moves out of Amazonas; its state obligations retire but
	// stay on record as nao_aplicavel.
	registry.Put(ctx, companymodels.CompanyProfile{
		CompanyID: "empresa-mudanca",
		CNAECodes: []string{"5011200"},
		States:    []string{"SP"},
	})
	result, err = scheduler.OnProfileChanged(ctx, "empresa-mudanca")
	require.NoError(t, err)
	assert.Positive(t, result.Retired)
	assert.Positive(t, result.Added, "São Paulo rules enter")

	obligations, err := obligationService.List(ctx, "empresa-mudanca")
	require.NoError(t, err)

	var retired int
	for _, o := range obligations {
		if o.RequirementCode == "RL-IPAAM-001" {
			assert.Equal(t, obligationmodels.StatusNaoAplicavel, o.Status)
			retired++
		}
	}
	assert.Equal(t, 1, retired, "retired obligations stay on record")
}
