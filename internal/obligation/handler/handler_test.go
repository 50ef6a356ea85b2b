package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	catalogmodels "conformo/internal/catalog/models"
	"conformo/internal/obligation/models"
	"conformo/internal/obligation/service"
	"conformo/internal/obligation/store"
	"conformo/pkg/domain"
	"conformo/pkg/requestcontext"
)

type ObligationHandlerSuite struct {
	suite.Suite
	router    *chi.Mux
	store     *store.InMemory
	service   *service.Service
	now       time.Time
	companies int
}

func TestObligationHandlerSuite(t *testing.T) {
	suite.Run(t, new(ObligationHandlerSuite))
}

func (s *ObligationHandlerSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	catalog := fixedCatalog{version: catalogmodels.NewCatalogVersion(1, []catalogmodels.LegalRequirement{
		{
			Code:          "RL-NR07",
			Kind:          catalogmodels.KindRequisitoLegal,
			Description:   "PCMSO",
			LegalBasis:    "NR-07",
			Theme:         "SST",
			RiskLevel:     catalogmodels.RiskAlto,
			Applicability: catalogmodels.Applicability{Unconditional: true},
			EffectiveFrom: s.now,
			UpdatedAt:     s.now,
		},
	}, s.now)}

	var err error
	s.service, err = service.New(s.store, catalog)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithActorID(r.Context(), "user-7")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	New(s.service, logger).Register(s.router)
}

type fixedCatalog struct {
	version *catalogmodels.CatalogVersion
}

func (c fixedCatalog) Current(ctx context.Context) (*catalogmodels.CatalogVersion, error) {
	return c.version, nil
}

func (s *ObligationHandlerSuite) seed(code string) *models.Obligation {
	s.companies++
	companyID := domain.CompanyID(fmt.Sprintf("empresa-%d", s.companies))
	o := models.NewObligation(companyID, domain.RequirementCode(code), s.now, requestcontext.SystemActor)
	s.Require().NoError(s.store.ApplyDiff(context.Background(), []*models.Obligation{o}, nil))
	return o
}

func (s *ObligationHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(method, path, reader))
	return w
}

func (s *ObligationHandlerSuite) TestSetStatus() {
	s.Run("valid transition", func() {
		o := s.seed("RL-NR07")

		w := s.do(http.MethodPatch, "/obligations/"+o.ID.String()+"/status", map[string]any{
			"status": "pendente",
			"note":   "em andamento",
		})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Status  models.ComplianceStatus    `json:"status"`
			History []models.ObligationHistory `json:"history"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(models.StatusPendente, resp.Status)
		s.Require().Len(resp.History, 2)
		s.Equal("user-7", resp.History[1].Actor)
	})

	s.Run("illegal transition is a 409", func() {
		o := s.seed("RL-NR07")

		w := s.do(http.MethodPatch, "/obligations/"+o.ID.String()+"/status", map[string]any{
			"status": "vencido",
		})
		s.Equal(http.StatusConflict, w.Code)
	})

	s.Run("unknown status is a 400", func() {
		o := s.seed("RL-NR07")

		w := s.do(http.MethodPatch, "/obligations/"+o.ID.String()+"/status", map[string]any{
			"status": "talvez",
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("malformed id is a 400", func() {
		w := s.do(http.MethodPatch, "/obligations/not-a-uuid/status", map[string]any{
			"status": "pendente",
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("missing obligation is a 404", func() {
		w := s.do(http.MethodPatch, "/obligations/"+domain.NewObligationID().String()+"/status", map[string]any{
			"status": "pendente",
		})
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *ObligationHandlerSuite) TestReactivate() {
	retire := func() *models.Obligation {
		o := s.seed("RL-NR07")
		o.Retire(s.now, "")
		s.Require().NoError(s.store.Update(context.Background(), o))
		return o
	}

	s.Run("retired obligation returns to the entry state", func() {
		o := retire()

		w := s.do(http.MethodPost, "/obligations/"+o.ID.String()+"/reactivate", map[string]any{
			"note": "voltou a aplicar",
		})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Status  models.ComplianceStatus    `json:"status"`
			History []models.ObligationHistory `json:"history"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(models.StatusNaoAvaliado, resp.Status)
		last := resp.History[len(resp.History)-1]
		s.Equal("user-7", last.Actor)
		s.Equal("voltou a aplicar", last.Note)
	})

	s.Run("note is optional", func() {
		o := retire()

		w := s.do(http.MethodPost, "/obligations/"+o.ID.String()+"/reactivate", nil)
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	})

	s.Run("active obligation is a 409", func() {
		o := s.seed("RL-NR07")

		w := s.do(http.MethodPost, "/obligations/"+o.ID.String()+"/reactivate", nil)
		s.Equal(http.StatusConflict, w.Code)
	})
}

func (s *ObligationHandlerSuite) TestGet() {
	o := s.seed("RL-NR07")

	w := s.do(http.MethodGet, "/obligations/"+o.ID.String(), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		ID              domain.ObligationID    `json:"id"`
		RequirementCode domain.RequirementCode `json:"requirement_code"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(o.ID, resp.ID)
	s.Equal(domain.RequirementCode("RL-NR07"), resp.RequirementCode)
}

func (s *ObligationHandlerSuite) TestHistory() {
	o := s.seed("RL-NR07")
	s.do(http.MethodPatch, "/obligations/"+o.ID.String()+"/status", map[string]any{"status": "pendente"})

	w := s.do(http.MethodGet, "/obligations/"+o.ID.String()+"/history", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		History []models.ObligationHistory `json:"history"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.History, 2)
	s.Equal(models.ActionStatusChanged, resp.History[1].Action)
}

func (s *ObligationHandlerSuite) TestList() {
	o := s.seed("RL-NR07")

	s.Run("company with obligations", func() {
		w := s.do(http.MethodGet, "/companies/"+string(o.CompanyID)+"/obligations", nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			CompanyID   domain.CompanyID     `json:"company_id"`
			Obligations []*models.Obligation `json:"obligations"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(o.CompanyID, resp.CompanyID)
		s.Len(resp.Obligations, 1)
	})

	s.Run("unknown company returns an empty list", func() {
		w := s.do(http.MethodGet, "/companies/empresa-desconhecida/obligations", nil)
		s.Require().Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `"obligations":[]`)
	})
}

func (s *ObligationHandlerSuite) TestListPlans() {
	// An adverse transition on an alto-risk requirement opens a plan.
	o := s.seed("RL-NR07")
	deadline := s.now.AddDate(0, 1, 0)
	w := s.do(http.MethodPatch, "/obligations/"+o.ID.String()+"/status", map[string]any{
		"status":   "pendente",
		"deadline": deadline,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPatch, "/obligations/"+o.ID.String()+"/status", map[string]any{
		"status": "avencer",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/companies/"+string(o.CompanyID)+"/action-plans", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		ActionPlans []*models.ActionPlan `json:"action_plans"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.ActionPlans, 1)
	s.Equal("Regularizar RL-NR07", resp.ActionPlans[0].Title)
}
