package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"conformo/internal/derivation"
	"conformo/internal/derivation/handler/mocks"
	dErrors "conformo/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/derivation-mocks.go -package=mocks Service
type DerivationHandlerSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *DerivationHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func TestDerivationHandlerSuite(t *testing.T) {
	suite.Run(t, new(DerivationHandlerSuite))
}

func newTestHandler(t *testing.T) (*chi.Mux, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(mockService, logger).Register(r)
	return r, mockService
}

func (s *DerivationHandlerSuite) TestHandleReevaluate() {
	router, mockService := newTestHandler(s.T())

	evaluatedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mockService.EXPECT().Reevaluate(gomock.Any(), gomock.Any(), derivation.TriggerManual).
		Return(derivation.Result{
			CompanyID:      "empresa-1",
			CatalogVersion: 3,
			Trigger:        derivation.TriggerManual,
			Matched:        11,
			Added:          2,
			Retired:        1,
			Retained:       9,
			EvaluatedAt:    evaluatedAt,
		}, nil)

	req := httptest.NewRequest(http.MethodPost, "/companies/empresa-1/reevaluate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusAccepted, w.Code)
	var resp map[string]any
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(s.T(), "empresa-1", resp["company_id"])
	assert.Equal(s.T(), float64(3), resp["catalog_version"])
	assert.Equal(s.T(), float64(2), resp["added"])
	assert.Equal(s.T(), float64(1), resp["retired"])
}

func (s *DerivationHandlerSuite) TestHandleReevaluateBusy() {
	router, mockService := newTestHandler(s.T())

	mockService.EXPECT().Reevaluate(gomock.Any(), gomock.Any(), derivation.TriggerManual).
		Return(derivation.Result{}, dErrors.New(dErrors.CodeBusy, "re-evaluation already running for company empresa-1"))

	req := httptest.NewRequest(http.MethodPost, "/companies/empresa-1/reevaluate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusTooManyRequests, w.Code)
	var resp map[string]any
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(s.T(), "busy", resp["error"])
}

func (s *DerivationHandlerSuite) TestHandleReevaluateValidation() {
	router, mockService := newTestHandler(s.T())

	mockService.EXPECT().Reevaluate(gomock.Any(), gomock.Any(), derivation.TriggerManual).
		Return(derivation.Result{}, dErrors.New(dErrors.CodeValidation, "invalid CNAE code"))

	req := httptest.NewRequest(http.MethodPost, "/companies/empresa-1/reevaluate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *DerivationHandlerSuite) TestDeriveAlias() {
	router, mockService := newTestHandler(s.T())

	mockService.EXPECT().Reevaluate(gomock.Any(), gomock.Any(), derivation.TriggerManual).
		Return(derivation.Result{CompanyID: "empresa-2"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/companies/empresa-2/derive", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusAccepted, w.Code)
}
