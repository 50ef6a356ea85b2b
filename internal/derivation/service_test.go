package derivation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	catalogmodels "conformo/internal/catalog/models"
	"conformo/internal/catalog/seed"
	"conformo/internal/company"
	companymodels "conformo/internal/company/models"
	obligationmodels "conformo/internal/obligation/models"
	obligationservice "conformo/internal/obligation/service"
	obligationstore "conformo/internal/obligation/store"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/requestcontext"
)

type fixedCatalog struct {
	version *catalogmodels.CatalogVersion
}

func (c fixedCatalog) Current(context.Context) (*catalogmodels.CatalogVersion, error) {
	return c.version, nil
}

// blockingWriter wraps the real obligation service and parks ApplyDiff until
// released, so a second run can be fired while the first is in flight.
type blockingWriter struct {
	inner   ObligationWriter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *blockingWriter) List(ctx context.Context, companyID domain.CompanyID) ([]*obligationmodels.Obligation, error) {
	return w.inner.List(ctx, companyID)
}

func (w *blockingWriter) ApplyDiff(ctx context.Context, added, retired []*obligationmodels.Obligation) error {
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return w.inner.ApplyDiff(ctx, added, retired)
}

type DerivationServiceSuite struct {
	suite.Suite
	catalog     fixedCatalog
	profiles    *company.InMemoryRegistry
	obligations *obligationservice.Service
	store       *obligationstore.InMemory
	ctx         context.Context
	now         time.Time
}

func TestDerivationServiceSuite(t *testing.T) {
	suite.Run(t, new(DerivationServiceSuite))
}

func (s *DerivationServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.catalog = fixedCatalog{version: catalogmodels.NewCatalogVersion(1, seed.Requirements(), s.now)}
	s.profiles = company.NewInMemoryRegistry()
	s.store = obligationstore.NewInMemory()

	var err error
	s.obligations, err = obligationservice.New(s.store, s.catalog)
	s.Require().NoError(err)
}

func (s *DerivationServiceSuite) newService(opts ...Option) *Service {
	svc, err := New(s.catalog, s.profiles, s.obligations, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *DerivationServiceSuite) putProfile(companyID string, cnaes, states []string) {
	s.profiles.Put(s.ctx, companymodels.CompanyProfile{
		CompanyID: domain.CompanyID(companyID),
		CNAECodes: cnaes,
		States:    states,
	})
}

func (s *DerivationServiceSuite) TestReevaluate() {
	s.Run("first run creates the full obligation set", func() {
		s.putProfile("empresa-1", []string{"5011200"}, []string{"AM"})
		svc := s.newService()

		result, err := svc.Reevaluate(s.ctx, "empresa-1", TriggerManual)
		s.Require().NoError(err)

		s.Equal(1, result.CatalogVersion)
		s.Equal(result.Matched, result.Added)
		s.Zero(result.Retired)

		obligations, err := s.store.ListByCompany(s.ctx, "empresa-1")
		s.Require().NoError(err)
		s.Len(obligations, result.Added)
	})

	s.Run("second run with the same inputs changes nothing", func() {
		s.putProfile("empresa-2", []string{"5011200"}, []string{"AM"})
		svc := s.newService()

		first, err := svc.Reevaluate(s.ctx, "empresa-2", TriggerManual)
		s.Require().NoError(err)

		second, err := svc.Reevaluate(s.ctx, "empresa-2", TriggerManual)
		s.Require().NoError(err)
		s.Zero(second.Added)
		s.Zero(second.Retired)
		s.Equal(first.Matched, second.Matched)
	})

	s.Run("profile change retires what no longer applies", func() {
		s.putProfile("empresa-3", []string{"5011200"}, []string{"AM"})
		svc := s.newService()
		_, err := svc.Reevaluate(s.ctx, "empresa-3", TriggerManual)
		s.Require().NoError(err)

		// Leaves Amazonas; state rules must retire, the rest stays.
		s.putProfile("empresa-3", []string{"5011200"}, []string{"SP"})
		result, err := svc.Reevaluate(s.ctx, "empresa-3", TriggerProfileChange)
		s.Require().NoError(err)

		s.Equal(2, result.Retired) // RL-IPAAM-001, RL-AM-CBMAM
		s.Equal(1, result.Added)   // RL-CETESB-001

		obligations, err := s.store.ListByCompany(s.ctx, "empresa-3")
		s.Require().NoError(err)
		byCode := make(map[domain.RequirementCode]*obligationmodels.Obligation)
		for _, o := range obligations {
			byCode[o.RequirementCode] = o
		}
		s.Equal(obligationmodels.StatusNaoAplicavel, byCode["RL-IPAAM-001"].Status)
		s.Equal(obligationmodels.StatusNaoAvaliado, byCode["RL-CETESB-001"].Status)
	})

	s.Run("unknown company", func() {
		svc := s.newService()
		_, err := svc.Reevaluate(s.ctx, "fantasma", TriggerManual)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("invalid profile yields a validation error and no writes", func() {
		s.putProfile("empresa-4", []string{"123"}, []string{"AM"})
		svc := s.newService()

		_, err := svc.Reevaluate(s.ctx, "empresa-4", TriggerManual)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))

		obligations, err := s.store.ListByCompany(s.ctx, "empresa-4")
		s.Require().NoError(err)
		s.Empty(obligations)
	})
}

func (s *DerivationServiceSuite) TestConcurrentRunsSameCompany() {
	s.putProfile("empresa-5", []string{"5011200"}, []string{"AM"})

	writer := &blockingWriter{
		inner:   s.obligations,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, err := New(s.catalog, s.profiles, writer)
	s.Require().NoError(err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Reevaluate(s.ctx, "empresa-5", TriggerManual)
		firstDone <- err
	}()

	// Wait until the first run holds the lock and sits inside ApplyDiff.
	select {
	case <-writer.entered:
	case <-time.After(2 * time.Second):
		s.FailNow("first run never reached the store")
	}

	_, err = svc.Reevaluate(s.ctx, "empresa-5", TriggerManual)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeBusy))

	close(writer.release)
	s.Require().NoError(<-firstDone)

	// The lock is free again after the first run finished.
	result, err := svc.Reevaluate(s.ctx, "empresa-5", TriggerManual)
	s.Require().NoError(err)
	s.Zero(result.Added)
}

func (s *DerivationServiceSuite) TestConcurrentRunsDifferentCompanies() {
	s.putProfile("empresa-6", []string{"5011200"}, []string{"AM"})
	s.putProfile("empresa-7", []string{"8610101"}, []string{"SP"})
	svc := s.newService()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, companyID := range []domain.CompanyID{"empresa-6", "empresa-7"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Reevaluate(s.ctx, companyID, TriggerManual)
		}()
	}
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])
}
