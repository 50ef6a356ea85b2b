package derivation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	catalogmodels "conformo/internal/catalog/models"
	"conformo/internal/company"
	companymodels "conformo/internal/company/models"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
)

// recordingReevaluator captures which companies were re-derived.
type recordingReevaluator struct {
	mu      sync.Mutex
	calls   []domain.CompanyID
	busyFor map[domain.CompanyID]bool
	failFor map[domain.CompanyID]bool
}

func (r *recordingReevaluator) Reevaluate(_ context.Context, companyID domain.CompanyID, _ string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, companyID)
	if r.busyFor[companyID] {
		return Result{}, dErrors.New(dErrors.CodeBusy, "busy")
	}
	if r.failFor[companyID] {
		return Result{}, dErrors.New(dErrors.CodeInternal, "boom")
	}
	return Result{CompanyID: companyID}, nil
}

func (r *recordingReevaluator) called(companyID domain.CompanyID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == companyID {
			return true
		}
	}
	return false
}

func (r *recordingReevaluator) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type SchedulerSuite struct {
	suite.Suite
	profiles    *company.InMemoryRegistry
	reevaluator *recordingReevaluator
	scheduler   *Scheduler
	ctx         context.Context
	now         time.Time
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.profiles = company.NewInMemoryRegistry()
	s.reevaluator = &recordingReevaluator{
		busyFor: make(map[domain.CompanyID]bool),
		failFor: make(map[domain.CompanyID]bool),
	}
	s.scheduler = NewScheduler(s.reevaluator, s.profiles, WithFanOutLimit(4))

	s.profiles.Put(s.ctx, companymodels.CompanyProfile{
		CompanyID: "naviera", CNAECodes: []string{"5011200"}, States: []string{"AM"},
	})
	s.profiles.Put(s.ctx, companymodels.CompanyProfile{
		CompanyID: "clinica", CNAECodes: []string{"8610101"}, States: []string{"SP"},
	})
}

func (s *SchedulerSuite) rule(code string, mutate func(*catalogmodels.LegalRequirement)) catalogmodels.LegalRequirement {
	r := catalogmodels.LegalRequirement{
		Code:          domain.RequirementCode(code),
		Kind:          catalogmodels.KindRequisitoLegal,
		Description:   "regra " + code,
		LegalBasis:    "base legal",
		Theme:         "SST",
		RiskLevel:     catalogmodels.RiskMedio,
		Applicability: catalogmodels.Applicability{Unconditional: true},
		EffectiveFrom: s.now,
		UpdatedAt:     s.now,
	}
	if mutate != nil {
		mutate(&r)
	}
	return r
}

func (s *SchedulerSuite) TestOnProfileChanged() {
	_, err := s.scheduler.OnProfileChanged(s.ctx, "naviera")
	s.Require().NoError(err)
	s.True(s.reevaluator.called("naviera"))
	s.False(s.reevaluator.called("clinica"))
}

func (s *SchedulerSuite) TestOnCatalogUpgraded() {
	base := s.rule("RL-NR01", nil)

	s.Run("unconditional change fans out to everyone", func() {
		old := catalogmodels.NewCatalogVersion(1, []catalogmodels.LegalRequirement{base}, s.now)
		added := s.rule("RL-NR99", nil)
		current := catalogmodels.NewCatalogVersion(2, []catalogmodels.LegalRequirement{base, added}, s.now)

		report, err := s.scheduler.OnCatalogUpgraded(s.ctx, old, current)
		s.Require().NoError(err)
		s.Equal(2, report.Companies)
		s.Equal(2, report.Reevaluated)
		s.Zero(report.Skipped)
	})

	s.Run("scoped change skips companies it cannot touch", func() {
		scoped := s.rule("RL-AM-NOVO", func(r *catalogmodels.LegalRequirement) {
			r.Applicability = catalogmodels.Applicability{States: []string{"AM"}}
		})
		old := catalogmodels.NewCatalogVersion(1, []catalogmodels.LegalRequirement{base}, s.now)
		current := catalogmodels.NewCatalogVersion(2, []catalogmodels.LegalRequirement{base, scoped}, s.now)

		before := s.reevaluator.callCount()
		report, err := s.scheduler.OnCatalogUpgraded(s.ctx, old, current)
		s.Require().NoError(err)

		s.Equal(1, report.Reevaluated)
		s.Equal(1, report.Skipped)
		s.Equal(before+1, s.reevaluator.callCount())
	})

	s.Run("first load treats every rule as new", func() {
		current := catalogmodels.NewCatalogVersion(1, []catalogmodels.LegalRequirement{base}, s.now)
		report, err := s.scheduler.OnCatalogUpgraded(s.ctx, nil, current)
		s.Require().NoError(err)
		s.Equal(2, report.Reevaluated)
	})

	s.Run("busy and failing companies are reported, not fatal", func() {
		s.reevaluator.busyFor["naviera"] = true
		s.reevaluator.failFor["clinica"] = true
		defer func() {
			s.reevaluator.busyFor["naviera"] = false
			s.reevaluator.failFor["clinica"] = false
		}()

		old := catalogmodels.NewCatalogVersion(1, []catalogmodels.LegalRequirement{base}, s.now)
		current := catalogmodels.NewCatalogVersion(2, []catalogmodels.LegalRequirement{base, s.rule("RL-NR98", nil)}, s.now)

		report, err := s.scheduler.OnCatalogUpgraded(s.ctx, old, current)
		s.Require().NoError(err)
		s.Equal(1, report.Busy)
		s.Equal(1, report.Failed)
		s.Zero(report.Reevaluated)
	})
}
