package store

import (
	"context"
	"sort"
	"sync"

	"conformo/internal/obligation/models"
	"conformo/pkg/domain"
	"conformo/pkg/platform/sentinel"
)

// InMemory keeps obligations, history and action plans in process memory.
// ApplyDiff is transactional under the store lock: the whole diff lands or
// none of it does, matching the postgres implementation.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[domain.ObligationID]*models.Obligation
	byCompany map[domain.CompanyID]map[domain.RequirementCode]domain.ObligationID
	plans     map[domain.ActionPlanID]*models.ActionPlan
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[domain.ObligationID]*models.Obligation),
		byCompany: make(map[domain.CompanyID]map[domain.RequirementCode]domain.ObligationID),
		plans:     make(map[domain.ActionPlanID]*models.ActionPlan),
	}
}

func (s *InMemory) Get(_ context.Context, id domain.ObligationID) (*models.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *InMemory) ListByCompany(_ context.Context, companyID domain.CompanyID) ([]*models.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Obligation
	for _, id := range s.byCompany[companyID] {
		out = append(out, s.byID[id].Clone())
	}
	// Same order as the postgres store.
	sort.Slice(out, func(i, j int) bool { return out[i].RequirementCode < out[j].RequirementCode })
	return out, nil
}

// ApplyDiff inserts added obligations and persists retired ones atomically.
// A duplicate (company, requirement) pair in added conflicts: the primary-key
// invariant is enforced here as well as in the synthesizer.
func (s *InMemory) ApplyDiff(_ context.Context, added, retired []*models.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range added {
		if byCode, ok := s.byCompany[o.CompanyID]; ok {
			if _, exists := byCode[o.RequirementCode]; exists {
				return sentinel.ErrConflict
			}
		}
	}
	for _, o := range retired {
		if _, ok := s.byID[o.ID]; !ok {
			return sentinel.ErrNotFound
		}
	}

	for _, o := range added {
		clone := o.Clone()
		s.byID[clone.ID] = clone
		byCode, ok := s.byCompany[clone.CompanyID]
		if !ok {
			byCode = make(map[domain.RequirementCode]domain.ObligationID)
			s.byCompany[clone.CompanyID] = byCode
		}
		byCode[clone.RequirementCode] = clone.ID
	}
	for _, o := range retired {
		s.byID[o.ID] = o.Clone()
	}
	return nil
}

func (s *InMemory) Update(_ context.Context, o *models.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.byID[o.ID] = o.Clone()
	return nil
}

// ListSweepCandidates returns obligations the deadline sweep cares about:
// pendente or avencer with a deadline set.
func (s *InMemory) ListSweepCandidates(_ context.Context) ([]*models.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Obligation
	for _, o := range s.byID {
		if o.Deadline == nil {
			continue
		}
		if o.Status == models.StatusPendente || o.Status == models.StatusAVencer {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (s *InMemory) ActivePlanByObligation(_ context.Context, obligationID domain.ObligationID) (*models.ActionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.ObligationID == obligationID && p.IsActive() {
			clone := *p
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) SavePlan(_ context.Context, plan *models.ActionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.IsActive() {
		for _, p := range s.plans {
			if p.ObligationID == plan.ObligationID && p.IsActive() && p.ID != plan.ID {
				return sentinel.ErrConflict
			}
		}
	}
	clone := *plan
	s.plans[plan.ID] = &clone
	return nil
}

func (s *InMemory) ListPlansByCompany(_ context.Context, companyID domain.CompanyID) ([]*models.ActionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ActionPlan
	for _, p := range s.plans {
		if p.CompanyID == companyID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}
