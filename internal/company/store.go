// Package company adapts the company-registry collaborator. The engine only
// ever reads profile snapshots from it; registration and profile edits live
// in the registry service.
package company

import (
	"context"
	"sync"

	"conformo/internal/company/models"
	"conformo/pkg/domain"
	"conformo/pkg/platform/sentinel"
)

// ProfileStore supplies read-only profile snapshots.
type ProfileStore interface {
	Snapshot(ctx context.Context, companyID domain.CompanyID) (models.CompanyProfile, error)
	// ListCompanyIDs enumerates known companies for catalog-change fan-out.
	ListCompanyIDs(ctx context.Context) ([]domain.CompanyID, error)
}

// InMemoryRegistry is the in-process adapter used in tests and single-node
// deployments; production points at the registry service instead.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	profiles map[domain.CompanyID]models.CompanyProfile
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{profiles: make(map[domain.CompanyID]models.CompanyProfile)}
}

// Put registers or replaces a profile snapshot. Exposed for wiring and tests;
// the engine itself never calls it.
func (r *InMemoryRegistry) Put(_ context.Context, profile models.CompanyProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.CompanyID] = profile
}

func (r *InMemoryRegistry) Snapshot(_ context.Context, companyID domain.CompanyID) (models.CompanyProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[companyID]
	if !ok {
		return models.CompanyProfile{}, sentinel.ErrNotFound
	}
	return profile, nil
}

func (r *InMemoryRegistry) ListCompanyIDs(_ context.Context) ([]domain.CompanyID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.CompanyID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}
