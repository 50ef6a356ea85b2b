// Package lock serializes re-evaluation per company. A second derivation for
// a company whose run is still in flight is rejected, never queued; the
// caller retries.
package lock

import (
	"context"
	"sync"

	"conformo/pkg/domain"
)

// RunLock is the single-flight port. Acquire returns false when a run for
// the company is already in flight.
type RunLock interface {
	Acquire(ctx context.Context, companyID domain.CompanyID) (bool, error)
	Release(ctx context.Context, companyID domain.CompanyID) error
}

// Memory is the in-process lock for single-node deployments and tests.
type Memory struct {
	mu       sync.Mutex
	inFlight map[domain.CompanyID]struct{}
}

func NewMemory() *Memory {
	return &Memory{inFlight: make(map[domain.CompanyID]struct{})}
}

func (m *Memory) Acquire(_ context.Context, companyID domain.CompanyID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[companyID]; busy {
		return false, nil
	}
	m.inFlight[companyID] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, companyID domain.CompanyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, companyID)
	return nil
}
