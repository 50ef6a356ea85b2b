// Package service implements the requirement catalog: one immutable,
// internally consistent rule set active at a time, upgraded atomically.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conformo/internal/catalog/models"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/sentinel"
)

// Store persists catalog versions. Append must atomically make the new
// version the current one; readers see either the old or the new version in
// full, never a partial swap.
type Store interface {
	Append(ctx context.Context, v *models.CatalogVersion) error
	Current(ctx context.Context) (*models.CatalogVersion, error)
	Version(ctx context.Context, number int) (*models.CatalogVersion, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	svc := &Service{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Load validates the rule batch as a whole and appends it as the next catalog
// version. On any integrity failure the previous version stays current and an
// error with CodeCatalogIntegrity is returned.
func (s *Service) Load(ctx context.Context, rules []models.LegalRequirement) (*models.CatalogVersion, error) {
	prev, err := s.store.Current(ctx)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read current catalog")
	}

	if err := validateBatch(rules, prev); err != nil {
		return nil, err
	}

	number := 1
	if prev != nil {
		number = prev.Number() + 1
	}
	version := models.NewCatalogVersion(number, rules, s.clock())

	if err := s.store.Append(ctx, version); err != nil {
		// Another load claimed this version number first. The caller can
		// retry against the freshly swapped catalog.
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "concurrent catalog load, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist catalog version")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "catalog version loaded",
			"version", version.Number(),
			"rules", version.Len(),
		)
	}
	return version, nil
}

// Current returns the active catalog version.
func (s *Service) Current(ctx context.Context) (*models.CatalogVersion, error) {
	v, err := s.store.Current(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no catalog loaded")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read current catalog")
	}
	return v, nil
}

// Diff computes the change set between two stored versions.
func (s *Service) Diff(ctx context.Context, from, to int) (models.VersionDiff, error) {
	old, err := s.store.Version(ctx, from)
	if err != nil {
		return models.VersionDiff{}, s.versionErr(from, err)
	}
	next, err := s.store.Version(ctx, to)
	if err != nil {
		return models.VersionDiff{}, s.versionErr(to, err)
	}
	return models.DiffVersions(old, next), nil
}

func (s *Service) versionErr(number int, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("catalog version %d not found", number))
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read catalog version")
}

// validateBatch runs the cross-rule integrity checks. prev is nil on the very
// first load, which relaxes the supersedes check (there is no prior version to
// reference).
func validateBatch(rules []models.LegalRequirement, prev *models.CatalogVersion) error {
	if len(rules) == 0 {
		return dErrors.New(dErrors.CodeCatalogIntegrity, "catalog batch cannot be empty")
	}

	seen := make(map[domain.RequirementCode]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Code]; dup {
			return dErrors.New(dErrors.CodeCatalogIntegrity, "duplicate requirement code "+r.Code.String())
		}
		seen[r.Code] = struct{}{}
	}

	for _, r := range rules {
		if r.Supersedes.IsEmpty() {
			continue
		}
		if _, alsoPresent := seen[r.Supersedes]; alsoPresent {
			return dErrors.New(dErrors.CodeCatalogIntegrity,
				"requirement "+r.Code.String()+" supersedes "+r.Supersedes.String()+" which is still in the batch")
		}
		if prev != nil && !prev.Contains(r.Supersedes) {
			return dErrors.New(dErrors.CodeCatalogIntegrity,
				"requirement "+r.Code.String()+" supersedes unknown code "+r.Supersedes.String())
		}
	}
	return nil
}
