//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"conformo/internal/catalog/models"
	"conformo/internal/catalog/seed"
	"conformo/internal/catalog/store"
	"conformo/pkg/domain"
	"conformo/pkg/platform/sentinel"
	"conformo/pkg/testutil/containers"
)

type CatalogPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestCatalogPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CatalogPostgresSuite))
}

func (s *CatalogPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.Pool)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *CatalogPostgresSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "catalog_current", "catalog_rules", "catalog_versions")
	s.Require().NoError(err)
}

func (s *CatalogPostgresSuite) version(number int) *models.CatalogVersion {
	loadedAt := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(number) * time.Hour)
	return models.NewCatalogVersion(number, seed.Requirements(), loadedAt)
}

func (s *CatalogPostgresSuite) TestAppendAndCurrent() {
	ctx := context.Background()

	_, err := s.store.Current(ctx)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	v1 := s.version(1)
	s.Require().NoError(s.store.Append(ctx, v1))

	current, err := s.store.Current(ctx)
	s.Require().NoError(err)
	s.Equal(1, current.Number())
	s.Len(current.Rules(), len(seed.Requirements()))
}

func (s *CatalogPostgresSuite) TestRoundTripPreservesRules() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.version(1)))

	got, err := s.store.Version(ctx, 1)
	s.Require().NoError(err)

	want := seed.Requirements()
	s.Require().Len(got.Rules(), len(want))
	for i, rule := range got.Rules() {
		s.Equal(want[i].Code, rule.Code, "catalog order must survive the round trip")
		s.Equal(want[i].RiskLevel, rule.RiskLevel)
		s.Equal(want[i].Applicability.Unconditional, rule.Applicability.Unconditional)
		s.ElementsMatch(want[i].Applicability.CNAEPrefixes, rule.Applicability.CNAEPrefixes)
		s.ElementsMatch(want[i].Applicability.States, rule.Applicability.States)
	}
}

func (s *CatalogPostgresSuite) TestDuplicateVersionNumberConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.version(1)))
	s.Require().ErrorIs(s.store.Append(ctx, s.version(1)), sentinel.ErrConflict)
}

func (s *CatalogPostgresSuite) TestPointerSwap() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.version(1)))

	// Version 2 drops one rule; the pointer must move and version 1 must
	// remain readable as an immutable snapshot.
	rules := seed.Requirements()[1:]
	v2 := models.NewCatalogVersion(2, rules, time.Now().UTC())
	s.Require().NoError(s.store.Append(ctx, v2))

	current, err := s.store.Current(ctx)
	s.Require().NoError(err)
	s.Equal(2, current.Number())
	s.Len(current.Rules(), len(rules))

	old, err := s.store.Version(ctx, 1)
	s.Require().NoError(err)
	s.Len(old.Rules(), len(seed.Requirements()))
}

func (s *CatalogPostgresSuite) TestUnknownVersion() {
	_, err := s.store.Version(context.Background(), 99)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CatalogPostgresSuite) TestSupersedesRoundTrip() {
	ctx := context.Background()

	rules := seed.Requirements()[:3]
	successor := rules[0]
	successor.Code = domain.RequirementCode(rules[0].Code.String() + "-REV")
	successor.Supersedes = rules[0].Code
	v1 := models.NewCatalogVersion(1, append(rules[1:], successor), time.Now().UTC())
	s.Require().NoError(s.store.Append(ctx, v1))

	got, err := s.store.Current(ctx)
	s.Require().NoError(err)
	stored, ok := got.ByCode(successor.Code)
	s.Require().True(ok)
	s.Equal(rules[0].Code, stored.Supersedes)
}
