package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"conformo/internal/catalog/models"
	"conformo/pkg/domain"
	"conformo/pkg/platform/sentinel"
)

// Postgres persists catalog versions as immutable snapshots with a single
// current-pointer row. The whole append (version row, rule rows, pointer
// swap) runs in one transaction, so readers observe either the old or the
// new version in full.
//
// Schema:
//
//	catalog_versions(number PK, loaded_at)
//	catalog_rules(version FK, position, code, kind, description, legal_basis,
//	              scope, theme, subtheme, risk_level, enforcing_agency,
//	              unconditional, cnae_prefixes, states, supersedes,
//	              effective_from, updated_at)
//	catalog_current(singleton PK, version FK)
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var catalogSchema = []string{`
CREATE TABLE IF NOT EXISTS catalog_versions (
	number    INTEGER PRIMARY KEY,
	loaded_at TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS catalog_rules (
	version          INTEGER NOT NULL REFERENCES catalog_versions(number),
	position         INTEGER NOT NULL,
	code             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	description      TEXT NOT NULL,
	legal_basis      TEXT NOT NULL,
	scope            TEXT[] NOT NULL DEFAULT '{}',
	theme            TEXT NOT NULL,
	subtheme         TEXT NOT NULL DEFAULT '',
	risk_level       TEXT NOT NULL,
	enforcing_agency TEXT NOT NULL DEFAULT '',
	unconditional    BOOLEAN NOT NULL,
	cnae_prefixes    TEXT[] NOT NULL DEFAULT '{}',
	states           TEXT[] NOT NULL DEFAULT '{}',
	supersedes       TEXT NOT NULL DEFAULT '',
	effective_from   TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (version, code)
)`, `
CREATE TABLE IF NOT EXISTS catalog_current (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	version   INTEGER NOT NULL REFERENCES catalog_versions(number)
)`}

// EnsureSchema creates the catalog tables when they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range catalogSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure catalog schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Append(ctx context.Context, v *models.CatalogVersion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin catalog append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO catalog_versions (number, loaded_at)
		VALUES ($1, $2)
		ON CONFLICT (number) DO NOTHING
	`, v.Number(), v.LoadedAt())
	if err != nil {
		return fmt.Errorf("insert catalog version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}

	batch := &pgx.Batch{}
	for i, r := range v.Rules() {
		batch.Queue(`
			INSERT INTO catalog_rules (
				version, position, code, kind, description, legal_basis, scope,
				theme, subtheme, risk_level, enforcing_agency,
				unconditional, cnae_prefixes, states, supersedes,
				effective_from, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			v.Number(), i, r.Code.String(), string(r.Kind), r.Description, r.LegalBasis, r.Scope,
			r.Theme, r.Subtheme, string(r.RiskLevel), r.EnforcingAgency,
			r.Applicability.Unconditional, r.Applicability.CNAEPrefixes, r.Applicability.States, r.Supersedes.String(),
			r.EffectiveFrom, r.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert catalog rules: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO catalog_current (singleton, version)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET version = EXCLUDED.version
	`, v.Number()); err != nil {
		return fmt.Errorf("swap current catalog pointer: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Postgres) Current(ctx context.Context) (*models.CatalogVersion, error) {
	var number int
	err := s.pool.QueryRow(ctx, `SELECT version FROM catalog_current WHERE singleton`).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read current catalog pointer: %w", err)
	}
	return s.Version(ctx, number)
}

func (s *Postgres) Version(ctx context.Context, number int) (*models.CatalogVersion, error) {
	var loadedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT loaded_at FROM catalog_versions WHERE number = $1`, number).Scan(&loadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog version %d: %w", number, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT code, kind, description, legal_basis, scope, theme, subtheme,
		       risk_level, enforcing_agency, unconditional, cnae_prefixes,
		       states, supersedes, effective_from, updated_at
		FROM catalog_rules
		WHERE version = $1
		ORDER BY position
	`, number)
	if err != nil {
		return nil, fmt.Errorf("read catalog rules: %w", err)
	}
	defer rows.Close()

	var rules []models.LegalRequirement
	for rows.Next() {
		var (
			r          models.LegalRequirement
			code       string
			kind       string
			risk       string
			supersedes string
		)
		if err := rows.Scan(
			&code, &kind, &r.Description, &r.LegalBasis, &r.Scope, &r.Theme, &r.Subtheme,
			&risk, &r.EnforcingAgency, &r.Applicability.Unconditional, &r.Applicability.CNAEPrefixes,
			&r.Applicability.States, &supersedes, &r.EffectiveFrom, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan catalog rule: %w", err)
		}
		r.Code = domain.RequirementCode(code)
		r.Kind = models.RequirementKind(kind)
		r.RiskLevel = models.RiskLevel(risk)
		r.Supersedes = domain.RequirementCode(supersedes)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rules: %w", err)
	}

	return models.NewCatalogVersion(number, rules, loadedAt), nil
}
