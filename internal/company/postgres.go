package company

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"conformo/internal/company/models"
	"conformo/pkg/domain"
	"conformo/pkg/platform/sentinel"
)

// PostgresRegistry reads profile snapshots from the registry service's
// replicated table. The engine never writes to it; Put exists for seeding
// development databases.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

const profilesSchema = `
CREATE TABLE IF NOT EXISTS company_profiles (
	company_id      TEXT PRIMARY KEY,
	cnae_codes      TEXT[] NOT NULL DEFAULT '{}',
	states          TEXT[] NOT NULL DEFAULT '{}',
	declared_risks  TEXT[] NOT NULL DEFAULT '{}',
	employee_count  INTEGER,
	profile_version TEXT NOT NULL DEFAULT ''
)`

func NewPostgresRegistry(ctx context.Context, pool *pgxpool.Pool) (*PostgresRegistry, error) {
	if _, err := pool.Exec(ctx, profilesSchema); err != nil {
		return nil, fmt.Errorf("ensure company_profiles schema: %w", err)
	}
	return &PostgresRegistry{pool: pool}, nil
}

func (r *PostgresRegistry) Snapshot(ctx context.Context, companyID domain.CompanyID) (models.CompanyProfile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT company_id, cnae_codes, states, declared_risks, employee_count, profile_version
		FROM company_profiles
		WHERE company_id = $1`, string(companyID))

	var profile models.CompanyProfile
	var id string
	if err := row.Scan(&id, &profile.CNAECodes, &profile.States, &profile.DeclaredRisks,
		&profile.EmployeeCount, &profile.ProfileVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CompanyProfile{}, sentinel.ErrNotFound
		}
		return models.CompanyProfile{}, fmt.Errorf("snapshot company profile: %w", err)
	}
	profile.CompanyID = domain.CompanyID(id)
	return profile, nil
}

func (r *PostgresRegistry) ListCompanyIDs(ctx context.Context) ([]domain.CompanyID, error) {
	rows, err := r.pool.Query(ctx, `SELECT company_id FROM company_profiles ORDER BY company_id`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var ids []domain.CompanyID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan company id: %w", err)
		}
		ids = append(ids, domain.CompanyID(id))
	}
	return ids, rows.Err()
}

// Put upserts a profile snapshot. Development seeding only.
func (r *PostgresRegistry) Put(ctx context.Context, profile models.CompanyProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO company_profiles (company_id, cnae_codes, states, declared_risks, employee_count, profile_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id) DO UPDATE SET
			cnae_codes = EXCLUDED.cnae_codes,
			states = EXCLUDED.states,
			declared_risks = EXCLUDED.declared_risks,
			employee_count = EXCLUDED.employee_count,
			profile_version = EXCLUDED.profile_version`,
		string(profile.CompanyID), profile.CNAECodes, profile.States,
		profile.DeclaredRisks, profile.EmployeeCount, profile.ProfileVersion)
	if err != nil {
		return fmt.Errorf("upsert company profile: %w", err)
	}
	return nil
}
