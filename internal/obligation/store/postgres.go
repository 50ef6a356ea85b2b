package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"conformo/internal/obligation/models"
	"conformo/pkg/domain"
	"conformo/pkg/platform/sentinel"
)

// Postgres persists obligations keyed by (company_id, requirement_code),
// append-only history rows and action plans. A partial unique index on
// action_plans (obligation_id WHERE status = 'aberto') backs the one-active-
// plan invariant; the (company_id, requirement_code) unique constraint backs
// the primary-key invariant.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var obligationSchema = []string{`
CREATE TABLE IF NOT EXISTS obligations (
	id               UUID PRIMARY KEY,
	company_id       TEXT NOT NULL,
	requirement_code TEXT NOT NULL,
	status           TEXT NOT NULL,
	responsible      TEXT NOT NULL DEFAULT '',
	deadline         TIMESTAMPTZ,
	evaluated_at     TIMESTAMPTZ,
	notes            TEXT NOT NULL DEFAULT '',
	evidence_ids     TEXT[] NOT NULL DEFAULT '{}',
	evidence_urls    TEXT[] NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (company_id, requirement_code)
)`, `
CREATE TABLE IF NOT EXISTS obligation_history (
	id            UUID PRIMARY KEY,
	obligation_id UUID NOT NULL REFERENCES obligations(id),
	ts            TIMESTAMPTZ NOT NULL,
	actor         TEXT NOT NULL,
	action        TEXT NOT NULL,
	status_before TEXT,
	status_after  TEXT,
	note          TEXT NOT NULL DEFAULT ''
)`, `
CREATE TABLE IF NOT EXISTS action_plans (
	id            UUID PRIMARY KEY,
	obligation_id UUID NOT NULL REFERENCES obligations(id),
	company_id    TEXT NOT NULL,
	title         TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
)`, `
CREATE UNIQUE INDEX IF NOT EXISTS action_plans_one_active
	ON action_plans (obligation_id) WHERE status = 'aberto'`}

// EnsureSchema creates the obligation tables when they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range obligationSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure obligation schema: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id domain.ObligationID) (*models.Obligation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, requirement_code, status, responsible, deadline,
		       evaluated_at, notes, evidence_ids, evidence_urls, created_at, updated_at
		FROM obligations WHERE id = $1
	`, id.String())
	o, err := scanObligation(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Postgres) ListByCompany(ctx context.Context, companyID domain.CompanyID) ([]*models.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, requirement_code, status, responsible, deadline,
		       evaluated_at, notes, evidence_ids, evidence_urls, created_at, updated_at
		FROM obligations WHERE company_id = $1
		ORDER BY requirement_code
	`, companyID.String())
	if err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}
	defer rows.Close()

	var out []*models.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate obligations: %w", err)
	}
	for _, o := range out {
		if err := s.loadHistory(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyDiff commits one synthesis diff in a single transaction: insert the
// added obligations, persist the retired ones, and append every new history
// entry. History inserts are idempotent on id so re-applying existing
// entries is harmless.
func (s *Postgres) ApplyDiff(ctx context.Context, added, retired []*models.Obligation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply diff: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range added {
		if err := insertObligation(ctx, tx, o); err != nil {
			return err
		}
	}
	for _, o := range retired {
		if err := updateObligation(ctx, tx, o); err != nil {
			return err
		}
	}
	for _, o := range append(append([]*models.Obligation{}, added...), retired...) {
		if err := appendHistory(ctx, tx, o); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Postgres) Update(ctx context.Context, o *models.Obligation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateObligation(ctx, tx, o); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Postgres) ListSweepCandidates(ctx context.Context) ([]*models.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, requirement_code, status, responsible, deadline,
		       evaluated_at, notes, evidence_ids, evidence_urls, created_at, updated_at
		FROM obligations
		WHERE deadline IS NOT NULL AND status IN ('pendente', 'avencer')
	`)
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Postgres) ActivePlanByObligation(ctx context.Context, obligationID domain.ObligationID) (*models.ActionPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, obligation_id, company_id, title, status, created_at, updated_at
		FROM action_plans WHERE obligation_id = $1 AND status = 'aberto'
	`, obligationID.String())
	return scanPlan(row)
}

func (s *Postgres) SavePlan(ctx context.Context, plan *models.ActionPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_plans (id, obligation_id, company_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, plan.ID.String(), plan.ObligationID.String(), plan.CompanyID.String(),
		plan.Title, string(plan.Status), plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save action plan: %w", err)
	}
	return nil
}

func (s *Postgres) ListPlansByCompany(ctx context.Context, companyID domain.CompanyID) ([]*models.ActionPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, obligation_id, company_id, title, status, created_at, updated_at
		FROM action_plans WHERE company_id = $1 ORDER BY created_at
	`, companyID.String())
	if err != nil {
		return nil, fmt.Errorf("list action plans: %w", err)
	}
	defer rows.Close()

	var out []*models.ActionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObligation(row scanner) (*models.Obligation, error) {
	var (
		o            models.Obligation
		id           string
		companyID    string
		code         string
		status       string
		evidenceIDs  pq.StringArray
		evidenceURLs pq.StringArray
	)
	err := row.Scan(&id, &companyID, &code, &status, &o.Responsible, &o.Deadline,
		&o.EvaluatedAt, &o.Notes, &evidenceIDs, &evidenceURLs, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan obligation: %w", err)
	}
	oid, err := domain.ParseObligationID(id)
	if err != nil {
		return nil, fmt.Errorf("parse obligation id: %w", err)
	}
	o.ID = oid
	o.CompanyID = domain.CompanyID(companyID)
	o.RequirementCode = domain.RequirementCode(code)
	o.Status = models.ComplianceStatus(status)
	for i := range evidenceIDs {
		ref := models.EvidenceRef{ID: evidenceIDs[i]}
		if i < len(evidenceURLs) {
			ref.URL = evidenceURLs[i]
		}
		o.EvidenceRefs = append(o.EvidenceRefs, ref)
	}
	return &o, nil
}

func scanPlan(row scanner) (*models.ActionPlan, error) {
	var (
		p            models.ActionPlan
		id           string
		obligationID string
		companyID    string
		status       string
	)
	err := row.Scan(&id, &obligationID, &companyID, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan action plan: %w", err)
	}
	planUUID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse plan id: %w", err)
	}
	p.ID = domain.ActionPlanID(planUUID)
	oid, err := domain.ParseObligationID(obligationID)
	if err != nil {
		return nil, fmt.Errorf("parse plan obligation id: %w", err)
	}
	p.ObligationID = oid
	p.CompanyID = domain.CompanyID(companyID)
	p.Status = models.ActionPlanStatus(status)
	return &p, nil
}

func insertObligation(ctx context.Context, tx *sql.Tx, o *models.Obligation) error {
	ids, urls := evidenceColumns(o)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO obligations (
			id, company_id, requirement_code, status, responsible, deadline,
			evaluated_at, notes, evidence_ids, evidence_urls, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, o.ID.String(), o.CompanyID.String(), o.RequirementCode.String(), string(o.Status),
		o.Responsible, o.Deadline, o.EvaluatedAt, o.Notes, ids, urls, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert obligation: %w", err)
	}
	return nil
}

func updateObligation(ctx context.Context, tx *sql.Tx, o *models.Obligation) error {
	ids, urls := evidenceColumns(o)
	res, err := tx.ExecContext(ctx, `
		UPDATE obligations SET
			status = $2, responsible = $3, deadline = $4, evaluated_at = $5,
			notes = $6, evidence_ids = $7, evidence_urls = $8, updated_at = $9
		WHERE id = $1
	`, o.ID.String(), string(o.Status), o.Responsible, o.Deadline, o.EvaluatedAt,
		o.Notes, ids, urls, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// appendHistory inserts the obligation's history entries, skipping rows that
// already exist. History is append-only: rows are never updated or deleted.
func appendHistory(ctx context.Context, tx *sql.Tx, o *models.Obligation) error {
	for _, h := range o.History {
		var before, after *string
		if h.StatusBefore != nil {
			v := string(*h.StatusBefore)
			before = &v
		}
		if h.StatusAfter != nil {
			v := string(*h.StatusAfter)
			after = &v
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO obligation_history (id, obligation_id, ts, actor, action, status_before, status_after, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING
		`, h.ID.String(), h.ObligationID.String(), h.Timestamp, h.Actor, h.Action, before, after, h.Note)
		if err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	return nil
}

func (s *Postgres) loadHistory(ctx context.Context, o *models.Obligation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, obligation_id, ts, actor, action, status_before, status_after, note
		FROM obligation_history WHERE obligation_id = $1 ORDER BY ts, id
	`, o.ID.String())
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	o.History = nil
	for rows.Next() {
		var (
			h             models.ObligationHistory
			id            string
			obligationID  string
			before, after *string
		)
		if err := rows.Scan(&id, &obligationID, &h.Timestamp, &h.Actor, &h.Action, &before, &after, &h.Note); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		hid, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("parse history id: %w", err)
		}
		h.ID = domain.HistoryID(hid)
		oid, err := domain.ParseObligationID(obligationID)
		if err != nil {
			return fmt.Errorf("parse history obligation id: %w", err)
		}
		h.ObligationID = oid
		if before != nil {
			v := models.ComplianceStatus(*before)
			h.StatusBefore = &v
		}
		if after != nil {
			v := models.ComplianceStatus(*after)
			h.StatusAfter = &v
		}
		o.History = append(o.History, h)
	}
	return rows.Err()
}

func evidenceColumns(o *models.Obligation) (pq.StringArray, pq.StringArray) {
	ids := make(pq.StringArray, 0, len(o.EvidenceRefs))
	urls := make(pq.StringArray, 0, len(o.EvidenceRefs))
	for _, ref := range o.EvidenceRefs {
		ids = append(ids, ref.ID)
		urls = append(urls, ref.URL)
	}
	return ids, urls
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
