package models

import (
	"time"

	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
)

// History actions. The action string plus statusBefore/statusAfter make each
// entry self-describing for the audit view.
const (
	ActionRequirementMatched = "requirement matched"
	ActionRequirementRetired = "requirement no longer applicable"
	ActionStatusChanged      = "status changed"
	ActionCarriedForward     = "carried forward from superseded requirement"
	ActionSuperseded         = "superseded by newer requirement"
)

// EvidenceRef is an opaque pointer into the evidence-storage collaborator.
// The engine never reads or parses the content behind it.
type EvidenceRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ObligationHistory is one append-only audit entry. Entries are immutable
// once written.
type ObligationHistory struct {
	ID           domain.HistoryID    `json:"id"`
	ObligationID domain.ObligationID `json:"obligation_id"`
	Timestamp    time.Time           `json:"timestamp"`
	Actor        string              `json:"actor"`
	Action       string              `json:"action"`
	StatusBefore *ComplianceStatus   `json:"status_before,omitempty"`
	StatusAfter  *ComplianceStatus   `json:"status_after,omitempty"`
	Note         string              `json:"note,omitempty"`
}

// Obligation is the engine-owned record of one requirement applying to one
// company.
//
// Invariants:
//   - exactly one Obligation per (CompanyID, RequirementCode) pair
//   - Status changes only through the lifecycle table or a privileged
//     retirement; every change appends exactly one history entry
//   - History is append-only; retirement never deletes the record
type Obligation struct {
	ID              domain.ObligationID    `json:"id"`
	RequirementCode domain.RequirementCode `json:"requirement_code"`
	CompanyID       domain.CompanyID       `json:"company_id"`
	Status          ComplianceStatus       `json:"status"`
	Responsible     string                 `json:"responsible,omitempty"`
	Deadline        *time.Time             `json:"deadline,omitempty"`
	EvaluatedAt     *time.Time             `json:"evaluated_at,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	EvidenceRefs    []EvidenceRef          `json:"evidence_refs,omitempty"`
	History         []ObligationHistory    `json:"history,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// NewObligation creates the record for a freshly matched requirement, in the
// entry state, with its first history entry.
func NewObligation(companyID domain.CompanyID, code domain.RequirementCode, now time.Time, actor string) *Obligation {
	o := &Obligation{
		ID:              domain.NewObligationID(),
		RequirementCode: code,
		CompanyID:       companyID,
		Status:          StatusNaoAvaliado,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// Copy the status: history entries are immutable, so they must never
	// point into the live struct.
	entryStatus := o.Status
	o.appendHistory(now, actor, ActionRequirementMatched, nil, &entryStatus, "")
	return o
}

// CanTransitionTo checks the manual/sweep transition against the lifecycle
// table.
func (o *Obligation) CanTransitionTo(next ComplianceStatus) error {
	if !next.Valid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown status "+string(next))
	}
	if !o.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"cannot transition from "+string(o.Status)+" to "+string(next))
	}
	return nil
}

// ApplyTransition validates and applies a lifecycle transition, appending
// exactly one history entry. The obligation is untouched on error.
func (o *Obligation) ApplyTransition(next ComplianceStatus, actor, note string, now time.Time) error {
	if err := o.CanTransitionTo(next); err != nil {
		return err
	}
	before := o.Status
	o.Status = next
	o.EvaluatedAt = &now
	o.UpdatedAt = now
	o.appendHistory(now, actor, ActionStatusChanged, &before, &next, note)
	return nil
}

// Retire is the privileged system transition applied when the requirement no
// longer matches the profile. It moves any status to nao_aplicavel and keeps
// the record.
func (o *Obligation) Retire(now time.Time, note string) {
	if o.Status == StatusNaoAplicavel {
		return
	}
	before := o.Status
	after := StatusNaoAplicavel
	o.Status = after
	o.UpdatedAt = now
	if note == "" {
		note = ActionRequirementRetired
	}
	o.appendHistory(now, "system", ActionRequirementRetired, &before, &after, note)
}

// AppendNote writes a history entry without changing status (e.g. the
// carry-forward marker on a superseding obligation).
func (o *Obligation) AppendNote(now time.Time, actor, action, note string) {
	o.appendHistory(now, actor, action, nil, nil, note)
}

func (o *Obligation) appendHistory(now time.Time, actor, action string, before, after *ComplianceStatus, note string) {
	o.History = append(o.History, ObligationHistory{
		ID:           domain.NewHistoryID(),
		ObligationID: o.ID,
		Timestamp:    now,
		Actor:        actor,
		Action:       action,
		StatusBefore: before,
		StatusAfter:  after,
		Note:         note,
	})
}

// Clone returns a deep copy so stores never hand out aliased slices.
func (o *Obligation) Clone() *Obligation {
	c := *o
	c.EvidenceRefs = append([]EvidenceRef(nil), o.EvidenceRefs...)
	c.History = append([]ObligationHistory(nil), o.History...)
	if o.Deadline != nil {
		d := *o.Deadline
		c.Deadline = &d
	}
	if o.EvaluatedAt != nil {
		e := *o.EvaluatedAt
		c.EvaluatedAt = &e
	}
	return &c
}
