package models

import (
	"time"

	"conformo/pkg/domain"
)

// ActionPlanStatus tracks a remediation plan. Only aberto counts against the
// one-active-plan-per-obligation invariant.
type ActionPlanStatus string

const (
	PlanAberto    ActionPlanStatus = "aberto"
	PlanConcluido ActionPlanStatus = "concluido"
	PlanCancelado ActionPlanStatus = "cancelado"
)

// ActionPlan is a derived remediation task opened when an obligation turns
// adverse at high risk. It is advisory: it never feeds back into the
// obligation's status.
type ActionPlan struct {
	ID           domain.ActionPlanID `json:"id"`
	ObligationID domain.ObligationID `json:"obligation_id"`
	CompanyID    domain.CompanyID    `json:"company_id"`
	Title        string              `json:"title"`
	Status       ActionPlanStatus    `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func NewActionPlan(o *Obligation, title string, now time.Time) *ActionPlan {
	return &ActionPlan{
		ID:           domain.NewActionPlanID(),
		ObligationID: o.ID,
		CompanyID:    o.CompanyID,
		Title:        title,
		Status:       PlanAberto,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (p *ActionPlan) IsActive() bool { return p.Status == PlanAberto }
