package models

import (
	"time"

	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
)

// RequirementKind distinguishes the underlying rule (RL, "requisito legal")
// from an obligation instance (OL, "obrigação legal"). Catalog rules are RL;
// OL exists for corpora that declare standing obligations directly.
type RequirementKind string

const (
	KindRequisitoLegal RequirementKind = "RL"
	KindObrigacaoLegal RequirementKind = "OL"
)

func (k RequirementKind) Valid() bool {
	return k == KindRequisitoLegal || k == KindObrigacaoLegal
}

// RiskLevel grades the consequence of non-compliance with a requirement.
type RiskLevel string

const (
	RiskBaixo   RiskLevel = "baixo"
	RiskMedio   RiskLevel = "medio"
	RiskAlto    RiskLevel = "alto"
	RiskCritico RiskLevel = "critico"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskBaixo, RiskMedio, RiskAlto, RiskCritico:
		return true
	}
	return false
}

// RequiresActionPlan reports whether an adverse status on a requirement of
// this risk level must open an action plan.
func (r RiskLevel) RequiresActionPlan() bool {
	return r == RiskAlto || r == RiskCritico
}

// Applicability is the declarative predicate deciding whether a requirement
// matches a company profile. A rule matches when it is unconditional, when any
// profile CNAE code starts with one of its prefixes, or when any profile state
// is in its state list.
type Applicability struct {
	Unconditional bool     `json:"unconditional"`
	CNAEPrefixes  []string `json:"cnae_prefixes,omitempty"`
	States        []string `json:"states,omitempty"`
}

// IsEmpty reports whether the predicate can never match any profile.
func (a Applicability) IsEmpty() bool {
	return !a.Unconditional && len(a.CNAEPrefixes) == 0 && len(a.States) == 0
}

// LegalRequirement is one rule of the catalog. Rules are immutable once a
// catalog version is loaded; a later version replaces them wholesale.
type LegalRequirement struct {
	Code            domain.RequirementCode `json:"code"`
	Kind            RequirementKind        `json:"kind"`
	Description     string                 `json:"description"`
	LegalBasis      string                 `json:"legal_basis"`
	Scope           []string               `json:"scope,omitempty"`
	Theme           string                 `json:"theme"`
	Subtheme        string                 `json:"subtheme,omitempty"`
	RiskLevel       RiskLevel              `json:"risk_level"`
	EnforcingAgency string                 `json:"enforcing_agency,omitempty"`
	Applicability   Applicability          `json:"applicability"`

	// Supersedes references a code present in the previous catalog version
	// that this rule formally replaces (a renumbered law).
	Supersedes domain.RequirementCode `json:"supersedes,omitempty"`

	EffectiveFrom time.Time `json:"effective_from"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the rule in isolation. Cross-rule checks (duplicate codes,
// supersedes targets) happen at catalog load.
func (r LegalRequirement) Validate() error {
	if r.Code.IsEmpty() {
		return dErrors.New(dErrors.CodeCatalogIntegrity, "requirement code cannot be empty")
	}
	if !r.Kind.Valid() {
		return dErrors.New(dErrors.CodeCatalogIntegrity, "requirement "+r.Code.String()+" has invalid kind")
	}
	if !r.RiskLevel.Valid() {
		return dErrors.New(dErrors.CodeCatalogIntegrity, "requirement "+r.Code.String()+" has invalid risk level")
	}
	if r.Applicability.IsEmpty() {
		return dErrors.New(dErrors.CodeCatalogIntegrity, "requirement "+r.Code.String()+" can never match any profile")
	}
	return nil
}
