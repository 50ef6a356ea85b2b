package models

import (
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	platformstrings "conformo/pkg/platform/strings"
)

// brazilianStates is the closed set of two-letter federative unit codes.
var brazilianStates = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {},
	"ES": {}, "GO": {}, "MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {},
	"PB": {}, "PR": {}, "PE": {}, "PI": {}, "RJ": {}, "RN": {}, "RS": {},
	"RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
}

// CompanyProfile is the operational snapshot the engine derives from. It is
// owned by the company-registry collaborator; the engine reads it, never
// writes it. ProfileVersion is opaque and only compared for equality.
type CompanyProfile struct {
	CompanyID      domain.CompanyID `json:"company_id"`
	CNAECodes      []string         `json:"cnae_codes"`
	States         []string         `json:"states"`
	DeclaredRisks  []string         `json:"declared_risks,omitempty"`
	EmployeeCount  *int             `json:"employee_count,omitempty"`
	ProfileVersion string           `json:"profile_version"`
}

// Normalized returns a copy with codes trimmed, deduplicated and state codes
// uppercased. The original snapshot is untouched.
func (p CompanyProfile) Normalized() CompanyProfile {
	p.CNAECodes = platformstrings.DedupeAndTrim(p.CNAECodes)
	p.States = platformstrings.DedupeAndTrimUpper(p.States)
	p.DeclaredRisks = platformstrings.DedupeAndTrim(p.DeclaredRisks)
	return p
}

// Validate checks the snapshot before matching. Any failure aborts the whole
// derivation for this profile; partial results are never emitted.
func (p CompanyProfile) Validate() error {
	if p.CompanyID.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "company id is required")
	}
	for _, code := range p.CNAECodes {
		if !validCNAE(code) {
			return dErrors.New(dErrors.CodeValidation, "invalid cnae code "+code+": expected 7 digits")
		}
	}
	for _, uf := range p.States {
		if _, ok := brazilianStates[uf]; !ok {
			return dErrors.New(dErrors.CodeValidation, "unknown state code "+uf)
		}
	}
	return nil
}

func validCNAE(code string) bool {
	if len(code) != 7 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
