// Package derivation turns a company profile and the current catalog
// snapshot into the set of applicable requirements, and reconciles that set
// against the obligations already on record. Matching and synthesis are pure
// domain logic; the service and scheduler around them own I/O and locking.
package derivation

import (
	"strings"

	catalogmodels "conformo/internal/catalog/models"
	companymodels "conformo/internal/company/models"
	"conformo/pkg/domain"
)

// Match computes the applicable requirement set for a profile against one
// catalog snapshot.
//
// A rule applies when any of its applicability axes hits:
//   - unconditional rules apply to every company
//   - a CNAE prefix rule applies when any profile CNAE starts with a prefix
//   - a state rule applies when the profile operates in that state
//
// The profile is validated and normalized first; a malformed profile yields
// a validation error and no partial result. The result carries each
// requirement once, in catalog order, regardless of how many axes matched.
func Match(profile companymodels.CompanyProfile, version *catalogmodels.CatalogVersion) ([]catalogmodels.LegalRequirement, error) {
	normalized := profile.Normalized()
	if err := normalized.Validate(); err != nil {
		return nil, err
	}

	states := make(map[string]struct{}, len(normalized.States))
	for _, uf := range normalized.States {
		states[uf] = struct{}{}
	}

	var matched []catalogmodels.LegalRequirement
	seen := make(map[domain.RequirementCode]struct{})
	for _, rule := range version.Rules() {
		if !applies(rule.Applicability, normalized.CNAECodes, states) {
			continue
		}
		if _, dup := seen[rule.Code]; dup {
			continue
		}
		seen[rule.Code] = struct{}{}
		matched = append(matched, rule)
	}
	return matched, nil
}

// applies checks one rule's applicability axes. Rule prefixes are compared
// against the full 7-digit CNAE codes: the seed corpus uses two-digit
// division prefixes, but a longer or shorter prefix works the same way.
func applies(a catalogmodels.Applicability, cnaeCodes []string, states map[string]struct{}) bool {
	if a.Unconditional {
		return true
	}
	for _, prefix := range a.CNAEPrefixes {
		if prefix == "" {
			continue
		}
		for _, cnae := range cnaeCodes {
			if strings.HasPrefix(cnae, prefix) {
				return true
			}
		}
	}
	for _, uf := range a.States {
		if _, ok := states[uf]; ok {
			return true
		}
	}
	return false
}
