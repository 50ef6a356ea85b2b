package models

import (
	"time"

	"conformo/pkg/domain"
)

// CatalogVersion is an immutable snapshot of the rule corpus. A new load
// produces a new version; readers holding an old pointer keep a consistent
// view until they re-fetch, so in-flight matches never observe a mix of old
// and new rules.
//
// Invariants:
//   - Code is unique across rules
//   - rules keep load order (matching output is deterministic)
//   - no mutation after construction
type CatalogVersion struct {
	number   int
	loadedAt time.Time
	rules    []LegalRequirement
	byCode   map[domain.RequirementCode]int
	// supersededBy maps an old code to the rule in this version replacing it.
	supersededBy map[domain.RequirementCode]domain.RequirementCode
}

// NewCatalogVersion builds the snapshot and its lookup indexes. Callers must
// have validated the rule set first (see catalog service Load).
func NewCatalogVersion(number int, rules []LegalRequirement, loadedAt time.Time) *CatalogVersion {
	v := &CatalogVersion{
		number:       number,
		loadedAt:     loadedAt,
		rules:        append([]LegalRequirement(nil), rules...),
		byCode:       make(map[domain.RequirementCode]int, len(rules)),
		supersededBy: make(map[domain.RequirementCode]domain.RequirementCode),
	}
	for i, r := range v.rules {
		v.byCode[r.Code] = i
		if !r.Supersedes.IsEmpty() {
			v.supersededBy[r.Supersedes] = r.Code
		}
	}
	return v
}

func (v *CatalogVersion) Number() int { return v.number }

func (v *CatalogVersion) LoadedAt() time.Time { return v.loadedAt }

func (v *CatalogVersion) Len() int { return len(v.rules) }

// Rules returns the rule set in load order. The slice is shared; callers must
// not mutate it.
func (v *CatalogVersion) Rules() []LegalRequirement { return v.rules }

// ByCode looks up a rule by its code.
func (v *CatalogVersion) ByCode(code domain.RequirementCode) (LegalRequirement, bool) {
	i, ok := v.byCode[code]
	if !ok {
		return LegalRequirement{}, false
	}
	return v.rules[i], true
}

// Contains reports whether a code exists in this version.
func (v *CatalogVersion) Contains(code domain.RequirementCode) bool {
	_, ok := v.byCode[code]
	return ok
}

// SupersededBy returns the code in this version replacing the given old code.
func (v *CatalogVersion) SupersededBy(old domain.RequirementCode) (domain.RequirementCode, bool) {
	code, ok := v.supersededBy[old]
	return code, ok
}

// VersionDiff summarizes what changed between two catalog versions. The
// scheduler uses it to pick which companies need re-evaluation; correctness
// does not depend on it (a full re-run is always safe).
type VersionDiff struct {
	Added   []domain.RequirementCode `json:"added"`
	Removed []domain.RequirementCode `json:"removed"`
	// Changed lists codes present in both versions whose applicability or
	// risk level differ.
	Changed []domain.RequirementCode `json:"changed"`
	// Superseded maps an old code to its replacement in the new version.
	Superseded map[domain.RequirementCode]domain.RequirementCode `json:"superseded"`
}

// Empty reports whether nothing changed between the versions.
func (d VersionDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && len(d.Superseded) == 0
}

// DiffVersions computes the change set from old to new.
func DiffVersions(old, new *CatalogVersion) VersionDiff {
	diff := VersionDiff{Superseded: make(map[domain.RequirementCode]domain.RequirementCode)}

	for _, r := range new.Rules() {
		if !r.Supersedes.IsEmpty() && old.Contains(r.Supersedes) {
			diff.Superseded[r.Supersedes] = r.Code
			continue
		}
		prev, existed := old.ByCode(r.Code)
		if !existed {
			diff.Added = append(diff.Added, r.Code)
			continue
		}
		if ruleChanged(prev, r) {
			diff.Changed = append(diff.Changed, r.Code)
		}
	}

	for _, r := range old.Rules() {
		if new.Contains(r.Code) {
			continue
		}
		if _, superseded := diff.Superseded[r.Code]; superseded {
			continue
		}
		diff.Removed = append(diff.Removed, r.Code)
	}

	return diff
}

func ruleChanged(a, b LegalRequirement) bool {
	if a.RiskLevel != b.RiskLevel || a.Applicability.Unconditional != b.Applicability.Unconditional {
		return true
	}
	if !equalStrings(a.Applicability.CNAEPrefixes, b.Applicability.CNAEPrefixes) {
		return true
	}
	return !equalStrings(a.Applicability.States, b.Applicability.States)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
