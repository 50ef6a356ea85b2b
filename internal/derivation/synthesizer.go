package derivation

import (
	"time"

	catalogmodels "conformo/internal/catalog/models"
	obligationmodels "conformo/internal/obligation/models"
	"conformo/pkg/domain"
	"conformo/pkg/requestcontext"
)

// SynthesisDiff is what one reconciliation pass wants persisted. Obligations
// absent from both slices are untouched; synthesis never rebuilds the
// portfolio from scratch.
type SynthesisDiff struct {
	Added   []*obligationmodels.Obligation
	Retired []*obligationmodels.Obligation
}

func (d SynthesisDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Retired) == 0
}

// Synthesize reconciles the matched requirement set against the company's
// existing obligations.
//
//   - a matched requirement with no obligation gets a fresh record in the
//     entry state
//   - an existing obligation still matched is retained untouched
//   - an existing open obligation no longer matched is retired to
//     nao_aplicavel, record and history kept
//   - when the vanished requirement is superseded by a matched one, the new
//     obligation carries the old one's status, responsible, deadline and
//     evidence forward instead of starting over
//
// Running twice against the same inputs yields an empty diff the second
// time.
func Synthesize(companyID domain.CompanyID, matched []catalogmodels.LegalRequirement, existing []*obligationmodels.Obligation, version *catalogmodels.CatalogVersion, now time.Time) SynthesisDiff {
	matchedSet := make(map[domain.RequirementCode]struct{}, len(matched))
	for _, rule := range matched {
		matchedSet[rule.Code] = struct{}{}
	}

	byCode := make(map[domain.RequirementCode]*obligationmodels.Obligation, len(existing))
	for _, o := range existing {
		byCode[o.RequirementCode] = o
	}

	var diff SynthesisDiff

	// Retire first so supersession can read the outgoing record's state.
	retiredByCode := make(map[domain.RequirementCode]*obligationmodels.Obligation)
	for _, o := range existing {
		if _, still := matchedSet[o.RequirementCode]; still {
			continue
		}
		if o.Status == obligationmodels.StatusNaoAplicavel {
			continue
		}
		retired := o.Clone()
		note := retireNote(retired.RequirementCode, version, matchedSet)
		retired.Retire(now, note)
		diff.Retired = append(diff.Retired, retired)
		retiredByCode[retired.RequirementCode] = o
	}

	for _, rule := range matched {
		if _, exists := byCode[rule.Code]; exists {
			continue
		}
		created := obligationmodels.NewObligation(companyID, rule.Code, now, requestcontext.SystemActor)
		if predecessor := supersededPredecessor(rule, retiredByCode, byCode); predecessor != nil {
			carryForward(created, predecessor, now)
		}
		diff.Added = append(diff.Added, created)
	}

	return diff
}

// supersededPredecessor finds the obligation the new rule replaces, if any.
// It prefers a predecessor retired in this same pass but also accepts one
// retired earlier, as long as its state is worth carrying.
func supersededPredecessor(rule catalogmodels.LegalRequirement, retired, existing map[domain.RequirementCode]*obligationmodels.Obligation) *obligationmodels.Obligation {
	if rule.Supersedes == "" {
		return nil
	}
	if o, ok := retired[rule.Supersedes]; ok {
		return o
	}
	if o, ok := existing[rule.Supersedes]; ok {
		return o
	}
	return nil
}

// carryForward copies the predecessor's mutable state onto the fresh
// obligation so supersession is invisible to the company's compliance work.
func carryForward(created, predecessor *obligationmodels.Obligation, now time.Time) {
	if predecessor.Status != obligationmodels.StatusNaoAplicavel && predecessor.Status.Valid() {
		created.Status = predecessor.Status
	}
	created.Responsible = predecessor.Responsible
	if predecessor.Deadline != nil {
		d := *predecessor.Deadline
		created.Deadline = &d
	}
	if predecessor.EvaluatedAt != nil {
		e := *predecessor.EvaluatedAt
		created.EvaluatedAt = &e
	}
	created.Notes = predecessor.Notes
	created.EvidenceRefs = append([]obligationmodels.EvidenceRef(nil), predecessor.EvidenceRefs...)
	created.AppendNote(now, requestcontext.SystemActor, obligationmodels.ActionCarriedForward,
		"substitui "+string(predecessor.RequirementCode))
}

// retireNote distinguishes a plain retirement from a supersession so the
// audit trail says which happened.
func retireNote(code domain.RequirementCode, version *catalogmodels.CatalogVersion, matchedSet map[domain.RequirementCode]struct{}) string {
	if version == nil {
		return ""
	}
	successor, ok := version.SupersededBy(code)
	if !ok {
		return ""
	}
	if _, applicable := matchedSet[successor]; !applicable {
		return ""
	}
	return "substituido por " + string(successor)
}
