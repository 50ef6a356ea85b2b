package models

// ComplianceStatus is the lifecycle state of an obligation. The set is
// closed; the transition table below is the single source of truth for what
// the state machine permits.
type ComplianceStatus string

const (
	// StatusNaoAvaliado is the entry state when a requirement first matches.
	StatusNaoAvaliado ComplianceStatus = "nao_avaliado"
	// StatusPendente marks an obligation acknowledged but not yet met.
	StatusPendente ComplianceStatus = "pendente"
	// StatusAVencer marks a deadline inside the warning horizon.
	StatusAVencer ComplianceStatus = "avencer"
	// StatusVencido marks a deadline that passed without resolution.
	StatusVencido ComplianceStatus = "vencido"
	// StatusConforme marks a met obligation.
	StatusConforme ComplianceStatus = "conforme"
	// StatusNaoAplicavel marks a retired obligation. Records are kept, never
	// deleted, to preserve the audit trail.
	StatusNaoAplicavel ComplianceStatus = "nao_aplicavel"
)

func (s ComplianceStatus) Valid() bool {
	switch s {
	case StatusNaoAvaliado, StatusPendente, StatusAVencer, StatusVencido, StatusConforme, StatusNaoAplicavel:
		return true
	}
	return false
}

// IsAdverse reports whether entering this status must trigger the
// action-plan side effect (subject to the requirement's risk level).
func (s ComplianceStatus) IsAdverse() bool {
	return s == StatusVencido || s == StatusAVencer
}

// allowedTransitions encodes the lifecycle. It covers manual moves and the
// deadline sweep's automatic moves (pendente→avencer, avencer→vencido) alike.
// Retirement to nao_aplicavel during synthesis is a privileged system
// transition applied outside this table.
var allowedTransitions = map[ComplianceStatus][]ComplianceStatus{
	StatusNaoAvaliado:  {StatusPendente, StatusConforme, StatusNaoAplicavel},
	StatusPendente:     {StatusConforme, StatusNaoAplicavel, StatusAVencer},
	StatusAVencer:      {StatusConforme, StatusVencido},
	StatusVencido:      {},
	StatusConforme:     {StatusPendente},
	StatusNaoAplicavel: {StatusNaoAvaliado},
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next.
func (s ComplianceStatus) CanTransitionTo(next ComplianceStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
