// Package domain holds the typed identifiers shared across modules.
// Wrapping uuid.UUID (or the collaborator's opaque string) in distinct types
// keeps a CompanyID from ever being passed where an ObligationID is expected.
package domain

import "github.com/google/uuid"

// CompanyID identifies a company. It is assigned by the company-registry
// collaborator and treated as opaque here.
type CompanyID string

func (c CompanyID) IsEmpty() bool { return c == "" }

func (c CompanyID) String() string { return string(c) }

// RequirementCode is the stable identifier of a legal requirement within a
// catalog version, e.g. "RL-NR01" or "RL-IPAAM-001".
type RequirementCode string

func (r RequirementCode) IsEmpty() bool { return r == "" }

func (r RequirementCode) String() string { return string(r) }

// ObligationID identifies an obligation record.
type ObligationID uuid.UUID

func NewObligationID() ObligationID { return ObligationID(uuid.New()) }

func (o ObligationID) IsNil() bool { return uuid.UUID(o) == uuid.Nil }

func (o ObligationID) String() string { return uuid.UUID(o).String() }

// ParseObligationID parses the canonical string form of an ObligationID.
func ParseObligationID(s string) (ObligationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ObligationID{}, err
	}
	return ObligationID(u), nil
}

func (o ObligationID) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *ObligationID) UnmarshalText(b []byte) error {
	parsed, err := ParseObligationID(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// HistoryID identifies an obligation history entry.
type HistoryID uuid.UUID

func NewHistoryID() HistoryID { return HistoryID(uuid.New()) }

func (h HistoryID) String() string { return uuid.UUID(h).String() }

func (h HistoryID) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *HistoryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*h = HistoryID(u)
	return nil
}

// ActionPlanID identifies an action plan.
type ActionPlanID uuid.UUID

func NewActionPlanID() ActionPlanID { return ActionPlanID(uuid.New()) }

func (a ActionPlanID) IsNil() bool { return uuid.UUID(a) == uuid.Nil }

func (a ActionPlanID) String() string { return uuid.UUID(a).String() }

func (a ActionPlanID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ActionPlanID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*a = ActionPlanID(u)
	return nil
}
