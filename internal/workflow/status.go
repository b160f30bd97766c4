package workflow

import (
	"strings"

	"pfmt/internal/auth"
)

// Status is a project's workflow status. The server copy is authoritative.
type Status string

const (
	StatusNone      Status = ""
	StatusInitiated Status = "initiated"
	StatusAssigned  Status = "assigned"
	StatusFinalized Status = "finalized"
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
)

// Action is a wizard transition.
type Action string

const (
	ActionInitiate Action = "initiate"
	ActionAssign   Action = "assign"
	ActionFinalize Action = "finalize"
)

// Denial explains why a transition is refused.
type Denial int

const (
	DenialNone Denial = iota
	DenialRole
	DenialStatus
	DenialIdentity
)

func (d Denial) String() string {
	switch d {
	case DenialNone:
		return "allowed"
	case DenialRole:
		return "role"
	case DenialStatus:
		return "status"
	case DenialIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// ParseStatus maps server strings onto a Status. "new" is the same as none
// and "completed" the same as complete; anything else is kept verbatim.
func ParseStatus(s string) Status {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "new", "none":
		return StatusNone
	case "completed":
		return StatusComplete
	case "canceled":
		return StatusCancelled
	default:
		return Status(v)
	}
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusNone, StatusInitiated, StatusAssigned, StatusFinalized, StatusActive, StatusComplete, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports statuses that permit no wizard action at all.
func IsTerminal(s Status) bool {
	switch s {
	case StatusActive, StatusComplete, StatusCancelled:
		return true
	}
	return false
}

// IsWizardComplete reports whether the wizard has nothing left to do for s.
func IsWizardComplete(s Status) bool {
	return s == StatusFinalized || IsTerminal(s)
}

// ProjectRef is the part of a project that gates transitions.
type ProjectRef struct {
	ID          string
	Status      Status
	AssignedPM  string
	AssignedSPM string
}

// Actor is the normalized identity performing an action.
type Actor struct {
	ID   string
	Role auth.Role
}

// IsAssigned reports whether actorID is the project's PM or SPM.
func (p ProjectRef) IsAssigned(actorID string) bool {
	if actorID == "" {
		return false
	}
	return p.AssignedPM == actorID || p.AssignedSPM == actorID
}

// RolesFor returns the roles allowed to perform action.
func RolesFor(a Action) []auth.Role {
	switch a {
	case ActionInitiate:
		return auth.RolesAllowedForStep(string(StepInitiate))
	case ActionAssign:
		return auth.RolesAllowedForStep(string(StepAssign))
	case ActionFinalize:
		return auth.RolesAllowedForStep(string(StepConfigure))
	}
	return nil
}

// RequiredStatus is the status an action must start from.
func RequiredStatus(a Action) (Status, bool) {
	switch a {
	case ActionInitiate:
		return StatusNone, true
	case ActionAssign:
		return StatusInitiated, true
	case ActionFinalize:
		return StatusAssigned, true
	}
	return "", false
}

// NextStatusFor returns the status a successful action produces.
func NextStatusFor(a Action) Status {
	switch a {
	case ActionInitiate:
		return StatusInitiated
	case ActionAssign:
		return StatusAssigned
	case ActionFinalize:
		return StatusFinalized
	}
	return StatusNone
}

// CanTransition checks the role and status gates for action.
func CanTransition(current Status, a Action, role auth.Role) bool {
	if !auth.HasAnyRole(role, RolesFor(a)) {
		return false
	}
	required, ok := RequiredStatus(a)
	return ok && current == required
}

// Evaluate runs the role, status and identity checks in that order and
// reports the first one that fails.
func Evaluate(p ProjectRef, a Action, actor Actor) Denial {
	if !auth.HasAnyRole(actor.Role, RolesFor(a)) {
		return DenialRole
	}
	required, ok := RequiredStatus(a)
	if !ok || p.Status != required {
		return DenialStatus
	}
	if a == ActionFinalize && actor.Role != auth.Admin && !p.IsAssigned(actor.ID) {
		return DenialIdentity
	}
	return DenialNone
}
