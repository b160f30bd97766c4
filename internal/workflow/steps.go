package workflow

import (
	"sort"
	"strings"

	"pfmt/internal/auth"
)

// StepID identifies a wizard step.
type StepID string

const (
	StepInitiate  StepID = "initiate"
	StepAssign    StepID = "assign"
	StepConfigure StepID = "configure"
)

// Configure substeps.
const (
	SubstepOverview  = "overview"
	SubstepVendors   = "vendors"
	SubstepBudget    = "budget"
	SubstepMilestone = "milestone"
)

// Step describes who may act on a wizard step and when it is reachable.
type Step struct {
	ID             StepID
	Title          string
	Description    string
	RequiredRoles  []auth.Role
	RequiredStatus []Status
	Substeps       []string
	Order          int
}

// AllowsStatus reports whether s satisfies the step's status gate.
// An empty gate admits every status.
func (s Step) AllowsStatus(status Status) bool {
	if len(s.RequiredStatus) == 0 {
		return true
	}
	for _, r := range s.RequiredStatus {
		if r == status {
			return true
		}
	}
	return false
}

// RequiresProject is false only for initiate.
func (s Step) RequiresProject() bool {
	return s.ID != StepInitiate
}

var steps = []Step{
	{
		ID:            StepInitiate,
		Title:         "Project Initiation",
		Description:   "Create new project with basic information",
		RequiredRoles: auth.RolesAllowedForStep(string(StepInitiate)),
		Order:         1,
	},
	{
		ID:             StepAssign,
		Title:          "Team Assignment",
		Description:    "Assign project manager and senior project manager",
		RequiredRoles:  auth.RolesAllowedForStep(string(StepAssign)),
		RequiredStatus: []Status{StatusInitiated},
		Order:          2,
	},
	{
		ID:             StepConfigure,
		Title:          "Project Configuration",
		Description:    "Configure project details, vendors, budget, and milestones",
		RequiredRoles:  auth.RolesAllowedForStep(string(StepConfigure)),
		RequiredStatus: []Status{StatusAssigned},
		Substeps:       []string{SubstepOverview, SubstepVendors, SubstepBudget, SubstepMilestone},
		Order:          3,
	},
}

// Steps returns the step catalog ordered by Order.
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// StepByID looks up a step, case-insensitively.
func StepByID(id string) (Step, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, s := range steps {
		if string(s.ID) == id {
			return s, true
		}
	}
	return Step{}, false
}

// IsValidStep reports whether id names a wizard step.
func IsValidStep(id string) bool {
	_, ok := StepByID(id)
	return ok
}

// IsValidSubstep reports whether sub is a configure substep.
func IsValidSubstep(sub string) bool {
	switch sub {
	case SubstepOverview, SubstepVendors, SubstepBudget, SubstepMilestone:
		return true
	}
	return false
}

// StepAfter returns the step after id in order.
func StepAfter(id StepID) (StepID, bool) {
	ordered := Steps()
	for i, s := range ordered {
		if s.ID == id && i < len(ordered)-1 {
			return ordered[i+1].ID, true
		}
	}
	return "", false
}

// StepBefore returns the step before id in order.
func StepBefore(id StepID) (StepID, bool) {
	ordered := Steps()
	for i, s := range ordered {
		if s.ID == id && i > 0 {
			return ordered[i-1].ID, true
		}
	}
	return "", false
}
