package workflow

import "pfmt/internal/auth"

// Route names produced by NextStepForUser.
const (
	RouteProjectDetails  = "project-details"
	RouteWizardDashboard = "wizard-dashboard"
	RouteWizardInitiate  = "wizard-initiate"
	RouteWizardAssign    = "wizard-assign"
	RouteWizardConfig    = "wizard-config"
)

// NextStepInput is the project and actor state NextStepForUser decides on.
type NextStepInput struct {
	Role        string
	Status      string
	AssignedPM  string
	AssignedSPM string
	UserID      string
	ProjectID   string
}

// NextStep is a navigation target with a user-facing explanation.
type NextStep struct {
	Route   string            `json:"route"`
	Params  map[string]string `json:"params,omitempty"`
	Message string            `json:"message"`
}

// NextStepForUser decides what an actor should do next with a project.
// Dashboards, guards and the store all route through it.
func NextStepForUser(in NextStepInput) NextStep {
	role := auth.NormalizeRole(in.Role)
	status := ParseStatus(in.Status)

	if in.ProjectID == "" {
		if role == auth.PMI || role == auth.Admin {
			return NextStep{Route: RouteWizardInitiate, Message: "Initiate new project"}
		}
		return NextStep{Route: RouteWizardDashboard, Message: "No wizard action available"}
	}

	if IsWizardComplete(status) || !status.Known() {
		return projectDetails(in.ProjectID, "Project is ready for management")
	}

	switch status {
	case StatusAssigned:
		ref := ProjectRef{ID: in.ProjectID, Status: status, AssignedPM: in.AssignedPM, AssignedSPM: in.AssignedSPM}
		if Evaluate(ref, ActionFinalize, Actor{ID: in.UserID, Role: role}) == DenialNone {
			return NextStep{
				Route:   RouteWizardConfig,
				Params:  map[string]string{"projectId": in.ProjectID, "substep": SubstepOverview},
				Message: "Configure project details",
			}
		}
	case StatusInitiated:
		if role == auth.Director || role == auth.Admin {
			return NextStep{
				Route:   RouteWizardAssign,
				Params:  map[string]string{"projectId": in.ProjectID},
				Message: "Assign project team",
			}
		}
	}
	return projectDetails(in.ProjectID, "View project details")
}

func projectDetails(id, msg string) NextStep {
	return NextStep{
		Route:   RouteProjectDetails,
		Params:  map[string]string{"id": id},
		Message: msg,
	}
}
