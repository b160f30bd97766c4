package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pfmt/internal/auth"
	"pfmt/internal/domain"
	"pfmt/internal/wizard"
	"pfmt/internal/workflow"
	pfmtsdk "pfmt/sdk/go"
)

const leaveMessage = "You have unsaved changes in the wizard. Are you sure you want to leave?"

// ProjectAPI is what the guard needs from the workflow client.
type ProjectAPI interface {
	GetProject(ctx context.Context, projectID string) (pfmtsdk.ProjectResponse, error)
	GetWorkflowStatus(ctx context.Context, projectID string) (domain.WorkflowState, error)
}

// Redirect names the route navigation is sent to instead.
type Redirect struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	Query  map[string]string `json:"query,omitempty"`
}

// Result is the outcome of a guard check. A denied result without a
// redirect aborts navigation in place.
type Result struct {
	Allowed  bool      `json:"allowed"`
	Redirect *Redirect `json:"redirect,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func allow() Result { return Result{Allowed: true} }

func redirect(name string, params map[string]string, msg string) Result {
	return Result{Redirect: &Redirect{Name: name, Params: params}, Message: msg}
}

func toDashboard(msg string) Result {
	return redirect(RouteDashboard, nil, msg)
}

// Guard decides whether a navigation may proceed. Store is optional; when
// set, project routes load the project into it and the leave check consults
// its dirty set.
type Guard struct {
	API     ProjectAPI
	Store   *wizard.Store
	Confirm func(message string) bool
	Log     zerolog.Logger
}

func New(api ProjectAPI, store *wizard.Store, confirm func(string) bool) *Guard {
	return &Guard{API: api, Store: store, Confirm: confirm, Log: log.Logger}
}

// CheckStepRoleAccess denies roles outside the step's allowed set.
func CheckStepRoleAccess(role string, stepID workflow.StepID) Result {
	step, ok := workflow.StepByID(string(stepID))
	if !ok {
		return toDashboard(fmt.Sprintf("Invalid wizard step: %s", stepID))
	}
	if !auth.HasAnyRole(auth.NormalizeRole(role), step.RequiredRoles) {
		names := make([]string, 0, len(step.RequiredRoles))
		for _, r := range step.RequiredRoles {
			names = append(names, string(r))
		}
		return toDashboard(fmt.Sprintf("Access denied: %s requires %s role", step.Title, strings.Join(names, " or ")))
	}
	return allow()
}

// CheckProjectAccess verifies the project can be fetched by the actor.
func (g *Guard) CheckProjectAccess(ctx context.Context, projectID string) Result {
	resp, err := g.API.GetProject(ctx, projectID)
	switch {
	case err == nil && resp.Project.ID == "" && resp.Project.Name == "":
		return toDashboard("Project not found")
	case err == nil:
		return allow()
	case pfmtsdk.IsKind(err, pfmtsdk.KindNotFound):
		return toDashboard("Project not found")
	case pfmtsdk.IsKind(err, pfmtsdk.KindPermission):
		return toDashboard("Access denied to this project")
	default:
		return toDashboard(fmt.Sprintf("Failed to access project: %s", errMessage(err)))
	}
}

// CheckStepWorkflowAccess gates stepID on the live workflow status. A
// mismatch redirects to the actor's next step rather than the dashboard.
func (g *Guard) CheckStepWorkflowAccess(ctx context.Context, projectID string, stepID workflow.StepID, actor workflow.Actor) Result {
	step, ok := workflow.StepByID(string(stepID))
	if !ok {
		return toDashboard(fmt.Sprintf("Invalid wizard step: %s", stepID))
	}
	ws, err := g.API.GetWorkflowStatus(ctx, projectID)
	if err != nil {
		return toDashboard(fmt.Sprintf("Failed to verify project access: %s", errMessage(err)))
	}
	status := workflow.ParseStatus(ws.WorkflowStatus)
	if complete := workflow.IsWizardComplete(status); complete || !step.AllowsStatus(status) {
		next := workflow.NextStepForUser(workflow.NextStepInput{
			Role:        string(actor.Role),
			Status:      ws.WorkflowStatus,
			AssignedPM:  ws.AssignedPM,
			AssignedSPM: ws.AssignedSPM,
			UserID:      actor.ID,
			ProjectID:   projectID,
		})
		msg := fmt.Sprintf("Project is in %s status. Redirecting to appropriate step.", displayStatus(status))
		if complete {
			msg = "Project workflow is complete. Redirecting to project details."
		}
		return redirect(next.Route, next.Params, msg)
	}
	if step.ID == workflow.StepConfigure {
		ref := workflow.ProjectRef{ID: projectID, Status: status, AssignedPM: ws.AssignedPM, AssignedSPM: ws.AssignedSPM}
		switch workflow.Evaluate(ref, workflow.ActionFinalize, workflow.Actor{ID: actor.ID, Role: auth.NormalizeRole(string(actor.Role))}) {
		case workflow.DenialNone:
		case workflow.DenialIdentity:
			return toDashboard("You are not assigned to this project")
		default:
			return toDashboard("You do not have permission to configure this project")
		}
	}
	return allow()
}

// BeforeEach evaluates navigation to `to` for actor. Failures become
// redirects; an unexpected panic becomes a dashboard redirect.
func (g *Guard) BeforeEach(ctx context.Context, actor *workflow.Actor, to Route) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			g.Log.Error().Interface("panic", r).Str("path", to.Path).Msg("wizard guard failed")
			res = Result{
				Redirect: &Redirect{Name: RouteDashboard, Query: map[string]string{"error": "Navigation error occurred"}},
				Message:  "navigation error",
			}
		}
	}()
	res = g.beforeEach(ctx, actor, to)
	if !res.Allowed && res.Redirect != nil {
		g.Log.Warn().Str("path", to.Path).Str("redirect", res.Redirect.Name).Msg(res.Message)
	}
	return res
}

func (g *Guard) beforeEach(ctx context.Context, actor *workflow.Actor, to Route) Result {
	if !to.IsWizard() {
		return allow()
	}
	if actor == nil || actor.ID == "" {
		return redirect(RouteHome, nil, "Authentication required")
	}
	who := workflow.Actor{ID: actor.ID, Role: auth.NormalizeRole(string(actor.Role))}
	if to.Name == RouteDashboard {
		return allow()
	}
	if to.Step != "" {
		if res := CheckStepRoleAccess(string(who.Role), to.Step); !res.Allowed {
			return res
		}
		step, _ := workflow.StepByID(string(to.Step))
		if step.RequiresProject() && to.ProjectID == "" {
			return toDashboard(fmt.Sprintf("%s requires a project", step.Title))
		}
	}
	if to.ProjectID == "" {
		return allow()
	}
	if res := g.CheckProjectAccess(ctx, to.ProjectID); !res.Allowed {
		return res
	}
	if to.Step != "" {
		if res := g.CheckStepWorkflowAccess(ctx, to.ProjectID, to.Step, who); !res.Allowed {
			return res
		}
	}
	if g.Store != nil && g.Store.ProjectID() != to.ProjectID {
		if err := g.Store.LoadProject(ctx, to.ProjectID); err != nil {
			return Result{
				Redirect: &Redirect{Name: RouteDashboard, Query: map[string]string{"error": "Failed to load project"}},
				Message:  fmt.Sprintf("Failed to load project: %s", errMessage(err)),
			}
		}
	}
	if to.Step == "" {
		ws, err := g.API.GetWorkflowStatus(ctx, to.ProjectID)
		if err != nil {
			return toDashboard(fmt.Sprintf("Failed to verify project access: %s", errMessage(err)))
		}
		next := workflow.NextStepForUser(workflow.NextStepInput{
			Role:        string(who.Role),
			Status:      ws.WorkflowStatus,
			AssignedPM:  ws.AssignedPM,
			AssignedSPM: ws.AssignedSPM,
			UserID:      who.ID,
			ProjectID:   to.ProjectID,
		})
		return redirect(next.Route, next.Params, next.Message)
	}
	return allow()
}

// BeforeLeave guards leaving the wizard. Dirty edits need confirmation
// unless the destination is project details; a refusal aborts navigation.
// Leaving for anything but project details resets the wizard.
func (g *Guard) BeforeLeave(from, to Route) Result {
	if !from.IsWizard() || to.IsWizard() || g.Store == nil {
		return allow()
	}
	toDetails := to.Name == RouteProjectDetails || strings.HasPrefix(to.Path, "/projects/")
	if !toDetails && g.Store.HasUnsavedChanges() {
		if g.Confirm == nil || !g.Confirm(leaveMessage) {
			g.Log.Info().Str("to", to.Path).Msg("navigation cancelled with unsaved wizard changes")
			return Result{Message: "Navigation cancelled"}
		}
	}
	if !toDetails {
		g.Store.Reset()
	}
	return allow()
}

// Navigate runs the entry guard for `to` and then the leave guard for
// `from`.
func (g *Guard) Navigate(ctx context.Context, actor *workflow.Actor, from, to Route) Result {
	if res := g.BeforeEach(ctx, actor, to); !res.Allowed {
		return res
	}
	return g.BeforeLeave(from, to)
}

func displayStatus(s workflow.Status) string {
	if s == workflow.StatusNone {
		return "new"
	}
	return string(s)
}

func errMessage(err error) string {
	var apiErr *pfmtsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
