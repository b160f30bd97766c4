package guard

import (
	"fmt"
	"net/url"
	"strings"

	"pfmt/internal/workflow"
)

// Route names known to the guard.
const (
	RouteHome             = "home"
	RouteDashboard        = workflow.RouteWizardDashboard
	RouteInitiate         = workflow.RouteWizardInitiate
	RouteProject          = "wizard-project"
	RouteProjectInitiate  = "wizard-project-initiate"
	RouteProjectAssign    = "wizard-project-assign"
	RouteProjectConfigure = "wizard-project-configure"
	RouteProjectDetails   = workflow.RouteProjectDetails
)

// Route is a parsed navigation target.
type Route struct {
	Name      string
	Path      string
	ProjectID string
	Step      workflow.StepID
	Substep   string
}

// IsWizard reports whether r lives under /wizard.
func (r Route) IsWizard() bool {
	switch r.Name {
	case RouteDashboard, RouteInitiate, RouteProject, RouteProjectInitiate, RouteProjectAssign, RouteProjectConfigure:
		return true
	}
	return false
}

// ParsePath classifies path. Deep links of the form /wizard/:id/:step are
// normalized to the nested step route; an unknown step falls back to the
// project route. Paths outside the wizard keep an empty Name.
func ParsePath(path string) Route {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	clean := "/" + strings.Trim(path, "/")
	parts := strings.Split(strings.Trim(clean, "/"), "/")
	if clean == "/" {
		return Route{Name: RouteHome, Path: "/"}
	}
	r := Route{Path: clean}
	switch parts[0] {
	case "projects":
		if len(parts) >= 2 && parts[1] != "" {
			r.Name = RouteProjectDetails
			r.ProjectID = unescape(parts[1])
		}
		return r
	case "wizard":
	default:
		return r
	}
	parts = parts[1:]
	switch {
	case len(parts) == 0:
		r.Name = RouteDashboard
	case len(parts) == 1 && strings.EqualFold(parts[0], string(workflow.StepInitiate)):
		r.Name = RouteInitiate
		r.Step = workflow.StepInitiate
	case parts[0] == "project":
		// legacy /wizard/project[/:id]
		if len(parts) >= 2 {
			r.Name = RouteProject
			r.ProjectID = unescape(parts[1])
		} else {
			r.Name = RouteInitiate
			r.Step = workflow.StepInitiate
		}
	default:
		r.ProjectID = unescape(parts[0])
		r.Name = RouteProject
		if len(parts) >= 2 {
			if step, ok := workflow.StepByID(parts[1]); ok {
				r.Step = step.ID
				r.Name = stepRouteName(step.ID)
				if step.ID == workflow.StepConfigure && len(parts) >= 3 && workflow.IsValidSubstep(parts[2]) {
					r.Substep = strings.ToLower(parts[2])
				}
			}
		}
	}
	r.Path = r.Canonical()
	return r
}

// Canonical renders the normalized path of a wizard or project route.
func (r Route) Canonical() string {
	switch r.Name {
	case RouteHome:
		return "/"
	case RouteDashboard:
		return "/wizard"
	case RouteInitiate:
		return "/wizard/initiate"
	case RouteProject:
		return "/wizard/" + url.PathEscape(r.ProjectID)
	case RouteProjectInitiate, RouteProjectAssign, RouteProjectConfigure:
		p := "/wizard/" + url.PathEscape(r.ProjectID) + "/" + string(r.Step)
		if r.Substep != "" {
			p += "/" + r.Substep
		}
		return p
	case RouteProjectDetails:
		return "/projects/" + url.PathEscape(r.ProjectID)
	}
	return r.Path
}

func stepRouteName(id workflow.StepID) string {
	switch id {
	case workflow.StepAssign:
		return RouteProjectAssign
	case workflow.StepConfigure:
		return RouteProjectConfigure
	default:
		return RouteProjectInitiate
	}
}

func unescape(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

// WizardURL builds the path of step. Only initiate may omit projectID.
func WizardURL(projectID string, step workflow.StepID, substep string) (string, error) {
	if _, ok := workflow.StepByID(string(step)); !ok {
		return "", fmt.Errorf("unknown wizard step %q", step)
	}
	if projectID == "" {
		if step != workflow.StepInitiate {
			return "", fmt.Errorf("step %s requires a project id", step)
		}
		return "/wizard/initiate", nil
	}
	r := Route{Name: stepRouteName(step), ProjectID: projectID, Step: step}
	if step == workflow.StepConfigure && workflow.IsValidSubstep(substep) {
		r.Substep = substep
	}
	return r.Canonical(), nil
}

// Path resolves a redirect to a URL path. Route names emitted by
// workflow.NextStepForUser are understood as well.
func (rd Redirect) Path() string {
	pid := rd.Params["projectId"]
	var p string
	switch rd.Name {
	case RouteHome:
		p = "/"
	case RouteDashboard:
		p = "/wizard"
	case RouteInitiate:
		p = "/wizard/initiate"
	case RouteProject:
		p = Route{Name: RouteProject, ProjectID: pid}.Canonical()
	case workflow.RouteWizardAssign, RouteProjectAssign:
		p, _ = WizardURL(pid, workflow.StepAssign, "")
	case workflow.RouteWizardConfig, RouteProjectConfigure:
		p, _ = WizardURL(pid, workflow.StepConfigure, rd.Params["substep"])
	case RouteProjectInitiate:
		p, _ = WizardURL(pid, workflow.StepInitiate, "")
	case RouteProjectDetails:
		p = Route{Name: RouteProjectDetails, ProjectID: rd.Params["id"]}.Canonical()
	default:
		p = "/wizard"
	}
	if len(rd.Query) > 0 {
		q := url.Values{}
		for k, v := range rd.Query {
			q.Set(k, v)
		}
		p += "?" + q.Encode()
	}
	return p
}
