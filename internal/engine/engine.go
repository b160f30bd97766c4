package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pfmt/internal/auth"
	"pfmt/internal/config"
	"pfmt/internal/domain"
	"pfmt/internal/events"
	"pfmt/internal/repo"
	"pfmt/internal/workflow"
)

// Engine applies workflow transitions to the project store. Every transition
// re-checks role, status and assignment inside its transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// ValidationError reports a request field the service refuses.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// StatusError reports a transition attempted from the wrong workflow status.
type StatusError struct {
	ProjectID string
	Action    workflow.Action
	Current   workflow.Status
	Required  workflow.Status
}

func (e StatusError) Error() string {
	current := string(e.Current)
	if current == "" {
		current = "new"
	}
	return fmt.Sprintf("project must be in %s status for %s (current: %s)", e.Required, e.Action, current)
}

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// checkTransition turns a workflow denial into the matching typed error.
func checkTransition(p domain.Project, a workflow.Action, actor workflow.Actor) error {
	ref := workflow.ProjectRef{
		ID:          p.ID,
		Status:      workflow.ParseStatus(p.WorkflowStatus),
		AssignedPM:  p.AssignedPM,
		AssignedSPM: p.AssignedSPM,
	}
	switch workflow.Evaluate(ref, a, actor) {
	case workflow.DenialNone:
		return nil
	case workflow.DenialRole:
		return auth.ForbiddenError{Permission: "project." + string(a), Role: actor.Role, Allowed: workflow.RolesFor(a)}
	case workflow.DenialStatus:
		required, _ := workflow.RequiredStatus(a)
		return StatusError{ProjectID: p.ID, Action: a, Current: ref.Status, Required: required}
	default:
		return auth.NotAssignedError{ProjectID: p.ID, ActorID: actor.ID}
	}
}

// InitiateInput is the initiation form as received by the service.
type InitiateInput struct {
	Name             string
	Description      string
	Category         string
	ProjectType      string
	DeliveryMethod   string
	ProgramID        string
	GeographicRegion string
	EstimatedBudget  float64
	StartDate        string
	EndDate          string
}

// Initiate creates a project in initiated status on behalf of actor.
func (e Engine) Initiate(ctx context.Context, actor workflow.Actor, in InitiateInput) (domain.Project, error) {
	if err := checkTransition(domain.Project{}, workflow.ActionInitiate, actor); err != nil {
		return domain.Project{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return domain.Project{}, invalid("project_name", "project_name is required")
	}
	if in.Description == "" {
		return domain.Project{}, invalid("project_description", "project_description is required")
	}
	if in.EstimatedBudget < 0 {
		return domain.Project{}, invalid("estimated_budget", "estimated_budget must not be negative")
	}
	for field, v := range map[string]string{"start_date": in.StartDate, "end_date": in.EndDate} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return domain.Project{}, invalid(field, fmt.Sprintf("invalid %s %q: expected YYYY-MM-DD", field, v))
		}
	}

	now := e.stamp()
	p := domain.Project{
		ID:               uuid.NewString(),
		Name:             in.Name,
		Description:      in.Description,
		Category:         in.Category,
		ProjectType:      in.ProjectType,
		DeliveryMethod:   in.DeliveryMethod,
		ProgramID:        in.ProgramID,
		GeographicRegion: in.GeographicRegion,
		EstimatedBudget:  in.EstimatedBudget,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		WorkflowStatus:   string(workflow.NextStatusFor(workflow.ActionInitiate)),
		LifecycleStatus:  "planning",
		CreatedBy:        actor.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:      events.TypeProjectInitiated,
		ProjectID: p.ID,
		ActorID:   actor.ID,
		Payload:   events.EventPayload{"project_name": p.Name, "status": p.WorkflowStatus},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AssignInput names the project team.
type AssignInput struct {
	AssignedPM  string
	AssignedSPM string
	Notes       string
}

// Assign moves an initiated project to assigned.
func (e Engine) Assign(ctx context.Context, actor workflow.Actor, projectID string, in AssignInput) (domain.Project, error) {
	in.AssignedPM = strings.TrimSpace(in.AssignedPM)
	in.AssignedSPM = strings.TrimSpace(in.AssignedSPM)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := checkTransition(p, workflow.ActionAssign, actor); err != nil {
		return domain.Project{}, err
	}
	if in.AssignedPM == "" {
		return domain.Project{}, invalid("assigned_pm", "assigned_pm is required")
	}
	if err := e.requireManager(ctx, tx, "assigned_pm", in.AssignedPM); err != nil {
		return domain.Project{}, err
	}
	if in.AssignedSPM != "" {
		if err := e.requireManager(ctx, tx, "assigned_spm", in.AssignedSPM); err != nil {
			return domain.Project{}, err
		}
	}
	status := string(workflow.NextStatusFor(workflow.ActionAssign))
	if err := e.Repo.UpdateAssignment(ctx, tx, repo.Assignment{
		ProjectID:   projectID,
		AssignedPM:  in.AssignedPM,
		AssignedSPM: in.AssignedSPM,
		AssignedBy:  actor.ID,
		Notes:       in.Notes,
		Status:      status,
		UpdatedAt:   e.stamp(),
	}); err != nil {
		return domain.Project{}, fmt.Errorf("update assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:      events.TypeTeamAssigned,
		ProjectID: projectID,
		ActorID:   actor.ID,
		Payload: events.EventPayload{
			"assigned_pm":  in.AssignedPM,
			"assigned_spm": in.AssignedSPM,
			"status":       status,
		},
	}); err != nil {
		return domain.Project{}, err
	}
	updated, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return updated, nil
}

func (e Engine) requireManager(ctx context.Context, tx *sql.Tx, field, userID string) error {
	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return invalid(field, fmt.Sprintf("%s user %s not found", field, userID))
	}
	if err != nil {
		return err
	}
	if !u.Active || !auth.HasAnyRole(auth.NormalizeRole(u.Role), auth.ProjectManagers) {
		return invalid(field, fmt.Sprintf("%s user %s is not an active project manager", field, userID))
	}
	return nil
}

// FinalizeInput carries the configure sections.
type FinalizeInput struct {
	Vendors             []domain.VendorSelection
	BudgetBreakdown     map[string]float64
	TotalBudget         float64
	DetailedDescription string
	RiskAssessment      string
	Milestones          []domain.Milestone
}

// Finalize moves an assigned project to finalized. Only the assigned PM or
// SPM may finalize; admins are exempt from the assignment check.
func (e Engine) Finalize(ctx context.Context, actor workflow.Actor, projectID string, in FinalizeInput) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := checkTransition(p, workflow.ActionFinalize, actor); err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(in.DetailedDescription) == "" {
		return domain.Project{}, invalid("detailed_description", "detailed_description is required")
	}
	for i, m := range in.Milestones {
		if strings.TrimSpace(m.Title) == "" || strings.TrimSpace(m.PlannedStart) == "" {
			return domain.Project{}, invalid("milestones", fmt.Sprintf("milestone %d requires title and planned_start", i+1))
		}
	}
	for _, v := range in.Vendors {
		ok, err := e.Repo.VendorExists(ctx, tx, v.VendorID)
		if err != nil {
			return domain.Project{}, err
		}
		if !ok {
			return domain.Project{}, invalid("vendors", fmt.Sprintf("vendor %s not found", v.VendorID))
		}
	}
	for category, amount := range in.BudgetBreakdown {
		if amount < 0 {
			return domain.Project{}, invalid("budget_breakdown", fmt.Sprintf("budget for %s must not be negative", category))
		}
	}

	var total *float64
	if in.TotalBudget > 0 {
		total = &in.TotalBudget
	}
	status := string(workflow.NextStatusFor(workflow.ActionFinalize))
	if err := e.Repo.UpdateFinalization(ctx, tx, repo.Finalization{
		ProjectID:           projectID,
		DetailedDescription: strings.TrimSpace(in.DetailedDescription),
		RiskAssessment:      in.RiskAssessment,
		BudgetBreakdown:     in.BudgetBreakdown,
		EstimatedBudget:     total,
		FinalizedBy:         actor.ID,
		Status:              status,
		LifecycleStatus:     "active",
		UpdatedAt:           e.stamp(),
	}); err != nil {
		return domain.Project{}, fmt.Errorf("update finalization: %w", err)
	}
	if err := e.Repo.ReplaceVendors(ctx, tx, projectID, in.Vendors); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.ReplaceMilestones(ctx, tx, projectID, in.Milestones); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:      events.TypeProjectFinalized,
		ProjectID: projectID,
		ActorID:   actor.ID,
		Payload: events.EventPayload{
			"vendors":    len(in.Vendors),
			"milestones": len(in.Milestones),
			"status":     status,
		},
	}); err != nil {
		return domain.Project{}, err
	}
	updated, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return updated, nil
}

// WorkflowState returns the status view of a project.
func (e Engine) WorkflowState(ctx context.Context, projectID string) (domain.WorkflowState, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	return domain.WorkflowState{
		ID:             p.ID,
		WorkflowStatus: p.WorkflowStatus,
		AssignedPM:     p.AssignedPM,
		AssignedSPM:    p.AssignedSPM,
		CreatedBy:      p.CreatedBy,
	}, nil
}

// PendingAssignments lists initiated projects awaiting a team.
func (e Engine) PendingAssignments(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, repo.ProjectFilters{Status: string(workflow.StatusInitiated)})
}

// MyProjects lists projects where actorID is the PM or SPM. An empty status
// or "all" returns every status.
func (e Engine) MyProjects(ctx context.Context, actorID, status string) ([]domain.Project, error) {
	f := repo.ProjectFilters{Member: actorID}
	if status != "" && !strings.EqualFold(status, "all") {
		f.Status = string(workflow.ParseStatus(status))
	}
	return e.Repo.ListProjects(ctx, f)
}

// AvailableUsers lists active users by role; project managers by default.
func (e Engine) AvailableUsers(ctx context.Context, roles []string) ([]domain.User, error) {
	var names []string
	for _, r := range roles {
		if r = strings.TrimSpace(r); r == "" {
			continue
		}
		names = append(names, string(auth.NormalizeRole(r)))
	}
	if len(names) == 0 {
		for _, r := range auth.ProjectManagers {
			names = append(names, string(r))
		}
	}
	return e.Repo.ListActiveUsers(ctx, names)
}

func (e Engine) AvailableVendors(ctx context.Context) ([]domain.Vendor, error) {
	return e.Repo.ListActiveVendors(ctx)
}

// SeedDirectory upserts the configured users and vendors.
func (e Engine) SeedDirectory(ctx context.Context, dir config.DirectoryConfig) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.stamp()
	for _, u := range dir.Users {
		user := domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(auth.NormalizeRole(u.Role)), Active: true}
		if err := e.Repo.UpsertUser(ctx, tx, user, now); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, v := range dir.Vendors {
		if err := e.Repo.UpsertVendor(ctx, tx, domain.Vendor{ID: v.ID, Name: v.Name, Category: v.Category, Active: true}, now); err != nil {
			return fmt.Errorf("seed vendor %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// History returns the audit trail of a project.
func (e Engine) History(ctx context.Context, projectID string) ([]domain.Event, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Events.List(ctx, projectID)
}
