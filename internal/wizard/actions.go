package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pfmt/internal/auth"
	"pfmt/internal/domain"
	"pfmt/internal/workflow"
	pfmtsdk "pfmt/sdk/go"
)

// SubmitInitiation creates the project. It returns the new project id; a
// failure keeps the initiation section and its dirty flag intact.
func (s *Store) SubmitInitiation(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.inFlight[opInitiate] {
		s.mu.Unlock()
		return "", ErrInFlight
	}
	if !canSubmitInitiation(s.initiation) {
		s.err = "Project name and description are required"
		s.mu.Unlock()
		return "", ErrCannotSubmit
	}
	req := pfmtsdk.NewInitiateRequest(s.initiation)
	gen, version := s.gen, s.edits[domain.SectionInitiation]
	s.inFlight[opInitiate] = true
	s.err = ""
	s.mu.Unlock()

	resp, err := s.API.InitiateProject(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, opInitiate)
	if gen != s.gen {
		s.Log.Warn().Str("op", string(opInitiate)).Msg("dropping response for reset wizard")
		return "", ErrStale
	}
	if err == nil && resp.Project.ID == "" {
		err = &pfmtsdk.APIError{Kind: pfmtsdk.KindServer, Message: "initiation response did not include a project id"}
	}
	if err != nil {
		s.failLocked(opInitiate, err)
		return "", err
	}
	p := resp.Project
	s.state = ProjectState{
		ProjectID:      p.ID,
		WorkflowStatus: statusOr(p.WorkflowStatus, workflow.NextStatusFor(workflow.ActionInitiate)),
		AssignedPM:     p.AssignedPM,
		AssignedSPM:    p.AssignedSPM,
		CreatedBy:      p.CreatedBy,
		Project:        &p,
	}
	s.clearIfUnchangedLocked(domain.SectionInitiation, version)
	s.Log.Info().Str("project_id", p.ID).Msg("project initiated")
	return p.ID, nil
}

// SubmitAssignment assigns the team of the loaded project.
func (s *Store) SubmitAssignment(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight[opAssign] {
		s.mu.Unlock()
		return ErrInFlight
	}
	if s.state.ProjectID == "" {
		s.err = "No project loaded"
		s.mu.Unlock()
		return ErrNoProject
	}
	if !canSubmitAssignment(s.assignment) {
		s.err = "Project Manager is required"
		s.mu.Unlock()
		return ErrCannotSubmit
	}
	projectID := s.state.ProjectID
	req := pfmtsdk.NewAssignRequest(s.assignment)
	gen, version := s.gen, s.edits[domain.SectionAssignment]
	s.inFlight[opAssign] = true
	s.err = ""
	s.mu.Unlock()

	resp, err := s.API.AssignTeam(ctx, projectID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, opAssign)
	if gen != s.gen || s.state.ProjectID != projectID {
		s.Log.Warn().Str("op", string(opAssign)).Str("project_id", projectID).Msg("dropping response for reset wizard")
		return ErrStale
	}
	if err != nil {
		s.failLocked(opAssign, err)
		return err
	}
	s.state.WorkflowStatus = statusOr(resp.Project.WorkflowStatus, workflow.NextStatusFor(workflow.ActionAssign))
	s.state.AssignedPM = firstNonEmpty(resp.Project.AssignedPM, req.AssignedPM)
	if req.AssignedSPM != nil {
		s.state.AssignedSPM = firstNonEmpty(resp.Project.AssignedSPM, *req.AssignedSPM)
	} else {
		s.state.AssignedSPM = resp.Project.AssignedSPM
	}
	if resp.Project.ID != "" {
		p := resp.Project
		s.state.Project = &p
	}
	s.clearIfUnchangedLocked(domain.SectionAssignment, version)
	s.Log.Info().Str("project_id", projectID).Str("assigned_pm", s.state.AssignedPM).Msg("team assigned")
	return nil
}

// SubmitFinalization sends the configure sections as one payload.
func (s *Store) SubmitFinalization(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight[opFinalize] {
		s.mu.Unlock()
		return ErrInFlight
	}
	if s.state.ProjectID == "" {
		s.err = "No project loaded"
		s.mu.Unlock()
		return ErrNoProject
	}
	if !canSubmitFinalization(s.overview, s.milestone) {
		s.err = "Detailed description and a milestone with title and start date are required"
		s.mu.Unlock()
		return ErrCannotSubmit
	}
	projectID := s.state.ProjectID
	req := s.finalizeRequestLocked()
	gen := s.gen
	versions := map[domain.Section]uint64{}
	for _, sec := range configureSections {
		versions[sec] = s.edits[sec]
	}
	s.inFlight[opFinalize] = true
	s.err = ""
	s.mu.Unlock()

	resp, err := s.API.FinalizeProject(ctx, projectID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, opFinalize)
	if gen != s.gen || s.state.ProjectID != projectID {
		s.Log.Warn().Str("op", string(opFinalize)).Str("project_id", projectID).Msg("dropping response for reset wizard")
		return ErrStale
	}
	if err != nil {
		s.failLocked(opFinalize, err)
		return err
	}
	s.state.WorkflowStatus = statusOr(resp.Project.WorkflowStatus, workflow.NextStatusFor(workflow.ActionFinalize))
	if resp.Project.ID != "" {
		p := resp.Project
		s.state.Project = &p
	}
	for sec, v := range versions {
		s.clearIfUnchangedLocked(sec, v)
	}
	s.Log.Info().Str("project_id", projectID).Msg("project finalized")
	return nil
}

var configureSections = []domain.Section{
	domain.SectionOverview,
	domain.SectionVendors,
	domain.SectionBudget,
	domain.SectionMilestone,
}

// FinalizeRequest assembles the payload SubmitFinalization would send.
func (s *Store) FinalizeRequest() pfmtsdk.FinalizeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeRequestLocked()
}

func (s *Store) finalizeRequestLocked() pfmtsdk.FinalizeRequest {
	budget := cloneBudget(s.budget)
	return pfmtsdk.FinalizeRequest{
		Vendors:             cloneVendors(s.vendors).Selected,
		BudgetBreakdown:     budget.Breakdown,
		TotalBudget:         budget.TotalBudget,
		DetailedDescription: strings.TrimSpace(s.overview.DetailedDescription),
		RiskAssessment:      s.overview.RiskAssessment,
		Milestones:          completeMilestones(s.milestone),
	}
}

// LoadProject fetches the workflow status and then the full project, merges
// them and hydrates every section. On failure the prior state is untouched.
func (s *Store) LoadProject(ctx context.Context, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ErrNoProject
	}
	s.mu.Lock()
	gen := s.gen
	s.loading = true
	s.err = ""
	s.mu.Unlock()

	ws, err := s.API.GetWorkflowStatus(ctx, projectID)
	var resp pfmtsdk.ProjectResponse
	if err == nil {
		resp, err = s.API.GetProject(ctx, projectID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if gen != s.gen {
		return ErrStale
	}
	if err != nil {
		s.err = userMessage(err)
		s.Log.Error().Err(err).Str("project_id", projectID).Msg("load project failed")
		return fmt.Errorf("load project %s: %w", projectID, err)
	}
	p := resp.Project
	if p.ID == "" {
		p.ID = projectID
	}
	p.WorkflowStatus = ws.WorkflowStatus
	p.AssignedPM = firstNonEmpty(ws.AssignedPM, p.AssignedPM)
	p.AssignedSPM = firstNonEmpty(ws.AssignedSPM, p.AssignedSPM)
	p.CreatedBy = firstNonEmpty(ws.CreatedBy, p.CreatedBy)

	if s.state.ProjectID != "" && s.state.ProjectID != p.ID {
		s.gen++
	}
	s.state = ProjectState{
		ProjectID:      p.ID,
		WorkflowStatus: workflow.ParseStatus(p.WorkflowStatus),
		AssignedPM:     p.AssignedPM,
		AssignedSPM:    p.AssignedSPM,
		CreatedBy:      p.CreatedBy,
		Project:        &p,
	}
	s.hydrateLocked(p)
	s.dirty = map[domain.Section]bool{}
	return nil
}

// RefreshStatus re-reads the authoritative status of the current project
// without touching any section.
func (s *Store) RefreshStatus(ctx context.Context) error {
	s.mu.Lock()
	projectID, gen := s.state.ProjectID, s.gen
	s.mu.Unlock()
	if projectID == "" {
		return ErrNoProject
	}
	ws, err := s.API.GetWorkflowStatus(ctx, projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state.ProjectID != projectID {
		return ErrStale
	}
	if err != nil {
		s.Log.Warn().Err(err).Str("project_id", projectID).Msg("refresh workflow status failed")
		return err
	}
	s.state.WorkflowStatus = workflow.ParseStatus(ws.WorkflowStatus)
	s.state.AssignedPM = ws.AssignedPM
	s.state.AssignedSPM = ws.AssignedSPM
	s.state.CreatedBy = firstNonEmpty(ws.CreatedBy, s.state.CreatedBy)
	return nil
}

// LoadAvailableUsers refreshes the selectable users. Failures are logged and
// the previous list is returned.
func (s *Store) LoadAvailableUsers(ctx context.Context, roles ...auth.Role) []domain.User {
	if len(roles) == 0 {
		roles = auth.ProjectManagers
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	users, err := s.API.GetAvailableUsers(ctx, names)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Log.Warn().Err(err).Strs("roles", names).Msg("load available users failed, keeping cached list")
	} else {
		s.users = users
	}
	return append([]domain.User(nil), s.users...)
}

// LoadAvailableVendors refreshes the selectable vendors. Failures are logged
// and the previous list is returned.
func (s *Store) LoadAvailableVendors(ctx context.Context) []domain.Vendor {
	vendors, err := s.API.GetAvailableVendors(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Log.Warn().Err(err).Msg("load available vendors failed, keeping cached list")
	} else {
		s.vendorCache = vendors
	}
	return append([]domain.Vendor(nil), s.vendorCache...)
}

// AvailableUsers returns the cached user list.
func (s *Store) AvailableUsers() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.User(nil), s.users...)
}

// AvailableVendors returns the cached vendor list.
func (s *Store) AvailableVendors() []domain.Vendor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Vendor(nil), s.vendorCache...)
}

// NextStepFor asks the routing decision what actor should do with the
// current project.
func (s *Store) NextStepFor(actorID, role string) workflow.NextStep {
	st := s.Project()
	return workflow.NextStepForUser(workflow.NextStepInput{
		Role:        role,
		Status:      string(st.WorkflowStatus),
		AssignedPM:  st.AssignedPM,
		AssignedSPM: st.AssignedSPM,
		UserID:      actorID,
		ProjectID:   st.ProjectID,
	})
}

func (s *Store) hydrateLocked(p domain.Project) {
	s.initiation = domain.Initiation{
		Name:             p.Name,
		Description:      p.Description,
		Category:         p.Category,
		ProjectType:      p.ProjectType,
		DeliveryMethod:   p.DeliveryMethod,
		ProgramID:        p.ProgramID,
		GeographicRegion: p.GeographicRegion,
		EstimatedBudget:  p.EstimatedBudget,
		StartDate:        p.StartDate,
		EndDate:          p.EndDate,
	}
	s.assignment = domain.Assignment{
		AssignedPM:  p.AssignedPM,
		AssignedSPM: p.AssignedSPM,
		Notes:       p.AssignmentNotes,
	}
	s.overview = domain.Overview{
		DetailedDescription: p.DetailedDescription,
		RiskAssessment:      p.RiskAssessment,
	}
	s.vendors = cloneVendors(domain.Vendors{Selected: p.Vendors})
	s.budget = cloneBudget(domain.Budget{Breakdown: p.BudgetBreakdown})
	s.milestone = cloneMilestones(domain.MilestonePlan{Milestones: p.Milestones})
}

func (s *Store) failLocked(op operation, err error) {
	s.err = userMessage(err)
	s.Log.Error().Err(err).Str("op", string(op)).Str("project_id", s.state.ProjectID).Msg("submission failed")
}

func userMessage(err error) string {
	var apiErr *pfmtsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func statusOr(raw string, fallback workflow.Status) workflow.Status {
	if st := workflow.ParseStatus(raw); st != workflow.StatusNone {
		return st
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
