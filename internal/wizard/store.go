package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pfmt/internal/domain"
	"pfmt/internal/workflow"
	pfmtsdk "pfmt/sdk/go"
)

var (
	// ErrInFlight is returned when a submission for the same step is outstanding.
	ErrInFlight = errors.New("submission already in progress")
	// ErrCannotSubmit is returned when the step's validity predicate fails.
	ErrCannotSubmit = errors.New("step is not ready to submit")
	// ErrNoProject is returned by steps that need a project id.
	ErrNoProject = errors.New("no project loaded")
	// ErrStale is returned when the store was reset while a request was outstanding.
	ErrStale = errors.New("response discarded: wizard state changed")
)

// API is the subset of the workflow client the store depends on.
type API interface {
	InitiateProject(ctx context.Context, req pfmtsdk.InitiateRequest) (pfmtsdk.ProjectResponse, error)
	AssignTeam(ctx context.Context, projectID string, req pfmtsdk.AssignRequest) (pfmtsdk.ProjectResponse, error)
	FinalizeProject(ctx context.Context, projectID string, req pfmtsdk.FinalizeRequest) (pfmtsdk.ProjectResponse, error)
	GetWorkflowStatus(ctx context.Context, projectID string) (domain.WorkflowState, error)
	GetProject(ctx context.Context, projectID string) (pfmtsdk.ProjectResponse, error)
	GetAvailableUsers(ctx context.Context, roles []string) ([]domain.User, error)
	GetAvailableVendors(ctx context.Context) ([]domain.Vendor, error)
}

type operation string

const (
	opInitiate operation = "initiate"
	opAssign   operation = "assign"
	opFinalize operation = "finalize"
)

// ProjectState is the store's view of the server-side project.
type ProjectState struct {
	ProjectID      string
	WorkflowStatus workflow.Status
	AssignedPM     string
	AssignedSPM    string
	CreatedBy      string
	Project        *domain.Project
}

// Store holds the in-progress wizard. All methods are safe for concurrent use.
type Store struct {
	API API
	Log zerolog.Logger
	Now func() time.Time

	mu         sync.Mutex
	state      ProjectState
	initiation domain.Initiation
	assignment domain.Assignment
	overview   domain.Overview
	vendors    domain.Vendors
	budget     domain.Budget
	milestone  domain.MilestonePlan

	dirty    map[domain.Section]bool
	edits    map[domain.Section]uint64
	inFlight map[operation]bool
	gen      uint64
	loading  bool
	err      string

	users       []domain.User
	vendorCache []domain.Vendor
}

// NewStore returns an empty wizard bound to api.
func NewStore(api API) *Store {
	return &Store{
		API:      api,
		Log:      log.Logger,
		Now:      time.Now,
		dirty:    map[domain.Section]bool{},
		edits:    map[domain.Section]uint64{},
		inFlight: map[operation]bool{},
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Project returns a copy of the project state.
func (s *Store) Project() ProjectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	if s.state.Project != nil {
		p := cloneProject(*s.state.Project)
		out.Project = &p
	}
	return out
}

// ProjectID returns the current project id, empty before initiation succeeds.
func (s *Store) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ProjectID
}

// Error returns the last user-facing error message.
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ClearError drops the current error message.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ""
}

// Loading reports whether LoadProject is outstanding.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Submitting reports whether any submission is outstanding.
func (s *Store) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.inFlight {
		if v {
			return true
		}
	}
	return false
}

func (s *Store) Initiation() domain.Initiation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiation
}

func (s *Store) Assignment() domain.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignment
}

func (s *Store) Overview() domain.Overview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overview
}

func (s *Store) Vendors() domain.Vendors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneVendors(s.vendors)
}

func (s *Store) Budget() domain.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBudget(s.budget)
}

func (s *Store) Milestone() domain.MilestonePlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMilestones(s.milestone)
}

// SetInitiation replaces the initiation section and marks it dirty.
func (s *Store) SetInitiation(v domain.Initiation) {
	s.UpdateInitiation(func(in *domain.Initiation) { *in = v })
}

// UpdateInitiation edits the initiation section in place and marks it dirty.
// fn must not retain the pointer.
func (s *Store) UpdateInitiation(fn func(*domain.Initiation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.initiation)
	s.markDirtyLocked(domain.SectionInitiation)
}

func (s *Store) SetAssignment(v domain.Assignment) {
	s.UpdateAssignment(func(a *domain.Assignment) { *a = v })
}

func (s *Store) UpdateAssignment(fn func(*domain.Assignment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.assignment)
	s.markDirtyLocked(domain.SectionAssignment)
}

func (s *Store) SetOverview(v domain.Overview) {
	s.UpdateOverview(func(o *domain.Overview) { *o = v })
}

func (s *Store) UpdateOverview(fn func(*domain.Overview)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.overview)
	s.markDirtyLocked(domain.SectionOverview)
}

func (s *Store) SetVendors(v domain.Vendors) {
	v = cloneVendors(v)
	s.UpdateVendors(func(cur *domain.Vendors) { *cur = v })
}

func (s *Store) UpdateVendors(fn func(*domain.Vendors)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.vendors)
	s.markDirtyLocked(domain.SectionVendors)
}

func (s *Store) SetBudget(v domain.Budget) {
	v = cloneBudget(v)
	s.UpdateBudget(func(cur *domain.Budget) { *cur = v })
}

func (s *Store) UpdateBudget(fn func(*domain.Budget)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.budget)
	s.markDirtyLocked(domain.SectionBudget)
}

func (s *Store) SetMilestone(v domain.MilestonePlan) {
	v = cloneMilestones(v)
	s.UpdateMilestone(func(cur *domain.MilestonePlan) { *cur = v })
}

func (s *Store) UpdateMilestone(fn func(*domain.MilestonePlan)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.milestone)
	s.markDirtyLocked(domain.SectionMilestone)
}

// MarkDirty flags section as holding unsaved edits.
func (s *Store) MarkDirty(section domain.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markDirtyLocked(section)
}

// MarkClean clears the dirty flag of a single section.
func (s *Store) MarkClean(section domain.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, section)
}

// ClearAllDirty empties the dirty set.
func (s *Store) ClearAllDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = map[domain.Section]bool{}
}

// IsDirty reports whether section has unsaved edits.
func (s *Store) IsDirty(section domain.Section) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[section]
}

// DirtySections lists dirty sections in wizard order.
func (s *Store) DirtySections() []domain.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtySectionsLocked()
}

// HasUnsavedChanges reports whether any section is dirty.
func (s *Store) HasUnsavedChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) > 0
}

// Reset restores every section to empty defaults and drops the project.
// Outstanding responses are discarded when they arrive.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.gen++
	s.state = ProjectState{}
	s.initiation = domain.Initiation{}
	s.assignment = domain.Assignment{}
	s.overview = domain.Overview{}
	s.vendors = domain.Vendors{}
	s.budget = domain.Budget{}
	s.milestone = domain.MilestonePlan{}
	s.dirty = map[domain.Section]bool{}
	s.edits = map[domain.Section]uint64{}
	s.loading = false
	s.err = ""
}

// CanSubmitInitiation requires a non-blank name and description.
func (s *Store) CanSubmitInitiation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return canSubmitInitiation(s.initiation)
}

// CanSubmitAssignment requires a non-blank assigned PM.
func (s *Store) CanSubmitAssignment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return canSubmitAssignment(s.assignment)
}

// CanSubmitFinalization requires a detailed description and at least one
// milestone with a title and planned start.
func (s *Store) CanSubmitFinalization() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return canSubmitFinalization(s.overview, s.milestone)
}

// Navigation reports per-step progress for actor with current as the active
// step, using the cached workflow status and the live form predicates.
func (s *Store) Navigation(actor workflow.Actor, current workflow.StepID) workflow.Navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := workflow.ProjectRef{
		ID:          s.state.ProjectID,
		Status:      s.state.WorkflowStatus,
		AssignedPM:  s.state.AssignedPM,
		AssignedSPM: s.state.AssignedSPM,
	}
	return workflow.NavigationFor(ref, actor, current, workflow.Validity{
		Initiation:   canSubmitInitiation(s.initiation),
		Assignment:   canSubmitAssignment(s.assignment),
		Finalization: canSubmitFinalization(s.overview, s.milestone),
	})
}

func canSubmitInitiation(in domain.Initiation) bool {
	return strings.TrimSpace(in.Name) != "" && strings.TrimSpace(in.Description) != ""
}

func canSubmitAssignment(a domain.Assignment) bool {
	return strings.TrimSpace(a.AssignedPM) != ""
}

func canSubmitFinalization(o domain.Overview, m domain.MilestonePlan) bool {
	if strings.TrimSpace(o.DetailedDescription) == "" {
		return false
	}
	return len(completeMilestones(m)) > 0
}

func completeMilestones(m domain.MilestonePlan) []domain.Milestone {
	var out []domain.Milestone
	for _, ms := range m.Milestones {
		if milestoneComplete(ms) {
			out = append(out, ms)
		}
	}
	return out
}

// milestoneComplete reports whether ms has the fields finalization sends.
func milestoneComplete(ms domain.Milestone) bool {
	return strings.TrimSpace(ms.Title) != "" && strings.TrimSpace(ms.PlannedStart) != ""
}

func (s *Store) markDirtyLocked(section domain.Section) {
	s.dirty[section] = true
	s.edits[section]++
}

func (s *Store) dirtySectionsLocked() []domain.Section {
	out := []domain.Section{}
	for _, sec := range domain.Sections() {
		if s.dirty[sec] {
			out = append(out, sec)
		}
	}
	return out
}

// clearIfUnchangedLocked clears section's dirty flag unless it was edited
// after the submission captured version.
func (s *Store) clearIfUnchangedLocked(section domain.Section, version uint64) {
	if s.edits[section] == version {
		delete(s.dirty, section)
	}
}
