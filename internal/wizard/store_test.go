package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/domain"
	"pfmt/internal/workflow"
	pfmtsdk "pfmt/sdk/go"
)

type fakeAPI struct {
	mu sync.Mutex

	initiateCalls []pfmtsdk.InitiateRequest
	assignCalls   []assignCall
	finalizeCalls []pfmtsdk.FinalizeRequest
	statusCalls   int

	// gate, when set, blocks submissions until closed; started is signalled
	// once per blocked call.
	gate    chan struct{}
	started chan struct{}
	// statusGate does the same for GetWorkflowStatus.
	statusGate chan struct{}

	initiateErr error
	assignErr   error
	finalizeErr error
	statusErr   error
	projectErr  error
	usersErr    error

	status  domain.WorkflowState
	project domain.Project
	users   []domain.User
	vendors []domain.Vendor
}

type assignCall struct {
	ProjectID string
	Req       pfmtsdk.AssignRequest
}

func (f *fakeAPI) wait(ctx context.Context) {
	f.mu.Lock()
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if gate == nil {
		return
	}
	if started != nil {
		started <- struct{}{}
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func (f *fakeAPI) InitiateProject(ctx context.Context, req pfmtsdk.InitiateRequest) (pfmtsdk.ProjectResponse, error) {
	f.mu.Lock()
	f.initiateCalls = append(f.initiateCalls, req)
	f.mu.Unlock()
	f.wait(ctx)
	if f.initiateErr != nil {
		return pfmtsdk.ProjectResponse{}, f.initiateErr
	}
	return pfmtsdk.ProjectResponse{Project: domain.Project{ID: "p1", Name: req.ProjectName, WorkflowStatus: "initiated", CreatedBy: "pmi-1"}}, nil
}

func (f *fakeAPI) AssignTeam(ctx context.Context, projectID string, req pfmtsdk.AssignRequest) (pfmtsdk.ProjectResponse, error) {
	f.mu.Lock()
	f.assignCalls = append(f.assignCalls, assignCall{ProjectID: projectID, Req: req})
	f.mu.Unlock()
	f.wait(ctx)
	if f.assignErr != nil {
		return pfmtsdk.ProjectResponse{}, f.assignErr
	}
	return pfmtsdk.ProjectResponse{Project: domain.Project{ID: projectID, WorkflowStatus: "assigned", AssignedPM: req.AssignedPM}}, nil
}

func (f *fakeAPI) FinalizeProject(ctx context.Context, projectID string, req pfmtsdk.FinalizeRequest) (pfmtsdk.ProjectResponse, error) {
	f.mu.Lock()
	f.finalizeCalls = append(f.finalizeCalls, req)
	f.mu.Unlock()
	f.wait(ctx)
	if f.finalizeErr != nil {
		return pfmtsdk.ProjectResponse{}, f.finalizeErr
	}
	return pfmtsdk.ProjectResponse{Project: domain.Project{ID: projectID, WorkflowStatus: "finalized"}}, nil
}

func (f *fakeAPI) GetWorkflowStatus(ctx context.Context, projectID string) (domain.WorkflowState, error) {
	f.mu.Lock()
	gate, started := f.statusGate, f.started
	f.mu.Unlock()
	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return domain.WorkflowState{}, f.statusErr
	}
	st := f.status
	st.ID = projectID
	return st, nil
}

func (f *fakeAPI) GetProject(ctx context.Context, projectID string) (pfmtsdk.ProjectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.projectErr != nil {
		return pfmtsdk.ProjectResponse{}, f.projectErr
	}
	p := f.project
	p.ID = projectID
	return pfmtsdk.ProjectResponse{Project: p}, nil
}

func (f *fakeAPI) GetAvailableUsers(ctx context.Context, roles []string) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users, f.usersErr
}

func (f *fakeAPI) GetAvailableVendors(ctx context.Context) ([]domain.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vendors, nil
}

func (f *fakeAPI) initiateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.initiateCalls)
}

func newTestStore(api *fakeAPI) *Store {
	s := NewStore(api)
	s.Log = zerolog.Nop()
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestHappyPathScenario(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api)
	ctx := context.Background()

	s.SetInitiation(domain.Initiation{Name: "New School", Description: "Build a school"})
	require.True(t, s.IsDirty(domain.SectionInitiation))

	id, err := s.SubmitInitiation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
	assert.Equal(t, "p1", s.ProjectID())
	assert.Equal(t, workflow.StatusInitiated, s.Project().WorkflowStatus)
	assert.False(t, s.IsDirty(domain.SectionInitiation))
	require.Len(t, api.initiateCalls, 1)
	assert.Equal(t, "New School", api.initiateCalls[0].ProjectName)
	assert.Equal(t, "Build a school", api.initiateCalls[0].ProjectDescription)

	s.UpdateAssignment(func(a *domain.Assignment) { a.AssignedPM = "u1" })
	require.NoError(t, s.SubmitAssignment(ctx))
	require.Len(t, api.assignCalls, 1)
	assert.Equal(t, "p1", api.assignCalls[0].ProjectID)
	assert.Equal(t, "u1", api.assignCalls[0].Req.AssignedPM)
	assert.Nil(t, api.assignCalls[0].Req.AssignedSPM)
	assert.False(t, s.IsDirty(domain.SectionAssignment))
	assert.Equal(t, workflow.StatusAssigned, s.Project().WorkflowStatus)
	assert.Equal(t, "u1", s.Project().AssignedPM)
}

func TestDoubleSubmitIsIdempotent(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newTestStore(api)
	s.SetInitiation(domain.Initiation{Name: "New School", Description: "Build a school"})

	errc := make(chan error, 1)
	go func() {
		_, err := s.SubmitInitiation(context.Background())
		errc <- err
	}()
	<-api.started
	assert.True(t, s.Submitting())

	_, err := s.SubmitInitiation(context.Background())
	assert.ErrorIs(t, err, ErrInFlight)

	close(api.gate)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, api.initiateCount())
	assert.False(t, s.Submitting())
}

func TestSubmitGuards(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api)
	ctx := context.Background()

	s.SetInitiation(domain.Initiation{Name: "   ", Description: "x"})
	_, err := s.SubmitInitiation(ctx)
	assert.ErrorIs(t, err, ErrCannotSubmit)
	assert.NotEmpty(t, s.Error())
	assert.Zero(t, api.initiateCount())

	s.SetAssignment(domain.Assignment{AssignedPM: "u1"})
	assert.ErrorIs(t, s.SubmitAssignment(ctx), ErrNoProject)
	assert.ErrorIs(t, s.SubmitFinalization(ctx), ErrNoProject)
	assert.Empty(t, api.assignCalls)
}

func TestMutationMarksDirty(t *testing.T) {
	s := newTestStore(&fakeAPI{})
	setters := map[domain.Section]func(){
		domain.SectionInitiation: func() { s.UpdateInitiation(func(in *domain.Initiation) { in.Category = "school" }) },
		domain.SectionAssignment: func() { s.UpdateAssignment(func(a *domain.Assignment) { a.Notes = "n" }) },
		domain.SectionOverview:   func() { s.SetOverview(domain.Overview{RiskAssessment: "low"}) },
		domain.SectionVendors:    func() { s.SetVendors(domain.Vendors{Selected: []domain.VendorSelection{{VendorID: "v1"}}}) },
		domain.SectionBudget:     func() { s.UpdateBudget(func(b *domain.Budget) { b.TotalBudget = 10 }) },
		domain.SectionMilestone:  func() { s.SetMilestone(domain.MilestonePlan{}) },
	}
	for sec, set := range setters {
		t.Run(string(sec), func(t *testing.T) {
			s.ClearAllDirty()
			set()
			assert.True(t, s.IsDirty(sec))
			assert.Equal(t, []domain.Section{sec}, s.DirtySections())
		})
	}
}

func TestFailedAssignmentKeepsData(t *testing.T) {
	api := &fakeAPI{assignErr: &pfmtsdk.APIError{Kind: pfmtsdk.KindPermission, StatusCode: 403, Message: "permission team_assignment requires role DIRECTOR or ADMIN"}}
	s := newTestStore(api)
	s.ApplySnapshot(domain.StateSnapshot{ProjectID: "p1", WorkflowStatus: "initiated"})
	s.SetAssignment(domain.Assignment{AssignedPM: "u1", AssignedSPM: "u2", Notes: "urgent"})
	before := s.Assignment()

	err := s.SubmitAssignment(context.Background())
	require.Error(t, err)
	assert.True(t, pfmtsdk.IsKind(err, pfmtsdk.KindPermission))
	assert.Equal(t, before, s.Assignment())
	assert.True(t, s.IsDirty(domain.SectionAssignment))
	assert.Equal(t, "permission team_assignment requires role DIRECTOR or ADMIN", s.Error())
	assert.Equal(t, workflow.StatusInitiated, s.Project().WorkflowStatus)
}

func TestResetDiscardsInFlightResponse(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newTestStore(api)
	s.SetInitiation(domain.Initiation{Name: "New School", Description: "Build a school"})

	errc := make(chan error, 1)
	go func() {
		_, err := s.SubmitInitiation(context.Background())
		errc <- err
	}()
	<-api.started
	s.Reset()
	close(api.gate)

	assert.ErrorIs(t, <-errc, ErrStale)
	assert.Empty(t, s.ProjectID())
	assert.Equal(t, domain.Initiation{}, s.Initiation())
	assert.False(t, s.HasUnsavedChanges())
}

func TestEditDuringSubmitStaysDirty(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newTestStore(api)
	s.SetInitiation(domain.Initiation{Name: "New School", Description: "Build a school"})

	errc := make(chan error, 1)
	go func() {
		_, err := s.SubmitInitiation(context.Background())
		errc <- err
	}()
	<-api.started
	s.UpdateInitiation(func(in *domain.Initiation) { in.Description = "Build a bigger school" })
	close(api.gate)

	require.NoError(t, <-errc)
	assert.Equal(t, "p1", s.ProjectID())
	assert.True(t, s.IsDirty(domain.SectionInitiation))
}

func TestSubmitFinalization(t *testing.T) {
	api := &fakeAPI{}
	s := newTestStore(api)
	s.ApplySnapshot(domain.StateSnapshot{ProjectID: "p1", WorkflowStatus: "assigned"})
	s.SetOverview(domain.Overview{DetailedDescription: "  Phase one  "})
	assert.False(t, s.CanSubmitFinalization())

	s.SetMilestone(domain.MilestonePlan{Milestones: []domain.Milestone{
		{Title: "Draft"},
		{Title: "Design complete", Type: "design", PlannedStart: "2024-03-01", PlannedFinish: "2024-06-01"},
	}})
	s.SetBudget(domain.Budget{TotalBudget: 1000, Breakdown: map[string]float64{"design": 400, "build": 600}})
	s.SetVendors(domain.Vendors{Selected: []domain.VendorSelection{{VendorID: "v1", Role: "architect"}}})
	require.True(t, s.CanSubmitFinalization())

	require.NoError(t, s.SubmitFinalization(context.Background()))
	require.Len(t, api.finalizeCalls, 1)
	req := api.finalizeCalls[0]
	assert.Equal(t, "Phase one", req.DetailedDescription)
	require.Len(t, req.Milestones, 1)
	assert.Equal(t, "Design complete", req.Milestones[0].Title)
	assert.Equal(t, 1000.0, req.TotalBudget)
	assert.Len(t, req.Vendors, 1)
	assert.Equal(t, workflow.StatusFinalized, s.Project().WorkflowStatus)
	assert.Empty(t, s.DirtySections())
}

func TestLoadProject(t *testing.T) {
	api := &fakeAPI{
		status: domain.WorkflowState{WorkflowStatus: "assigned", AssignedPM: "u1", CreatedBy: "pmi-1"},
		project: domain.Project{
			Name:            "New School",
			Description:     "Build a school",
			WorkflowStatus:  "initiated",
			BudgetBreakdown: map[string]float64{"build": 5},
			Milestones:      []domain.Milestone{{Title: "Kickoff", PlannedStart: "2024-01-02"}},
		},
	}
	s := newTestStore(api)
	s.SetOverview(domain.Overview{DetailedDescription: "stale edit"})

	require.NoError(t, s.LoadProject(context.Background(), "p1"))
	st := s.Project()
	assert.Equal(t, "p1", st.ProjectID)
	assert.Equal(t, workflow.StatusAssigned, st.WorkflowStatus, "status endpoint wins")
	assert.Equal(t, "u1", st.AssignedPM)
	assert.Equal(t, "New School", s.Initiation().Name)
	assert.Equal(t, "u1", s.Assignment().AssignedPM)
	assert.Equal(t, 5.0, s.Budget().Breakdown["build"])
	assert.Len(t, s.Milestone().Milestones, 1)
	assert.Empty(t, s.Overview().DetailedDescription)
	assert.False(t, s.HasUnsavedChanges())
	assert.False(t, s.Loading())
}

func TestLoadProjectFailureLeavesState(t *testing.T) {
	api := &fakeAPI{
		status:     domain.WorkflowState{WorkflowStatus: "assigned"},
		projectErr: &pfmtsdk.APIError{Kind: pfmtsdk.KindNotFound, StatusCode: 404, Message: "project not found"},
	}
	s := newTestStore(api)
	s.ApplySnapshot(domain.StateSnapshot{ProjectID: "p0", WorkflowStatus: "initiated", Initiation: domain.Initiation{Name: "Keep"}})

	err := s.LoadProject(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, pfmtsdk.IsKind(err, pfmtsdk.KindNotFound))
	assert.Equal(t, "p0", s.ProjectID())
	assert.Equal(t, "Keep", s.Initiation().Name)
	assert.Equal(t, "project not found", s.Error())
	assert.ErrorIs(t, s.LoadProject(context.Background(), " "), ErrNoProject)
}

func TestStaleLoadClearsLoading(t *testing.T) {
	api := &fakeAPI{
		status:     domain.WorkflowState{WorkflowStatus: "assigned"},
		statusGate: make(chan struct{}),
		started:    make(chan struct{}, 1),
	}
	s := newTestStore(api)

	errc := make(chan error, 1)
	go func() { errc <- s.LoadProject(context.Background(), "p9") }()
	<-api.started
	assert.True(t, s.Loading())

	s.ApplySnapshot(domain.StateSnapshot{ProjectID: "p2", WorkflowStatus: "initiated"})
	close(api.statusGate)

	assert.ErrorIs(t, <-errc, ErrStale)
	assert.False(t, s.Loading())
	assert.Equal(t, "p2", s.ProjectID())
}

func TestNavigationFromStore(t *testing.T) {
	s := newTestStore(&fakeAPI{})
	admin := workflow.Actor{ID: "a-1", Role: "admin"}

	nav := s.Navigation(admin, "")
	require.Len(t, nav.Steps, 3)
	assert.Equal(t, 0, nav.Current)
	assert.True(t, nav.Steps[0].Accessible)
	assert.False(t, nav.Steps[0].Complete)
	assert.False(t, nav.CanNext)

	s.ApplySnapshot(domain.StateSnapshot{
		ProjectID:      "p1",
		WorkflowStatus: "initiated",
		Initiation:     domain.Initiation{Name: "New School", Description: "Build a school"},
	})
	nav = s.Navigation(admin, workflow.StepInitiate)
	assert.True(t, nav.Steps[0].Complete)
	assert.True(t, nav.CanNext)
	require.NotNil(t, nav.Next)
	assert.Equal(t, workflow.StepAssign, nav.Next.ID)

	nav = s.Navigation(workflow.Actor{ID: "pm-1", Role: "pm"}, workflow.StepAssign)
	assert.False(t, nav.Steps[1].Accessible)
	assert.False(t, nav.CanPrevious)
}

func TestRefreshStatusKeepsSections(t *testing.T) {
	api := &fakeAPI{status: domain.WorkflowState{WorkflowStatus: "assigned", AssignedPM: "u1"}}
	s := newTestStore(api)
	s.ApplySnapshot(domain.StateSnapshot{ProjectID: "p1", WorkflowStatus: "initiated", Overview: domain.Overview{DetailedDescription: "mine"}})

	require.NoError(t, s.RefreshStatus(context.Background()))
	assert.Equal(t, workflow.StatusAssigned, s.Project().WorkflowStatus)
	assert.Equal(t, "mine", s.Overview().DetailedDescription)
}

func TestCacheFailuresKeepPreviousList(t *testing.T) {
	api := &fakeAPI{users: []domain.User{{ID: "u1", Role: "pm", Active: true}}}
	s := newTestStore(api)
	ctx := context.Background()

	assert.Len(t, s.LoadAvailableUsers(ctx), 1)
	api.mu.Lock()
	api.usersErr = errors.New("boom")
	api.mu.Unlock()
	assert.Len(t, s.LoadAvailableUsers(ctx), 1)
	assert.Len(t, s.AvailableUsers(), 1)
	assert.Empty(t, s.Error())
}

func TestValidationWarnings(t *testing.T) {
	s := newTestStore(&fakeAPI{})
	s.SetInitiation(domain.Initiation{Name: "n", Description: "d", EstimatedBudget: -5, StartDate: "2024-05-01", EndDate: "2024-04-01"})
	v := s.InitiationValidation()
	assert.True(t, v.Valid)
	assert.Len(t, v.Warnings, 2)

	f := s.FinalizationValidation()
	assert.False(t, f.Valid)
	fields := []string{}
	for _, e := range f.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"detailed_description", "milestone_title", "milestone_start"}, fields)
	assert.NotEmpty(t, f.Warnings)
}

func TestIncompleteMilestonesWarn(t *testing.T) {
	s := newTestStore(&fakeAPI{})
	s.SetOverview(domain.Overview{DetailedDescription: "Phase one", RiskAssessment: "low"})
	s.SetBudget(domain.Budget{Breakdown: map[string]float64{"build": 1}})
	s.SetVendors(domain.Vendors{Selected: []domain.VendorSelection{{VendorID: "v1"}}})
	s.SetMilestone(domain.MilestonePlan{Milestones: []domain.Milestone{
		{Title: "Kickoff", PlannedStart: "2024-01-02"},
		{Title: "No start"},
		{Title: "Handover", PlannedStart: "2024-06-01"},
	}})

	v := s.FinalizationValidation()
	assert.True(t, v.Valid)
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, "milestones", v.Warnings[0].Field)
	assert.Equal(t, "Milestone 2 is incomplete and will not be submitted", v.Warnings[0].Message)
	assert.Len(t, s.FinalizeRequest().Milestones, 2)

	s.SetMilestone(domain.MilestonePlan{Milestones: []domain.Milestone{{Title: "Only title"}, {PlannedStart: "2024-01-02"}}})
	v = s.FinalizationValidation()
	assert.False(t, v.Valid)
	require.Len(t, v.Warnings, 1, "first milestone is reported as an error, not a warning")
	assert.Contains(t, v.Warnings[0].Message, "Milestone 2")
}

func TestNextStepForStore(t *testing.T) {
	s := newTestStore(&fakeAPI{})
	assert.Equal(t, workflow.RouteWizardInitiate, s.NextStepFor("pmi-1", "pmi").Route)

	s.ApplySnapshot(domain.StateSnapshot{ProjectID: "p1", WorkflowStatus: "initiated"})
	next := s.NextStepFor("dir-1", "director")
	assert.Equal(t, workflow.RouteWizardAssign, next.Route)
	assert.Equal(t, "p1", next.Params["projectId"])
}
