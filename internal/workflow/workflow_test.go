package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/auth"
)

func TestTransitionTable(t *testing.T) {
	tests := map[string]struct {
		status Status
		action Action
		role   auth.Role
		want   bool
	}{
		"pmi initiates":             {StatusNone, ActionInitiate, auth.PMI, true},
		"admin initiates":           {StatusNone, ActionInitiate, auth.Admin, true},
		"director cannot initiate":  {StatusNone, ActionInitiate, auth.Director, false},
		"cannot re-initiate":        {StatusInitiated, ActionInitiate, auth.PMI, false},
		"director assigns":          {StatusInitiated, ActionAssign, auth.Director, true},
		"pm cannot assign":          {StatusInitiated, ActionAssign, auth.PM, false},
		"assign needs initiated":    {StatusAssigned, ActionAssign, auth.Director, false},
		"pm finalizes":              {StatusAssigned, ActionFinalize, auth.PM, true},
		"spm finalizes":             {StatusAssigned, ActionFinalize, auth.SPM, true},
		"finalize needs assigned":   {StatusInitiated, ActionFinalize, auth.PM, false},
		"vendor never finalizes":    {StatusAssigned, ActionFinalize, auth.Vendor, false},
		"terminal complete":         {StatusComplete, ActionFinalize, auth.Admin, false},
		"terminal cancelled assign": {StatusCancelled, ActionAssign, auth.Admin, false},
		"terminal active":           {StatusActive, ActionInitiate, auth.Admin, false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.status, tt.action, tt.role))
		})
	}
}

func TestEvaluateOrder(t *testing.T) {
	assigned := ProjectRef{ID: "p1", Status: StatusAssigned, AssignedPM: "u1", AssignedSPM: "u2"}

	assert.Equal(t, DenialNone, Evaluate(assigned, ActionFinalize, Actor{ID: "u1", Role: auth.PM}))
	assert.Equal(t, DenialNone, Evaluate(assigned, ActionFinalize, Actor{ID: "u2", Role: auth.SPM}))
	assert.Equal(t, DenialNone, Evaluate(assigned, ActionFinalize, Actor{ID: "root", Role: auth.Admin}))
	assert.Equal(t, DenialIdentity, Evaluate(assigned, ActionFinalize, Actor{ID: "u9", Role: auth.PM}))

	// role is checked before status, status before identity
	initiated := assigned
	initiated.Status = StatusInitiated
	assert.Equal(t, DenialRole, Evaluate(initiated, ActionFinalize, Actor{ID: "u9", Role: auth.Director}))
	assert.Equal(t, DenialStatus, Evaluate(initiated, ActionFinalize, Actor{ID: "u9", Role: auth.PM}))
}

func TestNextStatusFor(t *testing.T) {
	assert.Equal(t, StatusInitiated, NextStatusFor(ActionInitiate))
	assert.Equal(t, StatusAssigned, NextStatusFor(ActionAssign))
	assert.Equal(t, StatusFinalized, NextStatusFor(ActionFinalize))
	assert.Equal(t, StatusNone, NextStatusFor(Action("archive")))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusNone, ParseStatus("new"))
	assert.Equal(t, StatusNone, ParseStatus(""))
	assert.Equal(t, StatusComplete, ParseStatus("completed"))
	assert.Equal(t, StatusAssigned, ParseStatus(" Assigned "))
	assert.False(t, ParseStatus("on_hold").Known())
	assert.True(t, IsWizardComplete(StatusFinalized))
	assert.False(t, IsTerminal(StatusFinalized))
}

func TestStepCatalog(t *testing.T) {
	ordered := Steps()
	require.Len(t, ordered, 3)
	assert.Equal(t, []StepID{StepInitiate, StepAssign, StepConfigure}, []StepID{ordered[0].ID, ordered[1].ID, ordered[2].ID})

	initiate, ok := StepByID("INITIATE")
	require.True(t, ok)
	assert.Empty(t, initiate.RequiredStatus)
	assert.True(t, initiate.AllowsStatus(StatusComplete))
	assert.False(t, initiate.RequiresProject())

	configure, _ := StepByID("configure")
	assert.Equal(t, []string{SubstepOverview, SubstepVendors, SubstepBudget, SubstepMilestone}, configure.Substeps)
	assert.False(t, configure.AllowsStatus(StatusInitiated))

	next, ok := StepAfter(StepInitiate)
	assert.True(t, ok)
	assert.Equal(t, StepAssign, next)
	_, ok = StepAfter(StepConfigure)
	assert.False(t, ok)
	prev, ok := StepBefore(StepConfigure)
	assert.True(t, ok)
	assert.Equal(t, StepAssign, prev)
	_, ok = StepBefore(StepInitiate)
	assert.False(t, ok)
}

func TestNextStepForUser(t *testing.T) {
	tests := map[string]struct {
		in   NextStepInput
		want NextStep
	}{
		"terminal complete goes to details": {
			in:   NextStepInput{Role: "director", Status: "complete", ProjectID: "p1"},
			want: NextStep{Route: RouteProjectDetails, Params: map[string]string{"id": "p1"}, Message: "Project is ready for management"},
		},
		"finalized goes to details": {
			in:   NextStepInput{Role: "pm", Status: "finalized", ProjectID: "p1", AssignedPM: "u1", UserID: "u1"},
			want: NextStep{Route: RouteProjectDetails, Params: map[string]string{"id": "p1"}, Message: "Project is ready for management"},
		},
		"unknown status goes to details": {
			in:   NextStepInput{Role: "pm", Status: "on_hold", ProjectID: "p1"},
			want: NextStep{Route: RouteProjectDetails, Params: map[string]string{"id": "p1"}, Message: "Project is ready for management"},
		},
		"director assigns initiated": {
			in:   NextStepInput{Role: "director", Status: "initiated", ProjectID: "p1"},
			want: NextStep{Route: RouteWizardAssign, Params: map[string]string{"projectId": "p1"}, Message: "Assign project team"},
		},
		"admin assigns initiated": {
			in:   NextStepInput{Role: "administrator", Status: "initiated", ProjectID: "p1"},
			want: NextStep{Route: RouteWizardAssign, Params: map[string]string{"projectId": "p1"}, Message: "Assign project team"},
		},
		"assigned pm configures": {
			in:   NextStepInput{Role: "pm", Status: "assigned", ProjectID: "p1", AssignedPM: "u1", UserID: "u1"},
			want: NextStep{Route: RouteWizardConfig, Params: map[string]string{"projectId": "p1", "substep": "overview"}, Message: "Configure project details"},
		},
		"assigned spm configures": {
			in:   NextStepInput{Role: "spm", Status: "assigned", ProjectID: "p1", AssignedSPM: "u2", UserID: "u2"},
			want: NextStep{Route: RouteWizardConfig, Params: map[string]string{"projectId": "p1", "substep": "overview"}, Message: "Configure project details"},
		},
		"admin configures without assignment": {
			in:   NextStepInput{Role: "admin", Status: "assigned", ProjectID: "p1", AssignedPM: "u1", UserID: "root"},
			want: NextStep{Route: RouteWizardConfig, Params: map[string]string{"projectId": "p1", "substep": "overview"}, Message: "Configure project details"},
		},
		"unassigned pm views details": {
			in:   NextStepInput{Role: "pm", Status: "assigned", ProjectID: "p1", AssignedPM: "u1", UserID: "u9"},
			want: NextStep{Route: RouteProjectDetails, Params: map[string]string{"id": "p1"}, Message: "View project details"},
		},
		"pmi without project initiates": {
			in:   NextStepInput{Role: "pmi"},
			want: NextStep{Route: RouteWizardInitiate, Message: "Initiate new project"},
		},
		"pm without project has nothing": {
			in:   NextStepInput{Role: "pm"},
			want: NextStep{Route: RouteWizardDashboard, Message: "No wizard action available"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStepForUser(tt.in))
		})
	}
}
