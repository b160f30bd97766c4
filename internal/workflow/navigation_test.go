package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/auth"
)

func accessible(nav Navigation) []StepID {
	out := []StepID{}
	for _, s := range nav.Steps {
		if s.Accessible {
			out = append(out, s.ID)
		}
	}
	return out
}

func TestNavigationAccessByStatusAndRole(t *testing.T) {
	tests := map[string]struct {
		status Status
		actor  Actor
		want   []StepID
	}{
		"pmi starts a project":        {StatusNone, Actor{ID: "pmi-1", Role: auth.PMI}, []StepID{StepInitiate}},
		"admin starts a project":      {StatusNone, Actor{ID: "admin", Role: auth.Admin}, []StepID{StepInitiate}},
		"director waits for project":  {StatusNone, Actor{ID: "dir-1", Role: auth.Director}, []StepID{}},
		"director assigns":            {StatusInitiated, Actor{ID: "dir-1", Role: auth.Director}, []StepID{StepAssign}},
		"pmi done after initiation":   {StatusInitiated, Actor{ID: "pmi-1", Role: auth.PMI}, []StepID{}},
		"pm waits for assignment":     {StatusInitiated, Actor{ID: "pm-1", Role: auth.PM}, []StepID{}},
		"assigned pm configures":      {StatusAssigned, Actor{ID: "pm-1", Role: auth.PM}, []StepID{StepConfigure}},
		"assigned spm configures":     {StatusAssigned, Actor{ID: "spm-1", Role: auth.SPM}, []StepID{StepConfigure}},
		"other pm is locked out":      {StatusAssigned, Actor{ID: "pm-9", Role: auth.PM}, []StepID{}},
		"admin configures":            {StatusAssigned, Actor{ID: "admin", Role: auth.Admin}, []StepID{StepConfigure}},
		"director after assignment":   {StatusAssigned, Actor{ID: "dir-1", Role: auth.Director}, []StepID{}},
		"finalized has no steps":      {StatusFinalized, Actor{ID: "admin", Role: auth.Admin}, []StepID{}},
		"active has no steps":         {StatusActive, Actor{ID: "admin", Role: auth.Admin}, []StepID{}},
		"complete has no steps":       {StatusComplete, Actor{ID: "pm-1", Role: auth.PM}, []StepID{}},
		"cancelled has no steps":      {StatusCancelled, Actor{ID: "admin", Role: auth.Admin}, []StepID{}},
		"vendor never sees the steps": {StatusAssigned, Actor{ID: "v-1", Role: auth.Vendor}, []StepID{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ref := ProjectRef{ID: "p1", Status: tt.status, AssignedPM: "pm-1", AssignedSPM: "spm-1"}
			nav := NavigationFor(ref, tt.actor, "", Validity{})
			require.Len(t, nav.Steps, 3)
			assert.Equal(t, tt.want, accessible(nav))
		})
	}
}

func TestNavigationCompletion(t *testing.T) {
	all := Validity{Initiation: true, Assignment: true, Finalization: true}
	admin := Actor{ID: "admin", Role: auth.Admin}
	complete := func(status Status, v Validity) []bool {
		nav := NavigationFor(ProjectRef{ID: "p1", Status: status}, admin, "", v)
		out := []bool{}
		for _, s := range nav.Steps {
			out = append(out, s.Complete)
		}
		return out
	}

	assert.Equal(t, []bool{false, false, false}, complete(StatusNone, all))
	assert.Equal(t, []bool{true, false, false}, complete(StatusInitiated, all))
	assert.Equal(t, []bool{true, true, false}, complete(StatusAssigned, all))
	assert.Equal(t, []bool{true, true, true}, complete(StatusFinalized, all))
	assert.Equal(t, []bool{true, true, true}, complete(StatusComplete, all))
	assert.Equal(t, []bool{false, false, false}, complete(StatusCancelled, all))
	assert.Equal(t, []bool{false, true, false}, complete(StatusAssigned, Validity{Assignment: true}))
}

func TestNavigationMoves(t *testing.T) {
	all := Validity{Initiation: true, Assignment: true, Finalization: true}
	admin := Actor{ID: "admin", Role: auth.Admin}

	nav := NavigationFor(ProjectRef{ID: "p1", Status: StatusInitiated}, admin, StepInitiate, all)
	assert.Equal(t, 0, nav.Current)
	assert.True(t, nav.Steps[0].Active)
	require.True(t, nav.CanNext)
	assert.Equal(t, StepAssign, nav.Next.ID)
	assert.False(t, nav.CanPrevious)
	assert.Nil(t, nav.Previous)

	// the current step is not complete yet
	nav = NavigationFor(ProjectRef{ID: "p1", Status: StatusNone}, Actor{ID: "pmi-1", Role: auth.PMI}, StepInitiate, all)
	assert.False(t, nav.CanNext)

	// the next step is not the actor's
	nav = NavigationFor(ProjectRef{ID: "p1", Status: StatusInitiated}, Actor{ID: "pmi-1", Role: auth.PMI}, StepInitiate, all)
	assert.False(t, nav.CanNext)
	assert.Nil(t, nav.Next)

	nav = NavigationFor(ProjectRef{ID: "p1", Status: StatusAssigned, AssignedPM: "pm-1"}, Actor{ID: "pm-1", Role: auth.PM}, StepAssign, all)
	assert.Equal(t, 1, nav.Current)
	require.True(t, nav.CanNext)
	assert.Equal(t, StepConfigure, nav.Next.ID)
	assert.False(t, nav.CanPrevious)

	nav = NavigationFor(ProjectRef{ID: "p1", Status: StatusInitiated}, admin, StepConfigure, all)
	require.True(t, nav.CanPrevious)
	assert.Equal(t, StepAssign, nav.Previous.ID)
	assert.False(t, nav.CanNext)

	nav = NavigationFor(ProjectRef{ID: "p1", Status: StatusInitiated}, admin, StepID("review"), all)
	assert.Equal(t, -1, nav.Current)
	assert.False(t, nav.CanNext)
	assert.False(t, nav.CanPrevious)
}

func TestReached(t *testing.T) {
	assert.True(t, Reached(StatusAssigned, StatusInitiated))
	assert.True(t, Reached(StatusAssigned, StatusAssigned))
	assert.False(t, Reached(StatusInitiated, StatusAssigned))
	assert.False(t, Reached(StatusCancelled, StatusNone))
	assert.False(t, Reached(Status("archived"), StatusNone))

	a, ok := ActionFor(StepConfigure)
	assert.True(t, ok)
	assert.Equal(t, ActionFinalize, a)
	_, ok = ActionFor(StepID("review"))
	assert.False(t, ok)
}
