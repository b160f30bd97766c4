package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pfmt/internal/auth"
	"pfmt/internal/workflow"
)

func TestActiveStep(t *testing.T) {
	assert.Equal(t, workflow.StepInitiate, activeStep(workflow.RouteWizardInitiate))
	assert.Equal(t, workflow.StepAssign, activeStep(workflow.RouteWizardAssign))
	assert.Equal(t, workflow.StepConfigure, activeStep(workflow.RouteWizardConfig))
	assert.Equal(t, workflow.StepInitiate, activeStep(workflow.RouteWizardDashboard))
}

func TestRenderNavigation(t *testing.T) {
	nav := workflow.NavigationFor(
		workflow.ProjectRef{ID: "p1", Status: workflow.StatusInitiated},
		workflow.Actor{ID: "a-1", Role: auth.Admin},
		workflow.StepInitiate,
		workflow.Validity{Initiation: true},
	)
	out := renderNavigation(nav)
	for _, st := range workflow.Steps() {
		assert.Contains(t, out, st.Title)
	}
	assert.Contains(t, out, "next: assign")
	assert.NotContains(t, out, "previous:")
}
