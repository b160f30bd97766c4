package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRole(t *testing.T) {
	tests := map[string]struct {
		input string
		want  Role
	}{
		"canonical":                {input: "director", want: Director},
		"canonical upper case":     {input: "SPM", want: SPM},
		"legacy project manager":   {input: "project_manager", want: PM},
		"legacy senior pm":         {input: "senior_project_manager", want: SPM},
		"legacy initiator":         {input: "Project_Initiator", want: PMI},
		"legacy contract analyst":  {input: "contract_analyst", want: Analyst},
		"legacy administrator":     {input: "administrator", want: Admin},
		"legacy cfo":               {input: "CFO", want: Executive},
		"unknown defaults to pm":   {input: "janitor", want: PM},
		"empty defaults to pm":     {input: "", want: PM},
		"surrounding whitespace":   {input: "  vendor ", want: Vendor},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRole(tt.input))
		})
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, IsValidRole(string(r)), r)
	}
	assert.True(t, IsValidRole("cfo"))
	assert.False(t, IsValidRole("janitor"))
	assert.False(t, IsValidRole(""))
}

func TestHasRoleOrHigher(t *testing.T) {
	assert.True(t, HasRoleOrHigher(Admin, Director))
	assert.True(t, HasRoleOrHigher(SPM, PM))
	assert.True(t, HasRoleOrHigher(PM, PM))
	assert.False(t, HasRoleOrHigher(PMI, PM))
	assert.False(t, HasRoleOrHigher(Vendor, Analyst))
	assert.False(t, HasRoleOrHigher(Role("ghost"), Vendor))

	roles := Roles()
	for i := 1; i < len(roles); i++ {
		require.Greater(t, Rank(roles[i]), Rank(roles[i-1]))
	}
}

func TestRolesAllowedForStep(t *testing.T) {
	assert.Equal(t, []Role{PMI, Admin}, RolesAllowedForStep("initiate"))
	assert.Equal(t, []Role{Director, Admin}, RolesAllowedForStep("assign"))
	assert.Equal(t, []Role{PM, SPM, Admin}, RolesAllowedForStep("configure"))
	assert.Empty(t, RolesAllowedForStep("unknown"))

	got := RolesAllowedForStep("initiate")
	got[0] = Vendor
	assert.Equal(t, PMI, RolesAllowedForStep("initiate")[0])
}

func TestRolesAllowedForFeature(t *testing.T) {
	assert.Equal(t, AllInternal, RolesAllowedForFeature(FeatureProjectView))
	assert.NotContains(t, RolesAllowedForFeature(FeatureProjectView), Vendor)
	assert.Contains(t, RolesAllowedForFeature(FeatureVendorPortal), Vendor)
	assert.Equal(t, []Role{Admin}, RolesAllowedForFeature(FeatureUserManagement))
	assert.Empty(t, RolesAllowedForFeature(Feature("unknown")))
	assert.ElementsMatch(t, append([]Role{Analyst}, Leadership...), RolesAllowedForFeature(FeatureReporting))
}

func TestRoleGroups(t *testing.T) {
	for _, group := range [][]Role{ProjectManagers, Leadership, ProjectTeam} {
		for _, r := range group {
			assert.Contains(t, AllInternal, r)
		}
	}
	assert.NotContains(t, AllInternal, Vendor)
	for _, r := range ProjectTeam {
		assert.False(t, HasAnyRole(r, RolesAllowedForFeature(FeatureUserManagement)), r)
	}
}

func TestForbiddenErrorMessage(t *testing.T) {
	err := ForbiddenError{Permission: "assign", Role: PM, Allowed: []Role{Director, Admin}}
	assert.Equal(t, "permission assign requires role DIRECTOR or ADMIN", err.Error())
	assert.Equal(t, "permission x required", ForbiddenError{Permission: "x"}.Error())
}
