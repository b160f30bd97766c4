package auth

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Role is a canonical role identifier.
type Role string

const (
	PMI       Role = "pmi"
	Director  Role = "director"
	PM        Role = "pm"
	SPM       Role = "spm"
	Analyst   Role = "analyst"
	Executive Role = "executive"
	Admin     Role = "admin"
	Vendor    Role = "vendor"
)

// DefaultRole is assigned to unknown role strings.
const DefaultRole = PM

// Feature names a gated area of the application.
type Feature string

const (
	FeatureProjectInitiation   Feature = "project_initiation"
	FeatureTeamAssignment      Feature = "team_assignment"
	FeatureProjectFinalization Feature = "project_finalization"
	FeatureProjectView         Feature = "project_view"
	FeatureProjectEdit         Feature = "project_edit"
	FeatureUserManagement      Feature = "user_management"
	FeatureReporting           Feature = "reporting"
	FeatureVendorPortal        Feature = "vendor_portal"
)

var (
	ProjectManagers = []Role{PM, SPM}
	Leadership      = []Role{Director, Executive, Admin}
	ProjectTeam     = []Role{PMI, PM, SPM}
	AllInternal     = []Role{Admin, PMI, Director, PM, SPM, Analyst, Executive}
)

var canonical = map[Role]int{
	Vendor:    1,
	Analyst:   2,
	PMI:       3,
	PM:        4,
	SPM:       5,
	Executive: 6,
	Director:  7,
	Admin:     8,
}

var legacyAliases = map[string]Role{
	"project_manager":        PM,
	"senior_project_manager": SPM,
	"project_initiator":      PMI,
	"contract_analyst":       Analyst,
	"administrator":          Admin,
	"cfo":                    Executive,
}

var displayNames = map[Role]string{
	Admin:     "Administrator",
	PMI:       "Project Management & Infrastructure",
	Director:  "Director",
	PM:        "Project Manager",
	SPM:       "Senior Project Manager",
	Analyst:   "Contract Analyst",
	Executive: "Executive",
	Vendor:    "Vendor",
}

var featureRoles = map[Feature][]Role{
	FeatureProjectInitiation:   {PMI, Admin},
	FeatureTeamAssignment:      {Director, Admin},
	FeatureProjectFinalization: {PM, SPM, Admin},
	FeatureProjectView:         AllInternal,
	FeatureProjectEdit:         {PM, SPM, Director, Admin},
	FeatureUserManagement:      {Admin},
	FeatureReporting:           append([]Role{Analyst}, Leadership...),
	FeatureVendorPortal:        {Vendor, PM, SPM, Admin},
}

var stepRoles = map[string][]Role{
	"initiate":  {PMI, Admin},
	"assign":    {Director, Admin},
	"configure": {PM, SPM, Admin},
}

// Roles returns every canonical role, lowest rank first.
func Roles() []Role {
	return []Role{Vendor, Analyst, PMI, PM, SPM, Executive, Director, Admin}
}

// NormalizeRole maps any role string onto a canonical role. Unknown input
// falls back to DefaultRole and logs a warning.
func NormalizeRole(input string) Role {
	if _, ok := canonical[Role(input)]; ok {
		return Role(input)
	}
	key := strings.ToLower(strings.TrimSpace(input))
	if _, ok := canonical[Role(key)]; ok {
		return Role(key)
	}
	if r, ok := legacyAliases[key]; ok {
		return r
	}
	log.Warn().Str("role", input).Str("default", string(DefaultRole)).Msg("unknown role, using default")
	return DefaultRole
}

// IsValidRole reports whether input is canonical or a known legacy alias.
func IsValidRole(input string) bool {
	key := strings.ToLower(strings.TrimSpace(input))
	if _, ok := canonical[Role(key)]; ok {
		return true
	}
	_, ok := legacyAliases[key]
	return ok
}

// Rank returns the hierarchy level of a role; 0 for unknown roles.
func Rank(r Role) int {
	return canonical[r]
}

// HasRoleOrHigher compares hierarchy ranks. Unknown roles never qualify.
func HasRoleOrHigher(user, required Role) bool {
	u, ok := canonical[user]
	if !ok {
		return false
	}
	return u >= canonical[required]
}

// HasAnyRole reports exact membership of role in allowed.
func HasAnyRole(role Role, allowed []Role) bool {
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}

// RolesAllowedForStep returns the roles that may act on a wizard step.
func RolesAllowedForStep(step string) []Role {
	return clone(stepRoles[step])
}

// RolesAllowedForFeature returns the roles that may use a feature.
func RolesAllowedForFeature(feature Feature) []Role {
	return clone(featureRoles[feature])
}

// DisplayName is the human readable role label.
func DisplayName(r Role) string {
	if n, ok := displayNames[r]; ok {
		return n
	}
	return string(r)
}

func clone(in []Role) []Role {
	if in == nil {
		return nil
	}
	out := make([]Role, len(in))
	copy(out, in)
	return out
}
