package auth

import (
	"fmt"
	"strings"
)

// ForbiddenError indicates the actor's role does not grant an action.
type ForbiddenError struct {
	Permission string
	Role       Role
	Allowed    []Role
}

func (e ForbiddenError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s requires role %s", e.Permission, JoinRoles(e.Allowed, " or "))
}

// NotAssignedError indicates the actor holds the right role but is not assigned to the project.
type NotAssignedError struct {
	ProjectID string
	ActorID   string
}

func (e NotAssignedError) Error() string {
	return fmt.Sprintf("actor %s is not assigned to project %s", e.ActorID, e.ProjectID)
}

// JoinRoles renders roles as a human readable list.
func JoinRoles(roles []Role, sep string) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, strings.ToUpper(string(r)))
	}
	return strings.Join(parts, sep)
}
