package model

import "strings"

// Role is the platform-wide role of a principal.
type Role string

const (
	RoleUser    Role = "USER"
	RoleAdmin   Role = "ADMIN"
	RoleService Role = "SERVICE"
	RoleSystem  Role = "SYSTEM"
)

// ProjectRole is the membership role of a user inside one project.
// The zero value means the user is not a member.
type ProjectRole string

const (
	ProjectRoleNone  ProjectRole = ""
	ProjectRoleUser  ProjectRole = "USER"
	ProjectRoleAdmin ProjectRole = "ADMIN"
	ProjectRolePI    ProjectRole = "PI"
)

// IsAdmin is true for the roles allowed to manage project funds.
func (r ProjectRole) IsAdmin() bool {
	return r == ProjectRoleAdmin || r == ProjectRolePI
}

// Actor is the principal a request is executed on behalf of.
type Actor struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// SystemActor is the trusted in-process principal.
var SystemActor = Actor{Username: "_system", Role: RoleSystem}

func NewUser(username string, role Role) Actor {
	return Actor{Username: username, Role: role}
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleService
}

// IsServiceUser reports whether the username carries the reserved service prefix.
func (a Actor) IsServiceUser(prefix string) bool {
	return prefix != "" && strings.HasPrefix(a.Username, prefix)
}
