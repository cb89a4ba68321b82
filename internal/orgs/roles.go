package orgs

// Role represents a user's role within an organization
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// Level returns the numeric privilege level of the role.
// Unknown roles (including the empty "not a member" role) are level 0,
// below every real role.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role is at least as privileged as other.
func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

// IsValid reports whether the role is one of the known organization roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}
