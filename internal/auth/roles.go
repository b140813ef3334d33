// Package auth verifies bearer tokens and maps identity-provider groups onto
// the archiver's viewer < operator < admin role hierarchy.
package auth

import "strings"

// Role is a position in the access hierarchy.
type Role int

// Roles in ascending order of privilege.
const (
	RoleViewer Role = iota + 1
	RoleOperator
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name back to a Role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer, true
	case "operator":
		return RoleOperator, true
	case "admin":
		return RoleAdmin, true
	default:
		return 0, false
	}
}

// AtLeast reports whether r grants min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

var groupRoles = map[string]Role{
	"admin":   RoleAdmin,
	"user":    RoleOperator,
	"auditor": RoleViewer,
}

// RoleFromGroups returns the highest role granted by groups, or viewer.
func RoleFromGroups(groups []string) Role {
	role := RoleViewer
	for _, g := range groups {
		if r, ok := groupRoles[strings.ToLower(strings.TrimSpace(g))]; ok && r > role {
			role = r
		}
	}
	return role
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string   `json:"user_id"`
	Email   string   `json:"email,omitempty"`
	Role    Role     `json:"-"`
	Groups  []string `json:"groups"`
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role.AtLeast(RoleAdmin)
}

// CanAccess reports whether the caller may read or act on a resource owned by owner.
func CanAccess(id Identity, owner string) bool {
	return id.IsAdmin() || (id.Subject != "" && id.Subject == owner)
}

// DevIdentity is attached to every request when authentication is disabled.
func DevIdentity() Identity {
	return Identity{
		Subject: "dev-user",
		Email:   "dev@localhost",
		Role:    RoleAdmin,
		Groups:  []string{"admin"},
	}
}
