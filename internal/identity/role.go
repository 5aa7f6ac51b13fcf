package identity

import "fmt"

// Role is a platform-wide role tag carried by a user account.
type Role string

const (
	// RoleRoot bypasses every permission gate.
	RoleRoot Role = "ROOT"
	// RoleAdmin marks platform administrators.
	RoleAdmin Role = "ADMIN"
	// RoleStaff marks tournament and moderation staff.
	RoleStaff Role = "STAFF"
	// RoleUser is the default role of a registered account.
	RoleUser Role = "USER"
)

// ParseRole maps a stored role tag onto the enumerated type.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRoot, RoleAdmin, RoleStaff, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("identity: unknown role %q", s)
}

// Roles is the set of role tags attached to one user.
type Roles []Role

// Has reports whether the set contains role.
func (r Roles) Has(role Role) bool {
	for _, have := range r {
		if have == role {
			return true
		}
	}
	return false
}

// HasRoot reports whether the set contains the bypass role.
func (r Roles) HasRoot() bool {
	return r.Has(RoleRoot)
}

// Strings returns the raw tags for storage and serialization.
func (r Roles) Strings() []string {
	out := make([]string, len(r))
	for i, role := range r {
		out[i] = string(role)
	}
	return out
}

// ParseRoles converts stored tags, rejecting unknown ones.
func ParseRoles(tags []string) (Roles, error) {
	roles := make(Roles, 0, len(tags))
	for _, tag := range tags {
		role, err := ParseRole(tag)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}
