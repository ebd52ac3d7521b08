package authkit

import "github.com/meridianapp/authkit/pkg/rolex"

// HasRole reports whether the user holds the named role, case-insensitively.
// Safe on a nil user.
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	return rolex.HasRole(u.Roles, name)
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (u *User) HasAnyRole(names ...string) bool {
	if u == nil {
		return false
	}
	return rolex.HasAnyRole(u.Roles, names...)
}

// HasAllRoles reports whether the user holds every one of the named roles.
// A nil user only satisfies an empty list.
func (u *User) HasAllRoles(names ...string) bool {
	if u == nil {
		return len(names) == 0
	}
	return rolex.HasAllRoles(u.Roles, names...)
}

// RoleNames returns the user's role names, empty for a nil user.
func (u *User) RoleNames() []string {
	if u == nil {
		return nil
	}
	return rolex.Names(u.Roles)
}

// DisplayName picks the best human-readable label for the user: full name,
// then username, then email, then the subject identifier. Returns "" for a
// nil user.
func DisplayName(u *User) string {
	if u == nil {
		return ""
	}

	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	default:
		return u.Sub
	}
}
