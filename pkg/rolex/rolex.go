// Package rolex provides role matching helpers over a user's role list.
//
// Authorization servers are inconsistent about the shape of role claims: some
// return bare strings ("admin"), others return objects with id/name/description.
// Role absorbs both shapes, and every helper here is total - a nil or empty
// role list simply matches nothing.
package rolex

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a single role entry. Exactly one representation is populated:
// a plain name, or a detailed record carrying its own name.
type Role struct {
	plain    string
	detailed *RoleDetail
}

// RoleDetail is the object form of a role claim.
type RoleDetail struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PlainRole creates a Role from a bare name.
func PlainRole(name string) Role {
	return Role{plain: name}
}

// DetailedRole creates a Role from the object form.
func DetailedRole(d RoleDetail) Role {
	return Role{detailed: &d}
}

// Name returns the comparable role name for either representation.
func (r Role) Name() string {
	if r.detailed != nil {
		return r.detailed.Name
	}
	return r.plain
}

// Detail returns the detailed record and whether this role carries one.
func (r Role) Detail() (RoleDetail, bool) {
	if r.detailed == nil {
		return RoleDetail{}, false
	}
	return *r.detailed, true
}

// UnmarshalJSON accepts either a JSON string or a role object.
func (r *Role) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*r = Role{plain: name}
		return nil
	}

	var detail RoleDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return fmt.Errorf("role must be a string or an object: %w", err)
	}

	*r = Role{detailed: &detail}
	return nil
}

// MarshalJSON writes back the same shape the role was created with.
func (r Role) MarshalJSON() ([]byte, error) {
	if r.detailed != nil {
		return json.Marshal(r.detailed)
	}
	return json.Marshal(r.plain)
}

// HasRole reports whether roles contains an entry whose name matches name,
// case-insensitively.
func HasRole(roles []Role, name string) bool {
	for _, r := range roles {
		if strings.EqualFold(r.Name(), name) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles contains at least one of names.
func HasAnyRole(roles []Role, names ...string) bool {
	for _, name := range names {
		if HasRole(roles, name) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether roles contains every one of names.
// An empty names list is trivially satisfied.
func HasAllRoles(roles []Role, names ...string) bool {
	for _, name := range names {
		if !HasRole(roles, name) {
			return false
		}
	}
	return true
}

// Names returns the role names in order. Returns an empty slice for a nil list.
func Names(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name())
	}
	return names
}
