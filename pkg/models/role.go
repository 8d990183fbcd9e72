package models

import "strings"

// Role is a canonical actor role label, scoped to a laboratory. Role
// provisioning lives outside the engine; the engine only checks membership.
type Role string

const (
	RoleLabTech    Role = "LAB_TECH"
	RoleQA         Role = "QA"
	RoleLabManager Role = "LAB_MANAGER"
	RoleAdmin      Role = "ADMIN"
)

// NormalizeRole canonicalizes a raw role label: surrounding whitespace is
// trimmed, internal runs of whitespace collapse to a single underscore, and
// the result is uppercased. "lab tech" and " Lab_Tech " both normalize to
// LAB_TECH.
func NormalizeRole(raw string) Role {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}

	return Role(strings.ToUpper(strings.Join(fields, "_")))
}

// NormalizeRoles normalizes every label in raw, dropping empties.
func NormalizeRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))

	for _, r := range raw {
		if role := NormalizeRole(r); role != "" {
			roles = append(roles, role)
		}
	}

	return roles
}

// HasRole reports whether roles contains want. ADMIN satisfies every
// requirement.
func HasRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want || r == RoleAdmin {
			return true
		}
	}

	return false
}

// IsAdmin reports whether roles contains the superuser role.
func IsAdmin(roles []Role) bool {
	for _, r := range roles {
		if r == RoleAdmin {
			return true
		}
	}

	return false
}
