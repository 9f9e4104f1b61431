package models

import (
	"sort"
	"strings"
	"time"
)

type UserRole string

const (
	RoleOperator   UserRole = "operator"
	RoleSuperAdmin UserRole = "super_admin"
)

// roleRank orders roles from least to most privileged.
var roleRank = map[UserRole]int{
	RoleOperator:   1,
	RoleSuperAdmin: 2,
}

type User struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	PasswordHash  string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	Roles         []UserRole `json:"roles"`
	CreatedAt     time.Time  `json:"created_at"`
}

func IsValidRole(role UserRole) bool {
	_, ok := roleRank[role]
	return ok
}

func IsValidRoleList(roles []UserRole) bool {
	if len(roles) == 0 {
		return false
	}
	for _, role := range roles {
		if !IsValidRole(role) {
			return false
		}
	}
	return true
}

// NormalizeRoles lower-cases, de-duplicates and sorts roles by rank.
func NormalizeRoles(roles []UserRole) []UserRole {
	seen := make(map[UserRole]bool, len(roles))
	out := make([]UserRole, 0, len(roles))
	for _, role := range roles {
		role = UserRole(strings.ToLower(strings.TrimSpace(string(role))))
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	sort.SliceStable(out, func(i, j int) bool { return roleRank[out[i]] < roleRank[out[j]] })
	return out
}

// EnsureDefaultRole makes sure every user carries the operator role.
func EnsureDefaultRole(roles []UserRole) []UserRole {
	for _, role := range roles {
		if role == RoleOperator {
			return roles
		}
	}
	return append([]UserRole{RoleOperator}, roles...)
}

func HighestRole(roles []UserRole) UserRole {
	highest := RoleOperator
	for _, role := range roles {
		if roleRank[role] > roleRank[highest] {
			highest = role
		}
	}
	return highest
}

// HasAtLeast reports whether any role ranks at or above required.
func HasAtLeast(roles []UserRole, required UserRole) bool {
	for _, role := range roles {
		if roleRank[role] >= roleRank[required] {
			return true
		}
	}
	return false
}
