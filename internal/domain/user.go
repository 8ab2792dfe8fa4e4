package domain

import "time"

// UserRole enumerates field-force roles.
type UserRole string

const (
	UserRoleUser   UserRole = "USER"
	UserRoleLeader UserRole = "LEADER"
	UserRoleAdmin  UserRole = "ADMIN"
)

// UserRoles lists every role in ascending privilege order.
var UserRoles = []UserRole{UserRoleUser, UserRoleLeader, UserRoleAdmin}

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleUser, UserRoleLeader, UserRoleAdmin:
		return true
	default:
		return false
	}
}

// User is the domain model for a field-force member.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
