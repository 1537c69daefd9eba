// Package domain defines shared domain constants, types, and the contracts the
// moderation engine depends on.
package domain

const (
	// RoleOwner represents the bot owner with the highest privileges.
	RoleOwner = "owner"
	// RoleAdmin represents elevated administrators below the owner.
	RoleAdmin = "admin"
	// RoleUser represents a standard user with no elevated privileges.
	RoleUser = "user"
)

// Role priorities, higher wins.
const (
	RolePriorityUser  = 1
	RolePriorityAdmin = 2
	RolePriorityOwner = 3
)

// RolePriority maps a role name to its ordering weight. Unknown roles rank
// below RoleUser.
func RolePriority(role string) int {
	switch role {
	case RoleOwner:
		return RolePriorityOwner
	case RoleAdmin:
		return RolePriorityAdmin
	case RoleUser:
		return RolePriorityUser
	default:
		return 0
	}
}

// IsSuperRole reports whether the role grants super-admin privileges.
func IsSuperRole(role string) bool {
	return RolePriority(role) >= RolePriorityAdmin
}
