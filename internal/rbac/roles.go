package rbac

// Role names. Keep these stable; they are part of the auth contract.
const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleHost    = "host"
)

func IsOwner(role string) bool { return role == RoleOwner }

// Known reports whether the role is one this service issues tokens for.
func Known(role string) bool {
	switch role {
	case RoleOwner, RoleManager, RoleHost:
		return true
	}
	return false
}
