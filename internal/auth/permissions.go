package auth

// Role represents an authorisation tier.
type Role string

const (
	// RoleClient opens and drives sessions through the websocket gateway.
	RoleClient Role = "client"

	// RoleAdmin additionally manages sessions and broker configuration.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermGatewayConnect     Permission = "gateway:connect"
	PermSessionRead        Permission = "session:read"
	PermSessionManage      Permission = "session:manage"
	PermBrokerConfigRead   Permission = "brokerconfig:read"
	PermBrokerConfigManage Permission = "brokerconfig:manage"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleClient: {
		PermGatewayConnect,
	},
	RoleAdmin: {
		PermGatewayConnect,
		PermSessionRead,
		PermSessionManage,
		PermBrokerConfigRead,
		PermBrokerConfigManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
