package auth

// Permission represents a named capability on the console API.
type Permission string

// Permission constants.
const (
	PermCatalogRead       Permission = "catalog:read"
	PermExecutionRead     Permission = "execution:read"
	PermExecutionInitiate Permission = "execution:initiate"
	PermExecutionControl  Permission = "execution:control" // continue, abort
	PermExecutionApprove  Permission = "execution:approve" // approve, reject
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermCatalogRead,
		PermExecutionRead,
		PermExecutionInitiate,
		PermExecutionControl,
	},
	RoleSupervisor: {
		PermCatalogRead,
		PermExecutionRead,
		PermExecutionInitiate,
		PermExecutionControl,
		PermExecutionApprove,
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
