// Package access maps an actor's role to the operations permitted on a given
// resource type. The capability table is static and evaluated as a pure
// function, so a decision never depends on cached role data.
package access

import "strings"

// Role is the coarse permission tier of an authenticated actor.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEngineer Role = "ENGINEER"
	RoleAuditor  Role = "AUDITOR"
)

// ParseRole normalizes a stored role string. Unknown values map to the empty
// role, which holds no capabilities.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleEngineer:
		return RoleEngineer
	case RoleAuditor:
		return RoleAuditor
	}
	return ""
}

// Action is an operation an actor may attempt.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionRead   Action = "READ"
	ActionAssign Action = "ASSIGN"
	ActionRevoke Action = "REVOKE"
)

// Resource is the entity type an action targets.
type Resource string

const (
	ResourceVendor          Resource = "VENDOR"
	ResourceDevice          Resource = "DEVICE"
	ResourceLicense         Resource = "LICENSE"
	ResourceAssignment      Resource = "ASSIGNMENT"
	ResourceSoftwareVersion Resource = "SOFTWARE_VERSION"
	ResourceAuditLog        Resource = "AUDIT_LOG"
	ResourceUser            Resource = "USER"
)

// engineerWrite lists the resources an engineer may create, update, or delete.
var engineerWrite = map[Resource]bool{
	ResourceDevice:          true,
	ResourceSoftwareVersion: true,
}

// Allowed reports whether role may perform action on resource.
//
//	Role     | CUD Vendor/License | CUD Device/SwVersion | Assign/Revoke | Read | Manage Users
//	Admin    | yes                | yes                  | yes           | yes  | yes
//	Engineer | no                 | yes                  | yes           | yes  | no
//	Auditor  | no                 | no                   | no            | yes  | no
func Allowed(role Role, action Action, resource Resource) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEngineer:
		switch action {
		case ActionRead:
			return true
		case ActionAssign, ActionRevoke:
			return resource == ResourceAssignment || resource == ResourceLicense
		case ActionCreate, ActionUpdate, ActionDelete:
			return engineerWrite[resource]
		}
		return false
	case RoleAuditor:
		return action == ActionRead
	}
	return false
}
