package lifecycle

import "strings"

// Role is the session role issued upstream alongside the operator identity.
type Role string

const (
	RoleOperator   Role = "funcionario"
	RoleManager    Role = "gestor"
	RoleSupervisor Role = "supervisor"
)

// ParseRole maps a session role to a Role. Unknown or empty values fall back
// to RoleOperator, which holds no supervisor capability.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSupervisor:
		return RoleSupervisor
	case RoleManager:
		return RoleManager
	}
	return RoleOperator
}

// CanSupervise reports whether the role may reopen tasks, edit fields and
// override progress ownership.
func (r Role) CanSupervise() bool {
	return r == RoleSupervisor || r == RoleManager
}

func requireSupervisor(actor string, role Role, action string) error {
	if !role.CanSupervise() {
		return &Error{
			Kind:    KindNotAuthorized,
			Message: strings.TrimSpace(actor) + " (" + string(ParseRole(string(role))) + ") may not " + action,
		}
	}
	return nil
}
