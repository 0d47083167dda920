package domain

import dErrors "mortuary/pkg/domain-errors"

// Role is the facility role an acting user holds. Identity resolution happens
// outside the core; callers pass the resolved actor in.
type Role string

const (
	RoleWard       Role = "ward"
	RoleTransport  Role = "transport"
	RoleMorgue     Role = "morgue"
	RoleRecords    Role = "records"
	RoleBilling    Role = "billing"
	RoleBloodBank  Role = "blood_bank"
	RoleSupervisor Role = "supervisor"
)

var validRoles = map[Role]bool{
	RoleWard:       true,
	RoleTransport:  true,
	RoleMorgue:     true,
	RoleRecords:    true,
	RoleBilling:    true,
	RoleBloodBank:  true,
	RoleSupervisor: true,
}

func (r Role) IsValid() bool  { return validRoles[r] }
func (r Role) String() string { return string(r) }

// Actor is the acting user as resolved by the identity layer.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Validate rejects anonymous or role-less actors.
func (a Actor) Validate() error {
	if a.ID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "actor id is required")
	}
	if !a.Role.IsValid() {
		return dErrors.New(dErrors.CodeUnauthorized, "actor role is required")
	}
	return nil
}

// HasAnyRole reports whether the actor holds one of roles. Supervisors hold every role.
func (a Actor) HasAnyRole(roles ...Role) bool {
	if a.Role == RoleSupervisor {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
