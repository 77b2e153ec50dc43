package models

type Role string

const (
	RoleUser          Role = "user"
	RolePromoter      Role = "promoter"
	RoleAdmin         Role = "admin"
	RoleSuperAdmin    Role = "super_admin"
	RoleRegionalAdmin Role = "regional_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePromoter, RoleAdmin, RoleSuperAdmin, RoleRegionalAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin || a.Role == RoleRegionalAdmin
}

func (a Actor) IsPromoter() bool {
	return a.Role == RolePromoter
}
