package auth

import "time"

type Role string

const (
	RoleCOO             Role = "coo"
	RoleBrandHead       Role = "brand_head"
	RoleProjectManager  Role = "project_manager"
	RoleDigitalMarketer Role = "digital_marketer"
	RoleGraphicDesigner Role = "graphic_designer"
	RoleTeleCaller      Role = "tele_caller"
)

// Roles lists every dashboard role.
func Roles() []Role {
	return []Role{RoleCOO, RoleBrandHead, RoleProjectManager, RoleDigitalMarketer, RoleGraphicDesigner, RoleTeleCaller}
}

func (r Role) Valid() bool {
	for _, candidate := range Roles() {
		if r == candidate {
			return true
		}
	}
	return false
}

// CanAssign reports whether the role may hand out work on someone else's
// behalf.
func (r Role) CanAssign() bool {
	switch r {
	case RoleCOO, RoleBrandHead, RoleProjectManager:
		return true
	}
	return false
}

// Member is a staff account. It mirrors the members table and carries no
// JSON annotations so presentation layers can shape it themselves.
type Member struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains member registration data supplied by callers.
// InvitedBy is the role of the signed-in member creating the account; it is
// empty for self sign-up.
type RegisterRequest struct {
	Email     string
	Password  string
	FullName  string
	Role      Role
	InvitedBy Role
}

type LoginRequest struct {
	Email    string
	Password string
}
