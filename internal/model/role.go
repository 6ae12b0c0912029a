package model

// Role is one of the fixed user roles. Values are exchanged as exact strings.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleCreator  Role = "Creador"
	RoleReviewer Role = "Revisor"
	RoleApprover Role = "Aprobador"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleAdmin, RoleCreator, RoleReviewer, RoleApprover}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCreator, RoleReviewer, RoleApprover:
		return true
	}
	return false
}

// RoleSet is an explicit set of roles. Admin is only a member when listed.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}
