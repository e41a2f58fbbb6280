package domain

const RoleAdmin = "admin"

// Identity is the verified caller resolved from a bearer credential.
type Identity struct {
	ID    string
	Email string
	Roles []string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// CanSee is the ownership-or-admin rule shared by get and cancel.
func (i Identity) CanSee(o *Order) bool {
	return i.IsAdmin() || o.OwnedBy(i.ID)
}
