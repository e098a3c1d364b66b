package token

// UserPrincipal is the standard Principal implementation for directory users
// authenticated by the primary login. Other principal types (API tokens,
// federated identities) implement Principal themselves and register a codec.
type UserPrincipal struct {
	UserID    string
	Email     string
	RoleNames []string
	Attrs     map[string]string
}

// NewUserPrincipal returns a principal for the given user and roles.
func NewUserPrincipal(userID, email string, roles []string) *UserPrincipal {
	return &UserPrincipal{
		UserID:    userID,
		Email:     email,
		RoleNames: roles,
		Attrs:     make(map[string]string),
	}
}

func (p *UserPrincipal) ID() string { return p.UserID }

func (p *UserPrincipal) Roles() []string {
	out := make([]string, len(p.RoleNames))
	copy(out, p.RoleNames)
	return out
}

func (p *UserPrincipal) Attribute(key string) (string, bool) {
	v, ok := p.Attrs[key]
	return v, ok
}

func (p *UserPrincipal) SetAttribute(key, value string) {
	if p.Attrs == nil {
		p.Attrs = make(map[string]string)
	}
	p.Attrs[key] = value
}
