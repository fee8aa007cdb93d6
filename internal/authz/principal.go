package authz

// PrincipalClass separates the three authentication surfaces. The class
// is fixed at login and carried in the token; it never changes during a
// session.
type PrincipalClass string

const (
	ClassSuperUser   PrincipalClass = "super_user"
	ClassCompanyUser PrincipalClass = "company_user"
	ClassDevice      PrincipalClass = "device"
)

// ParsePrincipalClass maps a stored class string to a PrincipalClass.
func ParsePrincipalClass(s string) (PrincipalClass, bool) {
	switch PrincipalClass(s) {
	case ClassSuperUser, ClassCompanyUser, ClassDevice:
		return PrincipalClass(s), true
	}
	return "", false
}

// PrincipalRecord is the raw persisted shape of a principal as loaded
// from storage. RoleName and CompanyTypeName are the stored strings and
// may hold values the catalog does not know; the resolver is the only
// place that interprets them.
type PrincipalRecord struct {
	ID              int64
	Class           PrincipalClass
	RoleName        string
	CompanyID       int64
	CompanyTypeName string
	Active          bool
}

// EffectiveRole is the resolved authorization identity for one request:
// principal class, catalog role and company binding. It is computed once
// per request and never mutated afterwards.
type EffectiveRole struct {
	PrincipalID int64
	Class       PrincipalClass
	Role        Role
	CompanyID   int64
	CompanyType CompanyType
}

// IsSuper reports whether the principal bypasses catalog checks.
func (e EffectiveRole) IsSuper() bool { return e.Class == ClassSuperUser }

// Bound reports whether the principal carries a company binding.
func (e EffectiveRole) Bound() bool { return e.CompanyID != 0 }
