// Package authz implements the role and permission engine: the static
// permission catalog, effective-role resolution, permission evaluation,
// company scoping and content visibility. Every handler and repository
// that touches tenant data goes through this package.
package authz

import (
	"fmt"
	"sort"
)

// Role is an assignable company role. The set of roles is closed; new
// roles are added here together with their catalog rows.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
	RoleEditor   Role = "editor"
	RoleViewer   Role = "viewer"

	// RoleNone grants nothing. It is never assignable; the resolver uses it
	// for principals without a company binding.
	RoleNone Role = "none"
)

// AssignableRoles lists the roles a user record may carry, in descending
// order of capability.
func AssignableRoles() []Role {
	return []Role{RoleAdmin, RoleReviewer, RoleEditor, RoleViewer}
}

// AllRoles lists every role the catalog must cover, including the
// RoleNone sentinel.
func AllRoles() []Role {
	return append(AssignableRoles(), RoleNone)
}

// ParseRole maps a stored role string to an assignable Role. Unknown
// values, including "none", report ok=false; callers fall back rather
// than guess.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleReviewer, RoleEditor, RoleViewer:
		return Role(s), true
	}
	return RoleNone, false
}

// CompanyType distinguishes the two tenant kinds. HOST companies own
// screens; ADVERTISER companies supply content to them.
type CompanyType string

const (
	CompanyTypeHost       CompanyType = "HOST"
	CompanyTypeAdvertiser CompanyType = "ADVERTISER"
)

func AllCompanyTypes() []CompanyType {
	return []CompanyType{CompanyTypeHost, CompanyTypeAdvertiser}
}

// ParseCompanyType maps a stored company type string to a CompanyType.
func ParseCompanyType(s string) (CompanyType, bool) {
	switch CompanyType(s) {
	case CompanyTypeHost, CompanyTypeAdvertiser:
		return CompanyType(s), true
	}
	return "", false
}

// Resource names a protected object kind.
type Resource string

const (
	ResourceCompany  Resource = "company"
	ResourceUser     Resource = "user"
	ResourceContent  Resource = "content"
	ResourceDevice   Resource = "device"
	ResourceSettings Resource = "settings"
	ResourceAudit    Resource = "audit"
)

// Action names an operation on a resource.
type Action string

const (
	ActionView       Action = "view"
	ActionCreate     Action = "create"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionApprove    Action = "approve"
	ActionShare      Action = "share"
	ActionDistribute Action = "distribute"
	ActionManage     Action = "manage"
)

// Permission is a resource/action pair.
type Permission struct {
	Resource Resource
	Action   Action
}

func (p Permission) String() string {
	return string(p.Resource) + "." + string(p.Action)
}

// PermissionSet is the set of permissions an effective role holds.
type PermissionSet map[Permission]struct{}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the permissions in "resource.action" order, for stable
// API responses and logs.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Strings returns the sorted "resource.action" forms.
func (s PermissionSet) Strings() []string {
	perms := s.Sorted()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

func setOf(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func perm(r Resource, a Action) Permission { return Permission{Resource: r, Action: a} }

// validPairs is the universe of meaningful resource/action pairs. The
// SuperUser set equals this universe. Tenant lifecycle pairs
// (company.create, company.delete, company.manage) appear here but in no
// company role: provisioning tenants is platform work.
var validPairs = []Permission{
	perm(ResourceCompany, ActionView),
	perm(ResourceCompany, ActionCreate),
	perm(ResourceCompany, ActionEdit),
	perm(ResourceCompany, ActionDelete),
	perm(ResourceCompany, ActionManage),

	perm(ResourceUser, ActionView),
	perm(ResourceUser, ActionCreate),
	perm(ResourceUser, ActionEdit),
	perm(ResourceUser, ActionDelete),

	perm(ResourceContent, ActionView),
	perm(ResourceContent, ActionCreate),
	perm(ResourceContent, ActionEdit),
	perm(ResourceContent, ActionDelete),
	perm(ResourceContent, ActionApprove),
	perm(ResourceContent, ActionShare),
	perm(ResourceContent, ActionDistribute),

	perm(ResourceDevice, ActionView),
	perm(ResourceDevice, ActionCreate),
	perm(ResourceDevice, ActionEdit),
	perm(ResourceDevice, ActionDelete),

	perm(ResourceSettings, ActionView),
	perm(ResourceSettings, ActionManage),

	perm(ResourceAudit, ActionView),
}

var (
	universalSet = setOf(validPairs...)

	// devicePermissions is the fixed grant for Device principals. Devices
	// never consult the role catalog.
	devicePermissions = setOf(perm(ResourceContent, ActionView))

	catalog = mustCatalog()
)

// mustCatalog builds the role catalog and panics if any role/company-type
// slot is missing or any row references a pair outside validPairs. The
// process refuses to start with a partial catalog.
func mustCatalog() map[Role]map[CompanyType]PermissionSet {
	deviceView := []Permission{perm(ResourceDevice, ActionView)}

	adminHost := setOf(
		perm(ResourceCompany, ActionView),
		perm(ResourceCompany, ActionEdit),
		perm(ResourceUser, ActionView),
		perm(ResourceUser, ActionCreate),
		perm(ResourceUser, ActionEdit),
		perm(ResourceUser, ActionDelete),
		perm(ResourceContent, ActionView),
		perm(ResourceContent, ActionCreate),
		perm(ResourceContent, ActionEdit),
		perm(ResourceContent, ActionDelete),
		perm(ResourceContent, ActionApprove),
		perm(ResourceContent, ActionShare),
		perm(ResourceContent, ActionDistribute),
		perm(ResourceDevice, ActionView),
		perm(ResourceDevice, ActionCreate),
		perm(ResourceDevice, ActionEdit),
		perm(ResourceDevice, ActionDelete),
		perm(ResourceSettings, ActionView),
		perm(ResourceSettings, ActionManage),
		perm(ResourceAudit, ActionView),
	)
	adminAdvertiser := setOf(
		perm(ResourceCompany, ActionView),
		perm(ResourceCompany, ActionEdit),
		perm(ResourceUser, ActionView),
		perm(ResourceUser, ActionCreate),
		perm(ResourceUser, ActionEdit),
		perm(ResourceUser, ActionDelete),
		perm(ResourceContent, ActionView),
		perm(ResourceContent, ActionCreate),
		perm(ResourceContent, ActionEdit),
		perm(ResourceContent, ActionDelete),
		perm(ResourceContent, ActionApprove),
		perm(ResourceContent, ActionShare),
		perm(ResourceSettings, ActionView),
		perm(ResourceSettings, ActionManage),
		perm(ResourceAudit, ActionView),
	)

	reviewerBase := []Permission{
		perm(ResourceCompany, ActionView),
		perm(ResourceUser, ActionView),
		perm(ResourceContent, ActionView),
		perm(ResourceContent, ActionApprove),
	}
	editorBase := []Permission{
		perm(ResourceCompany, ActionView),
		perm(ResourceContent, ActionView),
		perm(ResourceContent, ActionCreate),
		perm(ResourceContent, ActionEdit),
		perm(ResourceContent, ActionShare),
	}
	viewerBase := []Permission{
		perm(ResourceCompany, ActionView),
		perm(ResourceContent, ActionView),
	}

	c := map[Role]map[CompanyType]PermissionSet{
		RoleAdmin: {
			CompanyTypeHost:       adminHost,
			CompanyTypeAdvertiser: adminAdvertiser,
		},
		RoleReviewer: {
			CompanyTypeHost:       setOf(append(append([]Permission{}, reviewerBase...), deviceView...)...),
			CompanyTypeAdvertiser: setOf(reviewerBase...),
		},
		RoleEditor: {
			CompanyTypeHost:       setOf(append(append(append([]Permission{}, editorBase...), perm(ResourceContent, ActionDistribute)), deviceView...)...),
			CompanyTypeAdvertiser: setOf(editorBase...),
		},
		RoleViewer: {
			CompanyTypeHost:       setOf(append(append([]Permission{}, viewerBase...), deviceView...)...),
			CompanyTypeAdvertiser: setOf(viewerBase...),
		},
		RoleNone: {
			CompanyTypeHost:       setOf(),
			CompanyTypeAdvertiser: setOf(),
		},
	}

	for _, role := range AllRoles() {
		byType, ok := c[role]
		if !ok {
			panic(fmt.Sprintf("authz: catalog missing role %q", role))
		}
		for _, ct := range AllCompanyTypes() {
			set, ok := byType[ct]
			if !ok {
				panic(fmt.Sprintf("authz: catalog missing %s/%s", role, ct))
			}
			for p := range set {
				if !universalSet.Has(p) {
					panic(fmt.Sprintf("authz: catalog %s/%s grants unknown pair %s", role, ct, p))
				}
			}
		}
	}
	return c
}

// ValidPermission reports whether the pair exists in the catalog universe.
func ValidPermission(p Permission) bool {
	return universalSet.Has(p)
}

// UniversalPermissions returns a copy of the SuperUser permission set.
func UniversalPermissions() PermissionSet {
	out := make(PermissionSet, len(universalSet))
	for p := range universalSet {
		out[p] = struct{}{}
	}
	return out
}

// CatalogPermissions returns a copy of the catalog row for a role and
// company type. Unknown combinations return the empty set.
func CatalogPermissions(role Role, ct CompanyType) PermissionSet {
	byType, ok := catalog[role]
	if !ok {
		return PermissionSet{}
	}
	set, ok := byType[ct]
	if !ok {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(set))
	for p := range set {
		out[p] = struct{}{}
	}
	return out
}
