package authz

// PermissionsFor returns the full permission set for an effective role.
// The result is a copy; callers may mutate it freely.
func PermissionsFor(er EffectiveRole) PermissionSet {
	switch er.Class {
	case ClassSuperUser:
		return UniversalPermissions()
	case ClassDevice:
		out := make(PermissionSet, len(devicePermissions))
		for p := range devicePermissions {
			out[p] = struct{}{}
		}
		return out
	}
	return CatalogPermissions(er.Role, er.CompanyType)
}

// HasPermission reports whether the effective role holds resource.action.
// SuperUser short-circuits true without touching the catalog. For every
// other class an unknown pair answers false.
func HasPermission(er EffectiveRole, resource Resource, action Action) bool {
	if er.Class == ClassSuperUser {
		return true
	}
	p := Permission{Resource: resource, Action: action}
	if !ValidPermission(p) {
		return false
	}
	if er.Class == ClassDevice {
		return devicePermissions.Has(p)
	}
	byType, ok := catalog[er.Role]
	if !ok {
		return false
	}
	set, ok := byType[er.CompanyType]
	if !ok {
		return false
	}
	return set.Has(p)
}

// NavKey identifies a navigation section in the management UI.
type NavKey string

const (
	NavCompanies NavKey = "companies"
	NavUsers     NavKey = "users"
	NavContent   NavKey = "content"
	NavDevices   NavKey = "devices"
	NavSettings  NavKey = "settings"
	NavAudit     NavKey = "audit"
)

// navOrder fixes the section order for API responses.
var navOrder = []NavKey{NavCompanies, NavUsers, NavContent, NavDevices, NavSettings, NavAudit}

// navPermission maps each section to the permission that unlocks it.
var navPermission = map[NavKey]Permission{
	NavCompanies: perm(ResourceCompany, ActionView),
	NavUsers:     perm(ResourceUser, ActionView),
	NavContent:   perm(ResourceContent, ActionView),
	NavDevices:   perm(ResourceDevice, ActionView),
	NavSettings:  perm(ResourceSettings, ActionView),
	NavAudit:     perm(ResourceAudit, ActionView),
}

// NavigationFor returns the navigation sections visible to the effective
// role, in display order. A section appears only when HasPermission
// grants its backing permission, so navigation can never show a section
// the API would refuse.
func NavigationFor(er EffectiveRole) []NavKey {
	out := make([]NavKey, 0, len(navOrder))
	for _, key := range navOrder {
		p := navPermission[key]
		if HasPermission(er, p.Resource, p.Action) {
			out = append(out, key)
		}
	}
	return out
}
