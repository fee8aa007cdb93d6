package authz

// Visibility is the sharing level of a content item.
type Visibility string

const (
	// VisibilityPrivate restricts an item to its owning company.
	VisibilityPrivate Visibility = "private"
	// VisibilityShared extends the owning company with an explicit
	// allow-list of other companies.
	VisibilityShared Visibility = "shared"
	// VisibilityPublic makes an item readable by every company user on
	// the platform. Devices are excluded; they only play content
	// explicitly distributed to them.
	VisibilityPublic Visibility = "public"
)

// ParseVisibility maps a stored visibility string to a Visibility.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case VisibilityPrivate, VisibilityShared, VisibilityPublic:
		return Visibility(s), true
	}
	return "", false
}

// ContentRef exposes the visibility-relevant attributes of a content
// item. The content module's row type implements it.
type ContentRef interface {
	OwnerCompany() int64
	VisibilityLevel() Visibility
	SharedWith() []int64
}

// VisibleTo reports whether the effective role may read a content item.
//
// SuperUser reads everything. Private items belong to their owning
// company. Shared items add the companies on the item's allow-list.
// Public items are readable by any company user but not by devices.
// Unknown visibility values behave as private.
func VisibleTo(er EffectiveRole, ref ContentRef) bool {
	if er.Class == ClassSuperUser {
		return true
	}
	owner := ref.OwnerCompany()
	switch ref.VisibilityLevel() {
	case VisibilityPublic:
		if er.Class == ClassDevice {
			return er.CompanyID != 0 && er.CompanyID == owner
		}
		return true
	case VisibilityShared:
		if er.CompanyID == 0 {
			return false
		}
		if er.CompanyID == owner {
			return true
		}
		for _, id := range ref.SharedWith() {
			if id == er.CompanyID {
				return true
			}
		}
		return false
	default:
		return er.CompanyID != 0 && er.CompanyID == owner
	}
}

// VisibleToCompany reports whether the company may use a content item:
// it owns it, sits on its allow-list, or the item is public. Distribution
// targeting checks this for the device's company; the per-principal
// device restriction in VisibleTo governs browsing, not playback of
// content a host explicitly distributed.
func VisibleToCompany(companyID int64, ref ContentRef) bool {
	if companyID == 0 {
		return false
	}
	if companyID == ref.OwnerCompany() {
		return true
	}
	switch ref.VisibilityLevel() {
	case VisibilityPublic:
		return true
	case VisibilityShared:
		for _, id := range ref.SharedWith() {
			if id == companyID {
				return true
			}
		}
	}
	return false
}

// FilterVisible keeps the items the effective role may read, preserving
// order. Used by list paths after the scope filter has been applied to
// the query, and by the shared-library path that deliberately queries
// across companies.
func FilterVisible[T ContentRef](er EffectiveRole, items []T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if VisibleTo(er, it) {
			out = append(out, it)
		}
	}
	return out
}
