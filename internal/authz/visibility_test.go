package authz

import "testing"

type refItem struct {
	owner  int64
	vis    Visibility
	shared []int64
}

func (r refItem) OwnerCompany() int64         { return r.owner }
func (r refItem) VisibilityLevel() Visibility { return r.vis }
func (r refItem) SharedWith() []int64         { return r.shared }

func TestVisibleTo(t *testing.T) {
	superUser := EffectiveRole{Class: ClassSuperUser}
	owner := EffectiveRole{Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 1, CompanyType: CompanyTypeHost}
	listed := EffectiveRole{Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 2, CompanyType: CompanyTypeAdvertiser}
	outsider := EffectiveRole{Class: ClassCompanyUser, Role: RoleAdmin, CompanyID: 3, CompanyType: CompanyTypeHost}
	ownerDevice := EffectiveRole{Class: ClassDevice, Role: RoleNone, CompanyID: 1, CompanyType: CompanyTypeHost}
	otherDevice := EffectiveRole{Class: ClassDevice, Role: RoleNone, CompanyID: 3, CompanyType: CompanyTypeHost}
	unbound := EffectiveRole{Class: ClassCompanyUser, Role: RoleNone}

	private := refItem{owner: 1, vis: VisibilityPrivate}
	shared := refItem{owner: 1, vis: VisibilityShared, shared: []int64{2}}
	public := refItem{owner: 1, vis: VisibilityPublic}
	mangled := refItem{owner: 1, vis: Visibility("secret")}

	cases := []struct {
		name string
		er   EffectiveRole
		item refItem
		want bool
	}{
		{"super sees private", superUser, private, true},
		{"owner sees private", owner, private, true},
		{"listed company cannot see private", listed, private, false},
		{"outsider cannot see private", outsider, private, false},

		{"owner sees shared", owner, shared, true},
		{"listed company sees shared", listed, shared, true},
		{"outsider cannot see shared", outsider, shared, false},

		{"owner sees public", owner, public, true},
		{"listed company sees public", listed, public, true},
		{"outsider sees public", outsider, public, true},

		{"owning device sees private", ownerDevice, private, true},
		{"owning device sees public", ownerDevice, public, true},
		{"foreign device cannot see shared", otherDevice, shared, false},
		{"foreign device excluded from public", otherDevice, public, false},

		// Unbound principals hold no content.view permission, so the
		// permission check rejects them before visibility runs. The
		// visibility axis itself only rules on company membership.
		{"unbound user passes the public axis", unbound, public, true},
		{"unbound user fails the shared axis", unbound, shared, false},
		{"unbound user fails the private axis", unbound, private, false},

		{"unknown visibility behaves as private for owner", owner, mangled, true},
		{"unknown visibility behaves as private for outsider", outsider, mangled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VisibleTo(tc.er, tc.item); got != tc.want {
				t.Fatalf("VisibleTo(%+v, %+v) = %v, want %v", tc.er, tc.item, got, tc.want)
			}
		})
	}
}

func TestWideningVisibilityNeverShrinksAudience(t *testing.T) {
	audiences := []EffectiveRole{
		{Class: ClassSuperUser},
		{Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 1, CompanyType: CompanyTypeHost},
		{Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 2, CompanyType: CompanyTypeAdvertiser},
		{Class: ClassCompanyUser, Role: RoleAdmin, CompanyID: 3, CompanyType: CompanyTypeHost},
		{Class: ClassDevice, Role: RoleNone, CompanyID: 1, CompanyType: CompanyTypeHost},
		{Class: ClassDevice, Role: RoleNone, CompanyID: 3, CompanyType: CompanyTypeHost},
	}
	ladder := []refItem{
		{owner: 1, vis: VisibilityPrivate},
		{owner: 1, vis: VisibilityShared, shared: []int64{2}},
		{owner: 1, vis: VisibilityPublic},
	}
	for i := 1; i < len(ladder); i++ {
		for _, er := range audiences {
			if er.Class == ClassDevice && ladder[i].vis == VisibilityPublic {
				// Devices never gain cross-company reach from public, but
				// an audience member at a lower level must stay visible.
				if VisibleTo(er, ladder[i-1]) && !VisibleTo(er, ladder[i]) {
					t.Errorf("device %d lost visibility moving %s -> %s", er.CompanyID, ladder[i-1].vis, ladder[i].vis)
				}
				continue
			}
			if VisibleTo(er, ladder[i-1]) && !VisibleTo(er, ladder[i]) {
				t.Errorf("principal %+v lost visibility moving %s -> %s", er, ladder[i-1].vis, ladder[i].vis)
			}
		}
	}
}

func TestVisibleToCompany(t *testing.T) {
	private := refItem{owner: 1, vis: VisibilityPrivate}
	shared := refItem{owner: 1, vis: VisibilityShared, shared: []int64{2}}
	public := refItem{owner: 1, vis: VisibilityPublic}

	cases := []struct {
		name    string
		company int64
		item    refItem
		want    bool
	}{
		{"owner uses private", 1, private, true},
		{"listed company uses shared", 2, shared, true},
		{"outsider blocked from shared", 3, shared, false},
		{"outsider uses public", 3, public, true},
		{"outsider blocked from private", 3, private, false},
		{"zero company never qualifies", 0, public, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VisibleToCompany(tc.company, tc.item); got != tc.want {
				t.Fatalf("VisibleToCompany(%d, %+v) = %v, want %v", tc.company, tc.item, got, tc.want)
			}
		})
	}
}

func TestFilterVisible(t *testing.T) {
	viewer := EffectiveRole{Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 2, CompanyType: CompanyTypeAdvertiser}
	items := []refItem{
		{owner: 1, vis: VisibilityPrivate},
		{owner: 1, vis: VisibilityShared, shared: []int64{2}},
		{owner: 1, vis: VisibilityPublic},
		{owner: 2, vis: VisibilityPrivate},
		{owner: 3, vis: VisibilityShared, shared: []int64{4}},
	}
	got := FilterVisible(viewer, items)
	if len(got) != 3 {
		t.Fatalf("FilterVisible kept %d items, want 3: %+v", len(got), got)
	}
	if got[0].vis != VisibilityShared || got[1].vis != VisibilityPublic || got[2].owner != 2 {
		t.Fatalf("FilterVisible reordered or mis-selected: %+v", got)
	}
}
