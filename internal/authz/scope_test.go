package authz

import (
	"errors"
	"testing"
)

func TestScopeFor(t *testing.T) {
	s, err := ScopeFor(EffectiveRole{Class: ClassSuperUser})
	if err != nil || !s.Global() {
		t.Fatalf("super user scope = %+v, %v, want global", s, err)
	}

	s, err = ScopeFor(companyRole(RoleViewer, CompanyTypeHost))
	if err != nil {
		t.Fatalf("company scope: %v", err)
	}
	if id, ok := s.Company(); !ok || id != 1 {
		t.Fatalf("Company() = %d/%v, want 1/true", id, ok)
	}

	_, err = ScopeFor(EffectiveRole{Class: ClassCompanyUser, Role: RoleNone})
	if !errors.Is(err, ErrUnscoped) {
		t.Fatalf("unbound principal: err = %v, want ErrUnscoped", err)
	}

	_, err = ScopeFor(EffectiveRole{Class: ClassDevice, Role: RoleNone})
	if !errors.Is(err, ErrUnscoped) {
		t.Fatalf("unbound device: err = %v, want ErrUnscoped", err)
	}
}

func TestScopeNarrow(t *testing.T) {
	cases := []struct {
		name    string
		scope   Scope
		company int64
		global  bool
		empty   bool
		bound   int64
	}{
		{"global stays global without filter", GlobalScope(), 0, true, false, 0},
		{"global binds to filter", GlobalScope(), 7, false, false, 7},
		{"bound keeps same company", CompanyScope(3), 3, false, false, 3},
		{"bound without filter unchanged", CompanyScope(3), 0, false, false, 3},
		{"bound cannot widen to another company", CompanyScope(3), 4, false, true, 0},
		{"empty stays empty", EmptyScope(), 3, false, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.scope.Narrow(tc.company)
			if got.Global() != tc.global || got.Empty() != tc.empty {
				t.Fatalf("Narrow(%d) = %+v", tc.company, got)
			}
			if id, ok := got.Company(); tc.bound != 0 && (!ok || id != tc.bound) {
				t.Fatalf("Narrow(%d).Company() = %d/%v, want %d", tc.company, id, ok, tc.bound)
			}
		})
	}
}

func TestScopeAllows(t *testing.T) {
	if !GlobalScope().Allows(99) {
		t.Fatal("global scope refused a row")
	}
	if EmptyScope().Allows(1) {
		t.Fatal("empty scope allowed a row")
	}
	s := CompanyScope(5)
	if !s.Allows(5) || s.Allows(6) {
		t.Fatal("company scope does not match its company exactly")
	}
}

func TestScopeCondition(t *testing.T) {
	cond, args := GlobalScope().Condition("company_id", 1)
	if cond != "" || args != nil {
		t.Fatalf("global condition = %q %v", cond, args)
	}

	cond, args = EmptyScope().Condition("company_id", 1)
	if cond != "FALSE" || args != nil {
		t.Fatalf("empty condition = %q %v", cond, args)
	}

	cond, args = CompanyScope(9).Condition("c.company_id", 3)
	if cond != "c.company_id = $3" {
		t.Fatalf("condition = %q", cond)
	}
	if len(args) != 1 || args[0].(int64) != 9 {
		t.Fatalf("args = %v", args)
	}
}
