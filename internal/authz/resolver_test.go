package authz

import (
	"context"
	"testing"
)

type captureRecorder struct {
	decisions []Decision
}

func (c *captureRecorder) RecordDecision(_ context.Context, d Decision) {
	c.decisions = append(c.decisions, d)
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name          string
		rec           PrincipalRecord
		want          EffectiveRole
		wantFallbacks []string
	}{
		{
			name: "host admin",
			rec:  PrincipalRecord{ID: 7, Class: ClassCompanyUser, RoleName: "admin", CompanyID: 3, CompanyTypeName: "HOST", Active: true},
			want: EffectiveRole{PrincipalID: 7, Class: ClassCompanyUser, Role: RoleAdmin, CompanyID: 3, CompanyType: CompanyTypeHost},
		},
		{
			name: "advertiser editor",
			rec:  PrincipalRecord{ID: 8, Class: ClassCompanyUser, RoleName: "editor", CompanyID: 4, CompanyTypeName: "ADVERTISER", Active: true},
			want: EffectiveRole{PrincipalID: 8, Class: ClassCompanyUser, Role: RoleEditor, CompanyID: 4, CompanyType: CompanyTypeAdvertiser},
		},
		{
			name:          "unknown role degrades to viewer",
			rec:           PrincipalRecord{ID: 9, Class: ClassCompanyUser, RoleName: "owner", CompanyID: 3, CompanyTypeName: "HOST", Active: true},
			want:          EffectiveRole{PrincipalID: 9, Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 3, CompanyType: CompanyTypeHost},
			wantFallbacks: []string{FallbackUnknownRole},
		},
		{
			name:          "empty role degrades to viewer",
			rec:           PrincipalRecord{ID: 10, Class: ClassCompanyUser, RoleName: "", CompanyID: 3, CompanyTypeName: "HOST", Active: true},
			want:          EffectiveRole{PrincipalID: 10, Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 3, CompanyType: CompanyTypeHost},
			wantFallbacks: []string{FallbackUnknownRole},
		},
		{
			name:          "stored none is not assignable",
			rec:           PrincipalRecord{ID: 11, Class: ClassCompanyUser, RoleName: "none", CompanyID: 3, CompanyTypeName: "HOST", Active: true},
			want:          EffectiveRole{PrincipalID: 11, Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 3, CompanyType: CompanyTypeHost},
			wantFallbacks: []string{FallbackUnknownRole},
		},
		{
			name:          "missing company binding resolves to none",
			rec:           PrincipalRecord{ID: 12, Class: ClassCompanyUser, RoleName: "admin", CompanyID: 0, CompanyTypeName: "HOST", Active: true},
			want:          EffectiveRole{PrincipalID: 12, Class: ClassCompanyUser, Role: RoleNone},
			wantFallbacks: []string{FallbackMissingCompany},
		},
		{
			name:          "unknown company type degrades to advertiser",
			rec:           PrincipalRecord{ID: 13, Class: ClassCompanyUser, RoleName: "admin", CompanyID: 5, CompanyTypeName: "NETWORK", Active: true},
			want:          EffectiveRole{PrincipalID: 13, Class: ClassCompanyUser, Role: RoleAdmin, CompanyID: 5, CompanyType: CompanyTypeAdvertiser},
			wantFallbacks: []string{FallbackUnknownCompanyType},
		},
		{
			name:          "unknown role and company type degrade together",
			rec:           PrincipalRecord{ID: 14, Class: ClassCompanyUser, RoleName: "root", CompanyID: 5, CompanyTypeName: "x", Active: true},
			want:          EffectiveRole{PrincipalID: 14, Class: ClassCompanyUser, Role: RoleViewer, CompanyID: 5, CompanyType: CompanyTypeAdvertiser},
			wantFallbacks: []string{FallbackUnknownCompanyType, FallbackUnknownRole},
		},
		{
			name: "super user ignores role and company",
			rec:  PrincipalRecord{ID: 1, Class: ClassSuperUser, RoleName: "whatever", CompanyID: 9, CompanyTypeName: "junk", Active: true},
			want: EffectiveRole{PrincipalID: 1, Class: ClassSuperUser},
		},
		{
			name: "device",
			rec:  PrincipalRecord{ID: 40, Class: ClassDevice, CompanyID: 3, Active: true},
			want: EffectiveRole{PrincipalID: 40, Class: ClassDevice, Role: RoleNone, CompanyID: 3, CompanyType: CompanyTypeHost},
		},
		{
			name:          "device without company binding",
			rec:           PrincipalRecord{ID: 41, Class: ClassDevice, Active: true},
			want:          EffectiveRole{PrincipalID: 41, Class: ClassDevice, Role: RoleNone, CompanyType: CompanyTypeHost},
			wantFallbacks: []string{FallbackMissingCompany},
		},
		{
			name:          "unrecognized class resolves as company user",
			rec:           PrincipalRecord{ID: 42, Class: PrincipalClass("ghost"), RoleName: "admin", CompanyID: 0, Active: true},
			want:          EffectiveRole{PrincipalID: 42, Class: ClassCompanyUser, Role: RoleNone},
			wantFallbacks: []string{FallbackMissingCompany},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &captureRecorder{}
			r := NewResolver(nil, rec)
			got := r.Resolve(context.Background(), tc.rec)
			if got != tc.want {
				t.Fatalf("Resolve() = %+v, want %+v", got, tc.want)
			}
			if len(rec.decisions) != len(tc.wantFallbacks) {
				t.Fatalf("recorded %d fallbacks, want %d: %+v", len(rec.decisions), len(tc.wantFallbacks), rec.decisions)
			}
			for i, reason := range tc.wantFallbacks {
				d := rec.decisions[i]
				if d.Outcome != DecisionFallback {
					t.Errorf("decision %d outcome = %q, want %q", i, d.Outcome, DecisionFallback)
				}
				if d.Reason != reason {
					t.Errorf("decision %d reason = %q, want %q", i, d.Reason, reason)
				}
				if d.PrincipalID != tc.rec.ID {
					t.Errorf("decision %d principal = %d, want %d", i, d.PrincipalID, tc.rec.ID)
				}
			}
		})
	}
}

func TestResolveNeverFallsBackToAdmin(t *testing.T) {
	r := NewResolver(nil, NopRecorder{})
	malformed := []PrincipalRecord{
		{ID: 1, Class: ClassCompanyUser, RoleName: "ADMIN", CompanyID: 2, CompanyTypeName: "HOST"},
		{ID: 2, Class: ClassCompanyUser, RoleName: "admin ", CompanyID: 2, CompanyTypeName: "HOST"},
		{ID: 3, Class: ClassCompanyUser, RoleName: "superadmin", CompanyID: 2, CompanyTypeName: "boom"},
		{ID: 4, Class: ClassCompanyUser, RoleName: "", CompanyID: 0, CompanyTypeName: ""},
		{ID: 5, Class: PrincipalClass("nope"), RoleName: "admin?", CompanyID: 2, CompanyTypeName: "HOST"},
	}
	for _, rec := range malformed {
		if got := r.Resolve(context.Background(), rec); got.Role == RoleAdmin {
			t.Errorf("record %+v resolved to admin", rec)
		}
	}
}
