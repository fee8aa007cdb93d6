package authz

import (
	"context"
	"fmt"
	"log/slog"
)

// Fallback reasons attached to resolver decisions.
const (
	FallbackUnknownRole        = "unknown_role"
	FallbackMissingCompany     = "missing_company"
	FallbackUnknownCompanyType = "unknown_company_type"
)

// Resolver turns raw principal records into effective roles. Resolution
// never fails: malformed records degrade to the least-privileged role
// that still fits, and every degradation is logged and recorded.
type Resolver struct {
	logger   *slog.Logger
	recorder DecisionRecorder
}

func NewResolver(logger *slog.Logger, recorder DecisionRecorder) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Resolver{logger: logger, recorder: recorder}
}

// Resolve computes the effective role for one request.
//
// SuperUser principals resolve without role or company. Devices carry the
// fixed device grant and their company binding. Company users resolve
// through the catalog; an unknown stored role degrades to viewer, an
// unknown company type to ADVERTISER (the less capable tenant kind), and
// a missing company binding to RoleNone with no scope. Fallback never
// yields admin.
func (r *Resolver) Resolve(ctx context.Context, rec PrincipalRecord) EffectiveRole {
	er := EffectiveRole{PrincipalID: rec.ID, Class: rec.Class}

	switch rec.Class {
	case ClassSuperUser:
		return er
	case ClassDevice:
		er.Role = RoleNone
		er.CompanyID = rec.CompanyID
		er.CompanyType = CompanyTypeHost
		if rec.CompanyID == 0 {
			r.fallback(ctx, rec, FallbackMissingCompany, "device has no company binding")
		}
		return er
	}

	// Company users, plus any record with an unrecognized class: both
	// resolve through the catalog and degrade toward viewer or none.
	er.Class = ClassCompanyUser
	er.Role = RoleNone

	if rec.CompanyID == 0 {
		r.fallback(ctx, rec, FallbackMissingCompany, "user has no company binding")
		return er
	}
	er.CompanyID = rec.CompanyID

	ct, ok := ParseCompanyType(rec.CompanyTypeName)
	if !ok {
		ct = CompanyTypeAdvertiser
		r.fallback(ctx, rec, FallbackUnknownCompanyType, fmt.Sprintf("company type %q", rec.CompanyTypeName))
	}
	er.CompanyType = ct

	role, ok := ParseRole(rec.RoleName)
	if !ok {
		role = RoleViewer
		r.fallback(ctx, rec, FallbackUnknownRole, fmt.Sprintf("role %q", rec.RoleName))
	}
	er.Role = role
	return er
}

func (r *Resolver) fallback(ctx context.Context, rec PrincipalRecord, reason, detail string) {
	r.logger.Warn("authorization fallback",
		"principal_id", rec.ID,
		"class", string(rec.Class),
		"reason", reason,
		"detail", detail,
	)
	r.recorder.RecordDecision(ctx, Decision{
		PrincipalID: rec.ID,
		Class:       rec.Class,
		CompanyID:   rec.CompanyID,
		Outcome:     DecisionFallback,
		Reason:      reason,
	})
}
