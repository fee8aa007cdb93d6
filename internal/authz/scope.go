package authz

import (
	"errors"
	"fmt"
)

// ErrUnscoped reports a company-bound principal with no company binding
// reaching a data access path. It marks a data integrity fault, not a
// policy denial, and maps to a server error at the API edge.
var ErrUnscoped = errors.New("authz: principal has no company scope")

// Scope is the mandatory tenant filter for data access. A scope is
// either global (SuperUser), bound to one company, or empty. Repositories
// apply it to every query; there is no way to construct a scope that
// widens what the effective role allows.
type Scope struct {
	global    bool
	empty     bool
	companyID int64
}

// GlobalScope returns the unrestricted scope. Only token-less internal
// jobs and tests construct it directly; request paths derive scopes from
// the effective role.
func GlobalScope() Scope { return Scope{global: true} }

// CompanyScope returns a scope bound to one company.
func CompanyScope(companyID int64) Scope { return Scope{companyID: companyID} }

// EmptyScope returns the scope that matches nothing.
func EmptyScope() Scope { return Scope{empty: true} }

// ScopeFor derives the data scope from an effective role. SuperUser gets
// the global scope. Everyone else gets their company; a missing binding
// is ErrUnscoped and the caller must fail the request.
func ScopeFor(er EffectiveRole) (Scope, error) {
	if er.Class == ClassSuperUser {
		return GlobalScope(), nil
	}
	if er.CompanyID == 0 {
		return EmptyScope(), ErrUnscoped
	}
	return CompanyScope(er.CompanyID), nil
}

// Global reports whether the scope is unrestricted.
func (s Scope) Global() bool { return s.global }

// Empty reports whether the scope matches nothing.
func (s Scope) Empty() bool { return s.empty }

// Company returns the bound company id, when the scope is bound to one.
func (s Scope) Company() (int64, bool) {
	if s.global || s.empty || s.companyID == 0 {
		return 0, false
	}
	return s.companyID, true
}

// Narrow intersects the scope with an explicit company filter.
// companyID 0 means no filter. Narrowing a global scope binds it;
// narrowing to the already-bound company is a no-op; narrowing to a
// different company yields the empty scope, never a widened one.
func (s Scope) Narrow(companyID int64) Scope {
	if companyID == 0 || s.empty {
		return s
	}
	if s.global {
		return CompanyScope(companyID)
	}
	if s.companyID == companyID {
		return s
	}
	return EmptyScope()
}

// Allows reports whether a row owned by companyID falls inside the scope.
func (s Scope) Allows(companyID int64) bool {
	if s.empty {
		return false
	}
	if s.global {
		return true
	}
	return s.companyID == companyID
}

// Condition renders the scope as a SQL predicate over the given company
// column, with the bind argument starting at argPos. Global scopes
// produce no predicate.
func (s Scope) Condition(column string, argPos int) (string, []any) {
	switch {
	case s.empty:
		return "FALSE", nil
	case s.global:
		return "", nil
	default:
		return fmt.Sprintf("%s = $%d", column, argPos), []any{s.companyID}
	}
}
