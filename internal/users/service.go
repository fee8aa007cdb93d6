package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// SessionRevoker invalidates every live session of a principal. Role
// changes and deactivations revoke sessions so tokens minted under the
// old role stop working immediately instead of at expiry.
type SessionRevoker interface {
	RevokeAllForPrincipal(ctx context.Context, class authz.PrincipalClass, principalID int64) (int, error)
}

// Service handles user provisioning and role assignment.
type Service struct {
	repo     Repository
	audit    *shared.AuditLogger
	sessions SessionRevoker
	logger   *slog.Logger
}

func NewService(repo Repository, audit *shared.AuditLogger, sessions SessionRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, sessions: sessions, logger: logger}
}

// List returns users inside the caller's scope. An explicit company_id
// filter pointing outside the scope is an authorization error, not an
// empty result; quietly returning nothing would mask the attempt.
func (s *Service) List(ctx context.Context, er authz.EffectiveRole, req ListUsersRequest) ([]User, shared.Pagination, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if req.CompanyID != 0 {
		if !scope.Allows(req.CompanyID) {
			return nil, shared.Pagination{}, shared.ErrPermissionDenied
		}
		scope = scope.Narrow(req.CompanyID)
	}
	req.Scope = scope
	req.Page, req.PerPage = normalizePage(req.Page, req.PerPage)

	users, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list users: %w", err)
	}
	return users, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// Get fetches one user inside the caller's scope.
func (s *Service) Get(ctx context.Context, er authz.EffectiveRole, id int64) (*User, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, id)
}

// Create provisions a user. The tenant row is locked while the max_users
// limit is checked so concurrent creates cannot overshoot it.
func (s *Service) Create(ctx context.Context, er authz.EffectiveRole, req CreateUserRequest) (*User, error) {
	role, ok := authz.ParseRole(req.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role", shared.ErrValidation)
	}

	companyID := req.CompanyID
	if er.Class != authz.ClassSuperUser {
		if companyID != 0 && companyID != er.CompanyID {
			return nil, shared.ErrPermissionDenied
		}
		companyID = er.CompanyID
	}
	if companyID == 0 {
		return nil, fmt.Errorf("%w: company_id required", shared.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		maxUsers, active, err := repo.CompanyForUpdate(ctx, companyID)
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("%w: company is suspended", shared.ErrConflict)
		}
		count, err := repo.CountInCompany(ctx, companyID)
		if err != nil {
			return err
		}
		if count >= maxUsers {
			return fmt.Errorf("%w: max_users reached", shared.ErrLimitExceeded)
		}
		id, err = repo.Create(ctx, User{
			Email:     req.Email,
			Name:      req.Name,
			Role:      string(role),
			CompanyID: companyID,
		}, string(hash))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, er, companyID, id, "user.create", map[string]any{"email": req.Email, "role": string(role)})
	return s.repo.Get(ctx, authz.CompanyScope(companyID), id)
}

// Update changes profile fields.
func (s *Service) Update(ctx context.Context, er authz.EffectiveRole, id int64, req UpdateUserRequest) (*User, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]any)
	if req.Name != nil && *req.Name != existing.Name {
		updates["name"] = *req.Name
	}
	if req.Email != nil && *req.Email != existing.Email {
		updates["email"] = *req.Email
	}
	if len(updates) > 0 {
		if err := s.repo.UpdateProfile(ctx, id, updates); err != nil {
			return nil, err
		}
		s.recordAudit(ctx, er, existing.CompanyID, id, "user.update", updates)
	}
	return s.repo.Get(ctx, scope, id)
}

// ChangeRole reassigns the user's role under optimistic concurrency and
// revokes the user's sessions so the old grant dies with them. Users
// cannot change their own role.
func (s *Service) ChangeRole(ctx context.Context, er authz.EffectiveRole, id int64, req ChangeRoleRequest) (*User, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	if er.Class == authz.ClassCompanyUser && er.PrincipalID == id {
		return nil, fmt.Errorf("%w: cannot change own role", shared.ErrValidation)
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	role, ok := authz.ParseRole(req.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role", shared.ErrValidation)
	}

	if err := s.repo.ChangeRole(ctx, id, string(role), req.RoleVersion); err != nil {
		return nil, err
	}
	s.revokeSessions(ctx, id)
	s.recordAudit(ctx, er, existing.CompanyID, id, "user.role", map[string]any{
		"from":         existing.Role,
		"to":           string(role),
		"role_version": req.RoleVersion + 1,
	})
	return s.repo.Get(ctx, scope, id)
}

// Deactivate disables the account and revokes its sessions. Users cannot
// deactivate themselves.
func (s *Service) Deactivate(ctx context.Context, er authz.EffectiveRole, id int64) error {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return err
	}
	if er.Class == authz.ClassCompanyUser && er.PrincipalID == id {
		return fmt.Errorf("%w: cannot deactivate own account", shared.ErrValidation)
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.revokeSessions(ctx, id)
	s.recordAudit(ctx, er, existing.CompanyID, id, "user.deactivate", nil)
	return nil
}

// Activate re-enables a deactivated account.
func (s *Service) Activate(ctx context.Context, er authz.EffectiveRole, id int64) (*User, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, er, existing.CompanyID, id, "user.activate", nil)
	return s.repo.Get(ctx, scope, id)
}

func (s *Service) revokeSessions(ctx context.Context, userID int64) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.RevokeAllForPrincipal(ctx, authz.ClassCompanyUser, userID); err != nil {
		s.logger.Warn("revoke user sessions", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, er authz.EffectiveRole, companyID, userID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:    er.PrincipalID,
		ActorClass: string(er.Class),
		CompanyID:  companyID,
		Action:     action,
		Entity:     "user",
		EntityID:   strconv.FormatInt(userID, 10),
		Meta:       meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
