package companies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// SessionRevoker invalidates every live session of a principal. Company
// suspension revokes all sessions in the tenant so stale tokens cannot
// outlive it.
type SessionRevoker interface {
	RevokeAllForPrincipal(ctx context.Context, class authz.PrincipalClass, principalID int64) (int, error)
}

// Service implements tenant management.
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

// List returns the companies visible to the caller. Company users see
// exactly their own tenant; super users see all.
func (s *Service) List(ctx context.Context, er authz.EffectiveRole, req ListCompaniesRequest) ([]Company, shared.Pagination, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	req.Scope = scope
	req.Page, req.PerPage = normalizePage(req.Page, req.PerPage)

	companies, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list companies: %w", err)
	}
	return companies, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// Get fetches one company inside the caller's scope. Tenants outside the
// scope read as not found.
func (s *Service) Get(ctx context.Context, er authz.EffectiveRole, id int64) (*Company, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, id)
}

// Create registers a tenant. The company.create permission is held only
// by super users, so no scope applies.
func (s *Service) Create(ctx context.Context, er authz.EffectiveRole, req CreateCompanyRequest) (*Company, error) {
	ct, ok := authz.ParseCompanyType(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown company type", shared.ErrValidation)
	}

	c := Company{
		Name:       req.Name,
		Type:       ct,
		Active:     true,
		MaxUsers:   defaultLimit(req.MaxUsers, DefaultMaxUsers),
		MaxDevices: defaultLimit(req.MaxDevices, DefaultMaxDevices),
		MaxContent: defaultLimit(req.MaxContent, DefaultMaxContent),
	}
	// Advertiser tenants never own devices.
	if ct == authz.CompanyTypeAdvertiser {
		c.MaxDevices = 0
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	s.recordAudit(ctx, er, id, "company.create", map[string]any{"name": c.Name, "type": string(ct)})
	return s.repo.Get(ctx, authz.GlobalScope(), id)
}

// Update changes tenant fields a company admin may touch.
func (s *Service) Update(ctx context.Context, er authz.EffectiveRole, id int64, req UpdateCompanyRequest) (*Company, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil && *req.Name != existing.Name {
		if err := s.repo.UpdateName(ctx, id, *req.Name); err != nil {
			return nil, fmt.Errorf("update company: %w", err)
		}
		s.recordAudit(ctx, er, id, "company.update", map[string]any{"name": *req.Name})
	}
	return s.repo.Get(ctx, scope, id)
}

// UpdateLimits replaces the tenant quotas.
func (s *Service) UpdateLimits(ctx context.Context, er authz.EffectiveRole, id int64, limits Limits) (*Company, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if existing.Type == authz.CompanyTypeAdvertiser && limits.MaxDevices > 0 {
		return nil, fmt.Errorf("%w: advertiser companies cannot own devices", shared.ErrValidation)
	}
	if err := s.repo.UpdateLimits(ctx, id, limits); err != nil {
		return nil, fmt.Errorf("update limits: %w", err)
	}
	s.recordAudit(ctx, er, id, "company.limits", map[string]any{
		"max_users":   limits.MaxUsers,
		"max_devices": limits.MaxDevices,
		"max_content": limits.MaxContent,
	})
	return s.repo.Get(ctx, scope, id)
}

// Suspend deactivates the tenant and revokes every live session bound to
// it. Logins and token refreshes for the tenant fail until reactivation.
func (s *Service) Suspend(ctx context.Context, er authz.EffectiveRole, id int64) (*Company, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, scope, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("suspend company: %w", err)
	}
	revoked := s.revokeCompanySessions(ctx, id)
	s.recordAudit(ctx, er, id, "company.suspend", map[string]any{"sessions_revoked": revoked})
	return s.repo.Get(ctx, scope, id)
}

// Activate reverses a suspension. Principals sign in again; no sessions
// are restored.
func (s *Service) Activate(ctx context.Context, er authz.EffectiveRole, id int64) (*Company, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, scope, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return nil, fmt.Errorf("activate company: %w", err)
	}
	s.recordAudit(ctx, er, id, "company.activate", nil)
	return s.repo.Get(ctx, scope, id)
}

// Delete removes a tenant. Tenants that still own users, devices or
// content are refused; callers suspend instead.
func (s *Service) Delete(ctx context.Context, er authz.EffectiveRole, id int64) error {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return fmt.Errorf("%w: company still owns users, devices or content", shared.ErrConflict)
		}
		return fmt.Errorf("delete company: %w", err)
	}
	s.recordAudit(ctx, er, id, "company.delete", map[string]any{"name": existing.Name})
	return nil
}

func (s *Service) revokeCompanySessions(ctx context.Context, companyID int64) int {
	if s.sessions == nil {
		return 0
	}
	userIDs, deviceIDs, err := s.repo.Principals(ctx, companyID)
	if err != nil {
		s.logger.Warn("list company principals", slog.Int64("company_id", companyID), slog.Any("error", err))
		return 0
	}
	revoked := 0
	for _, uid := range userIDs {
		n, err := s.sessions.RevokeAllForPrincipal(ctx, authz.ClassCompanyUser, uid)
		if err != nil {
			s.logger.Warn("revoke user sessions", slog.Int64("user_id", uid), slog.Any("error", err))
			continue
		}
		revoked += n
	}
	for _, did := range deviceIDs {
		n, err := s.sessions.RevokeAllForPrincipal(ctx, authz.ClassDevice, did)
		if err != nil {
			s.logger.Warn("revoke device sessions", slog.Int64("device_id", did), slog.Any("error", err))
			continue
		}
		revoked += n
	}
	return revoked
}

func (s *Service) recordAudit(ctx context.Context, er authz.EffectiveRole, companyID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:    er.PrincipalID,
		ActorClass: string(er.Class),
		CompanyID:  companyID,
		Action:     action,
		Entity:     "company",
		EntityID:   strconv.FormatInt(companyID, 10),
		Meta:       meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultLimit(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
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
