package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// SessionRevoker invalidates every live session of a principal. Key
// rotation and revocation kill the device's tokens so the old key stops
// working immediately.
type SessionRevoker interface {
	RevokeAllForPrincipal(ctx context.Context, class authz.PrincipalClass, principalID int64) (int, error)
}

// IdempotencyGuard suppresses duplicate register requests keyed by the
// Idempotency-Key header. shared.IdempotencyStore implements it.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// Service implements device provisioning and credential management.
type Service struct {
	repo     Repository
	audit    *shared.AuditLogger
	sessions SessionRevoker
	idem     IdempotencyGuard
	logger   *slog.Logger
}

func NewService(repo Repository, audit *shared.AuditLogger, sessions SessionRevoker, idem IdempotencyGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, sessions: sessions, idem: idem, logger: logger}
}

// List returns devices inside the caller's scope. An explicit
// company_id filter pointing outside the scope is an authorization
// error, not an empty result.
func (s *Service) List(ctx context.Context, er authz.EffectiveRole, req ListDevicesRequest) ([]Device, shared.Pagination, error) {
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

	devices, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list devices: %w", err)
	}
	return devices, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// Get fetches one device inside the caller's scope.
func (s *Service) Get(ctx context.Context, er authz.EffectiveRole, id int64) (*Device, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, scope, id)
}

// Register provisions a device under a host company and returns the
// plaintext key exactly once. The tenant row is locked while the
// max_devices limit is checked.
func (s *Service) Register(ctx context.Context, er authz.EffectiveRole, req RegisterDeviceRequest, idemKey string) (*Device, string, error) {
	companyID := req.CompanyID
	if er.Class != authz.ClassSuperUser {
		if companyID != 0 && companyID != er.CompanyID {
			return nil, "", shared.ErrPermissionDenied
		}
		companyID = er.CompanyID
	}
	if companyID == 0 {
		return nil, "", fmt.Errorf("%w: company_id required", shared.ErrValidation)
	}

	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "devices.register"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, "", fmt.Errorf("%w: request already processed", shared.ErrConflict)
			}
			return nil, "", fmt.Errorf("idempotency check: %w", err)
		}
	}

	plainKey, keyHash, keyPrefix, err := auth.GenerateDeviceKey()
	if err != nil {
		return nil, "", err
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		maxDevices, companyType, active, err := repo.CompanyForUpdate(ctx, companyID)
		if err != nil {
			return err
		}
		ct, ok := authz.ParseCompanyType(companyType)
		if !ok || ct != authz.CompanyTypeHost {
			return fmt.Errorf("%w: only host companies own devices", shared.ErrValidation)
		}
		if !active {
			return fmt.Errorf("%w: company is suspended", shared.ErrConflict)
		}
		count, err := repo.CountInCompany(ctx, companyID)
		if err != nil {
			return err
		}
		if count >= maxDevices {
			return fmt.Errorf("%w: max_devices reached", shared.ErrLimitExceeded)
		}
		id, err = repo.Create(ctx, Device{
			CompanyID: companyID,
			Name:      req.Name,
			Location:  req.Location,
		}, keyPrefix, keyHash)
		return err
	})
	if err != nil {
		if idemKey != "" && s.idem != nil {
			if derr := s.idem.Delete(ctx, idemKey); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", derr))
			}
		}
		return nil, "", err
	}

	s.recordAudit(ctx, er, companyID, id, "device.register", map[string]any{"name": req.Name})
	d, err := s.repo.Get(ctx, authz.GlobalScope(), id)
	if err != nil {
		return nil, "", err
	}
	return d, plainKey, nil
}

// Update changes the descriptive fields.
func (s *Service) Update(ctx context.Context, er authz.EffectiveRole, id int64, req UpdateDeviceRequest) (*Device, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil && *req.Name != existing.Name {
		updates["name"] = *req.Name
	}
	if req.Location != nil && *req.Location != existing.Location {
		updates["location"] = *req.Location
	}
	if len(updates) == 0 {
		return existing, nil
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	s.recordAudit(ctx, er, existing.CompanyID, id, "device.update", nil)
	return s.repo.Get(ctx, scope, id)
}

// RotateKey replaces the device credential and revokes every session
// minted under the old one. Returns the new plaintext key exactly once.
func (s *Service) RotateKey(ctx context.Context, er authz.EffectiveRole, id int64) (*Device, string, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, "", err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, "", err
	}

	plainKey, keyHash, keyPrefix, err := auth.GenerateDeviceKey()
	if err != nil {
		return nil, "", err
	}
	version, err := s.repo.UpdateKey(ctx, id, keyPrefix, keyHash)
	if err != nil {
		return nil, "", fmt.Errorf("rotate device key: %w", err)
	}
	s.revokeSessions(ctx, id)
	s.recordAudit(ctx, er, existing.CompanyID, id, "device.rotate_key", map[string]any{"key_version": version})

	d, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, "", err
	}
	return d, plainKey, nil
}

// Revoke disables the device and kills its sessions. The stored key
// stays in place; reactivation does not reissue it.
func (s *Service) Revoke(ctx context.Context, er authz.EffectiveRole, id int64) (*Device, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("revoke device: %w", err)
	}
	s.revokeSessions(ctx, id)
	s.recordAudit(ctx, er, existing.CompanyID, id, "device.revoke", nil)
	return s.repo.Get(ctx, scope, id)
}

// Activate re-enables a revoked device.
func (s *Service) Activate(ctx context.Context, er authz.EffectiveRole, id int64) (*Device, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return nil, fmt.Errorf("activate device: %w", err)
	}
	s.recordAudit(ctx, er, existing.CompanyID, id, "device.activate", nil)
	return s.repo.Get(ctx, scope, id)
}

// Delete removes the device and its playlist assignments.
func (s *Service) Delete(ctx context.Context, er authz.EffectiveRole, id int64) error {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return err
	}
	existing, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.ClearDistributions(ctx, id); err != nil {
			return err
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	s.revokeSessions(ctx, id)
	s.recordAudit(ctx, er, existing.CompanyID, id, "device.delete", map[string]any{"name": existing.Name})
	return nil
}

func (s *Service) revokeSessions(ctx context.Context, deviceID int64) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.RevokeAllForPrincipal(ctx, authz.ClassDevice, deviceID); err != nil {
		s.logger.Warn("revoke device sessions", slog.Int64("device_id", deviceID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, er authz.EffectiveRole, companyID, deviceID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:    er.PrincipalID,
		ActorClass: string(er.Class),
		CompanyID:  companyID,
		Action:     action,
		Entity:     "device",
		EntityID:   strconv.FormatInt(deviceID, 10),
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
