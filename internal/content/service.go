package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// IdempotencyGuard suppresses duplicate create requests keyed by the
// Idempotency-Key header. shared.IdempotencyStore implements it.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// Service implements the content lifecycle: drafting, moderation,
// sharing and device distribution.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	idem   IdempotencyGuard
	logger *slog.Logger
}

func NewService(repo Repository, audit *shared.AuditLogger, idem IdempotencyGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idem: idem, logger: logger}
}

// List returns the management view: items owned by companies in the
// caller's scope. An explicit company_id filter pointing outside the
// scope is an authorization error, not an empty result; quietly
// returning nothing would mask the attempt.
func (s *Service) List(ctx context.Context, er authz.EffectiveRole, req ListContentRequest) ([]Item, shared.Pagination, error) {
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

	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list content: %w", err)
	}
	return items, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// Library returns the approved items the caller's company may use,
// including cross-company shared and public items. The SQL predicate
// mirrors authz.VisibleTo; the filter afterwards keeps the two rulings
// from drifting apart.
func (s *Service) Library(ctx context.Context, er authz.EffectiveRole, req LibraryRequest) ([]Item, shared.Pagination, error) {
	if er.Class == authz.ClassSuperUser {
		req.CompanyID = 0
	} else {
		if er.CompanyID == 0 {
			return nil, shared.Pagination{}, authz.ErrUnscoped
		}
		req.CompanyID = er.CompanyID
	}
	req.Page, req.PerPage = normalizePage(req.Page, req.PerPage)

	items, total, err := s.repo.Library(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list library: %w", err)
	}
	return authz.FilterVisible(er, items), shared.NewPagination(req.Page, req.PerPage, total), nil
}

// Get fetches one item. Items the caller may not see read as not found.
func (s *Service) Get(ctx context.Context, er authz.EffectiveRole, id uuid.UUID) (*Item, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.VisibleTo(er, it) {
		return nil, shared.ErrNotFound
	}
	return it, nil
}

// Create registers a draft. The tenant row is locked while the
// max_content limit is checked so concurrent creates cannot overshoot
// it. A repeated Idempotency-Key is answered with a conflict instead of
// a second item.
func (s *Service) Create(ctx context.Context, er authz.EffectiveRole, req CreateContentRequest, idemKey string) (*Item, error) {
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

	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "content.create"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, fmt.Errorf("%w: request already processed", shared.ErrConflict)
			}
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
	}

	it := Item{
		ID:         uuid.New(),
		CompanyID:  companyID,
		CreatedBy:  er.PrincipalID,
		Title:      req.Title,
		Kind:       req.Kind,
		URL:        req.URL,
		Status:     StatusDraft,
		Visibility: authz.VisibilityPrivate,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		maxContent, active, err := repo.CompanyForUpdate(ctx, companyID)
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
		if count >= maxContent {
			return fmt.Errorf("%w: max_content reached", shared.ErrLimitExceeded)
		}
		return repo.Create(ctx, it)
	})
	if err != nil {
		if idemKey != "" && s.idem != nil {
			if derr := s.idem.Delete(ctx, idemKey); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", derr))
			}
		}
		return nil, err
	}

	s.recordAudit(ctx, er, &it, "content.create", map[string]any{"title": it.Title, "kind": it.Kind})
	return s.repo.Get(ctx, it.ID)
}

// Update edits item fields. Editing an item that already entered review
// resets it to draft so the change passes moderation again.
func (s *Service) Update(ctx context.Context, er authz.EffectiveRole, id uuid.UUID, req UpdateContentRequest) (*Item, error) {
	it, err := s.ownedItem(ctx, er, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Title != nil && *req.Title != it.Title {
		updates["title"] = *req.Title
	}
	if req.Kind != nil && *req.Kind != it.Kind {
		updates["kind"] = *req.Kind
	}
	if req.URL != nil && *req.URL != it.URL {
		updates["url"] = *req.URL
	}
	if len(updates) == 0 {
		return it, nil
	}
	if it.Status == StatusPending || it.Status == StatusApproved {
		updates["status"] = StatusDraft
	}

	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("update content: %w", err)
	}
	meta := map[string]any{"fields": updateFields(updates)}
	if _, ok := updates["status"]; ok {
		meta["status"] = StatusDraft
	}
	s.recordAudit(ctx, er, it, "content.update", meta)
	return s.repo.Get(ctx, id)
}

// Submit sends a draft (or a rejected item) to review.
func (s *Service) Submit(ctx context.Context, er authz.EffectiveRole, id uuid.UUID) (*Item, error) {
	it, err := s.ownedItem(ctx, er, id)
	if err != nil {
		return nil, err
	}
	if it.Status != StatusDraft && it.Status != StatusRejected {
		return nil, fmt.Errorf("%w: only draft or rejected content can be submitted", shared.ErrConflict)
	}
	if err := s.repo.SetStatus(ctx, id, []string{StatusDraft, StatusRejected}, StatusPending, ""); err != nil {
		return nil, fmt.Errorf("submit content: %w", err)
	}
	s.recordAudit(ctx, er, it, "content.submit", nil)
	return s.repo.Get(ctx, id)
}

// Approve clears a pending item for playback.
func (s *Service) Approve(ctx context.Context, er authz.EffectiveRole, id uuid.UUID, req ReviewRequest) (*Item, error) {
	it, err := s.ownedItem(ctx, er, id)
	if err != nil {
		return nil, err
	}
	if it.Status != StatusPending {
		return nil, fmt.Errorf("%w: only pending content can be approved", shared.ErrConflict)
	}
	if err := s.repo.SetStatus(ctx, id, []string{StatusPending}, StatusApproved, req.Note); err != nil {
		return nil, fmt.Errorf("approve content: %w", err)
	}
	var meta map[string]any
	if req.Note != "" {
		meta = map[string]any{"note": req.Note}
	}
	s.recordAudit(ctx, er, it, "content.approve", meta)
	return s.repo.Get(ctx, id)
}

// Reject returns a pending item to its editor with a reason.
func (s *Service) Reject(ctx context.Context, er authz.EffectiveRole, id uuid.UUID, req RejectRequest) (*Item, error) {
	it, err := s.ownedItem(ctx, er, id)
	if err != nil {
		return nil, err
	}
	if it.Status != StatusPending {
		return nil, fmt.Errorf("%w: only pending content can be rejected", shared.ErrConflict)
	}
	if err := s.repo.SetStatus(ctx, id, []string{StatusPending}, StatusRejected, req.Reason); err != nil {
		return nil, fmt.Errorf("reject content: %w", err)
	}
	s.recordAudit(ctx, er, it, "content.reject", map[string]any{"reason": req.Reason})
	return s.repo.Get(ctx, id)
}

// SetVisibility replaces the sharing settings. Narrowing prunes
// distributions to devices in companies that just lost access, so no
// screen keeps playing content its company may no longer use.
func (s *Service) SetVisibility(ctx context.Context, er authz.EffectiveRole, id uuid.UUID, req SetVisibilityRequest) (*Item, error) {
	it, err := s.ownedItem(ctx, er, id)
	if err != nil {
		return nil, err
	}

	vis := authz.Visibility(req.Visibility)
	var allowList []int64
	if vis == authz.VisibilityShared {
		allowList = dedupeIDs(req.SharedWith)
		if len(allowList) == 0 {
			return nil, fmt.Errorf("%w: shared content needs at least one company", shared.ErrValidation)
		}
		ok, err := s.repo.CompaniesExist(ctx, allowList)
		if err != nil {
			return nil, fmt.Errorf("check shared companies: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown company in shared_with", shared.ErrValidation)
		}
	}

	if err := s.repo.SetVisibility(ctx, id, vis, allowList); err != nil {
		return nil, fmt.Errorf("set visibility: %w", err)
	}

	var pruned int64
	if vis != authz.VisibilityPublic {
		allowed := append([]int64{it.CompanyID}, allowList...)
		pruned, err = s.repo.PruneDistributions(ctx, id, allowed)
		if err != nil {
			return nil, fmt.Errorf("prune distributions: %w", err)
		}
	}

	s.recordAudit(ctx, er, it, "content.share", map[string]any{
		"visibility":            req.Visibility,
		"shared_with":           len(allowList),
		"distributions_removed": pruned,
	})
	return s.repo.Get(ctx, id)
}

// Delete removes the item and every distribution of it.
func (s *Service) Delete(ctx context.Context, er authz.EffectiveRole, id uuid.UUID) error {
	it, err := s.ownedItem(ctx, er, id)
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
		return fmt.Errorf("delete content: %w", err)
	}
	s.recordAudit(ctx, er, it, "content.delete", map[string]any{"title": it.Title})
	return nil
}

// Distribute assigns an approved item to devices. The devices must
// belong to the caller's company (hosts curate their own screens) and
// the item must be usable by each device's company.
func (s *Service) Distribute(ctx context.Context, er authz.EffectiveRole, id uuid.UUID, req DistributeRequest) (int64, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !authz.VisibleTo(er, it) {
		return 0, shared.ErrNotFound
	}
	if it.Status != StatusApproved {
		return 0, fmt.Errorf("%w: only approved content can be distributed", shared.ErrConflict)
	}

	deviceIDs := dedupeIDs(req.DeviceIDs)
	devices, err := s.repo.DevicesByIDs(ctx, deviceIDs)
	if err != nil {
		return 0, fmt.Errorf("resolve devices: %w", err)
	}
	if len(devices) != len(deviceIDs) {
		return 0, fmt.Errorf("%w: unknown device in device_ids", shared.ErrValidation)
	}
	for _, d := range devices {
		if er.Class != authz.ClassSuperUser && d.CompanyID != er.CompanyID {
			return 0, shared.ErrPermissionDenied
		}
		if !d.Active {
			return 0, fmt.Errorf("%w: device %d is not active", shared.ErrConflict, d.ID)
		}
		if !authz.VisibleToCompany(d.CompanyID, it) {
			return 0, fmt.Errorf("%w: content is not shared with the device company", shared.ErrValidation)
		}
	}

	added, err := s.repo.Distribute(ctx, id, deviceIDs, er.PrincipalID)
	if err != nil {
		return 0, fmt.Errorf("distribute content: %w", err)
	}
	s.recordAudit(ctx, er, it, "content.distribute", map[string]any{"devices": len(deviceIDs), "added": added})
	return added, nil
}

// Undistribute removes one assignment.
func (s *Service) Undistribute(ctx context.Context, er authz.EffectiveRole, id uuid.UUID, deviceID int64) error {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !authz.VisibleTo(er, it) {
		return shared.ErrNotFound
	}
	devices, err := s.repo.DevicesByIDs(ctx, []int64{deviceID})
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}
	if len(devices) == 0 {
		return shared.ErrNotFound
	}
	if er.Class != authz.ClassSuperUser && devices[0].CompanyID != er.CompanyID {
		return shared.ErrPermissionDenied
	}
	if err := s.repo.Undistribute(ctx, id, deviceID); err != nil {
		return err
	}
	s.recordAudit(ctx, er, it, "content.undistribute", map[string]any{"device_id": deviceID})
	return nil
}

// Distributions lists where an item is assigned. The owning company and
// super users see every assignment; other companies see only their own
// devices.
func (s *Service) Distributions(ctx context.Context, er authz.EffectiveRole, id uuid.UUID) ([]Distribution, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.VisibleTo(er, it) {
		return nil, shared.ErrNotFound
	}
	dists, err := s.repo.Distributions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	if er.Class == authz.ClassSuperUser || er.CompanyID == it.CompanyID {
		return dists, nil
	}
	own := make([]Distribution, 0, len(dists))
	for _, d := range dists {
		if d.CompanyID == er.CompanyID {
			own = append(own, d)
		}
	}
	return own, nil
}

// Playlist returns the approved items assigned to the calling device.
// Items whose company lost access since assignment are filtered out as
// a second line of defense behind distribution pruning.
func (s *Service) Playlist(ctx context.Context, er authz.EffectiveRole) ([]Item, error) {
	if er.Class != authz.ClassDevice {
		return nil, shared.ErrPermissionDenied
	}
	items, err := s.repo.PlaylistForDevice(ctx, er.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("load playlist: %w", err)
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if authz.VisibleToCompany(er.CompanyID, it) {
			out = append(out, it)
		}
	}
	return out, nil
}

// ownedItem loads the item and verifies the caller may modify it.
// Invisible items read as not found; visible items owned by another
// company are a permission error.
func (s *Service) ownedItem(ctx context.Context, er authz.EffectiveRole, id uuid.UUID) (*Item, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.VisibleTo(er, it) {
		return nil, shared.ErrNotFound
	}
	if er.Class != authz.ClassSuperUser && er.CompanyID != it.CompanyID {
		return nil, fmt.Errorf("%w: only the owning company may modify content", shared.ErrPermissionDenied)
	}
	return it, nil
}

func (s *Service) recordAudit(ctx context.Context, er authz.EffectiveRole, it *Item, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:    er.PrincipalID,
		ActorClass: string(er.Class),
		CompanyID:  it.CompanyID,
		Action:     action,
		Entity:     "content",
		EntityID:   it.ID.String(),
		Meta:       meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}

func updateFields(updates map[string]any) []string {
	fields := make([]string, 0, len(updates))
	for _, col := range []string{"title", "kind", "url"} {
		if _, ok := updates[col]; ok {
			fields = append(fields, col)
		}
	}
	return fields
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
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
