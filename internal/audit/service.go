package audit

import (
	"context"
	"fmt"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Service mengoordinasikan pengambilan data audit. Scoping tenant
// diterapkan di sini: company user hanya melihat baris perusahaannya
// sendiri, termasuk di ekspor.
type Service struct {
	repo Repository
}

// NewService membuat service audit baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil log keputusan otorisasi dengan window paging.
func (s *Service) Timeline(ctx context.Context, er authz.EffectiveRole, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	scoped, err := s.scopeTimeline(er, filters)
	if err != nil {
		return Result{}, err
	}
	page, pageSize := clampWindow(filters.Page, filters.PageSize)
	offset := (page - 1) * pageSize

	rows, err := s.repo.DecisionWindow(ctx, scoped, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return Result{Rows: rows, Paging: paging(page, pageSize, hasNext)}, nil
}

// Export mengambil seluruh baris keputusan tanpa paging, dengan scoping
// yang sama seperti Timeline.
func (s *Service) Export(ctx context.Context, er authz.EffectiveRole, filters TimelineFilters) ([]DecisionRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	scoped, err := s.scopeTimeline(er, filters)
	if err != nil {
		return nil, err
	}
	return s.repo.DecisionsAll(ctx, scoped)
}

// Changes mengambil riwayat perubahan entitas dari audit_logs.
func (s *Service) Changes(ctx context.Context, er authz.EffectiveRole, filters ChangeFilters) (ChangeResult, error) {
	if s.repo == nil {
		return ChangeResult{}, fmt.Errorf("audit: repository not configured")
	}
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return ChangeResult{}, err
	}
	if filters.CompanyID != 0 {
		if !scope.Allows(filters.CompanyID) {
			return ChangeResult{}, shared.ErrPermissionDenied
		}
		scope = scope.Narrow(filters.CompanyID)
	}
	filters.Scope = scope
	page, pageSize := clampWindow(filters.Page, filters.PageSize)
	offset := (page - 1) * pageSize

	rows, err := s.repo.ChangeWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return ChangeResult{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return ChangeResult{Rows: rows, Paging: paging(page, pageSize, hasNext)}, nil
}

func (s *Service) scopeTimeline(er authz.EffectiveRole, filters TimelineFilters) (TimelineFilters, error) {
	scope, err := authz.ScopeFor(er)
	if err != nil {
		return TimelineFilters{}, err
	}
	if filters.CompanyID != 0 {
		if !scope.Allows(filters.CompanyID) {
			return TimelineFilters{}, shared.ErrPermissionDenied
		}
		scope = scope.Narrow(filters.CompanyID)
	}
	filters.Scope = scope
	return filters, nil
}

func clampWindow(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func paging(page, pageSize int, hasNext bool) PagingInfo {
	info := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		info.PrevPage = page - 1
	}
	if hasNext {
		info.NextPage = page + 1
	}
	return info
}
