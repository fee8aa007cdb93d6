package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
	_ "github.com/brightcast/brightcast/testing"
)

type stubAuditRepo struct {
	mu             sync.Mutex
	decisionRows   []DecisionRow
	changeRows     []ChangeRow
	inserted       [][]DecisionRow
	lastFilters    TimelineFilters
	lastOffset     int
	lastLimit      int
	lastChangeCall ChangeFilters
}

func (s *stubAuditRepo) InsertDecisions(_ context.Context, rows []DecisionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]DecisionRow, len(rows))
	copy(batch, rows)
	s.inserted = append(s.inserted, batch)
	return nil
}

func (s *stubAuditRepo) DecisionWindow(_ context.Context, f TimelineFilters, offset, limit int) ([]DecisionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilters = f
	s.lastOffset = offset
	s.lastLimit = limit
	rows := s.scopedDecisions(f.Scope)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *stubAuditRepo) DecisionsAll(_ context.Context, f TimelineFilters) ([]DecisionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilters = f
	return s.scopedDecisions(f.Scope), nil
}

func (s *stubAuditRepo) ChangeWindow(_ context.Context, f ChangeFilters, offset, limit int) ([]ChangeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChangeCall = f
	var rows []ChangeRow
	for _, row := range s.changeRows {
		if !f.Scope.Allows(row.CompanyID) {
			continue
		}
		rows = append(rows, row)
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *stubAuditRepo) scopedDecisions(scope authz.Scope) []DecisionRow {
	var rows []DecisionRow
	for _, row := range s.decisionRows {
		if !scope.Allows(row.CompanyID) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func superRole() authz.EffectiveRole {
	return authz.EffectiveRole{PrincipalID: 1, Class: authz.ClassSuperUser}
}

func adminOf(principalID, companyID int64) authz.EffectiveRole {
	return authz.EffectiveRole{
		PrincipalID: principalID,
		Class:       authz.ClassCompanyUser,
		Role:        authz.RoleAdmin,
		CompanyID:   companyID,
		CompanyType: authz.CompanyTypeHost,
	}
}

func denyRow(companyID int64, resource, action string) DecisionRow {
	return DecisionRow{
		At:          time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		PrincipalID: 42,
		Class:       string(authz.ClassCompanyUser),
		CompanyID:   companyID,
		Resource:    resource,
		Action:      action,
		Outcome:     authz.DecisionDeny,
		Reason:      "missing permission",
	}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubAuditRepo{decisionRows: []DecisionRow{
		denyRow(1, "content", "approve"),
		denyRow(1, "device", "delete"),
		denyRow(1, "user", "create"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), superRole(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext {
		t.Fatalf("expected hasNext true")
	}
	if result.Paging.NextPage != 2 {
		t.Fatalf("expected nextPage 2, got %d", result.Paging.NextPage)
	}
	// One extra row is fetched to detect the next page.
	if repo.lastLimit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastOffset)
	}
}

func TestTimelineScopesCompanyUsers(t *testing.T) {
	repo := &stubAuditRepo{decisionRows: []DecisionRow{
		denyRow(1, "content", "approve"),
		denyRow(2, "content", "approve"),
		denyRow(0, "", ""),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), adminOf(9, 1), TimelineFilters{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected only own-company rows, got %d", len(result.Rows))
	}
	if result.Rows[0].CompanyID != 1 {
		t.Fatalf("leaked row for company %d", result.Rows[0].CompanyID)
	}

	_, err = svc.Timeline(context.Background(), adminOf(9, 1), TimelineFilters{CompanyID: 2})
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("foreign filter: want ErrPermissionDenied, got %v", err)
	}
}

func TestExportUsesTimelineScoping(t *testing.T) {
	repo := &stubAuditRepo{decisionRows: []DecisionRow{
		denyRow(1, "content", "approve"),
		denyRow(2, "content", "approve"),
	}}
	svc := NewService(repo)

	rows, err := svc.Export(context.Background(), adminOf(9, 2), TimelineFilters{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 1 || rows[0].CompanyID != 2 {
		t.Fatalf("export ignored tenant scope: %+v", rows)
	}

	all, err := svc.Export(context.Background(), superRole(), TimelineFilters{})
	if err != nil {
		t.Fatalf("super export: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("super export expected 2 rows, got %d", len(all))
	}
}

func TestChangesWindow(t *testing.T) {
	repo := &stubAuditRepo{changeRows: []ChangeRow{
		{At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 7, ActorClass: "company_user", CompanyID: 1, Action: "content.approve", Entity: "content", EntityID: "abc"},
		{At: time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), ActorID: 1, ActorClass: "super_user", CompanyID: 0, Action: "company.create", Entity: "company", EntityID: "2"},
	}}
	svc := NewService(repo)

	result, err := svc.Changes(context.Background(), adminOf(9, 1), ChangeFilters{})
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("company admin should not see platform changes, got %d rows", len(result.Rows))
	}

	all, err := svc.Changes(context.Background(), superRole(), ChangeFilters{})
	if err != nil {
		t.Fatalf("super changes: %v", err)
	}
	if len(all.Rows) != 2 {
		t.Fatalf("super expected 2 rows, got %d", len(all.Rows))
	}
	if all.Paging.HasNext {
		t.Fatalf("unexpected hasNext")
	}
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), superRole(), TimelineFilters{PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != maxPageSize+1 {
		t.Fatalf("page size not clamped: limit %d", repo.lastLimit)
	}
}
