package users

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
	_ "github.com/brightcast/brightcast/testing"
)

type stubCompany struct {
	maxUsers int
	active   bool
}

type stubRepo struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]User
	companies map[int64]stubCompany
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		nextID:    1,
		users:     make(map[int64]User),
		companies: make(map[int64]stubCompany),
	}
}

func (s *stubRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, s)
}

func (s *stubRepo) List(_ context.Context, req ListUsersRequest) ([]User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.users {
		if !req.Scope.Allows(u.CompanyID) {
			continue
		}
		if req.Role != "" && u.Role != req.Role {
			continue
		}
		if req.Active != nil && u.Active != *req.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *stubRepo) Get(_ context.Context, scope authz.Scope, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !scope.Allows(u.CompanyID) {
		return nil, shared.ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *stubRepo) Create(_ context.Context, u User, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return 0, shared.ErrConflict
		}
	}
	u.ID = s.nextID
	s.nextID++
	u.Active = true
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *stubRepo) UpdateProfile(_ context.Context, id int64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	if v, ok := updates["name"]; ok {
		u.Name = v.(string)
	}
	if v, ok := updates["email"]; ok {
		u.Email = v.(string)
	}
	s.users[id] = u
	return nil
}

func (s *stubRepo) ChangeRole(_ context.Context, id int64, role string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.RoleVersion != expectedVersion {
		return shared.ErrStaleVersion
	}
	u.Role = role
	u.RoleVersion++
	s.users[id] = u
	return nil
}

func (s *stubRepo) SetActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Active = active
	s.users[id] = u
	return nil
}

func (s *stubRepo) CompanyForUpdate(_ context.Context, companyID int64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return 0, false, shared.ErrNotFound
	}
	return c.maxUsers, c.active, nil
}

func (s *stubRepo) CountInCompany(_ context.Context, companyID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, u := range s.users {
		if u.CompanyID == companyID {
			count++
		}
	}
	return count, nil
}

type stubRevoker struct {
	mu      sync.Mutex
	revoked []int64
}

func (s *stubRevoker) RevokeAllForPrincipal(_ context.Context, _ authz.PrincipalClass, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, id)
	return 1, nil
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

func seedUser(t *testing.T, repo *stubRepo, email string, companyID int64, role string) int64 {
	t.Helper()
	id, err := repo.Create(context.Background(), User{Email: email, Name: "Seeded", Role: role, CompanyID: companyID}, "x")
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return id
}

func TestCreateUserEnforcesCompanyLimit(t *testing.T) {
	repo := newStubRepo()
	repo.companies[1] = stubCompany{maxUsers: 2, active: true}
	svc := NewService(repo, nil, nil, nil)
	admin := adminOf(99, 1)

	for i, email := range []string{"one@metro.test", "two@metro.test"} {
		_, err := svc.Create(context.Background(), admin, CreateUserRequest{
			Email: email, Name: "Metro User", Password: "secret-pass", Role: "viewer",
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, err := svc.Create(context.Background(), admin, CreateUserRequest{
		Email: "three@metro.test", Name: "Over Limit", Password: "secret-pass", Role: "viewer",
	})
	if !errors.Is(err, shared.ErrLimitExceeded) {
		t.Fatalf("third create: want ErrLimitExceeded, got %v", err)
	}
}

func TestCreateUserRefusedForSuspendedCompany(t *testing.T) {
	repo := newStubRepo()
	repo.companies[1] = stubCompany{maxUsers: 10, active: false}
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), adminOf(99, 1), CreateUserRequest{
		Email: "new@metro.test", Name: "New User", Password: "secret-pass", Role: "viewer",
	})
	if !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("want ErrConflict for suspended company, got %v", err)
	}
}

func TestCreateUserIgnoresForeignCompany(t *testing.T) {
	repo := newStubRepo()
	repo.companies[1] = stubCompany{maxUsers: 10, active: true}
	repo.companies[2] = stubCompany{maxUsers: 10, active: true}
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), adminOf(99, 1), CreateUserRequest{
		Email: "sneak@other.test", Name: "Sneak", Password: "secret-pass", Role: "admin", CompanyID: 2,
	})
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("cross-company create: want ErrPermissionDenied, got %v", err)
	}

	// Super users must name a company explicitly.
	if _, err := svc.Create(context.Background(), superRole(), CreateUserRequest{
		Email: "nobody@platform.test", Name: "Nobody", Password: "secret-pass", Role: "viewer",
	}); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("super create without company: want ErrValidation, got %v", err)
	}
}

func TestListRejectsForeignCompanyFilter(t *testing.T) {
	repo := newStubRepo()
	seedUser(t, repo, "a@metro.test", 1, "viewer")
	seedUser(t, repo, "b@adworks.test", 2, "viewer")
	svc := NewService(repo, nil, nil, nil)

	_, _, err := svc.List(context.Background(), adminOf(99, 1), ListUsersRequest{CompanyID: 2})
	if !errors.Is(err, shared.ErrPermissionDenied) {
		t.Fatalf("foreign filter: want ErrPermissionDenied, got %v", err)
	}

	own, _, err := svc.List(context.Background(), adminOf(99, 1), ListUsersRequest{})
	if err != nil {
		t.Fatalf("list own: %v", err)
	}
	if len(own) != 1 || own[0].CompanyID != 1 {
		t.Fatalf("scope leak: %+v", own)
	}

	filtered, _, err := svc.List(context.Background(), superRole(), ListUsersRequest{CompanyID: 2})
	if err != nil {
		t.Fatalf("super filtered list: %v", err)
	}
	if len(filtered) != 1 || filtered[0].CompanyID != 2 {
		t.Fatalf("super filter should narrow to company 2: %+v", filtered)
	}
}

func TestChangeRoleRevokesSessionsAndBumpsVersion(t *testing.T) {
	repo := newStubRepo()
	targetID := seedUser(t, repo, "editor@metro.test", 1, "editor")
	revoker := &stubRevoker{}
	svc := NewService(repo, nil, revoker, nil)

	updated, err := svc.ChangeRole(context.Background(), adminOf(99, 1), targetID, ChangeRoleRequest{Role: "reviewer", RoleVersion: 0})
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if updated.Role != "reviewer" || updated.RoleVersion != 1 {
		t.Fatalf("role not applied: %+v", updated)
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != targetID {
		t.Fatalf("sessions not revoked for target: %v", revoker.revoked)
	}
}

func TestChangeRoleStaleVersion(t *testing.T) {
	repo := newStubRepo()
	targetID := seedUser(t, repo, "editor@metro.test", 1, "editor")
	revoker := &stubRevoker{}
	svc := NewService(repo, nil, revoker, nil)

	if _, err := svc.ChangeRole(context.Background(), adminOf(99, 1), targetID, ChangeRoleRequest{Role: "admin", RoleVersion: 0}); err != nil {
		t.Fatalf("first change: %v", err)
	}

	// Second caller read version 0 before the first change landed.
	_, err := svc.ChangeRole(context.Background(), adminOf(99, 1), targetID, ChangeRoleRequest{Role: "viewer", RoleVersion: 0})
	if !errors.Is(err, shared.ErrStaleVersion) {
		t.Fatalf("want ErrStaleVersion, got %v", err)
	}
	if got := repo.users[targetID].Role; got != "admin" {
		t.Fatalf("lost update: role is %q", got)
	}
}

func TestCannotChangeOwnRoleOrDeactivateSelf(t *testing.T) {
	repo := newStubRepo()
	selfID := seedUser(t, repo, "admin@metro.test", 1, "admin")
	svc := NewService(repo, nil, nil, nil)
	self := adminOf(selfID, 1)

	if _, err := svc.ChangeRole(context.Background(), self, selfID, ChangeRoleRequest{Role: "viewer", RoleVersion: 0}); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("own role change: want ErrValidation, got %v", err)
	}
	if err := svc.Deactivate(context.Background(), self, selfID); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("self deactivate: want ErrValidation, got %v", err)
	}
}

func TestDeactivateRevokesSessions(t *testing.T) {
	repo := newStubRepo()
	targetID := seedUser(t, repo, "viewer@metro.test", 1, "viewer")
	revoker := &stubRevoker{}
	svc := NewService(repo, nil, revoker, nil)

	if err := svc.Deactivate(context.Background(), adminOf(99, 1), targetID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if repo.users[targetID].Active {
		t.Fatal("user should be inactive")
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != targetID {
		t.Fatalf("sessions not revoked: %v", revoker.revoked)
	}

	restored, err := svc.Activate(context.Background(), superRole(), targetID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !restored.Active {
		t.Fatal("user should be active after activate")
	}
}

func TestCrossCompanyTargetReadsAsNotFound(t *testing.T) {
	repo := newStubRepo()
	foreignID := seedUser(t, repo, "b@adworks.test", 2, "viewer")
	svc := NewService(repo, nil, nil, nil)

	if _, err := svc.Get(context.Background(), adminOf(99, 1), foreignID); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("cross-company get: want ErrNotFound, got %v", err)
	}
	if _, err := svc.ChangeRole(context.Background(), adminOf(99, 1), foreignID, ChangeRoleRequest{Role: "viewer", RoleVersion: 0}); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("cross-company role change: want ErrNotFound, got %v", err)
	}
}
