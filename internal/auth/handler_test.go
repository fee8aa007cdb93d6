package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
	_ "github.com/brightcast/brightcast/testing"
)

type stubRepo struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
	devices  map[string]*auth.DeviceAccount
	sessions map[string]*auth.Session
	touched  []int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts: make(map[string]*auth.Account),
		devices:  make(map[string]*auth.DeviceAccount),
		sessions: make(map[string]*auth.Session),
	}
}

func (s *stubRepo) FindAccountByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *stubRepo) FindAccountByID(_ context.Context, id int64) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.ID == id {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindDeviceByKeyHash(_ context.Context, hash string) (*auth.DeviceAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[hash]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *dev
	return &cp, nil
}

func (s *stubRepo) TouchDeviceSeen(_ context.Context, deviceID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, deviceID)
	return nil
}

func (s *stubRepo) CreateSession(_ context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &sess
	return nil
}

func (s *stubRepo) RevokeSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	return nil
}

func (s *stubRepo) RevokeAllForPrincipal(_ context.Context, class authz.PrincipalClass, principalID int64, at time.Time) ([]auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Session
	for _, sess := range s.sessions {
		if sess.Class == class && sess.PrincipalID == principalID && sess.RevokedAt == nil && sess.ExpiresAt.After(at) {
			sess.RevokedAt = &at
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *stubRepo) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

type testRecorder struct {
	mu        sync.Mutex
	decisions []authz.Decision
}

func (r *testRecorder) RecordDecision(_ context.Context, d authz.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *testRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.decisions))
	for i, d := range r.decisions {
		out[i] = d.Outcome
	}
	return out
}

type testAuth struct {
	repo     *stubRepo
	service  *auth.Service
	mw       auth.Middleware
	recorder *testRecorder
	redis    *miniredis.Miniredis
}

func newTestAuth(t *testing.T) *testAuth {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	recorder := &testRecorder{}
	repo := newStubRepo()
	issuer := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "brightcast", time.Hour, 2*time.Hour)
	service := auth.NewService(repo, issuer, auth.NewRevocationList(client), authz.NewResolver(nil, recorder), nil, nil)
	return &testAuth{
		repo:     repo,
		service:  service,
		mw:       auth.Middleware{Service: service, Recorder: recorder},
		recorder: recorder,
		redis:    mr,
	}
}

func (ta *testAuth) addUser(t *testing.T, email, password string, mut func(*auth.Account)) *auth.Account {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	acc := &auth.Account{
		ID:            int64(len(ta.repo.accounts) + 1),
		Email:         email,
		PasswordHash:  string(hashed),
		RoleName:      "admin",
		RoleVersion:   1,
		CompanyID:     1,
		CompanyType:   "HOST",
		Active:        true,
		CompanyActive: true,
	}
	if mut != nil {
		mut(acc)
	}
	ta.repo.accounts[strings.ToLower(email)] = acc
	return acc
}

func (ta *testAuth) router(t *testing.T) http.Handler {
	t.Helper()
	h := auth.NewHandler(nil, ta.service, ta.mw)
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	return r
}

func postJSON(t *testing.T, h http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func getWithToken(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestLoginAndMe(t *testing.T) {
	ta := newTestAuth(t)
	ta.addUser(t, "admin@host.test", "changeme123", nil)
	router := ta.router(t)

	res := postJSON(t, router, "/auth/login", map[string]string{"email": "admin@host.test", "password": "changeme123"}, "")
	if res.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", res.Code, res.Body.String())
	}

	var payload struct {
		Token     string `json:"token"`
		Principal struct {
			Class string `json:"class"`
			Role  string `json:"role"`
		} `json:"principal"`
		Permissions []string `json:"permissions"`
		Navigation  []string `json:"navigation"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Token == "" || payload.Principal.Class != "company_user" || payload.Principal.Role != "admin" {
		t.Fatalf("unexpected login payload: %+v", payload)
	}
	if len(payload.Navigation) != 6 {
		t.Fatalf("host admin navigation = %v, want all six sections", payload.Navigation)
	}

	me := getWithToken(t, router, "/auth/me", payload.Token)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", me.Code, me.Body.String())
	}
	if !strings.Contains(me.Body.String(), `"device.create"`) {
		t.Fatalf("host admin /me missing device.create: %s", me.Body.String())
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	ta := newTestAuth(t)
	ta.addUser(t, "admin@host.test", "changeme123", nil)
	ta.addUser(t, "gone@host.test", "changeme123", func(a *auth.Account) { a.ID = 2; a.Active = false })
	ta.addUser(t, "frozen@adv.test", "changeme123", func(a *auth.Account) {
		a.ID = 3
		a.CompanyID = 2
		a.CompanyType = "ADVERTISER"
		a.CompanyActive = false
	})
	router := ta.router(t)

	cases := []map[string]string{
		{"email": "admin@host.test", "password": "wrongpassword"},
		{"email": "nobody@host.test", "password": "changeme123"},
		{"email": "gone@host.test", "password": "changeme123"},
		{"email": "frozen@adv.test", "password": "changeme123"},
	}
	for _, body := range cases {
		res := postJSON(t, router, "/auth/login", body, "")
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("login %v status = %d, want 401", body, res.Code)
		}
		if !strings.Contains(res.Body.String(), "invalid credentials") {
			t.Fatalf("login %v leaked detail: %s", body, res.Body.String())
		}
	}
}

func TestLoginValidation(t *testing.T) {
	ta := newTestAuth(t)
	router := ta.router(t)

	res := postJSON(t, router, "/auth/login", map[string]string{"email": "not-an-email", "password": "short"}, "")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestDeviceLogin(t *testing.T) {
	ta := newTestAuth(t)
	plain, hash, prefix, err := auth.GenerateDeviceKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ta.repo.devices[hash] = &auth.DeviceAccount{
		ID: 11, Name: "lobby-screen", CompanyID: 4,
		KeyHash: hash, KeyPrefix: prefix, KeyVersion: 1,
		Active: true, CompanyActive: true,
	}
	router := ta.router(t)

	res := postJSON(t, router, "/auth/device/login", map[string]string{"key": plain}, "")
	if res.Code != http.StatusOK {
		t.Fatalf("device login status = %d, body %s", res.Code, res.Body.String())
	}
	var payload struct {
		Principal struct {
			Class     string `json:"class"`
			CompanyID int64  `json:"company_id"`
		} `json:"principal"`
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Principal.Class != "device" || payload.Principal.CompanyID != 4 {
		t.Fatalf("device principal = %+v", payload.Principal)
	}
	if len(payload.Permissions) != 1 || payload.Permissions[0] != "content.view" {
		t.Fatalf("device permissions = %v, want [content.view]", payload.Permissions)
	}
	if len(ta.repo.touched) == 0 || ta.repo.touched[0] != 11 {
		t.Fatal("device login did not record a heartbeat")
	}

	bad := postJSON(t, router, "/auth/device/login", map[string]string{"key": "bcd_invalid"}, "")
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad key status = %d, want 401", bad.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ta := newTestAuth(t)
	ta.addUser(t, "admin@host.test", "changeme123", nil)
	router := ta.router(t)

	res := postJSON(t, router, "/auth/login", map[string]string{"email": "admin@host.test", "password": "changeme123"}, "")
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}

	out := postJSON(t, router, "/auth/logout", nil, payload.Token)
	if out.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", out.Code)
	}

	me := getWithToken(t, router, "/auth/me", payload.Token)
	if me.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", me.Code)
	}

	// The tombstone must expire with the token, not linger forever.
	keys := ta.redis.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "revoked:") {
		t.Fatalf("revocation keys = %v", keys)
	}
	if ttl := ta.redis.TTL(keys[0]); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("tombstone ttl = %v", ttl)
	}
}

func TestRevokeAllForPrincipal(t *testing.T) {
	ta := newTestAuth(t)
	acc := ta.addUser(t, "admin@host.test", "changeme123", nil)

	first, err := ta.service.LoginUser(context.Background(), acc.Email, "changeme123", "", "")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := ta.service.LoginUser(context.Background(), acc.Email, "changeme123", "", "")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	n, err := ta.service.RevokeAllForPrincipal(context.Background(), authz.ClassCompanyUser, acc.ID)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d sessions, want 2", n)
	}

	for _, tok := range []string{first.Token, second.Token} {
		if _, err := ta.service.Verify(context.Background(), tok); !errors.Is(err, shared.ErrTokenRevoked) {
			t.Fatalf("verify after revoke-all: err = %v, want ErrTokenRevoked", err)
		}
	}
}

func TestVerifyFailsClosedWhenRevocationStoreIsDown(t *testing.T) {
	ta := newTestAuth(t)
	acc := ta.addUser(t, "admin@host.test", "changeme123", nil)

	res, err := ta.service.LoginUser(context.Background(), acc.Email, "changeme123", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	ta.redis.Close()

	_, err = ta.service.Verify(context.Background(), res.Token)
	if err == nil {
		t.Fatal("verify succeeded with revocation store down")
	}
	for _, sentinel := range []error{shared.ErrTokenExpired, shared.ErrTokenInvalid, shared.ErrTokenRevoked} {
		if errors.Is(err, sentinel) {
			t.Fatalf("store failure surfaced as token error %v", sentinel)
		}
	}
}

func TestUnknownRoleLoginDegradesToViewer(t *testing.T) {
	ta := newTestAuth(t)
	ta.addUser(t, "odd@host.test", "changeme123", func(a *auth.Account) { a.RoleName = "superintendent" })

	res, err := ta.service.LoginUser(context.Background(), "odd@host.test", "changeme123", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Identity.Role.Role != authz.RoleViewer {
		t.Fatalf("resolved role = %s, want viewer", res.Identity.Role.Role)
	}
	outcomes := ta.recorder.outcomes()
	if len(outcomes) != 1 || outcomes[0] != authz.DecisionFallback {
		t.Fatalf("recorded outcomes = %v, want one fallback", outcomes)
	}
}

func TestRequirePermissionMiddleware(t *testing.T) {
	ta := newTestAuth(t)
	ta.addUser(t, "admin@host.test", "changeme123", nil)
	ta.addUser(t, "viewer@host.test", "changeme123", func(a *auth.Account) { a.ID = 2; a.RoleName = "viewer" })

	protected := chi.NewRouter()
	protected.Use(ta.mw.Authenticate)
	protected.With(ta.mw.RequirePermission(authz.ResourceDevice, authz.ActionCreate)).
		Post("/devices", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })

	adminRes, err := ta.service.LoginUser(context.Background(), "admin@host.test", "changeme123", "", "")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	viewerRes, err := ta.service.LoginUser(context.Background(), "viewer@host.test", "changeme123", "", "")
	if err != nil {
		t.Fatalf("viewer login: %v", err)
	}

	if res := postJSON(t, protected, "/devices", nil, adminRes.Token); res.Code != http.StatusCreated {
		t.Fatalf("admin create = %d, want 201", res.Code)
	}
	res := postJSON(t, protected, "/devices", nil, viewerRes.Token)
	if res.Code != http.StatusForbidden {
		t.Fatalf("viewer create = %d, want 403", res.Code)
	}
	if !strings.Contains(res.Body.String(), "not authorized") {
		t.Fatalf("403 leaked detail: %s", res.Body.String())
	}
	if strings.Contains(res.Body.String(), "device.create") {
		t.Fatalf("403 names the missing permission: %s", res.Body.String())
	}

	if res := postJSON(t, protected, "/devices", nil, ""); res.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create = %d, want 401", res.Code)
	}

	denies := 0
	for _, outcome := range ta.recorder.outcomes() {
		if outcome == authz.DecisionDeny {
			denies++
		}
	}
	if denies != 1 {
		t.Fatalf("recorded %d deny decisions, want 1", denies)
	}
}
