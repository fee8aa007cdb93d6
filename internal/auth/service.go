package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// LoginResult is an issued token with its resolved identity.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  shared.Identity
}

// TokenObserver counts issued tokens by principal class. The
// observability metrics implement it.
type TokenObserver interface {
	ObserveTokenIssued(class string)
}

// Service wraps authentication and session business rules.
type Service struct {
	repo        Repository
	issuer      *TokenIssuer
	revocations *RevocationList
	resolver    *authz.Resolver
	tokens      TokenObserver
	logger      *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, issuer *TokenIssuer, revocations *RevocationList, resolver *authz.Resolver, tokens TokenObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, issuer: issuer, revocations: revocations, resolver: resolver, tokens: tokens, logger: logger}
}

// LoginUser validates email/password credentials and issues a token.
// Every failure collapses into ErrInvalidCredentials; the reason is
// logged, never returned.
func (s *Service) LoginUser(ctx context.Context, email, password, ip, ua string) (*LoginResult, error) {
	acc, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("login account lookup", "error", err)
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !acc.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if !acc.IsSuper && !acc.CompanyActive {
		s.logger.Info("login refused for suspended company", "user_id", acc.ID, "company_id", acc.CompanyID)
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	er := s.resolver.Resolve(ctx, authz.PrincipalRecord{
		ID:              acc.ID,
		Class:           acc.Class(),
		RoleName:        acc.RoleName,
		CompanyID:       acc.CompanyID,
		CompanyTypeName: acc.CompanyType,
		Active:          acc.Active,
	})
	return s.issue(ctx, er, ip, ua)
}

// LoginDevice validates an opaque device key and issues a Device token.
func (s *Service) LoginDevice(ctx context.Context, plainKey, ip, ua string) (*LoginResult, error) {
	if !ValidDeviceKeyFormat(plainKey) {
		return nil, shared.ErrInvalidCredentials
	}
	dev, err := s.repo.FindDeviceByKeyHash(ctx, HashDeviceKey(plainKey))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("device login lookup", "error", err)
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !dev.Active || !dev.CompanyActive {
		return nil, shared.ErrInvalidCredentials
	}

	er := s.resolver.Resolve(ctx, authz.PrincipalRecord{
		ID:        dev.ID,
		Class:     authz.ClassDevice,
		CompanyID: dev.CompanyID,
		Active:    dev.Active,
	})
	res, err := s.issue(ctx, er, ip, ua)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchDeviceSeen(ctx, dev.ID, time.Now()); err != nil {
		s.logger.Warn("touch device seen", "device_id", dev.ID, "error", err)
	}
	return res, nil
}

// issue mints a token and records the session. A session row that fails
// to write aborts the login: a token missing from the sessions table
// could never be bulk-revoked.
func (s *Service) issue(ctx context.Context, er authz.EffectiveRole, ip, ua string) (*LoginResult, error) {
	token, claims, err := s.issuer.Issue(er)
	if err != nil {
		return nil, err
	}
	sess := Session{
		ID:          claims.ID,
		Class:       er.Class,
		PrincipalID: er.PrincipalID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
		IP:          ip,
		UserAgent:   ua,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("auth: record session: %w", err)
	}
	if s.tokens != nil {
		s.tokens.ObserveTokenIssued(string(er.Class))
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Identity: shared.Identity{
			Role:      er,
			TokenID:   claims.ID,
			ExpiresAt: claims.ExpiresAt.Time,
		},
	}, nil
}

// Verify checks signature, expiry and revocation and returns the
// request identity. Revocation store failures are returned as-is so the
// caller denies the request instead of skipping the check.
func (s *Service) Verify(ctx context.Context, raw string) (*shared.Identity, error) {
	claims, err := s.issuer.Parse(raw)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, shared.ErrTokenRevoked
	}
	er, err := claims.EffectiveRole()
	if err != nil {
		return nil, err
	}
	return &shared.Identity{
		Role:      er,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the presented token. The Redis tombstone is the
// authoritative kill switch; the session row update is bookkeeping and
// only logged on failure.
func (s *Service) Logout(ctx context.Context, id *shared.Identity) error {
	if id == nil {
		return nil
	}
	if err := s.revocations.Revoke(ctx, id.TokenID, time.Until(id.ExpiresAt)); err != nil {
		return err
	}
	if err := s.repo.RevokeSession(ctx, id.TokenID, time.Now()); err != nil {
		s.logger.Warn("mark session revoked", "token_id", id.TokenID, "error", err)
	}
	return nil
}

// RevokeAllForPrincipal kills every live session of a principal. Called
// on role change, deactivation and device key rotation so stale
// privileges die with the old sessions.
func (s *Service) RevokeAllForPrincipal(ctx context.Context, class authz.PrincipalClass, principalID int64) (int, error) {
	now := time.Now()
	sessions, err := s.repo.RevokeAllForPrincipal(ctx, class, principalID, now)
	if err != nil {
		return 0, err
	}
	var firstErr error
	for _, sess := range sessions {
		if err := s.revocations.Revoke(ctx, sess.ID, sess.ExpiresAt.Sub(now)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return len(sessions), fmt.Errorf("auth: revoke sessions for %s/%d: %w", class, principalID, firstErr)
	}
	s.logger.Info("revoked principal sessions", "class", string(class), "principal_id", principalID, "count", len(sessions))
	return len(sessions), nil
}

// Heartbeat records that a device checked in.
func (s *Service) Heartbeat(ctx context.Context, deviceID int64) error {
	return s.repo.TouchDeviceSeen(ctx, deviceID, time.Now())
}

// SweepSessions deletes rows for tokens that can no longer be presented.
func (s *Service) SweepSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, time.Now())
}
