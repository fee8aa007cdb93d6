package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// Claims is the token payload. The effective role is snapshotted at
// issue time; staleness is bounded by the token TTL and by session
// revocation on role change.
type Claims struct {
	Class       string `json:"class"`
	Role        string `json:"role,omitempty"`
	CompanyID   int64  `json:"company_id,omitempty"`
	CompanyType string `json:"company_type,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 tokens.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	userTTL   time.Duration
	deviceTTL time.Duration
	now       func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. Device tokens default to the
// user TTL when deviceTTL is zero.
func NewTokenIssuer(secret []byte, issuer string, userTTL, deviceTTL time.Duration) *TokenIssuer {
	if deviceTTL <= 0 {
		deviceTTL = userTTL
	}
	return &TokenIssuer{
		secret:    secret,
		issuer:    issuer,
		userTTL:   userTTL,
		deviceTTL: deviceTTL,
		now:       time.Now,
	}
}

// TTLFor returns the configured lifetime for a principal class.
func (i *TokenIssuer) TTLFor(class authz.PrincipalClass) time.Duration {
	if class == authz.ClassDevice {
		return i.deviceTTL
	}
	return i.userTTL
}

// Issue mints a signed token for the effective role and returns it with
// its claims.
func (i *TokenIssuer) Issue(er authz.EffectiveRole) (string, *Claims, error) {
	now := i.now().UTC()
	claims := &Claims{
		Class:       string(er.Class),
		Role:        string(er.Role),
		CompanyID:   er.CompanyID,
		CompanyType: string(er.CompanyType),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(er.PrincipalID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.TTLFor(er.Class))),
			ID:        uuid.NewString(),
		},
	}
	if er.Class == authz.ClassSuperUser {
		claims.Role = ""
		claims.CompanyType = ""
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, issuer and expiry and returns the claims.
// Expired tokens map to shared.ErrTokenExpired; everything else wrong
// with a token maps to shared.ErrTokenInvalid.
func (i *TokenIssuer) Parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(i.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, shared.ErrTokenExpired
		}
		return nil, shared.ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, shared.ErrTokenInvalid
	}
	return claims, nil
}

// EffectiveRole reconstructs the authorization identity from verified
// claims. Tokens are only minted from resolved roles, so claims that no
// longer parse (a role renamed between deploys, a truncated subject) are
// treated as invalid rather than re-resolved; the caller logs in again
// and resolution runs fresh.
func (c *Claims) EffectiveRole() (authz.EffectiveRole, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return authz.EffectiveRole{}, shared.ErrTokenInvalid
	}
	class, ok := authz.ParsePrincipalClass(c.Class)
	if !ok {
		return authz.EffectiveRole{}, shared.ErrTokenInvalid
	}

	er := authz.EffectiveRole{PrincipalID: id, Class: class}
	switch class {
	case authz.ClassSuperUser:
		return er, nil
	case authz.ClassDevice:
		if c.CompanyID <= 0 {
			return authz.EffectiveRole{}, shared.ErrTokenInvalid
		}
		er.Role = authz.RoleNone
		er.CompanyID = c.CompanyID
		er.CompanyType = authz.CompanyTypeHost
		return er, nil
	}

	if c.CompanyID <= 0 {
		return authz.EffectiveRole{}, shared.ErrTokenInvalid
	}
	ct, ok := authz.ParseCompanyType(c.CompanyType)
	if !ok {
		return authz.EffectiveRole{}, shared.ErrTokenInvalid
	}
	role, ok := authz.ParseRole(c.Role)
	if !ok {
		return authz.EffectiveRole{}, shared.ErrTokenInvalid
	}
	er.Role = role
	er.CompanyID = c.CompanyID
	er.CompanyType = ct
	return er, nil
}
