package auth

import (
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

// Account is a user row joined with its company, as loaded for
// authentication. RoleName and CompanyType are the stored strings;
// resolution happens in authz.
type Account struct {
	ID            int64
	Email         string
	PasswordHash  string
	IsSuper       bool
	RoleName      string
	RoleVersion   int64
	CompanyID     int64
	CompanyType   string
	Active        bool
	CompanyActive bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Class returns the principal class for the account.
func (a Account) Class() authz.PrincipalClass {
	if a.IsSuper {
		return authz.ClassSuperUser
	}
	return authz.ClassCompanyUser
}

// DeviceAccount is a device row joined with its company, as loaded for
// key authentication.
type DeviceAccount struct {
	ID            int64
	Name          string
	CompanyID     int64
	KeyHash       string
	KeyPrefix     string
	KeyVersion    int64
	Active        bool
	CompanyActive bool
	LastSeenAt    *time.Time
}

// Session is the server-side record of an issued token. ID is the token
// JTI; revocation marks the row and writes a Redis tombstone for the
// token's remaining lifetime.
type Session struct {
	ID          string
	Class       authz.PrincipalClass
	PrincipalID int64
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	IP          string
	UserAgent   string
}
