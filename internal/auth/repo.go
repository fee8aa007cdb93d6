package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByID(ctx context.Context, id int64) (*Account, error)
	FindDeviceByKeyHash(ctx context.Context, hash string) (*DeviceAccount, error)
	TouchDeviceSeen(ctx context.Context, deviceID int64, at time.Time) error

	CreateSession(ctx context.Context, sess Session) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
	RevokeAllForPrincipal(ctx context.Context, class authz.PrincipalClass, principalID int64, at time.Time) ([]Session, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db dbtx
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool}
}

const accountColumns = `
	u.id, u.email, u.password_hash, u.is_super,
	COALESCE(u.role, ''), u.role_version,
	COALESCE(u.company_id, 0), COALESCE(c.type, ''),
	u.active, COALESCE(c.active, TRUE),
	u.created_at, u.updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.IsSuper,
		&a.RoleName, &a.RoleVersion,
		&a.CompanyID, &a.CompanyType,
		&a.Active, &a.CompanyActive,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}
	return &a, nil
}

// FindAccountByEmail fetches a user with its company by email.
func (r *PGRepository) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM users u
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE lower(u.email) = lower($1)`, email)
	return scanAccount(row)
}

// FindAccountByID fetches a user with its company by id.
func (r *PGRepository) FindAccountByID(ctx context.Context, id int64) (*Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM users u
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE u.id = $1`, id)
	return scanAccount(row)
}

// FindDeviceByKeyHash fetches a device with its company by key hash.
func (r *PGRepository) FindDeviceByKeyHash(ctx context.Context, hash string) (*DeviceAccount, error) {
	var d DeviceAccount
	var lastSeen pgtype.Timestamptz
	err := r.db.QueryRow(ctx, `
		SELECT d.id, d.name, d.company_id, d.api_key_hash, d.api_key_prefix,
		       d.key_version, d.active, COALESCE(c.active, FALSE), d.last_seen_at
		FROM devices d
		JOIN companies c ON c.id = d.company_id
		WHERE d.api_key_hash = $1`, hash).Scan(
		&d.ID, &d.Name, &d.CompanyID, &d.KeyHash, &d.KeyPrefix,
		&d.KeyVersion, &d.Active, &d.CompanyActive, &lastSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeenAt = &t
	}
	return &d, nil
}

// TouchDeviceSeen records a device heartbeat. A device marked offline
// by the inactivity scan comes back online on its next check-in.
func (r *PGRepository) TouchDeviceSeen(ctx context.Context, deviceID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE devices SET last_seen_at = $2, online = TRUE WHERE id = $1`, deviceID, at.UTC())
	return err
}

// CreateSession persists an issued token for auditing and bulk
// revocation.
func (r *PGRepository) CreateSession(ctx context.Context, sess Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, principal_class, principal_id, issued_at, expires_at, ip, ua)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, string(sess.Class), sess.PrincipalID,
		sess.IssuedAt.UTC(), sess.ExpiresAt.UTC(),
		pgtype.Text{String: sess.IP, Valid: sess.IP != ""},
		pgtype.Text{String: sess.UserAgent, Valid: sess.UserAgent != ""},
	)
	return err
}

// RevokeSession marks one session revoked.
func (r *PGRepository) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`, id, at.UTC())
	return err
}

// RevokeAllForPrincipal marks every live session of a principal revoked
// and returns them so the caller can write Redis tombstones.
func (r *PGRepository) RevokeAllForPrincipal(ctx context.Context, class authz.PrincipalClass, principalID int64, at time.Time) ([]Session, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE sessions SET revoked_at = $3
		WHERE principal_class = $1 AND principal_id = $2
		  AND revoked_at IS NULL AND expires_at > $3
		RETURNING id, expires_at`, string(class), principalID, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revoked []Session
	for rows.Next() {
		var sess Session
		var expires pgtype.Timestamptz
		if err := rows.Scan(&sess.ID, &expires); err != nil {
			return nil, err
		}
		sess.Class = class
		sess.PrincipalID = principalID
		if expires.Valid {
			sess.ExpiresAt = expires.Time
		}
		revoked = append(revoked, sess)
	}
	return revoked, rows.Err()
}

// DeleteExpiredSessions removes rows whose tokens can no longer be
// presented. Run by the session sweep job.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
