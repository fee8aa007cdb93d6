package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/db"
	"github.com/brightcast/brightcast/internal/shared"
)

// Repository is the storage contract for devices.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	List(ctx context.Context, req ListDevicesRequest) ([]Device, int, error)
	Get(ctx context.Context, scope authz.Scope, id int64) (*Device, error)
	Create(ctx context.Context, d Device, keyPrefix, keyHash string) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SetActive(ctx context.Context, id int64, active bool) error
	UpdateKey(ctx context.Context, id int64, keyPrefix, keyHash string) (int64, error)
	Delete(ctx context.Context, id int64) error
	ClearDistributions(ctx context.Context, deviceID int64) (int64, error)
	CompanyForUpdate(ctx context.Context, companyID int64) (maxDevices int, companyType string, active bool, err error)
	CountInCompany(ctx context.Context, companyID int64) (int, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const deviceColumns = `id, company_id, name, COALESCE(location, ''), api_key_prefix, key_version, active, online, last_seen_at, created_at, updated_at`

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	var lastSeen pgtype.Timestamptz
	err := row.Scan(&d.ID, &d.CompanyID, &d.Name, &d.Location, &d.KeyPrefix, &d.KeyVersion, &d.Active, &d.Online, &lastSeen, &d.CreatedAt, &d.UpdatedAt)
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

func (r *repository) List(ctx context.Context, req ListDevicesRequest) ([]Device, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if cond, condArgs := req.Scope.Condition("company_id", argPos); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
		argPos += len(condArgs)
	}
	switch req.Status {
	case "revoked":
		conditions = append(conditions, "active = FALSE")
	case "active":
		conditions = append(conditions, "active = TRUE AND online = TRUE")
	case "offline":
		conditions = append(conditions, "active = TRUE AND online = FALSE")
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR location ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+req.Search+"%")
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + conditions[0]
		for i := 1; i < len(conditions); i++ {
			whereClause += " AND " + conditions[i]
		}
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM devices %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM devices %s ORDER BY name, id LIMIT $%d OFFSET $%d`,
		deviceColumns, whereClause, argPos, argPos+1)
	args = append(args, req.PerPage, shared.Offset(req.Page, req.PerPage))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, *d)
	}
	return devices, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, scope authz.Scope, id int64) (*Device, error) {
	conditions := []string{"id = $1"}
	args := []any{id}
	if cond, condArgs := scope.Condition("company_id", 2); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
	}
	query := fmt.Sprintf(`SELECT %s FROM devices WHERE %s`, deviceColumns, conditions[0])
	for i := 1; i < len(conditions); i++ {
		query += " AND " + conditions[i]
	}
	return scanDevice(r.db.QueryRow(ctx, query, args...))
}

func (r *repository) Create(ctx context.Context, d Device, keyPrefix, keyHash string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO devices (company_id, name, location, api_key_prefix, api_key_hash, key_version, active, online, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, 1, TRUE, FALSE, NOW(), NOW())
		RETURNING id`,
		d.CompanyID, d.Name, d.Location, keyPrefix, keyHash).Scan(&id)
	if err != nil {
		return 0, pgError(err)
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	setClause := ""
	var args []any
	argPos := 1
	for _, col := range []string{"name", "location"} {
		v, ok := updates[col]
		if !ok {
			continue
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%s = $%d", col, argPos)
		args = append(args, v)
		argPos++
	}
	if setClause == "" {
		return nil
	}
	args = append(args, id)
	tag, err := r.db.Exec(ctx, fmt.Sprintf("UPDATE devices SET %s, updated_at = NOW() WHERE id = $%d", setClause, argPos), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE devices SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateKey swaps the stored credential and bumps key_version. Returns
// the new version.
func (r *repository) UpdateKey(ctx context.Context, id int64, keyPrefix, keyHash string) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `
		UPDATE devices SET api_key_prefix = $2, api_key_hash = $3, key_version = key_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING key_version`, id, keyPrefix, keyHash).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ClearDistributions(ctx context.Context, deviceID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_distributions WHERE device_id = $1`, deviceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CompanyForUpdate locks the tenant row for the max_devices check. The
// company type rides along because only hosts own devices.
func (r *repository) CompanyForUpdate(ctx context.Context, companyID int64) (int, string, bool, error) {
	var maxDevices int
	var companyType string
	var active bool
	err := r.db.QueryRow(ctx, `SELECT max_devices, type, active FROM companies WHERE id = $1 FOR UPDATE`, companyID).Scan(&maxDevices, &companyType, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", false, shared.ErrNotFound
		}
		return 0, "", false, err
	}
	return maxDevices, companyType, active, nil
}

func (r *repository) CountInCompany(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM devices WHERE company_id = $1`, companyID).Scan(&n)
	return n, err
}

func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Detail)
		case "23503":
			return fmt.Errorf("%w: referenced row missing", shared.ErrConflict)
		}
	}
	return err
}
