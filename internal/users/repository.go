package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/db"
	"github.com/brightcast/brightcast/internal/shared"
)

// Repository is the storage contract for company users.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	List(ctx context.Context, req ListUsersRequest) ([]User, int, error)
	Get(ctx context.Context, scope authz.Scope, id int64) (*User, error)
	Create(ctx context.Context, u User, passwordHash string) (int64, error)
	UpdateProfile(ctx context.Context, id int64, updates map[string]any) error
	ChangeRole(ctx context.Context, id int64, role string, expectedVersion int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	CompanyForUpdate(ctx context.Context, companyID int64) (maxUsers int, active bool, err error)
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

const userColumns = `id, email, name, COALESCE(role, ''), role_version, COALESCE(company_id, 0), active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.RoleVersion, &u.CompanyID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) List(ctx context.Context, req ListUsersRequest) ([]User, int, error) {
	conditions := []string{"is_super = FALSE"}
	var args []any
	argPos := 1

	if cond, condArgs := req.Scope.Condition("company_id", argPos); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
		argPos += len(condArgs)
	}
	if req.Role != "" {
		conditions = append(conditions, fmt.Sprintf("role = $%d", argPos))
		args = append(args, req.Role)
		argPos++
	}
	if req.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", argPos))
		args = append(args, *req.Active)
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+req.Search+"%")
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM users %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY name, id LIMIT $%d OFFSET $%d`,
		userColumns, whereClause, argPos, argPos+1)
	args = append(args, req.PerPage, shared.Offset(req.Page, req.PerPage))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, scope authz.Scope, id int64) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 AND is_super = FALSE`, userColumns)
	args := []any{id}
	if cond, condArgs := scope.Condition("company_id", 2); cond != "" {
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	return scanUser(r.db.QueryRow(ctx, query, args...))
}

func (r *repository) Create(ctx context.Context, u User, passwordHash string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, is_super, role, role_version, company_id, active, created_at, updated_at)
		VALUES (LOWER($1), $2, $3, FALSE, $4, 0, $5, TRUE, NOW(), NOW())
		RETURNING id`,
		u.Email, u.Name, passwordHash, u.Role, u.CompanyID,
	).Scan(&id)
	if err != nil {
		return 0, pgError(err)
	}
	return id, nil
}

func (r *repository) UpdateProfile(ctx context.Context, id int64, updates map[string]any) error {
	query := "UPDATE users SET updated_at = NOW()"
	var args []any
	argPos := 1

	if v, ok := updates["name"]; ok {
		query += fmt.Sprintf(", name = $%d", argPos)
		args = append(args, v)
		argPos++
	}
	if v, ok := updates["email"]; ok {
		query += fmt.Sprintf(", email = LOWER($%d)", argPos)
		args = append(args, v)
		argPos++
	}
	if len(args) == 0 {
		return nil
	}

	query += fmt.Sprintf(" WHERE id = $%d AND is_super = FALSE", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ChangeRole applies the new role only when role_version still matches
// what the caller read. A lost race reports ErrStaleVersion; the caller
// re-reads and retries with the current version.
func (r *repository) ChangeRole(ctx context.Context, id int64, role string, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET role = $1, role_version = role_version + 1, updated_at = NOW()
		WHERE id = $2 AND role_version = $3 AND is_super = FALSE`,
		role, id, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleVersion
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET active = $1, updated_at = NOW() WHERE id = $2 AND is_super = FALSE`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CompanyForUpdate locks the tenant row so the limit check and the
// insert happen under one lock.
func (r *repository) CompanyForUpdate(ctx context.Context, companyID int64) (int, bool, error) {
	var maxUsers int
	var active bool
	err := r.db.QueryRow(ctx, `SELECT max_users, active FROM companies WHERE id = $1 FOR UPDATE`, companyID).Scan(&maxUsers, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, shared.ErrNotFound
		}
		return 0, false, err
	}
	return maxUsers, active, nil
}

func (r *repository) CountInCompany(ctx context.Context, companyID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE company_id = $1 AND is_super = FALSE`, companyID).Scan(&count)
	return count, err
}

func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: email already in use", shared.ErrConflict)
	}
	return err
}

var _ Repository = (*repository)(nil)
