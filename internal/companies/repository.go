package companies

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/shared"
)

// Repository is the storage contract for tenants.
type Repository interface {
	List(ctx context.Context, req ListCompaniesRequest) ([]Company, int, error)
	Get(ctx context.Context, scope authz.Scope, id int64) (*Company, error)
	Create(ctx context.Context, c Company) (int64, error)
	UpdateName(ctx context.Context, id int64, name string) error
	UpdateLimits(ctx context.Context, id int64, limits Limits) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	Principals(ctx context.Context, companyID int64) (userIDs, deviceIDs []int64, err error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db dbtx
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const companyColumns = `id, name, type, active, max_users, max_devices, max_content, created_at, updated_at`

func scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	var typeName string
	err := row.Scan(&c.ID, &c.Name, &typeName, &c.Active, &c.MaxUsers, &c.MaxDevices, &c.MaxContent, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	c.Type = authz.CompanyType(typeName)
	return &c, nil
}

func (r *repository) List(ctx context.Context, req ListCompaniesRequest) ([]Company, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if cond, condArgs := req.Scope.Condition("id", argPos); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
		argPos += len(condArgs)
	}
	if req.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, req.Type)
		argPos++
	}
	if req.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", argPos))
		args = append(args, *req.Active)
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argPos))
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

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM companies %s", whereClause)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM companies %s ORDER BY name, id LIMIT $%d OFFSET $%d`,
		companyColumns, whereClause, argPos, argPos+1)
	perPage := req.PerPage
	args = append(args, perPage, shared.Offset(req.Page, perPage))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		companies = append(companies, *c)
	}
	return companies, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, scope authz.Scope, id int64) (*Company, error) {
	query := fmt.Sprintf(`SELECT %s FROM companies WHERE id = $1`, companyColumns)
	args := []any{id}
	if cond, condArgs := scope.Condition("id", 2); cond != "" {
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	return scanCompany(r.db.QueryRow(ctx, query, args...))
}

func (r *repository) Create(ctx context.Context, c Company) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO companies (name, type, active, max_users, max_devices, max_content, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4, $5, NOW(), NOW())
		RETURNING id`,
		c.Name, string(c.Type), c.MaxUsers, c.MaxDevices, c.MaxContent,
	).Scan(&id)
	if err != nil {
		return 0, pgError(err)
	}
	return id, nil
}

func (r *repository) UpdateName(ctx context.Context, id int64, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE companies SET name = $1, updated_at = NOW() WHERE id = $2`, name, id)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateLimits(ctx context.Context, id int64, limits Limits) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE companies SET max_users = $1, max_devices = $2, max_content = $3, updated_at = NOW()
		WHERE id = $4`,
		limits.MaxUsers, limits.MaxDevices, limits.MaxContent, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE companies SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Principals(ctx context.Context, companyID int64) ([]int64, []int64, error) {
	userIDs, err := collectIDs(r.db, ctx, `SELECT id FROM users WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, nil, err
	}
	deviceIDs, err := collectIDs(r.db, ctx, `SELECT id FROM devices WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, nil, err
	}
	return userIDs, deviceIDs, nil
}

func collectIDs(db dbtx, ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pgError maps constraint violations onto shared sentinels. 23505 is a
// unique violation, 23503 a foreign key violation (deleting a tenant
// that still owns rows).
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return shared.ErrConflict
		case "23503":
			return shared.ErrConflict
		}
	}
	return err
}

var _ Repository = (*repository)(nil)
