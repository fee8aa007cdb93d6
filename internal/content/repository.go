package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/db"
	"github.com/brightcast/brightcast/internal/shared"
)

// Repository is the storage contract for content items and their
// device distributions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	List(ctx context.Context, req ListContentRequest) ([]Item, int, error)
	Library(ctx context.Context, req LibraryRequest) ([]Item, int, error)
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	Create(ctx context.Context, it Item) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SetStatus(ctx context.Context, id uuid.UUID, from []string, to, note string) error
	SetVisibility(ctx context.Context, id uuid.UUID, visibility authz.Visibility, sharedWith []int64) error
	Delete(ctx context.Context, id uuid.UUID) error
	CompanyForUpdate(ctx context.Context, companyID int64) (maxContent int, active bool, err error)
	CountInCompany(ctx context.Context, companyID int64) (int, error)
	CompaniesExist(ctx context.Context, ids []int64) (bool, error)
	DevicesByIDs(ctx context.Context, ids []int64) ([]TargetDevice, error)
	Distribute(ctx context.Context, contentID uuid.UUID, deviceIDs []int64, createdBy int64) (int64, error)
	Undistribute(ctx context.Context, contentID uuid.UUID, deviceID int64) error
	Distributions(ctx context.Context, contentID uuid.UUID) ([]Distribution, error)
	PruneDistributions(ctx context.Context, contentID uuid.UUID, allowed []int64) (int64, error)
	ClearDistributions(ctx context.Context, contentID uuid.UUID) (int64, error)
	PlaylistForDevice(ctx context.Context, deviceID int64) ([]Item, error)
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

const itemColumns = `id, company_id, created_by, title, kind, url, status, visibility, shared_with, COALESCE(review_note, ''), created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.CompanyID, &it.CreatedBy, &it.Title, &it.Kind, &it.URL, &it.Status, &it.Visibility, &it.Shared, &it.ReviewNote, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (r *repository) List(ctx context.Context, req ListContentRequest) ([]Item, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if cond, condArgs := req.Scope.Condition("company_id", argPos); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
		argPos += len(condArgs)
	}
	if req.CreatedBy != 0 {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", argPos))
		args = append(args, req.CreatedBy)
		argPos++
	}
	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, req.Status)
		argPos++
	}
	if req.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, req.Kind)
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", argPos))
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

	return r.pageItems(ctx, whereClause, args, argPos, req.Page, req.PerPage)
}

// Library selects approved items the company may use. The predicate is
// the SQL rendering of the visibility decision table: own items, public
// items, and shared items whose allow-list names the company.
func (r *repository) Library(ctx context.Context, req LibraryRequest) ([]Item, int, error) {
	conditions := []string{"status = 'approved'"}
	var args []any
	argPos := 1

	if req.CompanyID != 0 {
		conditions = append(conditions, fmt.Sprintf("(company_id = $%d OR visibility = 'public' OR (visibility = 'shared' AND $%d = ANY(shared_with)))", argPos, argPos))
		args = append(args, req.CompanyID)
		argPos++
	}
	if req.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, req.Kind)
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", argPos))
		args = append(args, "%"+req.Search+"%")
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	return r.pageItems(ctx, whereClause, args, argPos, req.Page, req.PerPage)
}

func (r *repository) pageItems(ctx context.Context, whereClause string, args []any, argPos, page, perPage int) ([]Item, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM content_items %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM content_items %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		itemColumns, whereClause, argPos, argPos+1)
	args = append(args, perPage, shared.Offset(page, perPage))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *it)
	}
	return items, total, rows.Err()
}

// Get fetches the row without tenant scoping. Content readability is
// the visibility lattice, not plain company equality, so the caller
// decides access with authz.VisibleTo after the fetch.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM content_items WHERE id = $1`, itemColumns)
	return scanItem(r.db.QueryRow(ctx, query, id))
}

func (r *repository) Create(ctx context.Context, it Item) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO content_items (id, company_id, created_by, title, kind, url, status, visibility, shared_with, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		it.ID, it.CompanyID, it.CreatedBy, it.Title, it.Kind, it.URL, it.Status, it.Visibility, it.Shared)
	if err != nil {
		return pgError(err)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	setClause := ""
	var args []any
	argPos := 1
	for _, col := range []string{"title", "kind", "url", "status", "review_note"} {
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
	tag, err := r.db.Exec(ctx, fmt.Sprintf("UPDATE content_items SET %s, updated_at = NOW() WHERE id = $%d", setClause, argPos), args...)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetStatus moves the item to a new state only while it still sits in
// one of the expected states. Zero rows means another writer moved it
// first; the caller surfaces that as a conflict.
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, from []string, to, note string) error {
	tag, err := r.db.Exec(ctx, `UPDATE content_items SET status = $2, review_note = $3, updated_at = NOW() WHERE id = $1 AND status = ANY($4)`,
		id, to, note, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	return nil
}

func (r *repository) SetVisibility(ctx context.Context, id uuid.UUID, visibility authz.Visibility, sharedWith []int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE content_items SET visibility = $2, shared_with = $3, updated_at = NOW() WHERE id = $1`,
		id, visibility, sharedWith)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_items WHERE id = $1`, id)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CompanyForUpdate locks the company row so the content count check and
// the insert behave atomically under concurrent creates.
func (r *repository) CompanyForUpdate(ctx context.Context, companyID int64) (int, bool, error) {
	var maxContent int
	var active bool
	err := r.db.QueryRow(ctx, `SELECT max_content, active FROM companies WHERE id = $1 FOR UPDATE`, companyID).Scan(&maxContent, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, shared.ErrNotFound
		}
		return 0, false, err
	}
	return maxContent, active, nil
}

func (r *repository) CountInCompany(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM content_items WHERE company_id = $1`, companyID).Scan(&n)
	return n, err
}

// CompaniesExist reports whether every id names a real company.
func (r *repository) CompaniesExist(ctx context.Context, ids []int64) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(DISTINCT id) FROM companies WHERE id = ANY($1)`, ids).Scan(&n); err != nil {
		return false, err
	}
	return n == len(ids), nil
}

func (r *repository) DevicesByIDs(ctx context.Context, ids []int64) ([]TargetDevice, error) {
	rows, err := r.db.Query(ctx, `SELECT id, company_id, active FROM devices WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []TargetDevice
	for rows.Next() {
		var d TargetDevice
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Active); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Distribute inserts the assignments, skipping devices that already
// carry the item. Returns the number of new assignments.
func (r *repository) Distribute(ctx context.Context, contentID uuid.UUID, deviceIDs []int64, createdBy int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO content_distributions (content_id, device_id, created_by, created_at)
		SELECT $1, unnest($2::BIGINT[]), $3, NOW()
		ON CONFLICT (content_id, device_id) DO NOTHING`,
		contentID, deviceIDs, createdBy)
	if err != nil {
		return 0, pgError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) Undistribute(ctx context.Context, contentID uuid.UUID, deviceID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_distributions WHERE content_id = $1 AND device_id = $2`, contentID, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Distributions(ctx context.Context, contentID uuid.UUID) ([]Distribution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.content_id, d.device_id, dev.name, dev.company_id, d.created_by, d.created_at
		FROM content_distributions d
		JOIN devices dev ON dev.id = d.device_id
		WHERE d.content_id = $1
		ORDER BY dev.name, dev.id`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dists []Distribution
	for rows.Next() {
		var d Distribution
		if err := rows.Scan(&d.ContentID, &d.DeviceID, &d.DeviceName, &d.CompanyID, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		dists = append(dists, d)
	}
	return dists, rows.Err()
}

// PruneDistributions drops assignments to devices whose company is no
// longer in the allowed set. Runs when visibility narrows.
func (r *repository) PruneDistributions(ctx context.Context, contentID uuid.UUID, allowed []int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM content_distributions d
		USING devices dev
		WHERE d.device_id = dev.id AND d.content_id = $1 AND NOT (dev.company_id = ANY($2))`,
		contentID, allowed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) ClearDistributions(ctx context.Context, contentID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_distributions WHERE content_id = $1`, contentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PlaylistForDevice returns the approved items assigned to a device in
// assignment order.
func (r *repository) PlaylistForDevice(ctx context.Context, deviceID int64) ([]Item, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM content_items c
		JOIN content_distributions d ON d.content_id = c.id
		WHERE d.device_id = $1 AND c.status = 'approved'
		ORDER BY d.created_at, c.id`, prefixColumns("c"))
	rows, err := r.db.Query(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func prefixColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.company_id, %[1]s.created_by, %[1]s.title, %[1]s.kind, %[1]s.url, %[1]s.status, %[1]s.visibility, %[1]s.shared_with, COALESCE(%[1]s.review_note, ''), %[1]s.created_at, %[1]s.updated_at`, alias)
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
