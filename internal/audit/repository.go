package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository menyediakan akses baca-tulis ke log keputusan otorisasi
// dan akses baca ke riwayat perubahan di audit_logs.
type Repository interface {
	InsertDecisions(ctx context.Context, rows []DecisionRow) error
	DecisionWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]DecisionRow, error)
	DecisionsAll(ctx context.Context, f TimelineFilters) ([]DecisionRow, error)
	ChangeWindow(ctx context.Context, f ChangeFilters, offset, limit int) ([]ChangeRow, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit baru.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// InsertDecisions menulis satu batch keputusan sekaligus. Recorder yang
// memanggil ini, bukan jalur request.
func (r *repository) InsertDecisions(ctx context.Context, rows []DecisionRow) error {
	if len(rows) == 0 {
		return nil
	}
	principals := make([]int64, len(rows))
	classes := make([]string, len(rows))
	companies := make([]int64, len(rows))
	resources := make([]string, len(rows))
	actions := make([]string, len(rows))
	outcomes := make([]string, len(rows))
	reasons := make([]string, len(rows))
	times := make([]any, len(rows))
	for i, row := range rows {
		principals[i] = row.PrincipalID
		classes[i] = row.Class
		companies[i] = row.CompanyID
		resources[i] = row.Resource
		actions[i] = row.Action
		outcomes[i] = row.Outcome
		reasons[i] = row.Reason
		times[i] = row.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO authz_decisions (principal_id, class, company_id, resource, action, outcome, reason, occurred_at)
		SELECT p, cl, NULLIF(co, 0), NULLIF(re, ''), NULLIF(ac, ''), o, rs, at
		FROM unnest($1::BIGINT[], $2::TEXT[], $3::BIGINT[], $4::TEXT[], $5::TEXT[], $6::TEXT[], $7::TEXT[], $8::TIMESTAMPTZ[]) AS t(p, cl, co, re, ac, o, rs, at)`,
		principals, classes, companies, resources, actions, outcomes, reasons, times)
	if err != nil {
		return fmt.Errorf("insert decisions: %w", err)
	}
	return nil
}

const decisionColumns = `occurred_at, principal_id, class, COALESCE(company_id, 0), COALESCE(resource, ''), COALESCE(action, ''), outcome, COALESCE(reason, '')`

func (r *repository) DecisionWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]DecisionRow, error) {
	where, args := decisionPredicates(f)
	query := fmt.Sprintf(`SELECT %s FROM authz_decisions%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		decisionColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	return r.queryDecisions(ctx, query, args)
}

func (r *repository) DecisionsAll(ctx context.Context, f TimelineFilters) ([]DecisionRow, error) {
	where, args := decisionPredicates(f)
	query := fmt.Sprintf(`SELECT %s FROM authz_decisions%s ORDER BY occurred_at DESC, id DESC`, decisionColumns, where)
	return r.queryDecisions(ctx, query, args)
}

func (r *repository) queryDecisions(ctx context.Context, query string, args []any) ([]DecisionRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var d DecisionRow
		if err := rows.Scan(&d.At, &d.PrincipalID, &d.Class, &d.CompanyID, &d.Resource, &d.Action, &d.Outcome, &d.Reason); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func decisionPredicates(f TimelineFilters) (string, []any) {
	var where []string
	var args []any
	argPos := 1

	if cond, condArgs := f.Scope.Condition("company_id", argPos); cond != "" {
		where = append(where, cond)
		args = append(args, condArgs...)
		argPos += len(condArgs)
	}
	if !f.From.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at >= $%d", argPos))
		args = append(args, f.From)
		argPos++
	}
	if !f.To.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at < $%d", argPos))
		args = append(args, f.To)
		argPos++
	}
	if f.PrincipalID != 0 {
		where = append(where, fmt.Sprintf("principal_id = $%d", argPos))
		args = append(args, f.PrincipalID)
		argPos++
	}
	if f.Resource != "" {
		where = append(where, fmt.Sprintf("resource = $%d", argPos))
		args = append(args, f.Resource)
		argPos++
	}
	if f.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", argPos))
		args = append(args, f.Action)
		argPos++
	}
	if f.Outcome != "" {
		where = append(where, fmt.Sprintf("outcome = $%d", argPos))
		args = append(args, f.Outcome)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *repository) ChangeWindow(ctx context.Context, f ChangeFilters, offset, limit int) ([]ChangeRow, error) {
	var where []string
	var args []any
	argPos := 1

	if cond, condArgs := f.Scope.Condition("company_id", argPos); cond != "" {
		where = append(where, cond)
		args = append(args, condArgs...)
		argPos += len(condArgs)
	}
	if !f.From.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at >= $%d", argPos))
		args = append(args, f.From)
		argPos++
	}
	if !f.To.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at < $%d", argPos))
		args = append(args, f.To)
		argPos++
	}
	if f.ActorID != 0 {
		where = append(where, fmt.Sprintf("actor_id = $%d", argPos))
		args = append(args, f.ActorID)
		argPos++
	}
	if f.Entity != "" {
		where = append(where, fmt.Sprintf("entity = $%d", argPos))
		args = append(args, f.Entity)
		argPos++
	}
	if f.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", argPos))
		args = append(args, f.Action)
		argPos++
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(`SELECT occurred_at, actor_id, actor_class, COALESCE(company_id, 0), action, entity, entity_id, meta
		FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, clause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		var c ChangeRow
		var meta []byte
		if err := rows.Scan(&c.At, &c.ActorID, &c.ActorClass, &c.CompanyID, &c.Action, &c.Entity, &c.EntityID, &meta); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Meta); err != nil {
				return nil, fmt.Errorf("decode change meta: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
