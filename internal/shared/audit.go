package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a change record stored in audit_logs. CompanyID is
// the tenant the change happened in; zero means a platform-level change
// by a super user.
type AuditLog struct {
	ActorID    int64
	ActorClass string
	CompanyID  int64
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	At         time.Time
}

// AuditLogger writes change records into audit_logs. Authorization
// decisions go through the audit module's batching recorder instead.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, actor_class, company_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, COALESCE($8, NOW()))`,
		log.ActorID, log.ActorClass, log.CompanyID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
