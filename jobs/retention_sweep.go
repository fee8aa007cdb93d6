package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/brightcast/brightcast/internal/jobs"
)

const (
	// TaskAuditRetentionSweep prunes authorization decisions past retention.
	TaskAuditRetentionSweep = "audit:retention_sweep"

	// idempotencyRetention bounds how long replay-protection keys are kept.
	idempotencyRetention = 24 * time.Hour
)

// RetentionSweepPayload configures how far back decision rows are kept.
type RetentionSweepPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// IdempotencyCleaner removes expired replay-protection keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewRetentionSweepTask constructs an Asynq task for the retention sweep.
func NewRetentionSweepTask(retention time.Duration) (*asynq.Task, error) {
	payload := RetentionSweepPayload{RetentionHours: int(retention.Hours())}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetentionSweep, body, asynq.Queue(QueueDefault)), nil
}

// RetentionSweepJob deletes decision log rows older than the retention window
// and expires idempotency keys alongside. Change history in audit_logs is kept
// indefinitely.
type RetentionSweepJob struct {
	Pool        *pgxpool.Pool
	Idempotency IdempotencyCleaner
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewRetentionSweepJob constructs the job handler.
func NewRetentionSweepJob(pool *pgxpool.Pool, idempotency IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RetentionSweepJob {
	return &RetentionSweepJob{
		Pool:        pool,
		Idempotency: idempotency,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the retention sweep.
func (j *RetentionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("retention sweep: dependencies not configured")
	}
	var payload RetentionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 90 * 24
	}

	tracker := j.metrics().Track(TaskAuditRetentionSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	cutoff := start.Add(-time.Duration(payload.RetentionHours) * time.Hour)
	tag, err := j.Pool.Exec(ctx, `DELETE FROM authz_decisions WHERE occurred_at < $1`, cutoff)
	if err != nil {
		resultErr = err
		j.log().Error("prune decisions", slog.Any("error", err))
		return resultErr
	}
	pruned := tag.RowsAffected()

	var keys int64
	if j.Idempotency != nil {
		keys, err = j.Idempotency.Cleanup(ctx, idempotencyRetention)
		if err != nil {
			resultErr = err
			j.log().Error("cleanup idempotency keys", slog.Any("error", err))
			return resultErr
		}
	}

	j.log().Info("completed retention sweep",
		slog.Int64("decisions_pruned", pruned),
		slog.Int64("idempotency_keys", keys),
		slog.Int("retention_hours", payload.RetentionHours),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *RetentionSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RetentionSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetentionSweep))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetentionSweep))
}

func (j *RetentionSweepJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
