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
	// TaskDeviceInactivityScan marks devices offline once their heartbeat lapses.
	TaskDeviceInactivityScan = "devices:inactivity_scan"
)

// InactivityScanPayload configures the heartbeat threshold for the scan.
type InactivityScanPayload struct {
	ThresholdMinutes int `json:"threshold_minutes"`
}

// NewInactivityScanTask constructs an Asynq task for the device inactivity scan.
func NewInactivityScanTask(thresholdMinutes int) (*asynq.Task, error) {
	payload := InactivityScanPayload{ThresholdMinutes: thresholdMinutes}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeviceInactivityScan, body, asynq.Queue(QueueDefault)), nil
}

// DeviceInactivityScanJob flips online devices back to offline when their last
// heartbeat is older than the threshold. Heartbeats set the flag, this job is
// the only thing that clears it.
type DeviceInactivityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDeviceInactivityScanJob initialises the inactivity scan handler.
func NewDeviceInactivityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeviceInactivityScanJob {
	return &DeviceInactivityScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the inactivity scan.
func (j *DeviceInactivityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("inactivity scan: dependencies not configured")
	}
	var payload InactivityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ThresholdMinutes <= 0 {
		payload.ThresholdMinutes = 15
	}

	tracker := j.metrics().Track(TaskDeviceInactivityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	cutoff := now.Add(-time.Duration(payload.ThresholdMinutes) * time.Minute)
	tag, err := j.Pool.Exec(ctx, `
		UPDATE devices
		SET online = FALSE, updated_at = $2
		WHERE online = TRUE AND (last_seen_at IS NULL OR last_seen_at < $1)
	`, cutoff, now)
	if err != nil {
		resultErr = err
		j.log().Error("inactivity scan", slog.Any("error", err))
		return resultErr
	}

	marked := tag.RowsAffected()
	j.metrics().AddOfflineDevices(marked)
	if marked > 0 {
		j.log().Info("marked devices offline",
			slog.Int64("devices", marked),
			slog.Int("threshold_minutes", payload.ThresholdMinutes),
		)
	}
	return resultErr
}

func (j *DeviceInactivityScanJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DeviceInactivityScanJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDeviceInactivityScan))
	}
	return slog.Default().With(slog.String("job", TaskDeviceInactivityScan))
}

func (j *DeviceInactivityScanJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
