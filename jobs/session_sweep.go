package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/brightcast/brightcast/internal/jobs"
)

const (
	// TaskAuthSessionSweep deletes expired session rows on a schedule.
	TaskAuthSessionSweep = "auth:session_sweep"
)

// SessionSweepPayload carries scheduling metadata.
type SessionSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSessionSweepTask constructs an Asynq task for the session sweep.
func NewSessionSweepTask(at time.Time) (*asynq.Task, error) {
	payload := SessionSweepPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthSessionSweep, body, asynq.Queue(QueueDefault)), nil
}

// SessionStore describes the behaviour required to purge expired sessions.
type SessionStore interface {
	SweepSessions(ctx context.Context) (int64, error)
}

// SessionSweepJob removes session rows whose expiry has passed. Tokens verify
// statelessly, so the sweep is pure housekeeping and never races a login.
type SessionSweepJob struct {
	Sessions SessionStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewSessionSweepJob constructs the job handler.
func NewSessionSweepJob(sessions SessionStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{
		Sessions: sessions,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the session sweep.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("session sweep: dependencies not configured")
	}
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuthSessionSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	removed, err := j.Sessions.SweepSessions(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("sweep sessions", slog.Any("error", err))
		return resultErr
	}

	j.log().Info("swept expired sessions",
		slog.Int64("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *SessionSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthSessionSweep))
	}
	return slog.Default().With(slog.String("job", TaskAuthSessionSweep))
}

func (j *SessionSweepJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
