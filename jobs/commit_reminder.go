package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freedayko/redmine-planning/internal/calweek"
	jobmetrics "github.com/freedayko/redmine-planning/internal/jobs"
)

const (
	// TaskTypeCommitReminder triggers the weekly scan for uncommitted timesheets.
	TaskTypeCommitReminder = "timesheet:commit_reminder"
)

// CommitReminderPayload carries scheduling metadata.
type CommitReminderPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCommitReminderTask constructs an Asynq task for the reminder scan.
func NewCommitReminderTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CommitReminderPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCommitReminder, body, asynq.Queue(QueueDefault)), nil
}

// CommitReminderJob finds owners whose timesheet for the week that just
// ended is still a draft, or missing entirely, and queues a nudge email.
type CommitReminderJob struct {
	Pool    *pgxpool.Pool
	Client  *Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCommitReminderJob initialises the reminder handler.
func NewCommitReminderJob(pool *pgxpool.Pool, client *Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *CommitReminderJob {
	return &CommitReminderJob{
		Pool:    pool,
		Client:  client,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type reminderTarget struct {
	Email    string
	FullName string
	HasDraft bool
}

// Handle executes the reminder scan.
func (j *CommitReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("commit reminder: handler not configured")
	}
	var payload CommitReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	now := j.clock()
	if !payload.ScheduledFor.IsZero() {
		now = payload.ScheduledFor
	}
	// The week under scrutiny is the one that ended before the scan ran.
	year, week := calweek.YearWeekOf(now.AddDate(0, 0, -7))

	tracker := j.metrics().Track(TaskTypeCommitReminder)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("year", year), slog.Int("week", week))
	logger.Info("starting commit reminder scan")

	targets, err := j.scan(ctx, year, week)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	sent := 0
	for _, target := range targets {
		body := fmt.Sprintf("Hello %s,\n\nyour timesheet for week %d of %d has not been committed yet. Please review and commit it.\n",
			target.FullName, week, year)
		if !target.HasDraft {
			body = fmt.Sprintf("Hello %s,\n\nno timesheet exists for week %d of %d yet. Please create and commit one.\n",
				target.FullName, week, year)
		}
		_, err := j.Client.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      target.Email,
			Subject: fmt.Sprintf("Timesheet for week %d/%d is due", week, year),
			Body:    body,
		})
		if err != nil {
			logger.Error("enqueue reminder", slog.String("to", target.Email), slog.Any("error", err))
			j.metrics().AddReminders("failed", 1)
			continue
		}
		sent++
	}
	j.metrics().AddReminders("sent", sent)

	logger.Info("completed commit reminder scan",
		slog.Int("targets", len(targets)),
		slog.Int("sent", sent),
	)
	return resultErr
}

func (j *CommitReminderJob) scan(ctx context.Context, year, week int) ([]reminderTarget, error) {
	if j.Pool == nil {
		return nil, errors.New("commit reminder: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT u.email, u.full_name, t.id IS NOT NULL AS has_draft
		FROM users u
		LEFT JOIN timesheets t ON t.owner_id = u.id AND t.year = $1 AND t.week_number = $2
		WHERE u.is_active
		  AND (t.id IS NULL OR t.committed = FALSE)
	`, year, week)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []reminderTarget
	for rows.Next() {
		var target reminderTarget
		if err := rows.Scan(&target.Email, &target.FullName, &target.HasDraft); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (j *CommitReminderJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *CommitReminderJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
