package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// PGStorage implements JobRepository on PostgreSQL. Jobs survive process
// crashes: a job is committed before workers can see it, and claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
//
// The schema lives in migrations/ and is applied with the pg package's
// migration runner.
type PGStorage struct {
	pool       *pgxpool.Pool
	claimCount atomic.Uint64
}

// NewPGStorage creates a Postgres-backed job store over an existing pool.
func NewPGStorage(pool *pgxpool.Pool) (*PGStorage, error) {
	if pool == nil {
		return nil, errors.New("pgx pool cannot be nil")
	}
	return &PGStorage{pool: pool}, nil
}

// CreateJob implements JobRepository.
func (ps *PGStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	payload, err := json.Marshal(job.Notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = ps.pool.Exec(ctx, `
		INSERT INTO delivery_jobs
			(id, notification, notification_id, channel, priority, state, attempts_made, enqueued_at, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, payload, job.Notification.ID, string(job.Notification.Channel),
		int(job.Notification.Priority), string(job.State), job.AttemptsMade,
		job.EnqueuedAt, job.ScheduledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimJob implements JobRepository. Every starvationInterval-th claim orders
// by enqueue sequence alone, which bounds how long a low-priority job can be
// overtaken by a stream of urgent work.
func (ps *PGStorage) ClaimJob(ctx context.Context) (*Job, error) {
	order := "priority DESC, seq ASC"
	if (ps.claimCount.Add(1))%starvationInterval == 0 {
		order = "seq ASC"
	}

	row := ps.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE delivery_jobs
		SET state = 'active', attempts_made = attempts_made + 1
		WHERE id = (
			SELECT id FROM delivery_jobs
			WHERE state IN ('waiting', 'delayed') AND scheduled_at <= now()
			ORDER BY %s
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, notification, state, attempts_made, failure_reason, enqueued_at, scheduled_at, processed_at`,
		order,
	))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob implements JobRepository.
func (ps *PGStorage) CompleteJob(ctx context.Context, jobID string) error {
	return ps.settle(ctx, jobID, JobStateCompleted, nil)
}

// FailJob implements JobRepository.
func (ps *PGStorage) FailJob(ctx context.Context, jobID string, reason string) error {
	return ps.settle(ctx, jobID, JobStateFailed, &reason)
}

func (ps *PGStorage) settle(ctx context.Context, jobID string, state JobState, reason *string) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE delivery_jobs
		SET state = $2, failure_reason = $3, processed_at = now()
		WHERE id = $1 AND state IN ('active', 'failed')`,
		jobID, string(state), reason,
	)
	if err != nil {
		return fmt.Errorf("settle job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// GetJob implements JobRepository.
func (ps *PGStorage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT id, notification, state, attempts_made, failure_reason, enqueued_at, scheduled_at, processed_at
		FROM delivery_jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobsByState implements JobRepository.
func (ps *PGStorage) ListJobsByState(ctx context.Context, state JobState) ([]Job, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, notification, state, attempts_made, failure_reason, enqueued_at, scheduled_at, processed_at
		FROM delivery_jobs WHERE state = $1 ORDER BY seq`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteJob implements JobRepository.
func (ps *PGStorage) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM delivery_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// Stats implements JobRepository. Runs inside a repeatable-read transaction so
// the per-state, per-channel, and hourly numbers come from one consistent
// snapshot.
func (ps *PGStorage) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByChannel:  make(map[notification.Channel]int),
		ByPriority: make(map[notification.Priority]int),
		ByState:    make(map[JobState]int),
	}

	tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Stats{}, fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT state, channel, priority, count(*)
		FROM delivery_jobs
		GROUP BY state, channel, priority`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	for rows.Next() {
		var state, channel string
		var priority, count int
		if err := rows.Scan(&state, &channel, &priority, &count); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.ByState[JobState(state)] += count
		stats.ByChannel[notification.Channel(channel)] += count
		stats.ByPriority[notification.Priority(priority)] += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	stats.Waiting = stats.ByState[JobStateWaiting]
	stats.Active = stats.ByState[JobStateActive]
	stats.Completed = stats.ByState[JobStateCompleted]
	stats.Failed = stats.ByState[JobStateFailed]
	stats.Delayed = stats.ByState[JobStateDelayed]

	rows, err = tx.Query(ctx, `
		SELECT hour, count, success_count, failure_count
		FROM delivery_hourly_stats ORDER BY hour`)
	if err != nil {
		return Stats{}, fmt.Errorf("query hourly stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Count, &b.SuccessCount, &b.FailureCount); err != nil {
			return Stats{}, fmt.Errorf("scan hourly stats: %w", err)
		}
		stats.Hourly = append(stats.Hourly, b)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	return stats, tx.Commit(ctx)
}

// RecordSendOutcome implements JobRepository.
func (ps *PGStorage) RecordSendOutcome(ctx context.Context, at time.Time, success bool) error {
	successN, failureN := 0, 1
	if success {
		successN, failureN = 1, 0
	}

	_, err := ps.pool.Exec(ctx, `
		INSERT INTO delivery_hourly_stats (hour, count, success_count, failure_count)
		VALUES (date_trunc('hour', $1::timestamptz), 1, $2, $3)
		ON CONFLICT (hour) DO UPDATE SET
			count = delivery_hourly_stats.count + 1,
			success_count = delivery_hourly_stats.success_count + EXCLUDED.success_count,
			failure_count = delivery_hourly_stats.failure_count + EXCLUDED.failure_count`,
		at, successN, failureN,
	)
	if err != nil {
		return fmt.Errorf("record send outcome: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job     Job
		payload []byte
		state   string
	)
	if err := row.Scan(
		&job.ID, &payload, &state, &job.AttemptsMade,
		&job.FailureReason, &job.EnqueuedAt, &job.ScheduledAt, &job.ProcessedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &job.Notification); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	job.State = JobState(state)
	return &job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
