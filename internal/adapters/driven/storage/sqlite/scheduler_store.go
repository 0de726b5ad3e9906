package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

var _ driven.SchedulerStore = (*schedulerStore)(nil)

// schedulerStore keeps index-drain and index-repair timing across restarts.
// Times are stored as unix nanoseconds so sub-second intervals survive.
type schedulerStore struct {
	store *Store
}

const taskColumns = `id, name, interval_nanos, last_run_nanos, next_run_nanos,
	last_error, last_success_nanos, enabled`

func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, classify(err))
	}
	return task, nil
}

func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", classify(err))
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", classify(err))
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", classify(err))
	}
	return tasks, nil
}

// SaveTask upserts the task by ID.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return domain.NewValidationError("task", "is nil")
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			interval_nanos = excluded.interval_nanos,
			last_run_nanos = excluded.last_run_nanos,
			next_run_nanos = excluded.next_run_nanos,
			last_error = excluded.last_error,
			last_success_nanos = excluded.last_success_nanos,
			enabled = excluded.enabled
	`, task.ID, task.Name, int64(task.Interval),
		nanosOrNull(task.LastRun), nanosOrNull(task.NextRun),
		nullString(task.LastError), nanosOrNull(task.LastSuccess), task.Enabled)
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, classify(err))
	}
	return nil
}

func (s *schedulerStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, classify(err))
	}
	return nil
}

func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.NewValidationError("result", "is nil")
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, started_nanos, ended_nanos, success, error, items_processed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.TaskID, result.StartedAt.UnixNano(), result.EndedAt.UnixNano(),
		result.Success, nullString(result.Error), result.ItemsProcessed)
	if err != nil {
		return fmt.Errorf("record result for %s: %w", result.TaskID, classify(err))
	}
	return nil
}

// GetTaskHistory returns a task's results, most recent first.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT task_id, started_nanos, ended_nanos, success, error, items_processed
		FROM task_results
		WHERE task_id = ?
		ORDER BY started_nanos DESC, id DESC
		LIMIT ?
	`, taskID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("task history %s: %w", taskID, classify(err))
	}
	defer rows.Close()

	var results []domain.TaskResult
	for rows.Next() {
		var (
			r              domain.TaskResult
			started, ended int64
			errMsg         sql.NullString
		)
		if err := rows.Scan(&r.TaskID, &started, &ended, &r.Success, &errMsg, &r.ItemsProcessed); err != nil {
			return nil, fmt.Errorf("scan task result: %w", classify(err))
		}
		r.StartedAt = fromNanos(started)
		r.EndedAt = fromNanos(ended)
		r.Error = errMsg.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task history %s: %w", taskID, classify(err))
	}
	return results, nil
}

// PruneHistory keeps the newest keep results per task.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY task_id ORDER BY started_nanos DESC, id DESC
				) AS rn
				FROM task_results
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune task history: %w", classify(err))
	}
	return nil
}

func scanTask(row rowScanner) (*domain.ScheduledTask, error) {
	var (
		task                          domain.ScheduledTask
		interval                      int64
		lastRun, nextRun, lastSuccess sql.NullInt64
		lastError                     sql.NullString
	)
	err := row.Scan(&task.ID, &task.Name, &interval,
		&lastRun, &nextRun, &lastError, &lastSuccess, &task.Enabled)
	if err != nil {
		return nil, err
	}
	task.Interval = time.Duration(interval)
	task.LastRun = nullableTime(lastRun)
	task.NextRun = nullableTime(nextRun)
	task.LastSuccess = nullableTime(lastSuccess)
	task.LastError = lastError.String
	return &task, nil
}

// nanosOrNull stores the zero time as NULL.
func nanosOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func nullableTime(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromNanos(n.Int64)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
