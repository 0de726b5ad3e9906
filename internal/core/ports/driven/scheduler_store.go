package driven

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// SchedulerStore keeps background task timing and run history so a
// restarted process resumes the same cadence.
type SchedulerStore interface {
	// GetTask returns nil, nil for an unknown ID.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask upserts by task ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error
	DeleteTask(ctx context.Context, taskID string) error

	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// GetTaskHistory returns at most limit results, newest first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)

	// PruneHistory keeps only the newest keep results of each task.
	PruneHistory(ctx context.Context, keep int) error
}
