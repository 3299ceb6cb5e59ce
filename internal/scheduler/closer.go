package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
	"github.com/taskops/duesweep/internal/storage"
)

// TaskAccess is the slice of the task store the closer needs.
type TaskAccess interface {
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	SaveTask(ctx context.Context, task *model.Task) error
}

// Closer moves one task to its terminal COMPLETED state.
type Closer struct {
	store  TaskAccess
	logger *zap.Logger
}

// NewCloser creates a task closer
func NewCloser(store TaskAccess, logger *zap.Logger) *Closer {
	return &Closer{
		store:  store,
		logger: logger,
	}
}

// Close transitions the task to COMPLETED. Closing an already completed
// task is a successful no-op, so a crash-and-retry or a redundant sweep
// never errors and never touches the row twice.
func (c *Closer) Close(ctx context.Context, taskID int64) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task %d: %w", taskID, err)
	}

	if task.Status == model.TaskStatusCompleted {
		c.logger.Debug("Task already completed, nothing to close",
			zap.Int64("task_id", taskID))
		return nil
	}

	task.Status = model.TaskStatusCompleted
	if err := c.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to close task %d: %w", taskID, err)
	}

	c.logger.Info("Task closed",
		zap.Int64("task_id", taskID),
		zap.Time("due_date", task.DueDate))
	return nil
}
