package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/lock"
	"github.com/taskops/duesweep/internal/model"
)

// Remarks carried on execution records, one per outcome branch.
const (
	remarkClosed     = "Task closed as due date expired."
	remarkLockDenied = "Task closing failure as Task is currently locked or handled by another process."
)

// DueTaskSource yields the candidate set for one sweep.
type DueTaskSource interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Task, error)
}

// ExecutionLog appends one audit record per sweep attempt.
type ExecutionLog interface {
	AppendExecution(ctx context.Context, rec *model.SchedulerExecution) error
}

// TaskCloser transitions one task to its terminal state.
type TaskCloser interface {
	Close(ctx context.Context, taskID int64) error
}

// Notifier receives process-visible alerts; nil disables alerting.
type Notifier interface {
	Notify(ctx context.Context, alert *model.Alert)
}

// SweepRecorder accumulates sweep counters; nil disables metrics.
type SweepRecorder interface {
	RecordSweep(due, closed, denied, failed int, duration time.Duration)
}

// Config bounds one sweep.
type Config struct {
	// SystemName identifies this instance on audit records, for
	// diagnosing contention between replicas. Defaults to the
	// hostname.
	SystemName string

	// LockAtMostFor is the hard expiry ceiling on each per-task lock,
	// the safety net against a crashed holder.
	LockAtMostFor time.Duration

	// LockAtLeastFor is the minimum hold on each per-task lock,
	// preventing rapid re-acquisition by another instance even when
	// closing finishes early.
	LockAtLeastFor time.Duration

	// BatchLimit bounds the due-set loaded per tick. Tasks beyond the
	// limit are picked up by subsequent ticks.
	BatchLimit int
}

func (c *Config) applyDefaults() {
	if c.SystemName == "" {
		c.SystemName = hostname()
	}
	if c.LockAtMostFor <= 0 {
		c.LockAtMostFor = 2 * time.Minute
	}
	if c.LockAtLeastFor <= 0 {
		c.LockAtLeastFor = time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 500
	}
}

// Sweeper drives one scan-and-close cycle over due tasks. It keeps no
// state between sweeps; every tick derives its candidate set fresh.
// Any number of instances may sweep concurrently, each on its own
// timer; the per-task distributed lock is the only thing preventing
// two of them from closing and logging the same task in one window.
type Sweeper struct {
	tasks   DueTaskSource
	log     ExecutionLog
	locks   *lock.Manager
	closer  TaskCloser
	logger  *zap.Logger
	alerts  Notifier
	metrics SweepRecorder
	cfg     Config
}

// NewSweeper creates a sweeper. alerts and metrics may be nil.
func NewSweeper(tasks DueTaskSource, log ExecutionLog, locks *lock.Manager, closer TaskCloser,
	logger *zap.Logger, alerts Notifier, metrics SweepRecorder, cfg Config) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{
		tasks:   tasks,
		log:     log,
		locks:   locks,
		closer:  closer,
		logger:  logger,
		alerts:  alerts,
		metrics: metrics,
		cfg:     cfg,
	}
}

type sweepResult int

const (
	taskClosed sweepResult = iota
	lockDenied
	closeFailed
)

// Sweep runs one tick: load the due set, then lock, close and audit
// each task. A store failure loading the due set abandons the tick;
// the next scheduled tick retries from scratch. The returned error
// aggregates audit write failures, which are the only per-task
// failures worth surfacing to the process level.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("Scheduler running now")

	dueTasks, err := s.tasks.FindDue(ctx, start, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("Failed to load due tasks, abandoning tick", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("Found tasks due for closure", zap.Int("count", len(dueTasks)))

	var closed, denied, failed int
	var errs []error
	for _, task := range dueTasks {
		res, err := s.sweepTask(ctx, task, start)
		if err != nil {
			errs = append(errs, err)
		}
		switch res {
		case taskClosed:
			closed++
		case lockDenied:
			denied++
		case closeFailed:
			failed++
		}
	}

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordSweep(len(dueTasks), closed, denied, failed, duration)
	}
	s.logger.Info("Sweep finished",
		zap.Int("due", len(dueTasks)),
		zap.Int("closed", closed),
		zap.Int("lock_denied", denied),
		zap.Int("close_failed", failed),
		zap.Duration("duration", duration))

	return errors.Join(errs...)
}

// sweepTask runs the per-task state machine for one sweep. The audit
// append sits in a deferred block with panic recovery so that exactly
// one execution record exists for this task and this sweep no matter
// which branch is taken or what the closer throws.
func (s *Sweeper) sweepTask(ctx context.Context, task *model.Task, start time.Time) (res sweepResult, err error) {
	res = lockDenied
	remarks := remarkLockDenied

	defer func() {
		if r := recover(); r != nil {
			res = closeFailed
			remarks = fmt.Sprintf("Task closing failure: %v.", r)
			s.logger.Error("Recovered from panic while closing task",
				zap.Int64("task_id", task.ID),
				zap.Any("panic", r))
		}

		status := model.ExecutionStatusFailure
		if res == taskClosed {
			status = model.ExecutionStatusSuccess
		}
		rec := &model.SchedulerExecution{
			TaskID:     task.ID,
			SystemName: s.cfg.SystemName,
			Status:     status,
			StartTime:  start,
			EndTime:    time.Now(),
			Remarks:    remarks,
		}
		if aerr := s.log.AppendExecution(ctx, rec); aerr != nil {
			s.logger.Error("Failed to append execution record",
				zap.Int64("task_id", task.ID),
				zap.Error(aerr))
			if s.alerts != nil {
				s.alerts.Notify(ctx, &model.Alert{
					Type:     model.AlertTypeAuditWriteFailure,
					Severity: model.AlertSeverityError,
					Message:  "scheduler execution record lost",
					Data: map[string]interface{}{
						"task_id": task.ID,
						"status":  string(status),
						"error":   aerr.Error(),
					},
				})
			}
			err = fmt.Errorf("%w for task %d: %v", ErrAuditWriteFailed, task.ID, aerr)
		}
	}()

	s.logger.Info("Attempting to lock and close task", zap.Int64("task_id", task.ID))

	l, ok := s.locks.Acquire(ctx, lockName(task.ID), s.cfg.LockAtMostFor, s.cfg.LockAtLeastFor)
	if !ok {
		s.logger.Warn("Lock denied, task may be handled by another instance",
			zap.Int64("task_id", task.ID))
		return res, nil
	}
	defer func() {
		if rerr := s.locks.Release(ctx, l); rerr != nil {
			s.logger.Warn("Failed to release task lock",
				zap.Int64("task_id", task.ID),
				zap.Error(rerr))
		}
	}()

	if cerr := s.closer.Close(ctx, task.ID); cerr != nil {
		res = closeFailed
		remarks = fmt.Sprintf("Task closing failure: %v.", cerr)
		s.logger.Error("Failed to close task",
			zap.Int64("task_id", task.ID),
			zap.Error(cerr))
		return res, nil
	}

	res = taskClosed
	remarks = remarkClosed
	return res, nil
}

func lockName(taskID int64) string {
	return fmt.Sprintf("close-due-task:%d", taskID)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return name
}
