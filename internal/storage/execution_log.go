package storage

import (
	"context"
	"fmt"

	"github.com/taskops/duesweep/internal/model"
)

// AppendExecution implements TaskStore.AppendExecution. The table has no
// update or delete path; records only accumulate.
func (s *SQLiteStore) AppendExecution(ctx context.Context, rec *model.SchedulerExecution) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_executions (
			task_id, system_name, status, start_time, end_time, remarks
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID,
		rec.SystemName,
		rec.Status,
		rec.StartTime,
		rec.EndTime,
		rec.Remarks,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get execution record id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListExecutionsByTask implements TaskStore.ListExecutionsByTask
func (s *SQLiteStore) ListExecutionsByTask(ctx context.Context, taskID int64) ([]*model.SchedulerExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, system_name, status, start_time, end_time, remarks
		FROM scheduler_executions
		WHERE task_id = ?
		ORDER BY start_time DESC, id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var recs []*model.SchedulerExecution
	for rows.Next() {
		rec := &model.SchedulerExecution{}
		err := rows.Scan(
			&rec.ID,
			&rec.TaskID,
			&rec.SystemName,
			&rec.Status,
			&rec.StartTime,
			&rec.EndTime,
			&rec.Remarks,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}

// CountExecutions implements TaskStore.CountExecutions
func (s *SQLiteStore) CountExecutions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scheduler_executions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution records: %w", err)
	}
	return count, nil
}
