package model

import "time"

// ExecutionStatus is the outcome of one sweep attempt on one task.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailure ExecutionStatus = "FAILURE"
)

// SchedulerExecution is one audit record of a sweep attempt. Records are
// append-only: one per task per sweep, never updated or deleted.
type SchedulerExecution struct {
	ID         int64           `json:"id"`
	TaskID     int64           `json:"task_id"`
	SystemName string          `json:"system_name"`
	Status     ExecutionStatus `json:"status"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Remarks    string          `json:"remarks"`
}
