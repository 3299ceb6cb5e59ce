package model

import (
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
)

// TaskPriority represents the priority level of a task
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
)

// TaskFlag is a closed set of labels a task can carry.
type TaskFlag string

const (
	TaskFlagged   TaskFlag = "Flagged"
	TaskUnflagged TaskFlag = "Unflagged"
)

// Task represents a unit of work owned by a user
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Flag        TaskFlag     `json:"flag"`
	DueDate     time.Time    `json:"due_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Owner and optional assignee references
	UserID       int64  `json:"user_id"`
	AssignedToID *int64 `json:"assigned_to_id,omitempty"`
}

// User is the slice of the user directory this service reads. Users are
// created and managed by the CRUD layer; ingestion only resolves them.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// TaskEvent is the wire schema of a task-creation event delivered by
// the broker. DueDate stays a string until validation parses it.
type TaskEvent struct {
	UserID      int64  `json:"userId"`
	UserName    string `json:"userName"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
}
