package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
)

var (
	// ErrTaskNotFound is returned when a task id resolves to nothing
	ErrTaskNotFound = errors.New("task not found")

	// ErrUserNotFound is returned when a user lookup resolves to nothing
	ErrUserNotFound = errors.New("user not found")
)

// TaskStore defines the persistence surface for tasks, users and the
// scheduler execution log. Tasks are never deleted here and execution
// records are append-only.
type TaskStore interface {
	// CreateTask persists a new task, applying creation defaults
	CreateTask(ctx context.Context, task *model.Task) error

	// GetTask retrieves a task by id
	GetTask(ctx context.Context, id int64) (*model.Task, error)

	// SaveTask persists mutations to an existing task
	SaveTask(ctx context.Context, task *model.Task) error

	// FindDue returns up to limit tasks with dueDate <= now that are
	// not yet completed
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Task, error)

	// CountTasksByStatus returns the number of tasks in a status
	CountTasksByStatus(ctx context.Context, status model.TaskStatus) (int, error)

	// CreateUser persists a user
	CreateUser(ctx context.Context, user *model.User) error

	// GetUserByID retrieves a user by id
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	// GetUserByUsername retrieves a user by username
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// AppendExecution appends one scheduler execution record
	AppendExecution(ctx context.Context, rec *model.SchedulerExecution) error

	// ListExecutionsByTask retrieves execution records for a task,
	// newest first
	ListExecutionsByTask(ctx context.Context, taskID int64) ([]*model.SchedulerExecution, error)

	// CountExecutions returns the total number of execution records
	CountExecutions(ctx context.Context) (int, error)
}

// SQLiteStore implements TaskStore using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The store is shared by the sweep and the consumer; serialize
	// writers on one connection instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			flag TEXT NOT NULL,
			due_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id),
			assigned_to_id INTEGER REFERENCES users(id)
		);
		CREATE TABLE IF NOT EXISTS scheduler_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL,
			system_name TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			remarks TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
		CREATE INDEX IF NOT EXISTS idx_executions_task_id ON scheduler_executions(task_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// CreateTask implements TaskStore.CreateTask
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	// Timestamps are stored as text; keeping everything UTC keeps the
	// due-date range comparison well ordered.
	task.DueDate = task.DueDate.UTC()
	task.Status = model.TaskStatusPending
	if task.Flag == "" {
		task.Flag = model.TaskUnflagged
	}
	if task.Priority == "" {
		task.Priority = model.TaskPriorityMedium
	}

	var assignedTo sql.NullInt64
	if task.AssignedToID != nil {
		assignedTo = sql.NullInt64{Int64: *task.AssignedToID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			title, description, status, priority, flag, due_date,
			created_at, updated_at, user_id, assigned_to_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.Flag,
		task.DueDate,
		task.CreatedAt,
		task.UpdatedAt,
		task.UserID,
		assignedTo,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get task id: %w", err)
	}
	task.ID = id
	return nil
}

// GetTask implements TaskStore.GetTask
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, flag, due_date,
			created_at, updated_at, user_id, assigned_to_id
		FROM tasks
		WHERE id = ?`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return task, nil
}

// SaveTask implements TaskStore.SaveTask
func (s *SQLiteStore) SaveTask(ctx context.Context, task *model.Task) error {
	task.UpdatedAt = time.Now().UTC()
	if task.UpdatedAt.Before(task.CreatedAt) {
		task.UpdatedAt = task.CreatedAt
	}
	task.DueDate = task.DueDate.UTC()

	var assignedTo sql.NullInt64
	if task.AssignedToID != nil {
		assignedTo = sql.NullInt64{Int64: *task.AssignedToID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?,
			description = ?,
			status = ?,
			priority = ?,
			flag = ?,
			due_date = ?,
			updated_at = ?,
			assigned_to_id = ?
		WHERE id = ?`,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.Flag,
		task.DueDate,
		task.UpdatedAt,
		assignedTo,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// FindDue implements TaskStore.FindDue
func (s *SQLiteStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, flag, due_date,
			created_at, updated_at, user_id, assigned_to_id
		FROM tasks
		WHERE due_date <= ? AND status != ?
		LIMIT ?`,
		now.UTC(), model.TaskStatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

// CountTasksByStatus implements TaskStore.CountTasksByStatus
func (s *SQLiteStore) CountTasksByStatus(ctx context.Context, status model.TaskStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE status = ?", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// CreateUser implements TaskStore.CreateUser
func (s *SQLiteStore) CreateUser(ctx context.Context, user *model.User) error {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email) VALUES (?, ?)",
		user.Username, user.Email)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUserByID implements TaskStore.GetUserByID
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Username, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername implements TaskStore.GetUserByUsername
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Username, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var task model.Task
	var assignedTo sql.NullInt64

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&task.Flag,
		&task.DueDate,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.UserID,
		&assignedTo,
	)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		task.AssignedToID = &assignedTo.Int64
	}
	return &task, nil
}
