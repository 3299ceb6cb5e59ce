package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
	"github.com/taskops/duesweep/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()

	store, err := storage.NewSQLiteStore(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createDueTask(t *testing.T, store *storage.SQLiteStore, title string, due time.Time) *model.Task {
	t.Helper()

	user, err := store.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		user = &model.User{Username: "alice", Email: "alice@example.com"}
		require.NoError(t, store.CreateUser(context.Background(), user))
	}

	task := &model.Task{Title: title, DueDate: due, UserID: user.ID}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func TestCloser_ClosesPendingTask(t *testing.T) {
	store := newTestStore(t)
	task := createDueTask(t, store, "overdue", time.Now().Add(-time.Hour))

	closer := NewCloser(store, zap.NewNop())
	require.NoError(t, closer.Close(context.Background(), task.ID))

	loaded, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, loaded.Status)
	assert.False(t, loaded.UpdatedAt.Before(loaded.CreatedAt))
}

func TestCloser_IdempotentOnCompletedTask(t *testing.T) {
	store := newTestStore(t)
	task := createDueTask(t, store, "overdue", time.Now().Add(-time.Hour))

	closer := NewCloser(store, zap.NewNop())
	require.NoError(t, closer.Close(context.Background(), task.ID))

	closed, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)

	// Second close is a successful no-op: no error, no second write.
	require.NoError(t, closer.Close(context.Background(), task.ID))

	loaded, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, loaded.Status)
	assert.Equal(t, closed.UpdatedAt, loaded.UpdatedAt)
}

func TestCloser_TaskNotFound(t *testing.T) {
	store := newTestStore(t)

	closer := NewCloser(store, zap.NewNop())
	assert.ErrorIs(t, closer.Close(context.Background(), 404), ErrTaskNotFound)
}
