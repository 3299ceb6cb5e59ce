package consumer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
	"github.com/taskops/duesweep/internal/storage"
	"github.com/taskops/duesweep/internal/testutil"
)

func setupConsumer(t *testing.T) (nats.JetStreamContext, *storage.SQLiteStore) {
	t.Helper()

	js, cleanup := testutil.SetupJetStream(t)
	t.Cleanup(cleanup)

	store, err := storage.NewSQLiteStore(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := New(js, store, store, nil, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	return js, store
}

func publishEvent(t *testing.T, js nats.JetStreamContext, event model.TaskEvent) {
	t.Helper()

	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = js.Publish(taskEventSubject, data)
	require.NoError(t, err)
}

func waitForTaskCount(t *testing.T, store *storage.SQLiteStore, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		count, err := store.CountTasksByStatus(context.Background(), model.TaskStatusPending)
		return err == nil && count == want
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConsumer_CreatesTaskFromEvent(t *testing.T) {
	js, store := setupConsumer(t)

	user := &model.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	publishEvent(t, js, model.TaskEvent{
		UserID:      user.ID,
		UserName:    "alice",
		Title:       "file taxes",
		Description: "before the deadline",
		DueDate:     "2025-04-15",
	})

	waitForTaskCount(t, store, 1)

	tasks, err := store.FindDue(context.Background(), time.Now().AddDate(10, 0, 0), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.Equal(t, "file taxes", task.Title)
	assert.Equal(t, "before the deadline", task.Description)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Equal(t, model.TaskUnflagged, task.Flag)
	assert.Equal(t, model.TaskPriorityMedium, task.Priority)
	assert.Equal(t, user.ID, task.UserID)
	assert.Equal(t, 2025, task.DueDate.Year())
}

func TestConsumer_AcceptsRFC3339DueDate(t *testing.T) {
	js, store := setupConsumer(t)

	user := &model.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "alice",
		Title:    "standup",
		DueDate:  "2025-04-15T09:30:00Z",
	})

	waitForTaskCount(t, store, 1)
}

func TestConsumer_DropsMalformedDueDate(t *testing.T) {
	js, store := setupConsumer(t)

	user := &model.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "alice",
		Title:    "broken",
		DueDate:  "not-a-date",
	})

	// A later well-formed event must still get through: one bad
	// message never stalls the subscription.
	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "alice",
		Title:    "intact",
		DueDate:  "2025-04-15",
	})

	waitForTaskCount(t, store, 1)

	tasks, err := store.FindDue(context.Background(), time.Now().AddDate(10, 0, 0), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "intact", tasks[0].Title)
}

func TestConsumer_DropsUnknownUser(t *testing.T) {
	js, store := setupConsumer(t)

	user := &model.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID + 1000,
		UserName: "ghost",
		Title:    "orphan",
		DueDate:  "2025-04-15",
	})

	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "alice",
		Title:    "intact",
		DueDate:  "2025-04-15",
	})

	waitForTaskCount(t, store, 1)

	tasks, err := store.FindDue(context.Background(), time.Now().AddDate(10, 0, 0), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "intact", tasks[0].Title)
}

func TestConsumer_DropsUsernameMismatch(t *testing.T) {
	js, store := setupConsumer(t)

	user := &model.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	// The id resolves to alice but the event claims bob: stale or
	// forged, so nothing is persisted.
	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "bob",
		Title:    "suspicious",
		DueDate:  "2025-04-15",
	})

	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "alice",
		Title:    "intact",
		DueDate:  "2025-04-15",
	})

	waitForTaskCount(t, store, 1)

	tasks, err := store.FindDue(context.Background(), time.Now().AddDate(10, 0, 0), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "intact", tasks[0].Title)
}

func TestConsumer_DropsUnparseablePayload(t *testing.T) {
	js, store := setupConsumer(t)

	user := &model.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	_, err := js.Publish(taskEventSubject, []byte("{not json"))
	require.NoError(t, err)

	publishEvent(t, js, model.TaskEvent{
		UserID:   user.ID,
		UserName: "alice",
		Title:    "intact",
		DueDate:  "2025-04-15",
	})

	waitForTaskCount(t, store, 1)
}

func TestParseDueDate(t *testing.T) {
	_, err := parseDueDate("not-a-date")
	assert.Error(t, err)

	date, err := parseDueDate("2025-04-15")
	require.NoError(t, err)
	assert.Equal(t, time.April, date.Month())

	stamp, err := parseDueDate("2025-04-15T09:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, 9, stamp.Hour())
}
