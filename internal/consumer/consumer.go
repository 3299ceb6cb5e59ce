package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
	"github.com/taskops/duesweep/internal/storage"
)

const (
	taskStreamName   = "TASKS"
	taskEventSubject = "task.events"
	durableName      = "task-event-consumer"
	queueGroup       = "task-workers"

	streamMaxAge = 24 * time.Hour
)

// TaskWriter persists validated tasks.
type TaskWriter interface {
	CreateTask(ctx context.Context, task *model.Task) error
}

// UserDirectory resolves event user references against the current
// user records.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Notifier receives process-visible alerts; nil disables alerting.
type Notifier interface {
	Notify(ctx context.Context, alert *model.Alert)
}

// Consumer ingests task-creation events from the broker. Every message
// runs the same validation pipeline, and every validation failure
// drops only that message: a malformed event must never stall the
// subscription or leak into neighboring messages.
//
// Delivery is at-least-once. There is no idempotency key in the event
// schema, so a redelivered event creates a duplicate task; the stream
// sequence is logged with each persisted task to make that diagnosable.
type Consumer struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	tasks  TaskWriter
	users  UserDirectory
	alerts Notifier
	sub    *nats.Subscription
}

// New creates a task event consumer. alerts may be nil.
func New(js nats.JetStreamContext, tasks TaskWriter, users UserDirectory, alerts Notifier, logger *zap.Logger) *Consumer {
	return &Consumer{
		logger: logger.Named("consumer"),
		js:     js,
		tasks:  tasks,
		users:  users,
		alerts: alerts,
	}
}

// Start ensures the task event stream exists and binds the durable
// queue subscription. Replicas sharing the queue group split the
// message load.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureStream(ctx); err != nil {
		return err
	}

	sub, err := c.js.QueueSubscribe(taskEventSubject, queueGroup, func(msg *nats.Msg) {
		c.handleMessage(ctx, msg)
	},
		nats.Durable(durableName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", taskEventSubject, err)
	}
	c.sub = sub

	c.logger.Info("Task event consumer started",
		zap.String("subject", taskEventSubject),
		zap.String("queue", queueGroup))
	return nil
}

// Stop drains the subscription
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.logger.Warn("Failed to drain subscription", zap.Error(err))
		}
	}
}

func (c *Consumer) ensureStream(ctx context.Context) error {
	_, err := c.js.StreamInfo(taskStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     taskStreamName,
			Subjects: []string{"task.*"},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
		}, nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		c.logger.Info("Created task event stream", zap.String("name", taskStreamName))
	}
	return nil
}

// handleMessage validates and persists one event. Each stage
// short-circuits to drop-and-continue: the message is acked on every
// path so the broker never redelivers garbage.
func (c *Consumer) handleMessage(ctx context.Context, msg *nats.Msg) {
	defer msg.Ack()

	var event model.TaskEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("Dropping unparseable task event", zap.Error(err))
		return
	}

	c.logger.Info("Received task event",
		zap.String("user_name", event.UserName),
		zap.String("title", event.Title))

	dueDate, err := parseDueDate(event.DueDate)
	if err != nil {
		c.logger.Error("Dropping task event with invalid due date",
			zap.String("due_date", event.DueDate),
			zap.Error(err))
		return
	}

	user, err := c.users.GetUserByID(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			c.logger.Error("Dropping task event for unknown user",
				zap.Int64("user_id", event.UserID))
		} else {
			c.logger.Error("Dropping task event, user lookup failed",
				zap.Int64("user_id", event.UserID),
				zap.Error(err))
		}
		return
	}

	// A username that does not match the current record means the
	// event is stale or forged. Treated as a security-relevant
	// anomaly, not just bad input.
	if user.Username != event.UserName {
		c.logger.Error("Dropping task event with mismatched username",
			zap.Int64("user_id", event.UserID),
			zap.String("event_user_name", event.UserName),
			zap.String("current_username", user.Username))
		if c.alerts != nil {
			c.alerts.Notify(ctx, &model.Alert{
				Type:     model.AlertTypeEventRejected,
				Severity: model.AlertSeverityWarning,
				Message:  "task event username does not match user record",
				Data: map[string]interface{}{
					"user_id":         event.UserID,
					"event_user_name": event.UserName,
				},
			})
		}
		return
	}

	task := &model.Task{
		Title:       event.Title,
		Description: event.Description,
		DueDate:     dueDate,
		UserID:      user.ID,
	}
	if err := c.tasks.CreateTask(ctx, task); err != nil {
		c.logger.Error("Failed to persist task from event",
			zap.String("title", event.Title),
			zap.Error(err))
		return
	}

	meta, _ := msg.Metadata()
	fields := []zap.Field{
		zap.Int64("task_id", task.ID),
		zap.String("title", task.Title),
	}
	if meta != nil {
		fields = append(fields, zap.Uint64("stream_seq", meta.Sequence.Stream))
	}
	c.logger.Info("Task created from event", fields...)
}

// parseDueDate accepts RFC 3339 timestamps and plain dates.
func parseDueDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable due date %q", value)
	}
	return t, nil
}
