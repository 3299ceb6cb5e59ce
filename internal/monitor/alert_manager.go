package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
)

const (
	alertStreamName    = "ALERTS"
	alertSubjectPrefix = "alert."
)

// AlertManager elevates failures that must be process-visible: lost
// audit records, an unreachable lock store, rejected ingestion events.
// Alerts are published to JetStream so operators can attach consumers
// without touching this service.
type AlertManager struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *zap.Logger, js nats.JetStreamContext) *AlertManager {
	return &AlertManager{
		logger: logger.Named("alerts"),
		js:     js,
	}
}

// Start ensures the alert stream exists
func (m *AlertManager) Start(ctx context.Context) error {
	_, err := m.js.StreamInfo(alertStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{alertSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
		}, nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		m.logger.Info("Created alert stream", zap.String("name", alertStreamName))
	}
	return nil
}

// Notify publishes an alert and logs it at a level matching its
// severity. A publish failure is logged but never propagated; alerting
// must not take down the path that raised the alert.
func (m *AlertManager) Notify(ctx context.Context, alert *model.Alert) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Severity == "" {
		alert.Severity = model.AlertSeverityWarning
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.Any("data", alert.Data),
	}
	switch alert.Severity {
	case model.AlertSeverityError, model.AlertSeverityCritical:
		m.logger.Error(alert.Message, fields...)
	default:
		m.logger.Warn(alert.Message, fields...)
	}

	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if _, err := m.js.Publish(alertSubjectPrefix+string(alert.Type), data); err != nil {
		m.logger.Error("Failed to publish alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}
