package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	// AlertTypeAuditWriteFailure signals a lost scheduler execution
	// record. Losing audit rows erodes the sweep's observability
	// guarantee, so this is surfaced process-wide.
	AlertTypeAuditWriteFailure AlertType = "audit_write_failure"

	// AlertTypeLockStoreError signals that the lock store was
	// unreachable during an acquire or release.
	AlertTypeLockStoreError AlertType = "lock_store_error"

	// AlertTypeEventRejected signals a dropped ingestion event,
	// including identity mismatches.
	AlertTypeEventRejected AlertType = "event_rejected"
)

// Alert represents an alert event
type Alert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
