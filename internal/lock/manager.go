package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskops/duesweep/internal/model"
)

const keyPrefix = "duesweep:lock:"

// Notifier receives process-visible alerts. Implemented by
// monitor.AlertManager; nil disables alerting.
type Notifier interface {
	Notify(ctx context.Context, alert *model.Alert)
}

// Lock is a handle to one acquired named lock. It records the minimum
// hold deadline so release can honor the atLeastFor floor.
type Lock struct {
	Name       string
	AcquiredAt time.Time

	key          string
	token        string
	atLeastUntil time.Time
}

// Manager provides named, time-bounded mutual exclusion across any
// number of process instances sharing the same lock store.
type Manager struct {
	store  Store
	logger *zap.Logger
	alerts Notifier
	holder string
}

// NewManager creates a lock manager with a unique per-process holder id.
func NewManager(store Store, logger *zap.Logger, alerts Notifier) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		alerts: alerts,
		holder: uuid.New().String(),
	}
}

// HolderID returns the unique holder id of this manager instance.
func (m *Manager) HolderID() string {
	return m.holder
}

// Acquire attempts to take the named lock. The key is created with an
// expiry of atMostFor so a crashed holder can never block the name for
// longer than that. A false return means another holder is active, and
// is the expected steady-state outcome of contention, not an error.
//
// A lock store failure is also reported as not-acquired: ambiguity must
// never lead to two holders proceeding at once.
func (m *Manager) Acquire(ctx context.Context, name string, atMostFor, atLeastFor time.Duration) (*Lock, bool) {
	key := keyPrefix + name
	now := time.Now()
	token := fmt.Sprintf("%s:%d", m.holder, now.UnixNano())

	ok, err := m.store.Acquire(ctx, key, token, atMostFor)
	if err != nil {
		m.logger.Error("Lock store unavailable, treating as denied",
			zap.String("name", name),
			zap.Error(err))
		if m.alerts != nil {
			m.alerts.Notify(ctx, &model.Alert{
				Type:     model.AlertTypeLockStoreError,
				Severity: model.AlertSeverityError,
				Message:  "lock store unreachable during acquire",
				Data:     map[string]interface{}{"name": name, "error": err.Error()},
			})
		}
		return nil, false
	}
	if !ok {
		return nil, false
	}

	return &Lock{
		Name:         name,
		AcquiredAt:   now,
		key:          key,
		token:        token,
		atLeastUntil: now.Add(atLeastFor),
	}, true
}

// Release gives up the lock. Before the minimum-hold deadline the key
// is not deleted; its expiry is rewritten to land exactly on the
// deadline, so no other holder can re-acquire the name until the floor
// has passed. After the deadline the key is deleted outright. Both
// paths check ownership, so a lock that expired and was re-acquired by
// another holder is left untouched.
func (m *Manager) Release(ctx context.Context, l *Lock) error {
	remaining := time.Until(l.atLeastUntil)
	if remaining > 0 {
		if err := m.store.Expire(ctx, l.key, l.token, remaining); err != nil {
			return fmt.Errorf("failed to defer lock release %s: %w", l.Name, err)
		}
		m.logger.Debug("Lock release deferred to minimum hold deadline",
			zap.String("name", l.Name),
			zap.Duration("remaining", remaining))
		return nil
	}

	if err := m.store.Release(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.Name, err)
	}
	return nil
}
