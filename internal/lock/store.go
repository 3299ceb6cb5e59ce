package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHeld is returned when a release or expire targets a key
	// that no longer exists or is owned by a different token.
	ErrNotHeld = errors.New("lock not held by this token")
)

// Store is the key-value protocol the lock manager runs on. All mutual
// exclusion reduces to the atomicity of these three operations.
type Store interface {
	// Acquire atomically creates key with the holder token and ttl if
	// the key is absent. It returns false when another holder is
	// active; that is not an error.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes key only if it still holds token. Returns
	// ErrNotHeld when the key expired or changed hands.
	Release(ctx context.Context, key, token string) error

	// Expire rewrites the remaining ttl of key only if it still holds
	// token. Used to shrink a lock's lifetime to the minimum-hold
	// floor on early release.
	Expire(ctx context.Context, key, token string, ttl time.Duration) error
}
