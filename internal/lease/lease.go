// Package lease provides short-lived exclusive holds on a key. A holder that
// crashes loses its lease when the TTL runs out.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotHeld = errors.New("lease not held")

type Lease interface {
	// Acquire returns a token and true when the key was free.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	// Release frees the key only if token still owns it.
	Release(ctx context.Context, key, token string) error
}

func newToken() string {
	return uuid.NewString()
}
