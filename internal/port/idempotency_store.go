package port

import "context"

type IdempotencyStore interface {
	// Acquire sets a key for idempotency check, returns false if already exists
	Acquire(ctx context.Context, key string) (bool, error)

	// Release removes a key so the operation can be attempted again
	Release(ctx context.Context, key string) error
}
