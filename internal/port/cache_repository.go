package port

import "context"

type IdempotencyGuard interface {
	// Reserve claims key, returns false if it is already held
	Reserve(ctx context.Context, key string) (bool, error)

	// Release frees key so a failed request can be retried
	Release(ctx context.Context, key string) error
}
