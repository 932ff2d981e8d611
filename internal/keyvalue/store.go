package keyvalue

import "context"

// Store is a string-keyed byte store. Implementations must make RemoveMany
// atomic: readers never observe a partial removal of the given keys.
type Store interface {
	// Get returns the value for key, or ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	RemoveMany(ctx context.Context, keys []string) error
	Close() error
}

// Logical keys used by the daemon. Kept in one place so backends can be
// swapped without a migration.
const (
	KeySpotCoordinate  = "spot-coordinate"
	KeySpotSavedAt     = "spot-saved-at"
	KeySpotNote        = "spot-note"
	KeyCountdownEndsAt = "countdown-ends-at"
	KeyPremiumCache    = "premium-cache"
)
