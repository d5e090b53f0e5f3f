// Package localstore persists small per-session values: the cart snapshot and the captured
// referral code. The server keeps them in Redis keyed by the caller's cart id; the command line
// client keeps them in a JSON file.
package localstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when nothing is stored under the key.
	ErrNotFound = errors.New("localstore: key not found")
	// ErrContention is returned by Update when concurrent writers kept invalidating the read.
	ErrContention = errors.New("localstore: too many concurrent updates")
)

// UpdateFunc derives the new value from the stored one. found is false when the key is empty.
// Returning an error aborts the update and leaves the stored value untouched.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is a session-scoped key/value store.
type Store interface {
	Get(ctx context.Context, session, key string) ([]byte, error)
	Set(ctx context.Context, session, key string, value []byte) error
	Delete(ctx context.Context, session, key string) error
	// Update runs a read-modify-write that no other Update on the same key can interleave with.
	// fn may run more than once.
	Update(ctx context.Context, session, key string, fn UpdateFunc) error
}
