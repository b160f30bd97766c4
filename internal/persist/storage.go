package persist

import (
	"context"
	"errors"
	"fmt"
)

// Storage is a flat string key/value store. Implementations must be safe
// for concurrent use; no cross-key atomicity is expected.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// ErrUserMismatch marks data owned by a different actor.
var ErrUserMismatch = errors.New("data belongs to another user")

// StorageError wraps a serialization or backend failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
