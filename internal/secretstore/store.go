// Package secretstore implements the broker's key/value secret backends
// (C2): an in-memory store for tests and a keyring-backed store for
// production, both behind the same narrow async-safe contract.
package secretstore

import (
	"context"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/secret"
)

// Store is the capability every secret backend offers. All methods are
// safe to call concurrently; implementations must never block the
// runtime's scheduler while holding a lock across an I/O wait.
type Store interface {
	// Get returns the current value for key, or a NotFound-kinded error
	// if no such key exists.
	Get(ctx context.Context, key string) (secret.Secret, error)

	// Set overwrites key atomically: concurrent observers see either the
	// old value or the new one, never a partial write.
	Set(ctx context.Context, key string, value secret.Secret) error

	// Delete removes key. It is idempotent: deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys (not values) under prefix, in unspecified
	// order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present. Backends that support a
	// cheaper existence check should implement it directly; otherwise
	// Exists may be derived from Get.
	Exists(ctx context.Context, key string) (bool, error)
}

// NotFound builds the canonical "no such key" error for a Get/Exists miss.
// The key is attached as error data, never the (nonexistent) value.
func NotFound(key string) error {
	return errkind.New(errkind.SecretNotFound, "secret not found").WithData(errkind.Data{Key: key})
}

// WrapBackendError tags err as a backend failure without losing the
// offending key, which callers may surface but must never pair with the
// secret value itself.
func WrapBackendError(key string, err error) *errkind.Error {
	return errkind.Wrap(errkind.StoreBackend, err).WithData(errkind.Data{Key: key})
}
