package secretstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/secret"
)

// Keyring is the production Store. It delegates every operation to the
// platform credential manager through the keyringGet/keyringSet/
// keyringDelete/keyringList primitives implemented per-OS in
// keyring_linux.go, keyring_darwin.go, and keyring_other.go.
//
// The backend addresses each secret-store key as one keyring item whose
// "service" attribute is fixed (keyringServiceName) and whose "account"
// attribute is the full Sigilforge key; this keeps one OS-level lookup
// per item instead of fragmenting a credential into several opaque blobs.
type Keyring struct {
	// available and initErr are set once at construction; OpenKeyring
	// returns initErr loudly instead of silently falling back to another
	// backend, per §4.1.
	available bool
	initErr   error
}

const keyringServiceName = "sigilforge"

// OpenKeyring probes the platform keyring backend. If the probe fails, the
// returned error must be surfaced by the caller (typically the daemon
// supervisor) as a loud warning rather than triggering a silent downgrade
// to another backend.
func OpenKeyring() (*Keyring, error) {
	if err := keyringProbe(); err != nil {
		return &Keyring{available: false, initErr: err}, errkind.Wrap(errkind.KeyringUnavailable, err)
	}
	return &Keyring{available: true}, nil
}

// Get implements Store.
func (k *Keyring) Get(_ context.Context, key string) (secret.Secret, error) {
	if !k.available {
		return secret.Secret{}, errkind.Wrap(errkind.KeyringUnavailable, k.initErr)
	}
	account, err := validateKeyringAttr(key)
	if err != nil {
		return secret.Secret{}, errkind.Wrap(errkind.StoreBackend, err).WithData(errkind.Data{Key: key})
	}
	v, err := keyringGet(keyringServiceName, account)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return secret.Secret{}, NotFound(key)
		}
		return secret.Secret{}, WrapBackendError(key, err)
	}
	return secret.New(v), nil
}

// Set implements Store.
func (k *Keyring) Set(_ context.Context, key string, value secret.Secret) error {
	if !k.available {
		return errkind.Wrap(errkind.KeyringUnavailable, k.initErr)
	}
	account, err := validateKeyringAttr(key)
	if err != nil {
		return errkind.Wrap(errkind.StoreBackend, err).WithData(errkind.Data{Key: key})
	}
	if err := keyringSet(keyringServiceName, account, value.Expose()); err != nil {
		return WrapBackendError(key, err)
	}
	return nil
}

// Delete implements Store and is idempotent: a missing keyring item is not
// an error.
func (k *Keyring) Delete(_ context.Context, key string) error {
	if !k.available {
		return errkind.Wrap(errkind.KeyringUnavailable, k.initErr)
	}
	account, err := validateKeyringAttr(key)
	if err != nil {
		return errkind.Wrap(errkind.StoreBackend, err).WithData(errkind.Data{Key: key})
	}
	if err := keyringDelete(keyringServiceName, account); err != nil && !errors.Is(err, os.ErrNotExist) {
		return WrapBackendError(key, err)
	}
	return nil
}

// List implements Store by delegating to the platform keyring's
// enumeration primitive and filtering client-side on prefix, since none
// of the supported backends offer a native prefix query.
func (k *Keyring) List(_ context.Context, prefix string) ([]string, error) {
	if !k.available {
		return nil, errkind.Wrap(errkind.KeyringUnavailable, k.initErr)
	}
	all, err := keyringList(keyringServiceName)
	if err != nil {
		return nil, WrapBackendError(prefix, err)
	}
	var out []string
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Exists implements Store, derived from Get since none of the supported
// backends offer a cheaper existence probe.
func (k *Keyring) Exists(ctx context.Context, key string) (bool, error) {
	_, err := k.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errkind.Is(err) == errkind.SecretNotFound {
		return false, nil
	}
	return false, err
}

var _ Store = (*Keyring)(nil)

// validateKeyringAttr rejects keys the OS keyring tooling cannot
// represent as a shell argument: NUL, control characters, and anything
// non-printable. A Sigilforge key is always of the shape
// "sigilforge/<service>/<account>/<kind>" so this is a defensive check,
// not an expected rejection path.
func validateKeyringAttr(key string) (string, error) {
	key = strings.Trim(key, " ")
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	for _, r := range key {
		switch r {
		case 0, '\n', '\r':
			return "", fmt.Errorf("invalid key: contains forbidden character")
		}
		if !unicode.IsPrint(r) {
			return "", fmt.Errorf("invalid key: non-printable character is not allowed")
		}
	}
	return key, nil
}
