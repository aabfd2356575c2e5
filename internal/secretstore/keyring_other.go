//go:build !darwin && !linux

package secretstore

import (
	"errors"
	"os"
)

// keyringProbe reports the keyring backend as unavailable on platforms
// (notably Windows, for now) that don't yet have a native implementation
// here. The daemon surfaces this as the loud startup warning §4.1
// requires rather than silently downgrading; no other persistent backend
// is provided in this package.
func keyringProbe() error {
	return errors.New("keyring backend not implemented on this platform")
}

func keyringGet(service, account string) (string, error) {
	_ = service
	_ = account
	return "", os.ErrNotExist
}

func keyringSet(service, account, value string) error {
	_ = value
	return errors.New("keyring backend not supported on this platform")
}

func keyringDelete(service, account string) error {
	_ = service
	_ = account
	return os.ErrNotExist
}

func keyringList(service string) ([]string, error) {
	_ = service
	return nil, errors.New("keyring backend not supported on this platform")
}
