//go:build linux

package secretstore

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// keyringProbe checks that the secret-tool binary (the libsecret CLI,
// fronting the desktop Secret Service — GNOME Keyring, KWallet, etc.) is
// present before the daemon claims the keyring backend is usable.
func keyringProbe() error {
	if _, err := exec.LookPath("secret-tool"); err != nil {
		return errors.New("secret-tool not found in PATH; install libsecret-tools or configure an alternate backend")
	}
	return nil
}

func keyringGet(service, account string) (string, error) {
	// #nosec G204 -- service/account are validated by validateKeyringAttr before reaching here.
	cmd := exec.Command("secret-tool", "lookup", "service", service, "account", account)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", os.ErrNotExist
		}
		return "", err
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", os.ErrNotExist
	}
	return v, nil
}

func keyringSet(service, account, value string) error {
	// #nosec G204 -- service/account are validated by validateKeyringAttr before reaching here.
	cmd := exec.Command("secret-tool", "store", "--label=sigilforge credential", "service", service, "account", account)
	cmd.Stdin = bytes.NewBufferString(value)
	return cmd.Run()
}

func keyringDelete(service, account string) error {
	// #nosec G204 -- service/account are validated by validateKeyringAttr before reaching here.
	cmd := exec.Command("secret-tool", "clear", "service", service, "account", account)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return os.ErrNotExist
		}
		return err
	}
	return nil
}

// keyringList enumerates every item under service using secret-tool's
// search mode and parses the "attribute.account = " lines out of its
// verbose output. This is a best-effort scrape of a human-oriented CLI,
// same as the rest of this backend; secret-tool has no structured output
// mode.
func keyringList(service string) ([]string, error) {
	// #nosec G204 -- service is a fixed constant, not user input.
	cmd := exec.Command("secret-tool", "search", "--all", "service", service)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		const marker = "attribute.account = "
		if strings.HasPrefix(line, marker) {
			keys = append(keys, strings.TrimSpace(strings.TrimPrefix(line, marker)))
		}
	}
	return keys, scanner.Err()
}
