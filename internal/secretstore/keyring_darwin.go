//go:build darwin

package secretstore

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// keyringProbe checks that /usr/bin/security is reachable. It always is on
// a stock macOS install, but a hardened or containerized environment may
// have removed it.
func keyringProbe() error {
	if _, err := exec.LookPath("security"); err != nil {
		return errors.New("security tool not found in PATH")
	}
	return nil
}

func keyringGet(service, account string) (string, error) {
	// #nosec G204 -- service/account are validated by validateKeyringAttr before reaching here.
	cmd := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w")
	out, err := cmd.Output()
	if err != nil {
		if isKeychainNotFound(err) {
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
	del := exec.Command("security", "delete-generic-password", "-s", service, "-a", account)
	if err := del.Run(); err != nil && !isKeychainNotFound(err) {
		return err
	}
	// #nosec G204 -- service/account are validated by validateKeyringAttr before reaching here.
	add := exec.Command("security", "add-generic-password",
		"-s", service,
		"-a", account,
		"-l", "sigilforge credential",
		"-w", value,
		"-T", "/usr/bin/security",
		"-U",
	)
	return add.Run()
}

func keyringDelete(service, account string) error {
	// #nosec G204 -- service/account are validated by validateKeyringAttr before reaching here.
	cmd := exec.Command("security", "delete-generic-password", "-s", service, "-a", account)
	if err := cmd.Run(); err != nil {
		if isKeychainNotFound(err) {
			return os.ErrNotExist
		}
		return err
	}
	return nil
}

// keyringList scrapes `security dump-keychain`, the only enumeration
// primitive the security CLI offers, for generic-password items whose
// "svce" attribute matches service and returns their "acct" attribute.
// Best-effort: the dump format is undocumented and has shifted across
// macOS releases, so this parser tolerates missing or reordered fields
// rather than failing the whole call.
func keyringList(service string) ([]string, error) {
	cmd := exec.Command("security", "dump-keychain")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var keys []string
	var pendingMatch bool
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, `"svce"`):
			pendingMatch = strings.Contains(line, `"`+service+`"`)
		case strings.HasPrefix(line, `"acct"`) && pendingMatch:
			if v, ok := extractQuotedValue(line); ok {
				keys = append(keys, v)
			}
			pendingMatch = false
		}
	}
	return keys, scanner.Err()
}

func extractQuotedValue(line string) (string, bool) {
	idx := strings.LastIndex(line, "=")
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(line[idx+1:])
	rest = strings.TrimPrefix(rest, "0x")
	if eq := strings.Index(rest, `"`); eq >= 0 {
		rest = rest[eq:]
	}
	rest = strings.Trim(rest, `"`)
	if rest == "" {
		return "", false
	}
	return rest, true
}

func isKeychainNotFound(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ProcessState != nil && exitErr.ExitCode() == 44 {
		return true
	}
	stderr := strings.ToLower(strings.TrimSpace(string(exitErr.Stderr)))
	return strings.Contains(stderr, "could not be found") || strings.Contains(stderr, "not found")
}
