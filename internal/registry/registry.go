// Package registry implements the account registry (C3): the sole owner
// of the persistent mapping from service to { account -> Account }, backed
// by an atomically-written JSON file.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
)

// document is the on-disk shape of accounts.json.
type document struct {
	Accounts []ids.Account `json:"accounts"`
}

// Registry owns accounts.json. Reads and writes serialise through mu, a
// plain sync.Mutex — never held across a blocking syscall longer than the
// write itself, and never a primitive that could starve the runtime by
// being held across an unrelated await point.
type Registry struct {
	path string
	mu   sync.Mutex
}

// Open points a Registry at path. It does not read the file yet; a
// missing file is valid and treated as an empty registry the first time
// any operation touches it.
func Open(path string) *Registry {
	return &Registry{path: path}
}

// load reads and parses the document, tolerating a missing file but never
// a malformed one. Callers must hold mu.
func (r *Registry) load() (document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return document{}, errkind.Wrap(errkind.FileIo, err)
	}
	if len(data) == 0 {
		return document{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// A malformed file is fatal: the registry refuses to start rather
		// than silently truncate the operator's accounts.
		return document{}, errkind.Wrap(errkind.FileIo, fmt.Errorf("accounts file %s is corrupt: %w", r.path, err))
	}
	return doc, nil
}

// save writes doc atomically: serialise to a temp sibling, fsync it,
// rename over the target, then fsync the containing directory so the
// rename itself is durable. Callers must hold mu.
func (r *Registry) save(doc document) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	tmp, err := os.CreateTemp(dir, ".accounts-*.json.tmp")
	if err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errkind.Wrap(errkind.FileIo, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errkind.Wrap(errkind.FileIo, err)
	}
	if err := tmp.Close(); err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}

	dirHandle, err := os.Open(dir)
	if err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	defer dirHandle.Close()
	if err := dirHandle.Sync(); err != nil {
		return errkind.Wrap(errkind.FileIo, err)
	}
	return nil
}

// Add inserts account, failing with a Duplicate-shaped error if an
// account with the same (service, id) already exists.
func (r *Registry) Add(_ context.Context, account ids.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	key := account.Key()
	for _, a := range doc.Accounts {
		if a.Key() == key {
			return errkind.New(errkind.InvalidParams, "account already exists").
				WithData(errkind.Data{Service: key.Service, Account: key.ID})
		}
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	doc.Accounts = append(doc.Accounts, account)
	return r.save(doc)
}

// Get returns the account matching (service, id).
func (r *Registry) Get(_ context.Context, service ids.ServiceId, account ids.AccountId) (ids.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return ids.Account{}, err
	}
	for _, a := range doc.Accounts {
		if a.Service == service && a.ID == account {
			return a, nil
		}
	}
	return ids.Account{}, errkind.New(errkind.AccountNotFound, "account not found").
		WithData(errkind.Data{Service: service.String(), Account: account.String()})
}

// List returns an owned snapshot of every account, optionally filtered to
// one service. The slice is unsorted; callers that need a stable order
// must sort it themselves.
func (r *Registry) List(_ context.Context, service *ids.ServiceId) ([]ids.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]ids.Account, 0, len(doc.Accounts))
	for _, a := range doc.Accounts {
		if service != nil && a.Service != *service {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Remove deletes the account matching (service, id). It reports whether an
// account was actually removed; deleting the associated secrets is the
// caller's responsibility (the registry owns accounts, not secrets).
func (r *Registry) Remove(_ context.Context, service ids.ServiceId, account ids.AccountId) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return false, err
	}
	out := doc.Accounts[:0]
	removed := false
	for _, a := range doc.Accounts {
		if a.Service == service && a.ID == account {
			removed = true
			continue
		}
		out = append(out, a)
	}
	if !removed {
		return false, nil
	}
	doc.Accounts = out
	return true, r.save(doc)
}

// Touch updates last_used to now for the matching account.
func (r *Registry) Touch(_ context.Context, service ids.ServiceId, account ids.AccountId, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	found := false
	for i := range doc.Accounts {
		if doc.Accounts[i].Service == service && doc.Accounts[i].ID == account {
			t := now.UTC()
			doc.Accounts[i].LastUsed = &t
			found = true
			break
		}
	}
	if !found {
		return errkind.New(errkind.AccountNotFound, "account not found").
			WithData(errkind.Data{Service: service.String(), Account: account.String()})
	}
	return r.save(doc)
}

// sortAccounts is a test/display helper; the registry itself never sorts
// on the write path.
func sortAccounts(accounts []ids.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Service.String() != accounts[j].Service.String() {
			return accounts[i].Service.String() < accounts[j].Service.String()
		}
		return accounts[i].ID.String() < accounts[j].ID.String()
	})
}
