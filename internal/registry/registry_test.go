package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
)

func mustService(t *testing.T, s string) ids.ServiceId {
	t.Helper()
	v, err := ids.NewServiceId(s)
	if err != nil {
		t.Fatalf("service id: %v", err)
	}
	return v
}

func mustAccount(t *testing.T, a string) ids.AccountId {
	t.Helper()
	v, err := ids.NewAccountId(a)
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	return v
}

func TestAddGetListRemove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := Open(filepath.Join(dir, "accounts.json"))

	svc := mustService(t, "Spotify")
	acc := mustAccount(t, "personal")

	if err := r.Add(ctx, ids.Account{Service: svc, ID: acc, Scopes: []string{"user-read-email"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := r.Get(ctx, svc, acc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Service != svc || got.ID != acc {
		t.Fatalf("unexpected account: %+v", got)
	}

	list, err := r.List(ctx, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 account, got %d", len(list))
	}
	sortAccounts(list)

	removed, err := r.Remove(ctx, svc, acc)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatalf("expected Remove to report true")
	}
	if _, err := r.Get(ctx, svc, acc); errkind.Is(err) != errkind.AccountNotFound {
		t.Fatalf("expected AccountNotFound after removal, got %v", err)
	}
}

func TestAddDuplicateFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := Open(filepath.Join(dir, "accounts.json"))
	svc := mustService(t, "spotify")
	acc := mustAccount(t, "personal")

	if err := r.Add(ctx, ids.Account{Service: svc, ID: acc}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, ids.Account{Service: svc, ID: acc}); err == nil {
		t.Fatalf("expected duplicate add to fail")
	}
}

func TestMissingFileReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := Open(filepath.Join(dir, "does-not-exist.json"))
	list, err := r.List(ctx, nil)
	if err != nil {
		t.Fatalf("List on missing file: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %v", list)
	}
}

func TestMalformedFileFailsLoudly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	r := Open(path)
	if _, err := r.List(ctx, nil); err == nil {
		t.Fatalf("expected malformed accounts file to fail loudly")
	}
}

func TestAtomicWriteSurvivesInterruptedPriorWrite(t *testing.T) {
	// Simulates "kill between temp-write and rename": the previous
	// accounts.json on disk must still be the one read back.
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	r := Open(path)

	svc := mustService(t, "spotify")
	acc := mustAccount(t, "personal")
	if err := r.Add(ctx, ids.Account{Service: svc, ID: acc}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Leave an orphaned temp file around, as an interrupted write would,
	// without ever renaming it over accounts.json.
	if err := os.WriteFile(filepath.Join(dir, ".accounts-orphan.json.tmp"), []byte(`{"accounts":[]}`), 0o600); err != nil {
		t.Fatalf("seed orphan temp file: %v", err)
	}

	list, err := r.List(ctx, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected the pre-interruption contents to survive, got %v", list)
	}
}

func TestTouchUpdatesLastUsed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := Open(filepath.Join(dir, "accounts.json"))
	svc := mustService(t, "spotify")
	acc := mustAccount(t, "personal")
	if err := r.Add(ctx, ids.Account{Service: svc, ID: acc}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	now := time.Now()
	if err := r.Touch(ctx, svc, acc, now); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, err := r.Get(ctx, svc, acc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastUsed == nil || !got.LastUsed.Equal(now.UTC()) {
		t.Fatalf("expected last_used to be set to %v, got %+v", now, got.LastUsed)
	}
}
