package secretstore

import (
	"context"
	"sync"
	"testing"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/secret"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "sigilforge/spotify/personal/access_token"); errkind.Is(err) != errkind.SecretNotFound {
		t.Fatalf("expected SecretNotFound for missing key, got %v", err)
	}

	if err := m.Set(ctx, "sigilforge/spotify/personal/access_token", secret.New("a1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "sigilforge/spotify/personal/access_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Expose() != "a1" {
		t.Fatalf("Get returned %q, want %q", got.Expose(), "a1")
	}

	if err := m.Delete(ctx, "sigilforge/spotify/personal/access_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "sigilforge/spotify/personal/access_token"); err != nil {
		t.Fatalf("Delete of absent key should be idempotent, got: %v", err)
	}
	if ok, err := m.Exists(ctx, "sigilforge/spotify/personal/access_token"); err != nil || ok {
		t.Fatalf("expected key to be gone: ok=%v err=%v", ok, err)
	}
}

func TestMemoryListFiltersOnExactPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "sigilforge/spotify/personal/access_token", secret.New("a"))
	_ = m.Set(ctx, "sigilforge/spotify/personal/refresh_token", secret.New("r"))
	_ = m.Set(ctx, "sigilforge/spotify/work/access_token", secret.New("a2"))

	keys, err := m.List(ctx, "sigilforge/spotify/personal/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under personal prefix, got %v", keys)
	}
}

func TestMemoryRemoveAccountLeavesPrefixEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	prefix := "sigilforge/spotify/personal/"
	_ = m.Set(ctx, prefix+"access_token", secret.New("a"))
	_ = m.Set(ctx, prefix+"refresh_token", secret.New("r"))
	_ = m.Set(ctx, prefix+"token_expiry", secret.New("t"))

	keys, _ := m.List(ctx, prefix)
	for _, k := range keys {
		_ = m.Delete(ctx, k)
	}
	after, err := m.List(ctx, prefix)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected empty list after removing account prefix, got %v", after)
	}
}

func TestMemoryConcurrentAccessIsSafe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Set(ctx, "sigilforge/svc/acct/access_token", secret.New("x"))
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Get(ctx, "sigilforge/svc/acct/access_token")
		}()
	}
	wg.Wait()
}
