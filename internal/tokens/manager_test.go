package tokens

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raibid-labs/sigilforge/internal/clock"
	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/providers"
	"github.com/raibid-labs/sigilforge/internal/secret"
	"github.com/raibid-labs/sigilforge/internal/secretstore"
)

func testIDs(t *testing.T) (ids.ServiceId, ids.AccountId) {
	t.Helper()
	svc, err := ids.NewServiceId("acme")
	if err != nil {
		t.Fatalf("service id: %v", err)
	}
	acc, err := ids.NewAccountId("personal")
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	return svc, acc
}

func newTestManager(t *testing.T, tokenURL string, clk clock.Clock) (*Manager, secretstore.Store, ids.ServiceId, ids.AccountId) {
	t.Helper()
	store := secretstore.NewMemory()
	reg := providers.NewRegistry()
	svc, acc := testIDs(t)
	reg.Register(svc, providers.Config{
		TokenURL: tokenURL,
		ClientID: "client-123",
	})
	return NewManager(store, reg, clk, http.DefaultClient), store, svc, acc
}

func TestEnsureAccessTokenReturnsCachedWhenFresh(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m, store, svc, acc := newTestManager(t, "http://unused.invalid", clk)

	expiry := clk.Now().Add(time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("fresh-token"),
		RefreshToken: secret.New("refresh-token"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	tok, err := m.EnsureAccessToken(ctx, svc, acc)
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if tok.Value.Expose() != "fresh-token" {
		t.Fatalf("expected cached token, got %q", tok.Value.Expose())
	}
	_ = store
}

func TestEnsureAccessTokenRefreshesWhenWithinBuffer(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-token","expires_in":3600}`)
	}))
	defer srv.Close()

	m, _, svc, acc := newTestManager(t, srv.URL, clk)
	expiry := clk.Now().Add(2 * time.Minute) // inside the 5-minute buffer
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("stale-token"),
		RefreshToken: secret.New("refresh-token"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	tok, err := m.EnsureAccessToken(ctx, svc, acc)
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if tok.Value.Expose() != "new-token" {
		t.Fatalf("expected refreshed token, got %q", tok.Value.Expose())
	}
}

func TestEnsureAccessTokenFailsAuthRequiredWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	m, _, svc, acc := newTestManager(t, "http://unused.invalid", clk)

	_, err := m.EnsureAccessToken(ctx, svc, acc)
	if errkind.Is(err) != errkind.AuthRequired {
		t.Fatalf("expected AuthRequired, got %v", err)
	}
}

func TestRefreshInvalidGrantDeletesAllKeysAndFailsAuthRequired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	m, store, svc, acc := newTestManager(t, srv.URL, clk)
	expiry := clk.Now().Add(-time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("old-token"),
		RefreshToken: secret.New("dead-refresh"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	_, err := m.RefreshToken(ctx, svc, acc)
	if errkind.Is(err) != errkind.AuthRequired {
		t.Fatalf("expected AuthRequired, got %v", err)
	}

	info, err := m.TokenInfo(ctx, svc, acc)
	if err != nil {
		t.Fatalf("TokenInfo: %v", err)
	}
	if info.HasAccessToken || info.HasRefreshToken {
		t.Fatalf("expected all keys deleted after invalid_grant, got %+v", info)
	}
	_ = store
}

func TestRefreshOtherErrorLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"server_error"}`)
	}))
	defer srv.Close()

	m, _, svc, acc := newTestManager(t, srv.URL, clk)
	expiry := clk.Now().Add(-time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("old-token"),
		RefreshToken: secret.New("still-good-refresh"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	_, err := m.RefreshToken(ctx, svc, acc)
	if errkind.Is(err) != errkind.RefreshFailed {
		t.Fatalf("expected RefreshFailed, got %v", err)
	}

	info, err := m.TokenInfo(ctx, svc, acc)
	if err != nil {
		t.Fatalf("TokenInfo: %v", err)
	}
	if !info.HasAccessToken || !info.HasRefreshToken {
		t.Fatalf("expected state untouched after a non-invalid_grant failure, got %+v", info)
	}
}

func TestConcurrentRefreshesCoalesceIntoOneUpstreamCall(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())

	var calls int64
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		<-unblock
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"coalesced-token","expires_in":3600}`)
	}))
	defer srv.Close()

	m, _, svc, acc := newTestManager(t, srv.URL, clk)
	expiry := clk.Now().Add(-time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("old-token"),
		RefreshToken: secret.New("refresh-token"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]Token, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.EnsureAccessToken(ctx, svc, acc)
		}(i)
	}

	// Give every goroutine a chance to reach the handler before releasing
	// it, so they all land on the same singleflight key.
	time.Sleep(50 * time.Millisecond)
	close(unblock)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
		if results[i].Value.Expose() != "coalesced-token" {
			t.Fatalf("goroutine %d: unexpected token %q", i, results[i].Value.Expose())
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", got)
	}
}

func TestRevokeDeletesLocalKeysEvenWhenRemoteRevokeFails(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := secretstore.NewMemory()
	reg := providers.NewRegistry()
	svc, acc := testIDs(t)
	reg.Register(svc, providers.Config{
		TokenURL:  "http://unused.invalid",
		RevokeURL: srv.URL,
		ClientID:  "client-123",
	})
	m := NewManager(store, reg, clk, http.DefaultClient)

	expiry := clk.Now().Add(time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("token"),
		RefreshToken: secret.New("refresh"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	if err := m.Revoke(ctx, svc, acc); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	info, err := m.TokenInfo(ctx, svc, acc)
	if err != nil {
		t.Fatalf("TokenInfo: %v", err)
	}
	if info.HasAccessToken || info.HasRefreshToken {
		t.Fatalf("expected local keys deleted regardless of remote revoke outcome, got %+v", info)
	}
}

func TestTokenInfoReportsExpiredWithinBuffer(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	m, _, svc, acc := newTestManager(t, "http://unused.invalid", clk)

	expiry := clk.Now().Add(1 * time.Minute)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken: secret.New("token"),
		ExpiresAt:   &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	info, err := m.TokenInfo(ctx, svc, acc)
	if err != nil {
		t.Fatalf("TokenInfo: %v", err)
	}
	if !info.IsExpired {
		t.Fatalf("expected token within the 5-minute buffer to report expired")
	}
}

func TestRefreshRetriesOnceAfterRetryAfterHeaderThenSucceeds(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"slow_down"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"retried-token","expires_in":3600}`)
	}))
	defer srv.Close()

	m, _, svc, acc := newTestManager(t, srv.URL, clk)
	expiry := clk.Now().Add(-time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("old-token"),
		RefreshToken: secret.New("refresh-token"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	tok, err := m.RefreshToken(ctx, svc, acc)
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if tok.Value.Expose() != "retried-token" {
		t.Fatalf("unexpected token: %q", tok.Value.Expose())
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", got)
	}
}

func TestRefreshGivesUpWhenRetryAfterExceedsBound(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"unavailable"}`)
	}))
	defer srv.Close()

	m, _, svc, acc := newTestManager(t, srv.URL, clk)
	expiry := clk.Now().Add(-time.Hour)
	if err := m.StoreTokens(ctx, svc, acc, TokenSet{
		AccessToken:  secret.New("old-token"),
		RefreshToken: secret.New("refresh-token"),
		ExpiresAt:    &expiry,
	}); err != nil {
		t.Fatalf("StoreTokens: %v", err)
	}

	_, err := m.RefreshToken(ctx, svc, acc)
	if errkind.Is(err) != errkind.RefreshFailed {
		t.Fatalf("expected RefreshFailed, got %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected no retry when Retry-After exceeds the bound, got %d calls", got)
	}
}

func TestStoreStaticPersistsUnderTheRequestedKind(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	m, store, svc, acc := newTestManager(t, "http://unused.invalid", clk)

	if err := m.StoreStatic(ctx, svc, acc, ids.KindAPIKey, secret.New("sk-imported")); err != nil {
		t.Fatalf("StoreStatic: %v", err)
	}

	got, err := store.Get(ctx, ref(svc, acc, ids.KindAPIKey).Key())
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if got.Expose() != "sk-imported" {
		t.Fatalf("unexpected value: %q", got.Expose())
	}
}
