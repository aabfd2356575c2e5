// Package tokens implements the token lifecycle manager (C5): the only
// component that ever talks to a provider's token endpoint. It owns the
// freshness policy, the refresh algorithm, and the single-flight
// coalescing that keeps two concurrent callers for the same account from
// racing two refreshes against the upstream provider.
//
// The shape of a struct holding a clientID/clientSecret pair and a mutex
// around a cached access token, refreshing lazily on Token(), follows the
// teacher's googleYouTubeTokenProvider; the difference here is that the
// cache of record is the secret store, not an in-memory struct field, and
// refresh coalescing is explicit (golang.org/x/sync/singleflight) rather
// than a single mutex serialising every caller through one refresh.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raibid-labs/sigilforge/internal/clock"
	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/providers"
	"github.com/raibid-labs/sigilforge/internal/secret"
	"github.com/raibid-labs/sigilforge/internal/secretstore"
)

// maxRetryAfterWait bounds how long a single refresh call will sleep on a
// provider's Retry-After before giving up and surfacing RefreshFailed;
// providers asking for longer than this are treated as down.
const maxRetryAfterWait = 5 * time.Second

// ExpiryBuffer is the freshness margin: a token is treated as expired once
// now+ExpiryBuffer reaches its expires_at, not just at the instant it
// actually lapses.
const ExpiryBuffer = 5 * time.Minute

// Token is an access token and its expiry, the shape handed back to a
// resolver or an IPC caller.
type Token struct {
	Value     secret.Secret
	ExpiresAt *time.Time
}

// TokenSet is a full grant: access token, optional refresh token, expiry,
// and the scopes actually granted (which the provider may narrow from
// what was requested).
type TokenSet struct {
	AccessToken  secret.Secret
	RefreshToken secret.Secret
	ExpiresAt    *time.Time
	Scopes       []string
}

// TokenInfo is the non-secret metadata token_info exposes.
type TokenInfo struct {
	HasAccessToken  bool
	HasRefreshToken bool
	ExpiresAt       *time.Time
	Scopes          []string
	IsExpired       bool
}

// Manager is the token lifecycle manager. It is safe for concurrent use.
type Manager struct {
	store      secretstore.Store
	providers  *providers.Registry
	clock      clock.Clock
	httpClient *http.Client
	group      singleflight.Group
}

// NewManager builds a Manager. A nil httpClient defaults to
// http.DefaultClient.
func NewManager(store secretstore.Store, reg *providers.Registry, clk clock.Clock, httpClient *http.Client) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{store: store, providers: reg, clock: clk, httpClient: httpClient}
}

func coalesceKey(service ids.ServiceId, account ids.AccountId) string {
	return service.String() + "/" + account.String()
}

func ref(service ids.ServiceId, account ids.AccountId, kind ids.CredentialKind) ids.CredentialRef {
	r, _ := ids.NewCredentialRef(service, account, kind)
	return r
}

func (m *Manager) isExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return !m.clock.Now().Add(ExpiryBuffer).Before(*expiresAt)
}

// readAccessToken returns the currently stored access token and expiry, if
// any. A missing access token is not an error here: the caller decides
// whether that means "needs refresh" or "needs a fresh flow".
func (m *Manager) readAccessToken(ctx context.Context, service ids.ServiceId, account ids.AccountId) (Token, bool, error) {
	accessSecret, err := m.store.Get(ctx, ref(service, account, ids.KindAccessToken).Key())
	if errkind.Is(err) == errkind.SecretNotFound {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	expiresAt, err := m.readExpiry(ctx, service, account)
	if err != nil {
		return Token{}, false, err
	}
	return Token{Value: accessSecret, ExpiresAt: expiresAt}, true, nil
}

func (m *Manager) readExpiry(ctx context.Context, service ids.ServiceId, account ids.AccountId) (*time.Time, error) {
	expirySecret, err := m.store.Get(ctx, ref(service, account, ids.KindTokenExpiry).Key())
	if errkind.Is(err) == errkind.SecretNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, expirySecret.Expose())
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

func (m *Manager) readRefreshToken(ctx context.Context, service ids.ServiceId, account ids.AccountId) (secret.Secret, bool, error) {
	refreshSecret, err := m.store.Get(ctx, ref(service, account, ids.KindRefreshToken).Key())
	if errkind.Is(err) == errkind.SecretNotFound {
		return secret.Secret{}, false, nil
	}
	if err != nil {
		return secret.Secret{}, false, err
	}
	return refreshSecret, true, nil
}

// EnsureAccessToken is the primary call path: return the cached access
// token if it is still fresh, otherwise refresh it (coalescing concurrent
// callers for the same account onto a single upstream round-trip).
func (m *Manager) EnsureAccessToken(ctx context.Context, service ids.ServiceId, account ids.AccountId) (Token, error) {
	tok, ok, err := m.readAccessToken(ctx, service, account)
	if err != nil {
		return Token{}, err
	}
	if ok && !m.isExpired(tok.ExpiresAt) {
		return tok, nil
	}
	return m.refreshCoalesced(ctx, service, account)
}

// RefreshToken forces a refresh, ignoring whatever is cached. It still
// coalesces with any refresh already in flight for this account.
func (m *Manager) RefreshToken(ctx context.Context, service ids.ServiceId, account ids.AccountId) (Token, error) {
	return m.refreshCoalesced(ctx, service, account)
}

// refreshCoalesced ensures at most one refresh is in flight per
// (service,account). singleflight.Group already implements exactly the
// "pending marker in a keyed map, others await" contract the algorithm
// calls for, so it is used directly rather than hand-rolled.
func (m *Manager) refreshCoalesced(ctx context.Context, service ids.ServiceId, account ids.AccountId) (Token, error) {
	key := coalesceKey(service, account)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.doRefresh(ctx, service, account)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// doRefresh runs the refresh algorithm: steps 3-8 of the freshness design.
// Step 1-2 (read + freshness check) belong to the caller; by the time this
// runs a refresh is already known to be necessary.
func (m *Manager) doRefresh(ctx context.Context, service ids.ServiceId, account ids.AccountId) (Token, error) {
	refreshSecret, ok, err := m.readRefreshToken(ctx, service, account)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, errkind.New(errkind.AuthRequired, "no refresh token on file").
			WithData(errkind.Data{Service: service.String(), Account: account.String()})
	}

	providerCfg, err := m.providers.Lookup(service)
	if err != nil {
		return Token{}, err
	}

	clientSecretRef := ref(service, account, ids.KindClientSecret)
	clientSecret := providerCfg.ClientSecret()
	if stored, err := m.store.Get(ctx, clientSecretRef.Key()); err == nil {
		clientSecret = stored.Expose()
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshSecret.Expose())
	form.Set("client_id", providerCfg.ClientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	resp, body, parsed, err := m.postRefreshRequest(ctx, providerCfg.TokenURL, form)
	if err != nil {
		return Token{}, errkind.Wrap(errkind.Network, err).
			WithData(errkind.Data{Service: service.String(), Account: account.String()})
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if delay, ok := retryAfterDelay(resp.Header); ok && delay <= maxRetryAfterWait {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Token{}, errkind.Wrap(errkind.Timeout, ctx.Err())
			}
			resp, body, parsed, err = m.postRefreshRequest(ctx, providerCfg.TokenURL, form)
			if err != nil {
				return Token{}, errkind.Wrap(errkind.Network, err).
					WithData(errkind.Data{Service: service.String(), Account: account.String()})
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && parsed.Error == "invalid_grant" {
			m.deleteAllLocked(ctx, service, account)
			return Token{}, errkind.New(errkind.AuthRequired, "refresh token rejected by provider").
				WithData(errkind.Data{Service: service.String(), Account: account.String(), Code: resp.StatusCode})
		}
		return Token{}, errkind.New(errkind.RefreshFailed, fmt.Sprintf("refresh failed: %s", parsed.Error)).
			WithData(errkind.Data{
				Service: service.String(),
				Account: account.String(),
				Code:    resp.StatusCode,
				Excerpt: excerpt(body),
			})
	}

	if strings.TrimSpace(parsed.AccessToken) == "" {
		return Token{}, errkind.New(errkind.RefreshFailed, "refresh response missing access_token").
			WithData(errkind.Data{Service: service.String(), Account: account.String()})
	}

	set := TokenSet{
		AccessToken: secret.New(parsed.AccessToken),
	}
	if strings.TrimSpace(parsed.RefreshToken) != "" {
		set.RefreshToken = secret.New(parsed.RefreshToken)
	} else {
		set.RefreshToken = refreshSecret
	}
	if parsed.ExpiresIn > 0 {
		t := m.clock.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		set.ExpiresAt = &t
	}
	if parsed.Scope != "" {
		set.Scopes = strings.Fields(parsed.Scope)
	}

	if err := m.StoreTokens(ctx, service, account, set); err != nil {
		return Token{}, err
	}
	return Token{Value: set.AccessToken, ExpiresAt: set.ExpiresAt}, nil
}

// postRefreshRequest executes one refresh_token POST and decodes the JSON
// body into a tokenResponse, leaving status-code interpretation to the
// caller so it can be called twice across a Retry-After wait.
func (m *Manager) postRefreshRequest(ctx context.Context, tokenURL string, form url.Values) (*http.Response, []byte, tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, nil, tokenResponse{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed tokenResponse
	_ = json.Unmarshal(body, &parsed)
	return resp, body, parsed, nil
}

// retryAfterDelay reads the Retry-After header off a 429/503 refresh
// response, in either of its two wire forms (a delay in seconds, or an
// HTTP-date to wait until). ok is false when the header is missing or
// neither form parses, in which case doRefresh gives up rather than
// guessing a wait.
func retryAfterDelay(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	if d := time.Until(when); d > 0 {
		return d, true
	}
	return 0, true
}

func excerpt(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}

// StoreStatic persists a single non-OAuth secret (api_key, client_id,
// client_secret, or a custom kind) directly under the account's key
// prefix. It is the path `add_account{flow:"static"}` and the teacher's
// own notion of importing a pre-existing credential take, bypassing the
// refresh machinery entirely since a static secret never expires on its
// own.
func (m *Manager) StoreStatic(ctx context.Context, service ids.ServiceId, account ids.AccountId, kind ids.CredentialKind, value secret.Secret) error {
	return m.store.Set(ctx, ref(service, account, kind).Key(), value)
}

// StoreTokens persists a full grant. Writes happen in order access, refresh,
// expiry; a crash mid-sequence is benign because the next EnsureAccessToken
// will simply find a missing or stale piece and refresh again.
func (m *Manager) StoreTokens(ctx context.Context, service ids.ServiceId, account ids.AccountId, set TokenSet) error {
	if err := m.store.Set(ctx, ref(service, account, ids.KindAccessToken).Key(), set.AccessToken); err != nil {
		return err
	}
	if !set.RefreshToken.IsZero() {
		if err := m.store.Set(ctx, ref(service, account, ids.KindRefreshToken).Key(), set.RefreshToken); err != nil {
			return err
		}
	}
	if set.ExpiresAt != nil {
		expiryValue := secret.New(set.ExpiresAt.UTC().Format(time.RFC3339))
		if err := m.store.Set(ctx, ref(service, account, ids.KindTokenExpiry).Key(), expiryValue); err != nil {
			return err
		}
	}
	return nil
}

// deleteAllLocked removes all three keys for (service,account). Deletion
// errors are swallowed here deliberately: Revoke is the path that must
// surface them, and this helper only ever runs as a side effect of an
// already-failing refresh.
func (m *Manager) deleteAllLocked(ctx context.Context, service ids.ServiceId, account ids.AccountId) {
	_ = m.store.Delete(ctx, ref(service, account, ids.KindAccessToken).Key())
	_ = m.store.Delete(ctx, ref(service, account, ids.KindRefreshToken).Key())
	_ = m.store.Delete(ctx, ref(service, account, ids.KindTokenExpiry).Key())
}

// Revoke performs best-effort provider-side revocation (skipped entirely
// if the provider has no revoke_url configured) and then always deletes
// the three local keys. Every local deletion failure is surfaced, never
// swallowed, even if the earlier remote call failed.
func (m *Manager) Revoke(ctx context.Context, service ids.ServiceId, account ids.AccountId) error {
	if providerCfg, err := m.providers.Lookup(service); err == nil && providerCfg.RevokeURL != "" {
		if refreshSecret, ok, err := m.readRefreshToken(ctx, service, account); err == nil && ok {
			m.bestEffortRevoke(ctx, providerCfg, refreshSecret)
		}
	}

	var errs []string
	for _, kind := range []ids.CredentialKind{ids.KindAccessToken, ids.KindRefreshToken, ids.KindTokenExpiry} {
		if err := m.store.Delete(ctx, ref(service, account, kind).Key()); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errkind.New(errkind.StoreBackend, "revoke: "+strings.Join(errs, "; ")).
			WithData(errkind.Data{Service: service.String(), Account: account.String()})
	}
	return nil
}

func (m *Manager) bestEffortRevoke(ctx context.Context, providerCfg providers.Config, refreshSecret secret.Secret) {
	form := url.Values{}
	form.Set("token", refreshSecret.Expose())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, providerCfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
}

// TokenInfo returns non-secret metadata about the stored grant.
func (m *Manager) TokenInfo(ctx context.Context, service ids.ServiceId, account ids.AccountId) (TokenInfo, error) {
	_, hasAccess, err := m.readAccessToken(ctx, service, account)
	if err != nil {
		return TokenInfo{}, err
	}
	_, hasRefresh, err := m.readRefreshToken(ctx, service, account)
	if err != nil {
		return TokenInfo{}, err
	}
	expiresAt, err := m.readExpiry(ctx, service, account)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{
		HasAccessToken:  hasAccess,
		HasRefreshToken: hasRefresh,
		ExpiresAt:       expiresAt,
		IsExpired:       m.isExpired(expiresAt),
	}, nil
}
