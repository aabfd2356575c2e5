package ipc

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/resolver"
	"github.com/raibid-labs/sigilforge/internal/secret"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

type methodFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (s *Server) methodTable() map[string]methodFunc {
	return map[string]methodFunc{
		"list_accounts":  s.handleListAccounts,
		"get_account":    s.handleGetAccount,
		"add_account":    s.handleAddAccount,
		"remove_account": s.handleRemoveAccount,
		"get_token":      s.handleGetToken,
		"refresh_token":  s.handleRefreshToken,
		"resolve":        s.handleResolve,
		"status":         s.handleStatus,
	}
}

func decodeParams(params json.RawMessage, out interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return errkind.New(errkind.InvalidParams, "malformed params: "+err.Error())
	}
	return nil
}

func idsFromRaw(service, account string) (ids.ServiceId, ids.AccountId, error) {
	svc, err := ids.NewServiceId(service)
	if err != nil {
		return ids.ServiceId{}, ids.AccountId{}, errkind.New(errkind.InvalidParams, err.Error())
	}
	acc, err := ids.NewAccountId(account)
	if err != nil {
		return ids.ServiceId{}, ids.AccountId{}, errkind.New(errkind.InvalidParams, err.Error())
	}
	return svc, acc, nil
}

type accountWire struct {
	Service     string   `json:"service"`
	ID          string   `json:"id"`
	Scopes      []string `json:"scopes"`
	CreatedAt   string   `json:"created_at"`
	LastUsed    *string  `json:"last_used,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}

func toAccountWire(a ids.Account) accountWire {
	w := accountWire{
		Service:     a.Service.String(),
		ID:          a.ID.String(),
		Scopes:      a.Scopes,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		DisplayName: a.DisplayName,
	}
	if a.LastUsed != nil {
		s := a.LastUsed.UTC().Format(time.RFC3339)
		w.LastUsed = &s
	}
	return w
}

type accountsParams struct {
	Service string `json:"service,omitempty"`
}

func (s *Server) handleListAccounts(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p accountsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	var filter *ids.ServiceId
	if p.Service != "" {
		svc, err := ids.NewServiceId(p.Service)
		if err != nil {
			return nil, errkind.New(errkind.InvalidParams, err.Error())
		}
		filter = &svc
	}
	accounts, err := s.registry.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]accountWire, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountWire(a))
	}
	return map[string]interface{}{"accounts": out}, nil
}

type serviceAccountParams struct {
	Service string `json:"service"`
	Account string `json:"account"`
}

func (s *Server) handleGetAccount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	svc, acc, err := idsFromRaw(p.Service, p.Account)
	if err != nil {
		return nil, err
	}
	account, err := s.registry.Get(ctx, svc, acc)
	if err != nil {
		return nil, err
	}
	return toAccountWire(account), nil
}

type addAccountParams struct {
	Service     string   `json:"service"`
	Account     string   `json:"account"`
	Scopes      []string `json:"scopes,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	// Flow selects the grant path: "pkce" (default), "device", or
	// "static" for importing a pre-existing secret with no OAuth flow.
	Flow string `json:"flow,omitempty"`
	// Secret and Kind are only used by flow "static".
	Secret string `json:"secret,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// handleAddAccount drives the authorization grant to completion (§4.4)
// before the account is ever recorded in the registry: the operator sees
// the authorization URL or device code via a mid-flight notification on
// this same connection, and only a successful token exchange (or, for a
// static import, a non-empty secret) earns a registry entry.
func (s *Server) handleAddAccount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p addAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	svc, acc, err := idsFromRaw(p.Service, p.Account)
	if err != nil {
		return nil, err
	}

	var scopes []string
	if p.Flow == "static" {
		scopes, err = s.storeStaticSecret(ctx, svc, acc, p)
	} else {
		scopes, err = s.runOAuthFlow(ctx, svc, acc, p)
	}
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = p.Scopes
	}

	account := ids.Account{
		Service:     svc,
		ID:          acc,
		Scopes:      scopes,
		DisplayName: p.DisplayName,
	}
	if err := s.registry.Add(ctx, account); err != nil {
		return nil, err
	}
	got, err := s.registry.Get(ctx, svc, acc)
	if err != nil {
		return nil, err
	}
	return toAccountWire(got), nil
}

func (s *Server) runOAuthFlow(ctx context.Context, svc ids.ServiceId, acc ids.AccountId, p addAccountParams) ([]string, error) {
	notify := notifierFromContext(ctx)

	var tokenSet tokens.TokenSet
	var err error
	switch p.Flow {
	case "device":
		tokenSet, err = s.engine.RunDeviceFlow(ctx, svc, acc, func(userCode, verificationURI string) {
			notify("device_code", map[string]string{
				"user_code":        userCode,
				"verification_uri": verificationURI,
			})
		})
	default:
		tokenSet, err = s.engine.RunPKCE(ctx, svc, acc, func(authURL string) {
			notify("authorization_url", map[string]string{"url": authURL})
		})
	}
	if err != nil {
		return nil, err
	}
	if err := s.tokensMgr.StoreTokens(ctx, svc, acc, tokenSet); err != nil {
		return nil, err
	}
	return tokenSet.Scopes, nil
}

func (s *Server) storeStaticSecret(ctx context.Context, svc ids.ServiceId, acc ids.AccountId, p addAccountParams) ([]string, error) {
	if p.Secret == "" {
		return nil, errkind.New(errkind.InvalidParams, "static import requires a non-empty secret")
	}
	kind := ids.KindAPIKey
	if p.Kind != "" {
		kind = ids.CredentialKind(p.Kind)
		if !kind.Valid() {
			kind = ids.CustomKind(p.Kind)
		}
	}
	if err := s.tokensMgr.StoreStatic(ctx, svc, acc, kind, secret.New(p.Secret)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleRemoveAccount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	svc, acc, err := idsFromRaw(p.Service, p.Account)
	if err != nil {
		return nil, err
	}
	removed, err := s.registry.Remove(ctx, svc, acc)
	if err != nil {
		return nil, err
	}
	if removed {
		if revokeErr := s.tokensMgr.Revoke(ctx, svc, acc); revokeErr != nil {
			return nil, revokeErr
		}
	}
	return map[string]bool{"removed": removed}, nil
}

type tokenWire struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

func (s *Server) handleGetToken(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	svc, acc, err := idsFromRaw(p.Service, p.Account)
	if err != nil {
		return nil, err
	}
	tok, err := s.tokensMgr.EnsureAccessToken(ctx, svc, acc)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Touch(ctx, svc, acc, time.Now()); err != nil {
		return nil, err
	}
	return tokenWireFrom(tok.Value.Expose(), tok.ExpiresAt), nil
}

func (s *Server) handleRefreshToken(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	svc, acc, err := idsFromRaw(p.Service, p.Account)
	if err != nil {
		return nil, err
	}
	tok, err := s.tokensMgr.RefreshToken(ctx, svc, acc)
	if err != nil {
		return nil, err
	}
	return tokenWireFrom(tok.Value.Expose(), tok.ExpiresAt), nil
}

func tokenWireFrom(accessToken string, expiresAt *time.Time) tokenWire {
	w := tokenWire{AccessToken: accessToken, TokenType: "Bearer"}
	if expiresAt != nil {
		s := expiresAt.UTC().Format(time.RFC3339)
		w.ExpiresAt = &s
	}
	return w
}

type resolveParams struct {
	Reference string `json:"reference"`
}

func (s *Server) handleResolve(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p resolveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	resolved, err := s.resolver.Resolve(ctx, p.Reference)
	if err != nil {
		return nil, err
	}
	switch resolved.Which {
	case resolver.KindToken:
		return map[string]interface{}{
			"type":  "token",
			"value": tokenWireFrom(resolved.Token.Value.Expose(), resolved.Token.ExpiresAt),
		}, nil
	default:
		return map[string]interface{}{
			"type":  "secret",
			"value": resolved.Value.Expose(),
		}, nil
	}
}

func (s *Server) handleStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	accounts, err := s.registry.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"pid":            os.Getpid(),
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"accounts":       len(accounts),
	}, nil
}
