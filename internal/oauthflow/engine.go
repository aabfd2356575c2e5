// Package oauthflow runs the two mandatory OAuth flow engines (C6):
// Authorization Code + PKCE with a loopback redirect listener, and RFC
// 8628 Device Authorization. Both hand back a tokens.TokenSet for the
// token manager to persist; neither flow touches the secret store itself.
//
// The loopback-listener shape — bind 127.0.0.1:0, build the authorize
// URL, hand it to the caller, accept exactly one callback request with a
// whole-flow timer — is the teacher's runSunBrowserAuthFlow, generalised
// from a single hardcoded provider to any provider.Config. The device
// flow is grounded in the teacher's startGoogleOAuthDeviceFlow /
// pollGoogleOAuthDeviceToken pair, adapted to golang.org/x/oauth2's own
// DeviceAuth/DeviceAccessToken, which already implements the RFC 8628
// polling and backoff the teacher's code hand-rolled.
package oauthflow

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/providers"
	"github.com/raibid-labs/sigilforge/internal/secret"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

// DefaultFlowTimeout is the whole-flow deadline applied when a provider or
// caller does not specify one.
const DefaultFlowTimeout = 300 * time.Second

// Engine runs PKCE and device flows against a provider registry, and
// rejects a second concurrent flow for the same (service,account).
type Engine struct {
	providers *providers.Registry

	mu         sync.Mutex
	inProgress map[string]struct{}

	flowTimeout time.Duration
}

// NewEngine builds an Engine backed by reg.
func NewEngine(reg *providers.Registry) *Engine {
	return &Engine{
		providers:   reg,
		inProgress:  make(map[string]struct{}),
		flowTimeout: DefaultFlowTimeout,
	}
}

// WithFlowTimeout overrides the whole-flow deadline; intended for tests.
func (e *Engine) WithFlowTimeout(d time.Duration) *Engine {
	e.flowTimeout = d
	return e
}

func flowKey(service ids.ServiceId, account ids.AccountId) string {
	return service.String() + "/" + account.String()
}

// claimFlow marks (service,account) as having a flow in progress, or fails
// FlowInProgress if one already does. The returned func releases the
// claim and must be deferred by the caller.
func (e *Engine) claimFlow(service ids.ServiceId, account ids.AccountId) (func(), error) {
	key := flowKey(service, account)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inProgress[key]; busy {
		return nil, errkind.New(errkind.FlowInProgress, "a flow is already in progress for this account").
			WithData(errkind.Data{Service: service.String(), Account: account.String()})
	}
	e.inProgress[key] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.inProgress, key)
		e.mu.Unlock()
	}, nil
}

// toTokenSet converts an *oauth2.Token into the broker's own TokenSet,
// the only shape the token manager persists.
func toTokenSet(tok *oauth2.Token) tokens.TokenSet {
	set := tokens.TokenSet{
		AccessToken: secret.New(tok.AccessToken),
	}
	if tok.RefreshToken != "" {
		set.RefreshToken = secret.New(tok.RefreshToken)
	}
	if !tok.Expiry.IsZero() {
		t := tok.Expiry
		set.ExpiresAt = &t
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		set.Scopes = strings.Fields(scope)
	}
	return set
}

// classifyRetrieveError maps an oauth2.RetrieveError's error code onto the
// broker's taxonomy, per the device-flow step 5 / PKCE error-callback
// rules.
func classifyRetrieveError(err error) *errkind.Error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return errkind.Wrap(errkind.Network, err)
	}
	switch rErr.ErrorCode {
	case "access_denied":
		return errkind.New(errkind.UserDenied, "user denied the authorization request")
	case "expired_token":
		return errkind.New(errkind.Expired, "device code expired before authorization completed")
	default:
		data := errkind.Data{Excerpt: rErr.ErrorDescription}
		if rErr.Response != nil {
			data.Code = rErr.Response.StatusCode
		}
		return errkind.Wrap(errkind.HttpStatus, err).WithData(data)
	}
}
