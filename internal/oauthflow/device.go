package oauthflow

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

// DeviceCodeFunc surfaces the user_code and verification_uri to whatever
// is driving the flow, before polling begins.
type DeviceCodeFunc func(userCode, verificationURI string)

// RunDeviceFlow executes RFC 8628 Device Authorization (§4.4.2) for
// service/account. Polling, interval backoff, and the
// authorization_pending/slow_down handling are delegated to
// golang.org/x/oauth2's DeviceAuth/DeviceAccessToken, which implements
// the same state machine the teacher's pollGoogleOAuthDeviceToken
// hand-rolled.
func (e *Engine) RunDeviceFlow(ctx context.Context, service ids.ServiceId, account ids.AccountId, showCode DeviceCodeFunc) (tokens.TokenSet, error) {
	release, err := e.claimFlow(service, account)
	if err != nil {
		return tokens.TokenSet{}, err
	}
	defer release()

	providerCfg, err := e.providers.Lookup(service)
	if err != nil {
		return tokens.TokenSet{}, err
	}
	if providerCfg.DeviceAuthorizationURL == "" {
		return tokens.TokenSet{}, errkind.New(errkind.ProviderNotConfigured, "provider does not support device authorization").
			WithData(errkind.Data{Service: service.String()})
	}

	cfg := &oauth2.Config{
		ClientID:     providerCfg.ClientID,
		ClientSecret: providerCfg.ClientSecret(),
		Scopes:       providerCfg.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:      providerCfg.TokenURL,
			DeviceAuthURL: providerCfg.DeviceAuthorizationURL,
		},
	}

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return tokens.TokenSet{}, classifyRetrieveError(err)
	}
	if showCode != nil {
		showCode(da.UserCode, da.VerificationURI)
	}

	var pollCtx context.Context
	var cancel context.CancelFunc
	if !da.Expiry.IsZero() {
		pollCtx, cancel = context.WithDeadline(ctx, da.Expiry)
	} else {
		pollCtx, cancel = context.WithTimeout(ctx, e.flowTimeout)
	}
	defer cancel()

	tok, err := cfg.DeviceAccessToken(pollCtx, da)
	if err != nil {
		if pollCtx.Err() != nil {
			return tokens.TokenSet{}, errkind.New(errkind.Expired, "device code expired before authorization completed")
		}
		return tokens.TokenSet{}, classifyRetrieveError(err)
	}
	return toTokenSet(tok), nil
}
