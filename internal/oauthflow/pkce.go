package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/providers"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

// PromptFunc hands the authorization URL to whatever is driving the flow
// (a CLI prints it, a future TUI could open a browser). It must not
// block.
type PromptFunc func(authURL string)

type callbackResult struct {
	code string
	err  error
}

// RunPKCE executes the Authorization Code + PKCE flow (§4.4.1) for
// service/account and returns the resulting TokenSet. It rejects a second
// concurrent PKCE or device flow for the same account with
// FlowInProgress.
func (e *Engine) RunPKCE(ctx context.Context, service ids.ServiceId, account ids.AccountId, prompt PromptFunc) (tokens.TokenSet, error) {
	release, err := e.claimFlow(service, account)
	if err != nil {
		return tokens.TokenSet{}, err
	}
	defer release()

	providerCfg, err := e.providers.Lookup(service)
	if err != nil {
		return tokens.TokenSet{}, err
	}

	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return tokens.TokenSet{}, errkind.Wrap(errkind.Network, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return tokens.TokenSet{}, errkind.Wrap(errkind.Network, fmt.Errorf("bind loopback listener: %w", err))
	}
	defer listener.Close()

	redirectPath := providerCfg.RedirectPath
	if redirectPath == "" {
		redirectPath = "/callback"
	}
	if !strings.HasPrefix(redirectPath, "/") {
		redirectPath = "/" + redirectPath
	}
	_, portRaw, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return tokens.TokenSet{}, errkind.Wrap(errkind.Network, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return tokens.TokenSet{}, errkind.Wrap(errkind.Network, err)
	}
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d%s", port, redirectPath)

	cfg := &oauth2.Config{
		ClientID:     providerCfg.ClientID,
		ClientSecret: providerCfg.ClientSecret(),
		Scopes:       providerCfg.Scopes,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  providerCfg.AuthURL,
			TokenURL: providerCfg.TokenURL,
		},
	}
	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(redirectPath, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		gotState := query.Get("state")
		if subtle.ConstantTimeCompare([]byte(gotState), []byte(state)) != 1 {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			sendOnce(resultCh, callbackResult{err: errkind.New(errkind.Unauthorized, "callback state mismatch")})
			return
		}
		if flowErr := query.Get("error"); flowErr != "" {
			desc := query.Get("error_description")
			writeCallbackPage(w, "Sign-in failed", flowErr)
			kind := errkind.UserDenied
			if flowErr != "access_denied" {
				kind = errkind.RefreshFailed
			}
			sendOnce(resultCh, callbackResult{err: errkind.New(kind, strings.TrimSpace(flowErr+" "+desc))})
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			sendOnce(resultCh, callbackResult{err: errkind.New(errkind.ParseError, "callback missing code")})
			return
		}
		writeCallbackPage(w, "Sign-in complete", "You can return to the terminal.")
		sendOnce(resultCh, callbackResult{code: code})
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = server.Serve(listener)
	}()

	if prompt != nil {
		prompt(authURL)
	}

	flowCtx, cancel := context.WithTimeout(ctx, e.flowTimeout)
	defer cancel()

	var result callbackResult
	select {
	case result = <-resultCh:
	case <-flowCtx.Done():
		_ = server.Close()
		<-serveDone
		return tokens.TokenSet{}, errkind.New(errkind.FlowTimeout, "timed out waiting for the authorization callback")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	<-serveDone

	if result.err != nil {
		return tokens.TokenSet{}, result.err
	}

	tok, err := cfg.Exchange(ctx, result.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return tokens.TokenSet{}, classifyRetrieveError(err)
	}
	return toTokenSet(tok), nil
}

func sendOnce(ch chan callbackResult, r callbackResult) {
	select {
	case ch <- r:
	default:
	}
}

func writeCallbackPage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><html><body><h1>%s</h1><p>%s</p></body></html>", title, body)
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
