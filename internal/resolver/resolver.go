// Package resolver implements the reference resolver (C7): it turns an
// auth:// URI into either a live access token (by way of the token
// manager) or a raw secret-store value, depending on the kind the URI
// names.
package resolver

import (
	"context"

	"github.com/raibid-labs/sigilforge/internal/errkind"
	"github.com/raibid-labs/sigilforge/internal/ids"
	"github.com/raibid-labs/sigilforge/internal/secret"
	"github.com/raibid-labs/sigilforge/internal/secretstore"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

// Kind tags which arm of Resolved is populated.
type Kind int

const (
	KindToken Kind = iota
	KindSecret
)

// Resolved is the tagged value a resolve call returns: exactly one of
// Token or Value is meaningful, selected by Which.
type Resolved struct {
	Which Kind
	Token tokens.Token
	Value secret.Secret
}

// Resolver routes auth:// URIs to the token manager or the secret store.
type Resolver struct {
	tokens *tokens.Manager
	store  secretstore.Store
}

// New builds a Resolver. store is used directly for every kind except
// "token", which goes through the token manager so expiry/refresh is
// applied.
func New(tm *tokens.Manager, store secretstore.Store) *Resolver {
	return &Resolver{tokens: tm, store: store}
}

// Resolve parses rawURI and dispatches it.
func (r *Resolver) Resolve(ctx context.Context, rawURI string) (Resolved, error) {
	ref, err := ids.ParseAuthURI(rawURI)
	if err != nil {
		return Resolved{}, errkind.New(errkind.InvalidUri, err.Error())
	}

	if ref.Kind == ids.KindAccessToken {
		tok, err := r.tokens.EnsureAccessToken(ctx, ref.Service, ref.Account)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Which: KindToken, Token: tok}, nil
	}

	val, err := r.store.Get(ctx, ref.Key())
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Which: KindSecret, Value: val}, nil
}
