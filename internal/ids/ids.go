// Package ids defines Sigilforge's normalised identifiers: service and
// account names, the credential kinds a broker hands out, and the two
// string forms (storage key, auth:// URI) that name one credential.
package ids

import (
	"fmt"
	"strings"
	"time"
)

// ProviderAccount is the reserved account name for provider-level
// credentials (an OAuth client secret belongs to the service, not to any
// one account within it).
const ProviderAccount = "_provider"

// keyPrefix is the reserved namespace every secret-store key lives under.
const keyPrefix = "sigilforge"

// ServiceId identifies an external service. Construction is total:
// New always succeeds on any non-blank input and normalises it, so two
// ServiceIds are equal exactly when their inputs differ only in case or
// surrounding whitespace.
type ServiceId struct {
	v string
}

// NewServiceId lowercases and trims s. It fails only on an empty or
// whitespace-only input.
func NewServiceId(s string) (ServiceId, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return ServiceId{}, fmt.Errorf("service id must not be empty")
	}
	return ServiceId{v: norm}, nil
}

// String returns the normalised service id.
func (s ServiceId) String() string { return s.v }

// IsZero reports whether s was never constructed via NewServiceId.
func (s ServiceId) IsZero() bool { return s.v == "" }

// MarshalText renders s as plain text so it serializes as a JSON string
// rather than as its (unexported-field) struct form.
func (s ServiceId) MarshalText() ([]byte, error) {
	return []byte(s.v), nil
}

// UnmarshalText parses s back from the text MarshalText produced,
// normalising exactly as NewServiceId does.
func (s *ServiceId) UnmarshalText(text []byte) error {
	id, err := NewServiceId(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}

// AccountId names one identity within a service. It is case-sensitive and
// only required to be non-blank.
type AccountId struct {
	v string
}

// NewAccountId trims a and rejects an empty result.
func NewAccountId(a string) (AccountId, error) {
	trimmed := strings.TrimSpace(a)
	if trimmed == "" {
		return AccountId{}, fmt.Errorf("account id must not be empty")
	}
	return AccountId{v: trimmed}, nil
}

// String returns the account id.
func (a AccountId) String() string { return a.v }

// IsZero reports whether a was never constructed via NewAccountId.
func (a AccountId) IsZero() bool { return a.v == "" }

// MarshalText renders a as plain text so it serializes as a JSON string
// rather than as its (unexported-field) struct form.
func (a AccountId) MarshalText() ([]byte, error) {
	return []byte(a.v), nil
}

// UnmarshalText parses a back from the text MarshalText produced,
// normalising exactly as NewAccountId does.
func (a *AccountId) UnmarshalText(text []byte) error {
	id, err := NewAccountId(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// Account is one registered identity: who it belongs to, what scopes it
// was granted, and when it was created or last used. Equality is
// (Service, ID) — the registry never stores two accounts with the same
// pair.
type Account struct {
	Service     ServiceId  `json:"service"`
	ID          AccountId  `json:"id"`
	Scopes      []string   `json:"scopes"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
}

// Key returns the (service, id) pair used for Account equality and map
// lookups.
func (a Account) Key() AccountKey {
	return AccountKey{Service: a.Service.String(), ID: a.ID.String()}
}

// AccountKey is a comparable, map-key-friendly projection of an Account's
// identity.
type AccountKey struct {
	Service string
	ID      string
}

// CredentialKind enumerates the kinds of secret the broker persists or
// resolves.
type CredentialKind string

const (
	KindAccessToken   CredentialKind = "access_token"
	KindRefreshToken  CredentialKind = "refresh_token"
	KindTokenExpiry   CredentialKind = "token_expiry"
	KindAPIKey        CredentialKind = "api_key"
	KindClientID      CredentialKind = "client_id"
	KindClientSecret  CredentialKind = "client_secret"
	kindCustomPrefix                = "custom:"
)

// CustomKind builds a CredentialKind for a caller-defined name. It exists
// because §3 allows CredentialKind::custom(name); the resolver never
// produces one, and none of the five auth:// URI kinds maps to one.
func CustomKind(name string) CredentialKind {
	return CredentialKind(kindCustomPrefix + strings.TrimSpace(name))
}

// IsCustom reports whether k was built with CustomKind.
func (k CredentialKind) IsCustom() bool {
	return strings.HasPrefix(string(k), kindCustomPrefix)
}

// Valid reports whether k is one of the well-known kinds or a non-empty
// custom kind.
func (k CredentialKind) Valid() bool {
	switch k {
	case KindAccessToken, KindRefreshToken, KindTokenExpiry, KindAPIKey, KindClientID, KindClientSecret:
		return true
	}
	return k.IsCustom() && string(k) != kindCustomPrefix
}

// CredentialRef names exactly one secret-store entry: a service, an
// account (or the ProviderAccount sentinel), and a kind.
type CredentialRef struct {
	Service ServiceId
	Account AccountId
	Kind    CredentialKind
}

// NewCredentialRef validates and builds a CredentialRef from already
// normalised parts.
func NewCredentialRef(service ServiceId, account AccountId, kind CredentialKind) (CredentialRef, error) {
	if service.IsZero() {
		return CredentialRef{}, fmt.Errorf("credential ref: service is required")
	}
	if account.IsZero() {
		return CredentialRef{}, fmt.Errorf("credential ref: account is required")
	}
	if !kind.Valid() {
		return CredentialRef{}, fmt.Errorf("credential ref: invalid kind %q", kind)
	}
	return CredentialRef{Service: service, Account: account, Kind: kind}, nil
}

// Key renders the canonical secret-store key
// "sigilforge/<service>/<account>/<kind>".
func (r CredentialRef) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s", keyPrefix, r.Service.String(), r.Account.String(), string(r.Kind))
}

// AccountPrefix returns the reserved key prefix under which every secret
// for (service, account) lives, e.g. "sigilforge/spotify/personal/".
// List operations must filter on exactly this string.
func AccountPrefix(service ServiceId, account AccountId) string {
	return fmt.Sprintf("%s/%s/%s/", keyPrefix, service.String(), account.String())
}

// uriKinds maps each auth:// URI kind segment to the CredentialKind it
// names. It excludes token_expiry, which is never addressed directly.
var uriKinds = map[string]CredentialKind{
	"token":         KindAccessToken,
	"refresh_token": KindRefreshToken,
	"api_key":       KindAPIKey,
	"client_id":     KindClientID,
	"client_secret": KindClientSecret,
}

// kindToURISegment is the inverse of uriKinds, used by AuthURI.
var kindToURISegment = map[CredentialKind]string{
	KindAccessToken:  "token",
	KindRefreshToken: "refresh_token",
	KindAPIKey:       "api_key",
	KindClientID:     "client_id",
	KindClientSecret: "client_secret",
}

// AuthURI renders the "auth://<service>/<account>/<kind>" form of r. It
// returns an error for kinds (token_expiry, custom) that have no URI
// segment, since those are only ever storage-key concepts.
func (r CredentialRef) AuthURI() (string, error) {
	seg, ok := kindToURISegment[r.Kind]
	if !ok {
		return "", fmt.Errorf("credential ref: kind %q has no auth:// form", r.Kind)
	}
	return fmt.Sprintf("auth://%s/%s/%s", r.Service.String(), r.Account.String(), seg), nil
}

// ParseAuthURI parses "auth://<service>/<account>/<kind>" into a
// CredentialRef. It is the exact inverse of CredentialRef.AuthURI for every
// ref that round-trips: ParseAuthURI(ref.AuthURI()) == ref.
func ParseAuthURI(raw string) (CredentialRef, error) {
	const scheme = "auth://"
	if !strings.HasPrefix(raw, scheme) {
		return CredentialRef{}, fmt.Errorf("invalid auth uri %q: must start with %q", raw, scheme)
	}
	rest := strings.TrimPrefix(raw, scheme)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return CredentialRef{}, fmt.Errorf("invalid auth uri %q: expected auth://service/account/kind", raw)
	}
	serviceRaw, accountRaw, kindRaw := parts[0], parts[1], parts[2]
	service, err := NewServiceId(serviceRaw)
	if err != nil {
		return CredentialRef{}, fmt.Errorf("invalid auth uri %q: %w", raw, err)
	}
	account, err := NewAccountId(accountRaw)
	if err != nil {
		return CredentialRef{}, fmt.Errorf("invalid auth uri %q: %w", raw, err)
	}
	kind, ok := uriKinds[kindRaw]
	if !ok {
		return CredentialRef{}, fmt.Errorf("invalid auth uri %q: unknown kind %q", raw, kindRaw)
	}
	return CredentialRef{Service: service, Account: account, Kind: kind}, nil
}
