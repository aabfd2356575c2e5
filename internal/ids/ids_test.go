package ids

import "testing"

func TestServiceIdNormalisesCase(t *testing.T) {
	a, err := NewServiceId("Spotify")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewServiceId("  SPOTIFY ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("expected %q and %q to normalise equal, got %q vs %q", "Spotify", "  SPOTIFY ", a, b)
	}
	if a.String() != "spotify" {
		t.Fatalf("expected lowercase output, got %q", a.String())
	}
}

func TestServiceIdRejectsBlank(t *testing.T) {
	if _, err := NewServiceId("   "); err == nil {
		t.Fatalf("expected error for whitespace-only service id")
	}
	if _, err := NewServiceId(""); err == nil {
		t.Fatalf("expected error for empty service id")
	}
}

func TestAccountIdCaseSensitive(t *testing.T) {
	a, err := NewAccountId("Personal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewAccountId("personal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("expected account ids to remain case-sensitive")
	}
}

func mustRef(t *testing.T, service, account string, kind CredentialKind) CredentialRef {
	t.Helper()
	s, err := NewServiceId(service)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	a, err := NewAccountId(account)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	ref, err := NewCredentialRef(s, a, kind)
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	return ref
}

func TestCredentialRefKey(t *testing.T) {
	ref := mustRef(t, "Spotify", "personal", KindAccessToken)
	if got, want := ref.Key(), "sigilforge/spotify/personal/access_token"; got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
}

func TestAuthURIRoundTrip(t *testing.T) {
	for _, kind := range []CredentialKind{KindAccessToken, KindRefreshToken, KindAPIKey, KindClientID, KindClientSecret} {
		ref := mustRef(t, "GitHub", "oss", kind)
		uri, err := ref.AuthURI()
		if err != nil {
			t.Fatalf("AuthURI(%v): %v", kind, err)
		}
		parsed, err := ParseAuthURI(uri)
		if err != nil {
			t.Fatalf("ParseAuthURI(%q): %v", uri, err)
		}
		if parsed != ref {
			t.Fatalf("round trip mismatch for kind %v: got %+v, want %+v", kind, parsed, ref)
		}
	}
}

func TestAuthURIHasNoFormForExpiryOrCustom(t *testing.T) {
	ref := mustRef(t, "github", "oss", KindTokenExpiry)
	if _, err := ref.AuthURI(); err == nil {
		t.Fatalf("expected error for token_expiry auth uri")
	}
}

func TestParseAuthURIRejectsGarbage(t *testing.T) {
	cases := []string{
		"http://github/oss/token",
		"auth://github/oss",
		"auth://github/oss/token/extra",
		"auth:///oss/token",
		"auth://github//token",
		"auth://github/oss/unknown_kind",
	}
	for _, c := range cases {
		if _, err := ParseAuthURI(c); err == nil {
			t.Fatalf("expected error parsing %q", c)
		}
	}
}

func TestAccountPrefixMatchesKeyPrefix(t *testing.T) {
	service, _ := NewServiceId("spotify")
	account, _ := NewAccountId("personal")
	prefix := AccountPrefix(service, account)
	ref := mustRef(t, "spotify", "personal", KindAccessToken)
	if len(ref.Key()) < len(prefix) || ref.Key()[:len(prefix)] != prefix {
		t.Fatalf("key %q does not start with prefix %q", ref.Key(), prefix)
	}
}

func TestCustomKindValid(t *testing.T) {
	k := CustomKind("session_id")
	if !k.Valid() {
		t.Fatalf("expected custom kind to be valid")
	}
	if !k.IsCustom() {
		t.Fatalf("expected custom kind to report IsCustom")
	}
}
